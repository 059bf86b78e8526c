package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewJSONIncludesApp(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("scenario", Config{Level: "debug", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Debug().Str("aggregate_id", "t-1").Msg("applied")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["app"] != "scenario" {
		t.Fatalf("app = %v, want scenario", line["app"])
	}
	if line["aggregate_id"] != "t-1" {
		t.Fatalf("aggregate_id = %v, want t-1", line["aggregate_id"])
	}
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New("scenario", Config{Level: "warn", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %q", buf.String())
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New("scenario", Config{Level: "loud"}); err == nil {
		t.Fatal("expected level error")
	}
	if _, err := New("scenario", Config{Format: "xml"}); err == nil {
		t.Fatal("expected format error")
	}
}
