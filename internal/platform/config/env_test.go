package config

import (
	"strings"
	"testing"
	"time"
)

type envTestConfig struct {
	PollInterval time.Duration `env:"TEST_POLL_INTERVAL" envDefault:"250ms"`
	Limit        int           `env:"TEST_LIMIT" envDefault:"32"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("poll interval = %v, want 250ms", cfg.PollInterval)
	}
	if cfg.Limit != 32 {
		t.Fatalf("limit = %d, want 32", cfg.Limit)
	}
}

func TestParseEnvUsesPrefix(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("TEST_LIMIT", "7")
	t.Setenv("LIFECYCLE_TEST_LIMIT", "9")

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Limit != 9 {
		t.Fatalf("limit = %d, want 9", cfg.Limit)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("LIFECYCLE_TEST_LIMIT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}
