// Package logging builds the zerolog loggers used by lifecycle binaries.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config selects logger level and output format.
type Config struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"console"`
	// Output defaults to os.Stdout.
	Output io.Writer
}

// New builds a logger tagged with app.
func New(app string, cfg Config) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if raw := strings.TrimSpace(cfg.Level); raw != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(raw))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("parse log level %q: %w", raw, err)
		}
		level = parsed
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unsupported log format %q", cfg.Format)
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("app", app).Logger(), nil
}

// Init builds a logger and installs it as the global zerolog logger.
func Init(app string, cfg Config) (zerolog.Logger, error) {
	logger, err := New(app, cfg)
	if err != nil {
		return logger, err
	}
	log.Logger = logger
	return logger, nil
}
