// Package cmd holds startup plumbing shared by lifecycle binaries.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/lifecycle/internal/platform/config"
	apperrors "github.com/louisbranch/lifecycle/internal/platform/errors"
	"github.com/louisbranch/lifecycle/internal/platform/logging"
	"github.com/louisbranch/lifecycle/internal/platform/otel"
	"github.com/louisbranch/lifecycle/internal/platform/timeouts"
	"github.com/rs/zerolog"
)

// Service identifiers used for telemetry and log naming.
const (
	ServiceScenario = "scenario"
)

// RunOptions controls shared entrypoint behavior.
type RunOptions struct {
	// ShutdownTimeout sets the timeout used when stopping telemetry.
	ShutdownTimeout time.Duration
	// Logging configures the process logger. Zero value logs info to stdout.
	Logging logging.Config
}

// ParseConfig loads environment defaults into cfg.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnv(cfg)
}

// ParseArgs parses command-line flags.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// RunWithTelemetryAndOptions configures logging and tracing and executes run.
// The logger is attached to the context passed to run, and a failure is
// logged with its status code before it is returned.
func RunWithTelemetryAndOptions(ctx context.Context, service string, options RunOptions, run func(context.Context) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return fmt.Errorf("service name is required")
	}
	if run == nil {
		return fmt.Errorf("run function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := logging.Init(service, options.Logging)
	if err != nil {
		return err
	}
	ctx = logger.WithContext(ctx)

	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return err
	}
	defer func() {
		shutdownTimeout := options.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = timeouts.Shutdown
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("service", service).Msg("otel shutdown")
		}
	}()
	if err := run(ctx); err != nil {
		logFailure(ctx, service, err)
		return err
	}
	return nil
}

// logFailure logs err with the status code and reason a gRPC host would
// report for it.
func logFailure(ctx context.Context, service string, err error) {
	code, reason, metadata := apperrors.StatusDetails(err)
	event := zerolog.Ctx(ctx).Error().
		Err(err).
		Str("service", service).
		Str("grpc_code", code.String()).
		Str("reason", reason)
	if len(metadata) > 0 {
		event = event.Interface("error_metadata", metadata)
	}
	event.Msg("run failed")
}
