// Package scenario parses scenario command flags and runs the ticket
// lifecycle scenario against a SQLite deadline store.
package scenario

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/louisbranch/lifecycle/internal/lifecycle"
	"github.com/louisbranch/lifecycle/internal/lifecycle/deadline"
	deadlinesqlite "github.com/louisbranch/lifecycle/internal/lifecycle/deadline/sqlite"
	"github.com/louisbranch/lifecycle/internal/lifecycle/event"
	"github.com/louisbranch/lifecycle/internal/lifecycle/repository"
	"github.com/louisbranch/lifecycle/internal/lifecycle/unitofwork"
	entrypoint "github.com/louisbranch/lifecycle/internal/platform/cmd"
	"github.com/louisbranch/lifecycle/internal/platform/id"
	"github.com/louisbranch/lifecycle/internal/platform/logging"
	"github.com/louisbranch/lifecycle/internal/platform/requestctx"
	"github.com/louisbranch/lifecycle/internal/sample/ticket"
	"github.com/rs/zerolog"
)

// maxRounds bounds how many scheduler passes the scenario makes before
// giving up on the ticket closing.
const maxRounds = 16

// Config holds scenario command configuration.
type Config struct {
	DBPath   string `env:"SCENARIO_DB_PATH" envDefault:"data/scenario.db"`
	Title    string `env:"SCENARIO_TITLE" envDefault:"Printer on fire"`
	Rename   string `env:"SCENARIO_RENAME"`
	FollowUp string `env:"SCENARIO_FOLLOW_UP"`
	Watch    bool   `env:"SCENARIO_WATCH"`

	Ticket   ticket.Config
	Deadline deadline.Config
	Logging  logging.Config
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The deadline SQLite database path")
	fs.StringVar(&cfg.Title, "title", cfg.Title, "Title of the ticket to open")
	fs.StringVar(&cfg.Rename, "rename", cfg.Rename, "Rename the ticket after opening it")
	fs.StringVar(&cfg.FollowUp, "follow-up", cfg.FollowUp, "Open a follow-up ticket with this title")
	fs.BoolVar(&cfg.Watch, "watch", cfg.Watch, "Keep polling deadlines until interrupted")
	fs.DurationVar(&cfg.Ticket.EscalateAfter, "escalate-after", cfg.Ticket.EscalateAfter, "Delay before an open ticket escalates")
	fs.IntVar(&cfg.Ticket.MaxEscalations, "max-escalations", cfg.Ticket.MaxEscalations, "Escalations before a ticket closes")
	fs.DurationVar(&cfg.Deadline.PollInterval, "poll-interval", cfg.Deadline.PollInterval, "Deadline poll interval")
	fs.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "Log level")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the scenario with telemetry configured.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceScenario,
		entrypoint.RunOptions{Logging: cfg.Logging},
		func(ctx context.Context) error {
			_, err := runScenario(ctx, cfg)
			return err
		})
}

// Result summarizes a scenario run.
type Result struct {
	TicketID   string
	FollowUpID string
	Status     ticket.Status
	Level      int
	Events     int
	Fired      int
}

func runScenario(ctx context.Context, cfg Config) (Result, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Result{}, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := deadlinesqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		return Result{}, fmt.Errorf("open deadline store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("close deadline store")
		}
	}()

	correlationID, err := id.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("generate correlation id: %w", err)
	}
	ctx = requestctx.WithUserID(requestctx.WithCorrelationID(ctx, correlationID), entrypoint.ServiceScenario)
	logger := zerolog.Ctx(ctx).With().Str("correlation_id", correlationID).Logger()
	published := 0
	publisher := event.PublisherFunc(func(_ context.Context, msgs ...event.Message) error {
		for _, msg := range msgs {
			published++
			logger.Info().
				Str("event", string(msg.Type)).
				Str("aggregate", msg.AggregateType+"/"+msg.AggregateID).
				Int64("seq", msg.Seq).
				Msg("event published")
		}
		return nil
	})

	scheduler := deadline.NewScheduler(store, deadline.WithConfig(cfg.Deadline))
	repo := repository.New(repository.WithDeadlines(scheduler), repository.WithPublisher(publisher))
	if err := repo.Register(ticket.Constructor(cfg.Ticket)); err != nil {
		return Result{}, err
	}
	dispatcher := repository.NewDeadlineDispatcher(repo)

	result := Result{}
	if err := inUnitOfWork(ctx, func(ctx context.Context) error {
		id, err := ticket.Open(ctx, repo, cfg.Title)
		result.TicketID = id
		return err
	}); err != nil {
		return result, fmt.Errorf("open ticket: %w", err)
	}
	logger.Info().Str("ticket_id", result.TicketID).Msg("ticket opened")

	if cfg.Rename != "" || cfg.FollowUp != "" {
		if err := inUnitOfWork(ctx, func(ctx context.Context) error {
			root, err := repo.Load(ctx, ticket.Type, result.TicketID)
			if err != nil {
				return err
			}
			return lifecycle.Execute(ctx, root, func(ctx context.Context) error {
				if cfg.Rename != "" {
					if err := ticket.Rename(ctx, cfg.Rename); err != nil {
						return err
					}
				}
				if cfg.FollowUp != "" {
					result.FollowUpID, err = ticket.OpenFollowUp(ctx, cfg.FollowUp)
					return err
				}
				return nil
			})
		}); err != nil {
			return result, fmt.Errorf("update ticket: %w", err)
		}
	}

	for round := 0; round < maxRounds; round++ {
		closed, err := ticketClosed(ctx, repo, result.TicketID)
		if err != nil {
			return result, err
		}
		if closed {
			break
		}
		if round > 0 {
			if err := sleep(ctx, cfg.Ticket.EscalateAfter); err != nil {
				logger.Info().Str("ticket_id", result.TicketID).Msg("scenario interrupted")
				return result, nil
			}
		}
		fired, err := scheduler.RunDue(ctx, dispatcher)
		result.Fired += fired
		if err != nil {
			logger.Warn().Err(err).Int("round", round).Msg("deadline round failed")
		}
	}

	root, err := repo.Load(ctx, ticket.Type, result.TicketID)
	if err != nil {
		return result, err
	}
	state, _ := ticket.FromRoot(root)
	result.Status = state.Status
	result.Level = state.Level
	result.Events = published
	logger.Info().
		Str("ticket_id", result.TicketID).
		Str("status", string(result.Status)).
		Int("level", result.Level).
		Int("deadlines_fired", result.Fired).
		Int("events_published", result.Events).
		Msg("scenario finished")

	if cfg.Watch {
		logger.Info().Dur("poll_interval", cfg.Deadline.PollInterval).Msg("watching deadlines")
		if err := scheduler.Run(ctx, dispatcher); err != nil {
			return result, err
		}
	}
	return result, nil
}

func inUnitOfWork(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, uow := unitofwork.Start(ctx)
	if err := fn(ctx); err != nil {
		_ = uow.Rollback(ctx, err)
		return err
	}
	return uow.Commit(ctx)
}

func ticketClosed(ctx context.Context, repo *repository.Repository, id string) (bool, error) {
	root, err := repo.Load(ctx, ticket.Type, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	state, ok := ticket.FromRoot(root)
	return !ok || state.Status == ticket.StatusClosed, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
