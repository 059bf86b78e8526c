package deadline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/lifecycle/internal/platform/errors"
	"github.com/louisbranch/lifecycle/internal/platform/id"
	"github.com/louisbranch/lifecycle/internal/platform/timeouts"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultBatchSize = 100
	tracerName       = "github.com/louisbranch/lifecycle/internal/lifecycle/deadline"
)

// Config controls the scheduler poll loop.
type Config struct {
	PollInterval time.Duration `env:"DEADLINE_POLL_INTERVAL" envDefault:"1s"`
	BatchSize    int           `env:"DEADLINE_BATCH_SIZE" envDefault:"100"`
}

func (c Config) normalized() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = timeouts.DeadlinePoll
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	return c
}

// Scheduler is a Manager backed by a Store.
type Scheduler struct {
	store  Store
	config Config
	now    func() time.Time
	newID  func() (string, error)
	tracer trace.Tracer
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the wall clock used to find due deadlines.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithConfig sets the poll loop configuration.
func WithConfig(cfg Config) Option {
	return func(s *Scheduler) { s.config = cfg.normalized() }
}

// WithIDGenerator overrides token id generation.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(s *Scheduler) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// NewScheduler creates a scheduler over store.
func NewScheduler(store Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:  store,
		config: Config{}.normalized(),
		now:    time.Now,
		newID:  id.NewID,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule stores a deadline that fires at the given time.
func (s *Scheduler) Schedule(ctx context.Context, at time.Time, scope Scope, name string, payload any) (Token, error) {
	if s == nil || s.store == nil {
		return Token{}, ErrStoreRequired
	}
	scope.AggregateType = strings.TrimSpace(scope.AggregateType)
	scope.AggregateID = strings.TrimSpace(scope.AggregateID)
	name = strings.TrimSpace(name)
	switch {
	case at.IsZero():
		return Token{}, apperrors.New(apperrors.CodeDeadlineInvalid, "deadline trigger time is required")
	case name == "":
		return Token{}, apperrors.New(apperrors.CodeDeadlineInvalid, "deadline name is required")
	case scope.AggregateID == "":
		return Token{}, apperrors.New(apperrors.CodeDeadlineInvalid, "deadline aggregate id is required")
	}

	var payloadJSON []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return Token{}, apperrors.Wrap(apperrors.CodeDeadlineInvalid, "encode deadline payload", err)
		}
		payloadJSON = encoded
	}
	tokenID, err := s.newID()
	if err != nil {
		return Token{}, err
	}
	if err := s.store.Insert(ctx, Record{
		ID:            tokenID,
		AggregateType: scope.AggregateType,
		AggregateID:   scope.AggregateID,
		Name:          name,
		PayloadJSON:   payloadJSON,
		TriggerAt:     at.UTC(),
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		return Token{}, fmt.Errorf("schedule deadline %s: %w", name, err)
	}
	return Token{ID: tokenID, Scope: scope}, nil
}

// Cancel removes a scheduled deadline. Unknown, fired, and already
// cancelled tokens are ignored.
func (s *Scheduler) Cancel(ctx context.Context, token Token) error {
	if s == nil || s.store == nil {
		return ErrStoreRequired
	}
	if token.IsZero() {
		return nil
	}
	if _, err := s.store.Delete(ctx, token.ID); err != nil {
		return fmt.Errorf("cancel deadline: %w", err)
	}
	return nil
}

// RunDue fires every deadline due now, up to the configured batch size, and
// returns how many were dispatched. Handler failures are logged and joined
// into the returned error; they do not stop the batch.
func (s *Scheduler) RunDue(ctx context.Context, handler Handler) (int, error) {
	if s == nil || s.store == nil {
		return 0, ErrStoreRequired
	}
	if handler == nil {
		return 0, ErrHandlerRequired
	}
	due, err := s.store.ListDue(ctx, s.now().UTC(), s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due deadlines: %w", err)
	}
	logger := zerolog.Ctx(ctx)
	fired := 0
	var errs []error
	for _, record := range due {
		claimed, err := s.store.Delete(ctx, record.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("claim deadline %s: %w", record.ID, err))
			continue
		}
		if !claimed {
			continue
		}
		fired++
		if err := s.dispatch(ctx, handler, record); err != nil {
			logger.Warn().Err(err).
				Str("deadline_id", record.ID).
				Str("deadline", record.Name).
				Str("aggregate_id", record.AggregateID).
				Msg("deadline handler failed")
			errs = append(errs, err)
		}
	}
	return fired, errors.Join(errs...)
}

func (s *Scheduler) dispatch(ctx context.Context, handler Handler, record Record) error {
	ctx, span := s.tracer.Start(ctx, "deadline.fire", trace.WithAttributes(
		attribute.String("deadline.name", record.Name),
		attribute.String("aggregate.type", record.AggregateType),
		attribute.String("aggregate.id", record.AggregateID),
	))
	defer span.End()

	err := handler.HandleDeadline(ctx, Deadline{
		Token: Token{
			ID:    record.ID,
			Scope: Scope{AggregateType: record.AggregateType, AggregateID: record.AggregateID},
		},
		Name:        record.Name,
		PayloadJSON: record.PayloadJSON,
		TriggerAt:   record.TriggerAt,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("handle deadline %s: %w", record.Name, err)
	}
	return nil
}

// Run calls RunDue every poll interval until ctx ends.
func (s *Scheduler) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		return ErrHandlerRequired
	}
	logger := zerolog.Ctx(ctx)
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := s.RunDue(ctx, handler); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("run due deadlines")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

var _ Manager = (*Scheduler)(nil)
