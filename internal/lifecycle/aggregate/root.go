package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/louisbranch/lifecycle/internal/lifecycle"
	"github.com/louisbranch/lifecycle/internal/lifecycle/deadline"
	"github.com/louisbranch/lifecycle/internal/lifecycle/event"
	"github.com/louisbranch/lifecycle/internal/platform/id"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/louisbranch/lifecycle/internal/lifecycle/aggregate"

var (
	// ErrCreatorRequired indicates a root without an aggregate creator.
	ErrCreatorRequired = errors.New("aggregate creator is required")
	// ErrDeadlinesRequired indicates a root without a deadline manager.
	ErrDeadlinesRequired = errors.New("deadline manager is required")
)

// Root is the lifecycle of one aggregate instance. It is not safe for
// concurrent use; a root belongs to the unit of work that loaded it.
type Root struct {
	model      Model
	id         string
	version    int64
	hasVersion bool
	live       bool
	deleted    bool

	phase Phase
	queue []func(context.Context) error

	uncommitted []event.Message
	unpublished []event.Message

	metadata  event.Metadata
	publisher event.Publisher
	deadlines deadline.Manager
	creator   lifecycle.Creator
	now       func() time.Time
	newID     func() (string, error)
	tracer    trace.Tracer
}

// Option customizes a Root.
type Option func(*Root)

// WithMetadata sets metadata attached to every event the root applies.
// Request identity from the context overrides it, and metadata passed to
// Apply overrides both.
func WithMetadata(metadata event.Metadata) Option {
	return func(r *Root) { r.metadata = r.metadata.Merge(metadata) }
}

// WithPublisher sets where applied events are published.
func WithPublisher(publisher event.Publisher) Option {
	return func(r *Root) { r.publisher = publisher }
}

// WithDeadlines sets the deadline manager used to schedule and cancel
// deadlines.
func WithDeadlines(manager deadline.Manager) Option {
	return func(r *Root) { r.deadlines = manager }
}

// WithCreator sets the collaborator that creates new aggregates.
func WithCreator(creator lifecycle.Creator) Option {
	return func(r *Root) { r.creator = creator }
}

// WithClock overrides the clock used to timestamp events.
func WithClock(now func() time.Time) Option {
	return func(r *Root) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator overrides event id generation.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(r *Root) {
		if newID != nil {
			r.newID = newID
		}
	}
}

// Replaying starts the root in replay mode; it goes live after Initialize.
func Replaying() Option {
	return func(r *Root) { r.live = false }
}

// New returns a root for the aggregate id and registers it with the unit of
// work carried by ctx, if any. Roots are live unless Replaying is given.
func New(ctx context.Context, model Model, id string, opts ...Option) *Root {
	r := &Root{
		model:  model,
		id:     id,
		live:   true,
		now:    time.Now,
		newID:  newEventID,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	lifecycle.RegisterWithUnitOfWork(ctx, r)
	return r
}

func newEventID() (string, error) { return id.NewID() }

// AggregateType returns the model type.
func (r *Root) AggregateType() string { return r.model.Type }

// AggregateID returns the aggregate id.
func (r *Root) AggregateID() string { return r.id }

// State returns the model state.
func (r *Root) State() any { return r.model.State }

// Version returns the sequence of the last event fully propagated.
func (r *Root) Version() (int64, bool) { return r.version, r.hasVersion }

// Live reports whether the root has finished replaying history.
func (r *Root) Live() bool { return r.live }

// MarkDeleted flags the aggregate for removal when it is saved.
func (r *Root) MarkDeleted() { r.deleted = true }

// Deleted reports whether MarkDeleted was called.
func (r *Root) Deleted() bool { return r.deleted }

// Phase returns where the root is in applying events.
func (r *Root) Phase() Phase { return r.phase }

// UncommittedEvents returns the events applied since the last
// MarkCommitted, in order.
func (r *Root) UncommittedEvents() []event.Message {
	return append([]event.Message(nil), r.uncommitted...)
}

// MarkCommitted forgets the uncommitted events once they are stored.
func (r *Root) MarkCommitted() { r.uncommitted = nil }

// Initialize replays history into the root and makes it live. Events must
// be in sequence order starting at the root's next sequence.
func (r *Root) Initialize(ctx context.Context, history []event.Message) error {
	if r.live {
		return fmt.Errorf("aggregate %s/%s is already live", r.model.Type, r.id)
	}
	if r.phase != PhaseIdle {
		return fmt.Errorf("aggregate %s/%s is applying events", r.model.Type, r.id)
	}
	lifecycle.RegisterWithUnitOfWork(ctx, r)
	ctx, release := lifecycle.RegisterAsCurrent(ctx, r)
	defer release()
	defer r.reset()

	r.phase = PhasePropagating
	for _, msg := range history {
		if want := r.nextSeq(); msg.Seq != want {
			return fmt.Errorf("replay %s/%s: sequence gap: expected %d, got %d", r.model.Type, r.id, want, msg.Seq)
		}
		if err := r.handle(ctx, msg); err != nil {
			return fmt.Errorf("replay %s: %w", msg, err)
		}
		r.version, r.hasVersion = msg.Seq, true
	}
	r.live = true
	return nil
}

// ApplyEvent applies payload to every part of the aggregate. While the root
// replays history the request is ignored. Request identity is taken from ctx
// when the event is requested, even if it is queued behind other events.
func (r *Root) ApplyEvent(ctx context.Context, payload any, metadata event.Metadata) (lifecycle.ApplyMore, error) {
	if !r.live {
		zerolog.Ctx(ctx).Debug().
			Str("aggregate_type", r.model.Type).
			Str("aggregate_id", r.id).
			Str("event_type", string(event.TypeOf(payload))).
			Msg("ignoring apply during replay")
		return applyMore{}, nil
	}
	metadata = callMetadata(ctx, metadata)
	apply := func(ctx context.Context) error { return r.propagate(ctx, payload, metadata) }
	if r.phase != PhaseIdle {
		r.queue = append(r.queue, apply)
		return applyMore{root: r}, nil
	}
	return applyMore{root: r}, r.run(ctx, apply)
}

// CreateAggregate delegates to the configured creator.
func (r *Root) CreateAggregate(ctx context.Context, aggregateType string, factory lifecycle.Factory) (lifecycle.Aggregate, error) {
	if r.creator == nil {
		return nil, ErrCreatorRequired
	}
	return r.creator.Create(ctx, aggregateType, factory)
}

// ScheduleDeadline schedules a deadline bound to this aggregate.
func (r *Root) ScheduleDeadline(ctx context.Context, at time.Time, name string, payload any) (deadline.Token, error) {
	if r.deadlines == nil {
		return deadline.Token{}, ErrDeadlinesRequired
	}
	return r.deadlines.Schedule(ctx, at, deadline.Scope{AggregateType: r.model.Type, AggregateID: r.id}, name, payload)
}

// CancelDeadline cancels a deadline scheduled by this aggregate.
func (r *Root) CancelDeadline(ctx context.Context, token deadline.Token) error {
	if r.deadlines == nil {
		return ErrDeadlinesRequired
	}
	return r.deadlines.Cancel(ctx, token)
}

// HandleDeadline runs the model's handler for d. Run it under
// lifecycle.Execute so the handler can apply events.
func (r *Root) HandleDeadline(ctx context.Context, d deadline.Deadline) error {
	handler, ok := r.model.Deadlines[d.Name]
	if !ok {
		return fmt.Errorf("aggregate %s has no handler for deadline %s", r.model.Type, d.Name)
	}
	return handler(ctx, d)
}

var _ lifecycle.Lifecycle = (*Root)(nil)
