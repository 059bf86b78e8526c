package lifecycle

import (
	"context"
	"time"

	"github.com/louisbranch/lifecycle/internal/lifecycle/deadline"
	"github.com/louisbranch/lifecycle/internal/lifecycle/event"
	"github.com/louisbranch/lifecycle/internal/lifecycle/scope"
)

// Aggregate identifies an aggregate instance.
type Aggregate interface {
	AggregateType() string
	AggregateID() string
	// Version returns the sequence of the last applied event; ok is false
	// before any event has been applied.
	Version() (version int64, ok bool)
}

// Lifecycle is the set of operations an aggregate offers to the domain code
// running under it.
type Lifecycle interface {
	Aggregate
	// Live reports whether the aggregate handles events as they happen
	// rather than replaying history.
	Live() bool
	MarkDeleted()
	ApplyEvent(ctx context.Context, payload any, metadata event.Metadata) (ApplyMore, error)
	CreateAggregate(ctx context.Context, aggregateType string, factory Factory) (Aggregate, error)
	ScheduleDeadline(ctx context.Context, at time.Time, name string, payload any) (deadline.Token, error)
	CancelDeadline(ctx context.Context, token deadline.Token) error
}

// ApplyMore chains work after an applied event. When the aggregate is still
// propagating events, the work is queued behind everything already queued
// and its failure surfaces from the outermost Apply; otherwise it runs
// immediately and its failure is returned.
type ApplyMore interface {
	AndThenApply(ctx context.Context, supplier func(ctx context.Context) (any, error)) error
	AndThen(ctx context.Context, fn func(ctx context.Context) error) error
}

// Factory initializes a new aggregate with the given id, normally by
// applying its creation event. It runs with the new aggregate as current.
type Factory func(ctx context.Context, id string) error

// Creator creates new aggregates.
type Creator interface {
	Create(ctx context.Context, aggregateType string, factory Factory) (Aggregate, error)
}

var currentKey = scope.NewKey[Lifecycle]("lifecycle")

// RegisterAsCurrent makes l the current lifecycle on the returned context
// until release is called.
func RegisterAsCurrent(ctx context.Context, l Lifecycle) (context.Context, func()) {
	ctx, stack := currentKey.Ensure(ctx)
	return ctx, stack.Register(l)
}

// Detach returns a context with an empty lifecycle stack, for handing work to
// another goroutine.
func Detach(ctx context.Context) context.Context {
	return currentKey.Detach(ctx)
}

// Current resolves the current lifecycle.
func Current(ctx context.Context) (Lifecycle, error) {
	if l, ok := currentKey.Current(ctx); ok {
		return l, nil
	}
	if l, ok := soleManaged(ctx); ok {
		return l, nil
	}
	return nil, ErrNoCurrentLifecycle
}

// Apply applies payload to the current lifecycle.
func Apply(ctx context.Context, payload any, metadata event.Metadata) (ApplyMore, error) {
	l, err := Current(ctx)
	if err != nil {
		return nil, err
	}
	return l.ApplyEvent(ctx, payload, metadata)
}

// CreateNew creates an aggregate of aggregateType through the current
// lifecycle. It fails with ErrLifecycleInitializing while the current
// lifecycle is replaying history. Creator failures are returned unchanged.
func CreateNew(ctx context.Context, aggregateType string, factory Factory) (Aggregate, error) {
	l, err := Current(ctx)
	if err != nil {
		return nil, err
	}
	if !l.Live() {
		return nil, ErrLifecycleInitializing
	}
	return l.CreateAggregate(ctx, aggregateType, factory)
}

// IsLive reports whether the current lifecycle is live.
func IsLive(ctx context.Context) (bool, error) {
	l, err := Current(ctx)
	if err != nil {
		return false, err
	}
	return l.Live(), nil
}

// Version returns the current lifecycle's version.
func Version(ctx context.Context) (int64, bool, error) {
	l, err := Current(ctx)
	if err != nil {
		return 0, false, err
	}
	version, ok := l.Version()
	return version, ok, nil
}

// MarkDeleted flags the current lifecycle for removal by its repository.
func MarkDeleted(ctx context.Context) error {
	l, err := Current(ctx)
	if err != nil {
		return err
	}
	l.MarkDeleted()
	return nil
}

// ScheduleDeadline schedules a deadline for the current lifecycle at the
// given time.
func ScheduleDeadline(ctx context.Context, at time.Time, name string, payload any) (deadline.Token, error) {
	l, err := Current(ctx)
	if err != nil {
		return deadline.Token{}, err
	}
	return l.ScheduleDeadline(ctx, at, name, payload)
}

// ScheduleDeadlineAfter schedules a deadline for the current lifecycle once
// d has elapsed from now.
func ScheduleDeadlineAfter(ctx context.Context, d time.Duration, name string, payload any) (deadline.Token, error) {
	l, err := Current(ctx)
	if err != nil {
		return deadline.Token{}, err
	}
	return l.ScheduleDeadline(ctx, time.Now().Add(d), name, payload)
}

// CancelDeadline cancels a deadline scheduled by the current lifecycle.
// Unknown and already fired tokens are ignored.
func CancelDeadline(ctx context.Context, token deadline.Token) error {
	l, err := Current(ctx)
	if err != nil {
		return err
	}
	return l.CancelDeadline(ctx, token)
}
