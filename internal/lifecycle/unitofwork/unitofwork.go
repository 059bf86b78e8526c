// Package unitofwork provides the scoped resource registry that lives for one
// logical unit of work, plus an in-memory implementation with commit and
// rollback hooks.
//
// The lifecycle packages only consume the Registry interface; hosts with
// their own transaction machinery can install any Registry with With.
package unitofwork

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotActive indicates the unit of work has already ended.
	ErrNotActive = errors.New("unit of work is not active")
)

// Registry is a key/value store scoped to one unit of work.
type Registry interface {
	Resource(key string) (any, bool)
	ResourceOrCompute(key string, compute func(key string) any) any
}

// CommitHooks is implemented by registries that can run work at commit.
type CommitHooks interface {
	OnCommit(fn func(ctx context.Context) error)
}

type activeReporter interface {
	Active() bool
}

type contextKey struct{}

// With returns a context carrying r as the current unit of work.
func With(ctx context.Context, r Registry) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, r)
}

// FromContext returns the active unit of work carried by ctx.
func FromContext(ctx context.Context) (Registry, bool) {
	if ctx == nil {
		return nil, false
	}
	r, ok := ctx.Value(contextKey{}).(Registry)
	if !ok || r == nil {
		return nil, false
	}
	if reporter, ok := r.(activeReporter); ok && !reporter.Active() {
		return nil, false
	}
	return r, true
}

// IsStarted reports whether ctx carries an active unit of work.
func IsStarted(ctx context.Context) bool {
	_, ok := FromContext(ctx)
	return ok
}

// IfStarted runs fn with the active unit of work, if there is one.
func IfStarted(ctx context.Context, fn func(Registry)) {
	if r, ok := FromContext(ctx); ok {
		fn(r)
	}
}

// Phase is the stage an in-memory UnitOfWork is in.
type Phase int

const (
	// PhaseStarted accepts resources and hooks.
	PhaseStarted Phase = iota
	// PhaseCommitting runs commit hooks; hooks may still add hooks.
	PhaseCommitting
	// PhaseCommitted and PhaseRolledBack are final; resources are cleared.
	PhaseCommitted
	PhaseRolledBack
)

func (p Phase) String() string {
	switch p {
	case PhaseStarted:
		return "started"
	case PhaseCommitting:
		return "committing"
	case PhaseCommitted:
		return "committed"
	case PhaseRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// UnitOfWork is an in-memory Registry. It is meant to be used from a single
// goroutine, like the call path it scopes.
type UnitOfWork struct {
	phase      Phase
	resources  map[string]any
	onCommit   []func(context.Context) error
	onRollback []func(context.Context, error)
}

// Start begins a unit of work and returns a context carrying it.
func Start(ctx context.Context) (context.Context, *UnitOfWork) {
	u := &UnitOfWork{resources: make(map[string]any)}
	return With(ctx, u), u
}

// Phase returns the current phase.
func (u *UnitOfWork) Phase() Phase { return u.phase }

// Active reports whether the unit of work can still accept resources.
func (u *UnitOfWork) Active() bool {
	return u.phase == PhaseStarted || u.phase == PhaseCommitting
}

// Resource returns the resource stored under key.
func (u *UnitOfWork) Resource(key string) (any, bool) {
	value, ok := u.resources[key]
	return value, ok
}

// ResourceOrCompute returns the resource under key, computing and storing it
// first when absent.
func (u *UnitOfWork) ResourceOrCompute(key string, compute func(key string) any) any {
	if value, ok := u.resources[key]; ok {
		return value
	}
	value := compute(key)
	u.resources[key] = value
	return value
}

// SetResource stores value under key, replacing any previous value.
func (u *UnitOfWork) SetResource(key string, value any) {
	u.resources[key] = value
}

// OnCommit registers fn to run during Commit, in registration order.
// Handlers registered while committing still run.
func (u *UnitOfWork) OnCommit(fn func(ctx context.Context) error) {
	if fn != nil {
		u.onCommit = append(u.onCommit, fn)
	}
}

// OnRollback registers fn to run during Rollback.
func (u *UnitOfWork) OnRollback(fn func(ctx context.Context, cause error)) {
	if fn != nil {
		u.onRollback = append(u.onRollback, fn)
	}
}

// Commit runs the commit handlers and ends the unit of work. If a handler
// fails the unit of work is rolled back with that failure and the failure is
// returned.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.phase != PhaseStarted {
		return ErrNotActive
	}
	u.phase = PhaseCommitting
	for i := 0; i < len(u.onCommit); i++ {
		if err := u.onCommit[i](ctx); err != nil {
			u.rollback(ctx, err)
			return fmt.Errorf("commit unit of work: %w", err)
		}
	}
	u.phase = PhaseCommitted
	u.end()
	return nil
}

// Rollback runs the rollback handlers with cause and ends the unit of work.
func (u *UnitOfWork) Rollback(ctx context.Context, cause error) error {
	if u.phase != PhaseStarted {
		return ErrNotActive
	}
	u.rollback(ctx, cause)
	return nil
}

func (u *UnitOfWork) rollback(ctx context.Context, cause error) {
	u.phase = PhaseRolledBack
	for _, fn := range u.onRollback {
		fn(ctx, cause)
	}
	u.end()
}

func (u *UnitOfWork) end() {
	clear(u.resources)
	u.onCommit = nil
	u.onRollback = nil
}

var (
	_ Registry    = (*UnitOfWork)(nil)
	_ CommitHooks = (*UnitOfWork)(nil)
)
