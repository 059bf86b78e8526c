// Package aggregate provides Root, the event-sourced lifecycle that drives an
// aggregate's parts.
//
// A Root propagates each applied event to every Part of its Model in order.
// Events applied while an earlier event is still propagating are queued and
// handled only after that event has reached every part, in the order they
// were requested (level order), so no part ever observes two events at once.
package aggregate

import (
	"context"
	"fmt"

	"github.com/louisbranch/lifecycle/internal/lifecycle/deadline"
	"github.com/louisbranch/lifecycle/internal/lifecycle/event"
)

// Part is one constituent of an aggregate that reacts to its events.
type Part interface {
	HandleEvent(ctx context.Context, msg event.Message) error
}

// PartFunc adapts a function to Part.
type PartFunc func(ctx context.Context, msg event.Message) error

// HandleEvent calls f.
func (f PartFunc) HandleEvent(ctx context.Context, msg event.Message) error {
	return f(ctx, msg)
}

// DeadlineHandler reacts to a fired deadline with the aggregate current.
type DeadlineHandler func(ctx context.Context, d deadline.Deadline) error

// Model describes an aggregate type: its state, the parts events propagate
// to (in order), and the handlers for its named deadlines.
type Model struct {
	Type      string
	State     any
	Parts     []Part
	Deadlines map[string]DeadlineHandler
}

// Constructor returns a fresh Model with zero state.
type Constructor func() Model

// Router is a Part that dispatches events to handlers by event type.
// Event types without a handler are ignored.
type Router struct {
	handlers map[event.Type]func(ctx context.Context, msg event.Message) error
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{handlers: make(map[event.Type]func(context.Context, event.Message) error)}
}

// Handle registers fn for events of type t. Registering a type twice is an
// error.
func (r *Router) Handle(t event.Type, fn func(ctx context.Context, msg event.Message) error) error {
	if t == "" {
		return fmt.Errorf("event type is required")
	}
	if fn == nil {
		return fmt.Errorf("handler for %s is required", t)
	}
	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("duplicate handler for event type %s", t)
	}
	r.handlers[t] = fn
	return nil
}

// Handles reports whether r has a handler for t.
func (r *Router) Handles(t event.Type) bool {
	_, ok := r.handlers[t]
	return ok
}

// HandleEvent dispatches msg to the handler for its type.
func (r *Router) HandleEvent(ctx context.Context, msg event.Message) error {
	fn, ok := r.handlers[msg.Type]
	if !ok {
		return nil
	}
	return fn(ctx, msg)
}

// On registers a handler for payloads of type P on r. It panics when P is
// already handled, since handler tables are built once at construction.
func On[P any](r *Router, fn func(ctx context.Context, msg event.Message, payload P) error) {
	var zero P
	t := event.TypeOf(zero)
	err := r.Handle(t, func(ctx context.Context, msg event.Message) error {
		payload, ok := msg.Payload.(P)
		if !ok {
			return fmt.Errorf("event %s: payload is %T, want %T", msg.Type, msg.Payload, zero)
		}
		return fn(ctx, msg, payload)
	})
	if err != nil {
		panic(err)
	}
}
