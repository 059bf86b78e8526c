// Package deadline schedules and cancels time-triggered callbacks bound to an
// aggregate's identity.
//
// Scheduling returns a Token that later cancels the deadline. A Scheduler
// persists deadlines in a Store and fires them from RunDue or Run by
// claiming each due record before dispatching it, so a deadline fires at most
// once and cancelling a deadline that already fired (or never existed) is a
// no-op.
package deadline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStoreRequired indicates a missing deadline store.
	ErrStoreRequired = errors.New("deadline store is required")
	// ErrHandlerRequired indicates a missing deadline handler.
	ErrHandlerRequired = errors.New("deadline handler is required")
)

// Scope names the aggregate a deadline is bound to.
type Scope struct {
	AggregateType string
	AggregateID   string
}

func (s Scope) String() string { return s.AggregateType + "/" + s.AggregateID }

// Token correlates a scheduled deadline with a later cancellation. Callers
// should treat it as opaque and hand it back unchanged.
type Token struct {
	ID    string
	Scope Scope
}

// IsZero reports whether t is the zero token.
func (t Token) IsZero() bool { return t.ID == "" }

// Deadline is a fired deadline handed to a Handler.
type Deadline struct {
	Token       Token
	Name        string
	PayloadJSON []byte
	TriggerAt   time.Time
}

// Decode unmarshals the deadline payload into target.
func (d Deadline) Decode(target any) error {
	if len(d.PayloadJSON) == 0 {
		return nil
	}
	if err := json.Unmarshal(d.PayloadJSON, target); err != nil {
		return fmt.Errorf("decode deadline %s payload: %w", d.Name, err)
	}
	return nil
}

// Manager schedules and cancels deadlines.
type Manager interface {
	Schedule(ctx context.Context, at time.Time, scope Scope, name string, payload any) (Token, error)
	Cancel(ctx context.Context, token Token) error
}

// Handler receives fired deadlines.
type Handler interface {
	HandleDeadline(ctx context.Context, d Deadline) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, d Deadline) error

// HandleDeadline calls f.
func (f HandlerFunc) HandleDeadline(ctx context.Context, d Deadline) error {
	return f(ctx, d)
}
