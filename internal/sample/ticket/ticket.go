// Package ticket is a support-ticket aggregate built on the lifecycle
// packages. Open tickets escalate on a timer until they are closed or reach
// the escalation limit, which closes them.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/lifecycle/internal/lifecycle"
	"github.com/louisbranch/lifecycle/internal/lifecycle/aggregate"
	"github.com/louisbranch/lifecycle/internal/lifecycle/deadline"
	"github.com/louisbranch/lifecycle/internal/lifecycle/event"
)

// Type is the ticket aggregate type.
const Type = "ticket"

// DeadlineEscalate names the escalation deadline.
const DeadlineEscalate = "escalate"

var (
	// ErrTitleRequired rejects blank titles.
	ErrTitleRequired = errors.New("ticket title is required")
	// ErrClosed rejects changes to a closed ticket.
	ErrClosed = errors.New("ticket is closed")
	// ErrOpen rejects deleting a ticket that is not closed.
	ErrOpen = errors.New("ticket is still open")
	// ErrNotTicket means the current lifecycle holds another aggregate type.
	ErrNotTicket = errors.New("current aggregate is not a ticket")
)

// Status is the ticket status.
type Status string

// Ticket statuses.
const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Config controls escalation. Tickets escalate every EscalateAfter and close
// once MaxEscalations is reached.
type Config struct {
	EscalateAfter  time.Duration `env:"TICKET_ESCALATE_AFTER" envDefault:"1s"`
	MaxEscalations int           `env:"TICKET_MAX_ESCALATIONS" envDefault:"3"`
}

func (c Config) normalized() Config {
	if c.EscalateAfter < 0 {
		c.EscalateAfter = 0
	}
	if c.MaxEscalations <= 0 {
		c.MaxEscalations = 3
	}
	return c
}

// Ticket is the ticket state.
type Ticket struct {
	ID         string
	Title      string
	Status     Status
	Level      int
	Escalation deadline.Token
	FollowUps  []string
	// Activity lists every event the ticket has seen as "#seq type".
	Activity []string

	cfg Config
}

// Constructor returns the ticket model constructor for a repository.
func Constructor(cfg Config) aggregate.Constructor {
	cfg = cfg.normalized()
	return func() aggregate.Model {
		t := &Ticket{cfg: cfg}
		return aggregate.Model{
			Type:  Type,
			State: t,
			Parts: []aggregate.Part{t.router(), aggregate.PartFunc(t.record)},
			Deadlines: map[string]aggregate.DeadlineHandler{
				DeadlineEscalate: t.escalate,
			},
		}
	}
}

// FromRoot returns the ticket state driven by root.
func FromRoot(root *aggregate.Root) (*Ticket, bool) {
	if root == nil {
		return nil, false
	}
	t, ok := root.State().(*Ticket)
	return t, ok
}

func (t *Ticket) router() *aggregate.Router {
	r := aggregate.NewRouter()
	aggregate.On(r, t.onOpened)
	aggregate.On(r, func(_ context.Context, _ event.Message, e Renamed) error {
		t.Title = e.Title
		return nil
	})
	aggregate.On(r, func(_ context.Context, _ event.Message, e EscalationScheduled) error {
		t.Escalation = e.Token
		return nil
	})
	aggregate.On(r, t.onEscalated)
	aggregate.On(r, t.onClosed)
	aggregate.On(r, func(_ context.Context, _ event.Message, e FollowUpOpened) error {
		t.FollowUps = append(t.FollowUps, e.TicketID)
		return nil
	})
	return r
}

func (t *Ticket) record(_ context.Context, msg event.Message) error {
	t.Activity = append(t.Activity, fmt.Sprintf("#%d %s", msg.Seq, msg.Type))
	return nil
}

func (t *Ticket) onOpened(ctx context.Context, msg event.Message, e Opened) error {
	t.ID = msg.AggregateID
	t.Title = e.Title
	t.Status = StatusOpen
	return t.scheduleEscalation(ctx, 1)
}

func (t *Ticket) onEscalated(ctx context.Context, _ event.Message, e Escalated) error {
	t.Level = e.Level
	t.Escalation = deadline.Token{}
	live, err := lifecycle.IsLive(ctx)
	if err != nil || !live {
		return err
	}
	if e.Level >= t.cfg.MaxEscalations {
		_, err := lifecycle.Apply(ctx, Closed{Reason: "escalation limit reached"}, nil)
		return err
	}
	return t.scheduleEscalation(ctx, e.Level+1)
}

func (t *Ticket) onClosed(ctx context.Context, _ event.Message, _ Closed) error {
	t.Status = StatusClosed
	pending := t.Escalation
	t.Escalation = deadline.Token{}
	live, err := lifecycle.IsLive(ctx)
	if err != nil || !live || pending.IsZero() {
		return err
	}
	return lifecycle.CancelDeadline(ctx, pending)
}

// scheduleEscalation schedules the next escalation and records its token.
// Nothing is scheduled while replaying.
func (t *Ticket) scheduleEscalation(ctx context.Context, level int) error {
	live, err := lifecycle.IsLive(ctx)
	if err != nil || !live {
		return err
	}
	token, err := lifecycle.ScheduleDeadlineAfter(ctx, t.cfg.EscalateAfter, DeadlineEscalate, escalationDue{Level: level})
	if err != nil {
		return fmt.Errorf("schedule escalation %d: %w", level, err)
	}
	_, err = lifecycle.Apply(ctx, EscalationScheduled{Level: level, Token: token}, nil)
	return err
}

type escalationDue struct {
	Level int `json:"level"`
}

// escalate handles the escalation deadline. Deadlines that no longer match
// the ticket are ignored.
func (t *Ticket) escalate(ctx context.Context, d deadline.Deadline) error {
	var due escalationDue
	if err := d.Decode(&due); err != nil {
		return err
	}
	if t.Status != StatusOpen || due.Level != t.Level+1 {
		return nil
	}
	_, err := lifecycle.Apply(ctx, Escalated{Level: due.Level}, nil)
	return err
}

// Open creates a ticket and returns its id.
func Open(ctx context.Context, creator lifecycle.Creator, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", ErrTitleRequired
	}
	created, err := creator.Create(ctx, Type, opener(title))
	if err != nil {
		return "", err
	}
	return created.AggregateID(), nil
}

func opener(title string) lifecycle.Factory {
	return func(ctx context.Context, _ string) error {
		_, err := lifecycle.Apply(ctx, Opened{Title: title}, nil)
		return err
	}
}

// Rename renames the current ticket.
func Rename(ctx context.Context, title string) error {
	t, err := current(ctx)
	if err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	switch {
	case title == "":
		return ErrTitleRequired
	case t.Status == StatusClosed:
		return ErrClosed
	case title == t.Title:
		return nil
	}
	_, err = lifecycle.Apply(ctx, Renamed{Title: title}, nil)
	return err
}

// Close closes the current ticket.
func Close(ctx context.Context, reason string) error {
	t, err := current(ctx)
	if err != nil {
		return err
	}
	if t.Status == StatusClosed {
		return ErrClosed
	}
	_, err = lifecycle.Apply(ctx, Closed{Reason: strings.TrimSpace(reason)}, nil)
	return err
}

// OpenFollowUp opens a new ticket linked from the current one and returns
// its id.
func OpenFollowUp(ctx context.Context, title string) (string, error) {
	t, err := current(ctx)
	if err != nil {
		return "", err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return "", ErrTitleRequired
	}
	if t.Status == StatusClosed {
		return "", ErrClosed
	}
	child, err := lifecycle.CreateNew(ctx, Type, opener(title))
	if err != nil {
		return "", err
	}
	if _, err := lifecycle.Apply(ctx, FollowUpOpened{TicketID: child.AggregateID(), Title: title}, nil); err != nil {
		return "", err
	}
	return child.AggregateID(), nil
}

// Delete removes the current ticket once it is closed.
func Delete(ctx context.Context) error {
	t, err := current(ctx)
	if err != nil {
		return err
	}
	if t.Status != StatusClosed {
		return ErrOpen
	}
	return lifecycle.MarkDeleted(ctx)
}

func current(ctx context.Context) (*Ticket, error) {
	l, err := lifecycle.Current(ctx)
	if err != nil {
		return nil, err
	}
	root, ok := l.(*aggregate.Root)
	if !ok {
		return nil, ErrNotTicket
	}
	t, ok := FromRoot(root)
	if !ok {
		return nil, ErrNotTicket
	}
	return t, nil
}
