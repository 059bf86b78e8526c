package ticket

import (
	"github.com/louisbranch/lifecycle/internal/lifecycle/deadline"
	"github.com/louisbranch/lifecycle/internal/lifecycle/event"
)

// Event types applied by the ticket aggregate.
const (
	EventOpened              event.Type = "ticket.opened"
	EventRenamed             event.Type = "ticket.renamed"
	EventEscalationScheduled event.Type = "ticket.escalation_scheduled"
	EventEscalated           event.Type = "ticket.escalated"
	EventClosed              event.Type = "ticket.closed"
	EventFollowUpOpened      event.Type = "ticket.follow_up_opened"
)

// Opened starts a ticket.
type Opened struct {
	Title string `json:"title"`
}

func (Opened) EventType() event.Type { return EventOpened }

// Renamed changes the ticket title.
type Renamed struct {
	Title string `json:"title"`
}

func (Renamed) EventType() event.Type { return EventRenamed }

// EscalationScheduled records the deadline that escalates the ticket to
// Level.
type EscalationScheduled struct {
	Level int            `json:"level"`
	Token deadline.Token `json:"token"`
}

func (EscalationScheduled) EventType() event.Type { return EventEscalationScheduled }

// Escalated raises the ticket to Level.
type Escalated struct {
	Level int `json:"level"`
}

func (Escalated) EventType() event.Type { return EventEscalated }

// Closed ends the ticket; Reason says why.
type Closed struct {
	Reason string `json:"reason"`
}

func (Closed) EventType() event.Type { return EventClosed }

// FollowUpOpened links a follow-up ticket opened from this one.
type FollowUpOpened struct {
	TicketID string `json:"ticket_id"`
	Title    string `json:"title"`
}

func (FollowUpOpened) EventType() event.Type { return EventFollowUpOpened }
