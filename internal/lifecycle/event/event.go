package event

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"time"
)

// Type identifies an event type string.
type Type string

// Typed is implemented by payloads that name their own event type.
type Typed interface {
	EventType() Type
}

// TypeOf returns the event type of payload: its EventType when it
// implements Typed, otherwise the payload's Go type name.
func TypeOf(payload any) Type {
	if typed, ok := payload.(Typed); ok {
		return typed.EventType()
	}
	if payload == nil {
		return ""
	}
	t := reflect.TypeOf(payload)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return Type(t.String())
}

// Message is one event applied to an aggregate.
type Message struct {
	ID            string
	AggregateType string
	AggregateID   string
	// Seq is the aggregate-local sequence number, starting at zero.
	Seq       int64
	Type      Type
	Payload   any
	Metadata  Metadata
	Timestamp time.Time
}

func (m Message) String() string {
	return fmt.Sprintf("%s[%s/%s#%d]", m.Type, m.AggregateType, m.AggregateID, m.Seq)
}

// Metadata is a set of string-keyed values attached to a message.
// A nil Metadata is empty.
type Metadata map[string]any

// Well-known metadata keys.
const (
	MetadataCorrelationID = "correlation_id"
	MetadataUserID        = "user_id"
)

// With returns a copy of m with key set to value.
func (m Metadata) With(key string, value any) Metadata {
	out := make(Metadata, len(m)+1)
	maps.Copy(out, m)
	out[key] = value
	return out
}

// Merge returns a copy of m overlaid with other; other wins on conflicts.
func (m Metadata) Merge(other Metadata) Metadata {
	if len(other) == 0 {
		return m.Clone()
	}
	out := make(Metadata, len(m)+len(other))
	maps.Copy(out, m)
	maps.Copy(out, other)
	return out
}

// Clone returns a shallow copy of m; nil stays nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

// Keys returns the metadata keys in sorted order.
func (m Metadata) Keys() []string {
	return slices.Sorted(maps.Keys(m))
}

// Publisher hands applied events to handlers outside the aggregate.
type Publisher interface {
	Publish(ctx context.Context, msgs ...Message) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, msgs ...Message) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, msgs ...Message) error {
	return f(ctx, msgs...)
}
