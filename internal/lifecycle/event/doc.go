// Package event defines the envelope aggregates record when they apply a
// domain event, the metadata attached to it, and the publisher port that
// hands recorded events to handlers outside the aggregate.
package event
