package aggregate

import (
	"context"
	"fmt"

	"github.com/louisbranch/lifecycle/internal/lifecycle"
	"github.com/louisbranch/lifecycle/internal/lifecycle/event"
	"github.com/louisbranch/lifecycle/internal/lifecycle/unitofwork"
	"github.com/louisbranch/lifecycle/internal/platform/requestctx"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Phase is the state of a root's event application.
type Phase int

const (
	// PhaseIdle means no event is being applied; the next Apply runs at once.
	PhaseIdle Phase = iota
	// PhasePropagating means an event is reaching the parts; new applications
	// are queued.
	PhasePropagating
	// PhaseDraining means queued applications are being run in order; new
	// applications are queued behind them.
	PhaseDraining
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePropagating:
		return "propagating"
	case PhaseDraining:
		return "draining"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// run executes first and then every queued continuation, including the ones
// queued while draining. The first failure stops the batch and discards what
// is still queued. Events the failed batch already applied are never
// published; they stay uncommitted, so the caller should roll back.
func (r *Root) run(ctx context.Context, first func(context.Context) error) (err error) {
	ctx, release := lifecycle.RegisterAsCurrent(ctx, r)
	defer release()
	defer r.reset()

	published := len(r.unpublished)
	defer func() {
		if err != nil && len(r.unpublished) > published {
			clear(r.unpublished[published:])
			r.unpublished = r.unpublished[:published]
		}
	}()

	r.phase = PhasePropagating
	if err := first(ctx); err != nil {
		return err
	}
	if len(r.queue) > 0 {
		if err := r.drain(ctx); err != nil {
			return err
		}
	}
	return r.afterBatch(ctx)
}

func (r *Root) drain(ctx context.Context) error {
	r.phase = PhaseDraining
	ctx, span := r.tracer.Start(ctx, "aggregate.drain", trace.WithAttributes(
		attribute.String("aggregate.type", r.model.Type),
		attribute.String("aggregate.id", r.id),
	))
	defer span.End()

	drained := 0
	for len(r.queue) > 0 {
		next := r.queue[0]
		r.queue[0] = nil
		r.queue = r.queue[1:]
		drained++
		if err := next(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	span.SetAttributes(attribute.Int("aggregate.continuations", drained))
	return nil
}

func (r *Root) reset() {
	r.phase = PhaseIdle
	clear(r.queue)
	r.queue = nil
}

// enqueue runs fn now when the root is idle, otherwise after everything
// already queued.
func (r *Root) enqueue(ctx context.Context, fn func(context.Context) error) error {
	if r.phase != PhaseIdle {
		r.queue = append(r.queue, fn)
		return nil
	}
	return r.run(ctx, fn)
}

func (r *Root) nextSeq() int64 {
	if !r.hasVersion {
		return 0
	}
	return r.version + 1
}

// propagate hands one event to every part. The version moves to the event's
// sequence only once all parts have handled it. metadata already carries the
// request identity of the frame that asked for the event.
func (r *Root) propagate(ctx context.Context, payload any, metadata event.Metadata) error {
	eventID, err := r.newID()
	if err != nil {
		return fmt.Errorf("generate event id: %w", err)
	}
	msg := event.Message{
		ID:            eventID,
		AggregateType: r.model.Type,
		AggregateID:   r.id,
		Seq:           r.nextSeq(),
		Type:          event.TypeOf(payload),
		Payload:       payload,
		Metadata:      r.metadata.Merge(metadata),
		Timestamp:     r.now().UTC(),
	}
	if err := r.handle(ctx, msg); err != nil {
		return fmt.Errorf("apply %s: %w", msg, err)
	}
	r.version, r.hasVersion = msg.Seq, true
	r.uncommitted = append(r.uncommitted, msg)
	if r.publisher != nil {
		r.unpublished = append(r.unpublished, msg)
	}
	return nil
}

// callMetadata returns the request identity carried by ctx overlaid with the
// metadata passed by the caller.
func callMetadata(ctx context.Context, metadata event.Metadata) event.Metadata {
	return requestMetadata(ctx).Merge(metadata)
}

// requestMetadata returns the request identity carried by ctx.
func requestMetadata(ctx context.Context) event.Metadata {
	var md event.Metadata
	if id := requestctx.CorrelationIDFromContext(ctx); id != "" {
		md = md.With(event.MetadataCorrelationID, id)
	}
	if user := requestctx.UserIDFromContext(ctx); user != "" {
		md = md.With(event.MetadataUserID, user)
	}
	return md
}

func (r *Root) handle(ctx context.Context, msg event.Message) error {
	ctx, span := r.tracer.Start(ctx, "aggregate.apply", trace.WithAttributes(
		attribute.String("aggregate.type", msg.AggregateType),
		attribute.String("aggregate.id", msg.AggregateID),
		attribute.String("event.type", string(msg.Type)),
		attribute.Int64("event.seq", msg.Seq),
	))
	defer span.End()

	for _, part := range r.model.Parts {
		if err := part.HandleEvent(ctx, msg); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	return nil
}

// afterBatch publishes what the batch applied: on commit when the unit of
// work supports commit hooks, otherwise right away. Each root instance gets
// its own commit hook.
func (r *Root) afterBatch(ctx context.Context) error {
	if r.publisher == nil || len(r.unpublished) == 0 {
		return nil
	}
	if reg, ok := unitofwork.FromContext(ctx); ok {
		if hooks, ok := reg.(unitofwork.CommitHooks); ok {
			reg.ResourceOrCompute(fmt.Sprintf("aggregate.publish/%p", r), func(string) any {
				hooks.OnCommit(r.publish)
				return struct{}{}
			})
			return nil
		}
	}
	return r.publish(ctx)
}

func (r *Root) publish(ctx context.Context) error {
	if len(r.unpublished) == 0 {
		return nil
	}
	msgs := r.unpublished
	r.unpublished = nil
	if err := r.publisher.Publish(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %s/%s events: %w", r.model.Type, r.id, err)
	}
	zerolog.Ctx(ctx).Debug().
		Str("aggregate_type", r.model.Type).
		Str("aggregate_id", r.id).
		Int("events", len(msgs)).
		Msg("published events")
	return nil
}

// applyMore chains work behind an applied event. The zero value is inert.
type applyMore struct {
	root *Root
}

func (m applyMore) AndThenApply(ctx context.Context, supplier func(ctx context.Context) (any, error)) error {
	if m.root == nil || supplier == nil {
		return nil
	}
	metadata := requestMetadata(ctx)
	return m.root.enqueue(ctx, func(ctx context.Context) error {
		payload, err := supplier(ctx)
		if err != nil {
			return err
		}
		return m.root.propagate(ctx, payload, metadata)
	})
}

func (m applyMore) AndThen(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.root == nil || fn == nil {
		return nil
	}
	return m.root.enqueue(ctx, fn)
}
