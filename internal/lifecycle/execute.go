package lifecycle

import (
	"context"
	"fmt"

	apperrors "github.com/louisbranch/lifecycle/internal/platform/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/louisbranch/lifecycle/internal/lifecycle"

// ExecuteWithResult runs task with l registered as the current lifecycle.
// The registration is released on every exit path, including panics.
func ExecuteWithResult[V any](ctx context.Context, l Lifecycle, task func(ctx context.Context) (V, error)) (V, error) {
	ctx, release := RegisterAsCurrent(ctx, l)
	defer release()
	return task(ctx)
}

// Execute runs task with l registered as the current lifecycle. Task
// failures are wrapped in an invocation error matching
// ErrAggregateInvocation, except failures marked with Fatal, which are
// returned unchanged.
func Execute(ctx context.Context, l Lifecycle, task func(ctx context.Context) error) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "lifecycle.execute", trace.WithAttributes(
		attribute.String("aggregate.type", l.AggregateType()),
		attribute.String("aggregate.id", l.AggregateID()),
	))
	defer span.End()

	_, err := ExecuteWithResult(ctx, l, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, task(ctx)
	})
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if IsFatal(err) {
		return err
	}
	return apperrors.Wrap(apperrors.CodeAggregateInvocation,
		fmt.Sprintf("invoke %s", identity(l)), err)
}
