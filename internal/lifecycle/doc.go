// Package lifecycle resolves the aggregate that is current for a call path and
// exposes the operations domain code runs against it.
//
// An aggregate becomes current when it is registered on the context's scope
// stack (RegisterAsCurrent, Execute, ExecuteWithResult). When nothing is
// registered, the unit of work carried by the context is consulted: if it
// manages exactly one aggregate, that aggregate is current. Otherwise the
// free functions fail with ErrNoCurrentLifecycle.
//
// Domain code never holds the aggregate directly:
//
//	err := lifecycle.Execute(ctx, root, func(ctx context.Context) error {
//		_, err := lifecycle.Apply(ctx, Renamed{Title: title}, nil)
//		return err
//	})
package lifecycle
