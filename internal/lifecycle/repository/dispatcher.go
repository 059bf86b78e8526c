package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/louisbranch/lifecycle/internal/lifecycle"
	"github.com/louisbranch/lifecycle/internal/lifecycle/deadline"
	"github.com/louisbranch/lifecycle/internal/lifecycle/unitofwork"
	"github.com/rs/zerolog"
)

// DeadlineDispatcher re-enters aggregates when their deadlines fire. Each
// deadline is handled in its own unit of work on a context with an empty
// lifecycle stack.
type DeadlineDispatcher struct {
	repo *Repository
}

// NewDeadlineDispatcher returns a dispatcher loading aggregates from repo.
func NewDeadlineDispatcher(repo *Repository) *DeadlineDispatcher {
	return &DeadlineDispatcher{repo: repo}
}

// HandleDeadline loads the deadline's aggregate, runs its handler, and
// commits. Deadlines of aggregates that no longer exist are dropped.
func (d *DeadlineDispatcher) HandleDeadline(ctx context.Context, dl deadline.Deadline) error {
	if d == nil || d.repo == nil {
		return fmt.Errorf("repository is required")
	}
	ctx = lifecycle.Detach(ctx)
	ctx, uow := unitofwork.Start(ctx)

	scope := dl.Token.Scope
	root, err := d.repo.Load(ctx, scope.AggregateType, scope.AggregateID)
	if err != nil {
		_ = uow.Rollback(ctx, err)
		if errors.Is(err, ErrNotFound) {
			zerolog.Ctx(ctx).Debug().
				Str("deadline", dl.Name).
				Str("aggregate", scope.String()).
				Msg("dropping deadline for missing aggregate")
			return nil
		}
		return err
	}
	if err := lifecycle.Execute(ctx, root, func(ctx context.Context) error {
		return root.HandleDeadline(ctx, dl)
	}); err != nil {
		_ = uow.Rollback(ctx, err)
		return fmt.Errorf("deadline %s for %s: %w", dl.Name, scope, err)
	}
	return uow.Commit(ctx)
}

var _ deadline.Handler = (*DeadlineDispatcher)(nil)
