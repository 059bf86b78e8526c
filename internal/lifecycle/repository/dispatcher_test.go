package repository

import (
	"context"
	"testing"
	"time"

	"github.com/louisbranch/lifecycle/internal/lifecycle"
	"github.com/louisbranch/lifecycle/internal/lifecycle/aggregate"
	"github.com/louisbranch/lifecycle/internal/lifecycle/deadline"
)

func newDeadlineFixture(t *testing.T) (*Repository, *deadline.Scheduler, time.Time) {
	t.Helper()
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	scheduler := deadline.NewScheduler(deadline.NewMemoryStore(), deadline.WithClock(func() time.Time { return now }))
	repo := newRepo(t, WithDeadlines(scheduler), WithIDGenerator(func() (string, error) { return "c-1", nil }))
	return repo, scheduler, now
}

func TestDeadlineDispatcherAppliesAndSaves(t *testing.T) {
	repo, scheduler, now := newDeadlineFixture(t)
	ctx := context.Background()
	created, err := repo.Create(ctx, "counter", increment(1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	root := created.(*aggregate.Root)
	if err := lifecycle.Execute(ctx, root, func(ctx context.Context) error {
		_, err := lifecycle.ScheduleDeadline(ctx, now, "bump", 3)
		return err
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// The dispatcher must not see the caller's current lifecycle.
	outer, release := lifecycle.RegisterAsCurrent(ctx, root)
	defer release()
	fired, err := scheduler.RunDue(outer, NewDeadlineDispatcher(repo))
	if err != nil {
		t.Fatalf("run due: %v", err)
	}
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	if got := len(repo.Stream("counter", "c-1")); got != 2 {
		t.Fatalf("stream len = %d, want 2", got)
	}
	loaded, err := repo.Load(ctx, "counter", "c-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := total(loaded); got != 4 {
		t.Fatalf("total = %d, want 4", got)
	}
	if got := total(root); got != 1 {
		t.Fatalf("caller's root total = %d, want 1", got)
	}
}

func TestDeadlineDispatcherDropsMissingAggregate(t *testing.T) {
	repo, scheduler, now := newDeadlineFixture(t)
	ctx := context.Background()
	if _, err := scheduler.Schedule(ctx, now, deadline.Scope{AggregateType: "counter", AggregateID: "ghost"}, "bump", 1); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	fired, err := scheduler.RunDue(ctx, NewDeadlineDispatcher(repo))
	if err != nil {
		t.Fatalf("run due: %v", err)
	}
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
}

func TestDeadlineDispatcherHandlerFailureRollsBack(t *testing.T) {
	repo, scheduler, now := newDeadlineFixture(t)
	ctx := context.Background()
	if _, err := repo.Create(ctx, "counter", increment(1)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := scheduler.Schedule(ctx, now, deadline.Scope{AggregateType: "counter", AggregateID: "c-1"}, "bump", "not a number"); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := scheduler.RunDue(ctx, NewDeadlineDispatcher(repo)); err == nil {
		t.Fatal("expected handler error")
	}
	if got := len(repo.Stream("counter", "c-1")); got != 1 {
		t.Fatalf("stream len = %d, want 1", got)
	}
}
