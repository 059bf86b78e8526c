// Package repository stores aggregate event streams in memory and creates,
// loads, and saves aggregate roots over them.
//
// Inside a unit of work, created and loaded roots are saved when the unit of
// work commits. Without one, callers save explicitly.
package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/louisbranch/lifecycle/internal/lifecycle"
	"github.com/louisbranch/lifecycle/internal/lifecycle/aggregate"
	"github.com/louisbranch/lifecycle/internal/lifecycle/deadline"
	"github.com/louisbranch/lifecycle/internal/lifecycle/event"
	"github.com/louisbranch/lifecycle/internal/lifecycle/unitofwork"
	apperrors "github.com/louisbranch/lifecycle/internal/platform/errors"
	"github.com/louisbranch/lifecycle/internal/platform/id"
)

var (
	// ErrConcurrencyConflict matches saves that lost an optimistic version
	// check.
	ErrConcurrencyConflict = apperrors.New(apperrors.CodeAggregateVersionConflict, "aggregate version conflict")
	// ErrNotFound matches loads of aggregates without a stream.
	ErrNotFound = apperrors.New(apperrors.CodeAggregateNotFound, "aggregate not found")
	// ErrUnknownType matches operations on unregistered aggregate types.
	ErrUnknownType = apperrors.New(apperrors.CodeAggregateTypeUnknown, "aggregate type is not registered")
)

// Repository is an in-memory event-sourced repository. It is safe for
// concurrent use; the roots it returns are not.
type Repository struct {
	mu      sync.Mutex
	models  map[string]aggregate.Constructor
	streams map[string][]event.Message

	publisher event.Publisher
	deadlines deadline.Manager
	newID     func() (string, error)
}

// Option customizes a Repository.
type Option func(*Repository)

// WithPublisher sets the publisher handed to every root.
func WithPublisher(publisher event.Publisher) Option {
	return func(r *Repository) { r.publisher = publisher }
}

// WithDeadlines sets the deadline manager handed to every root.
func WithDeadlines(manager deadline.Manager) Option {
	return func(r *Repository) { r.deadlines = manager }
}

// WithIDGenerator overrides aggregate id generation.
func WithIDGenerator(newID func() (string, error)) Option {
	return func(r *Repository) {
		if newID != nil {
			r.newID = newID
		}
	}
}

// New returns an empty repository.
func New(opts ...Option) *Repository {
	r := &Repository{
		models:  make(map[string]aggregate.Constructor),
		streams: make(map[string][]event.Message),
		newID:   id.NewID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an aggregate type. The type name comes from the model the
// constructor returns.
func (r *Repository) Register(newModel aggregate.Constructor) error {
	if newModel == nil {
		return fmt.Errorf("model constructor is required")
	}
	aggregateType := strings.TrimSpace(newModel().Type)
	if aggregateType == "" {
		return fmt.Errorf("model type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.models[aggregateType]; exists {
		return fmt.Errorf("aggregate type %s already registered", aggregateType)
	}
	r.models[aggregateType] = newModel
	return nil
}

// Create starts a new aggregate of aggregateType and runs factory with it
// as the current lifecycle. The new root is saved on commit of the active
// unit of work, or immediately without one.
func (r *Repository) Create(ctx context.Context, aggregateType string, factory lifecycle.Factory) (lifecycle.Aggregate, error) {
	if factory == nil {
		return nil, fmt.Errorf("aggregate factory is required")
	}
	newModel, err := r.model(aggregateType)
	if err != nil {
		return nil, err
	}
	aggregateID, err := r.newID()
	if err != nil {
		return nil, fmt.Errorf("generate aggregate id: %w", err)
	}
	root := aggregate.New(ctx, newModel(), aggregateID, r.rootOptions()...)
	deferred := r.saveOnCommit(ctx, root)
	if _, err := lifecycle.ExecuteWithResult(ctx, root, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, factory(ctx, aggregateID)
	}); err != nil {
		return nil, err
	}
	if deferred {
		return root, nil
	}
	if err := r.Save(ctx, root); err != nil {
		return nil, err
	}
	return root, nil
}

// Load rebuilds an aggregate from its stream. The returned root is live and
// managed by the active unit of work, which saves it on commit. Within one
// unit of work every Load of the same aggregate returns the same root.
func (r *Repository) Load(ctx context.Context, aggregateType, aggregateID string) (*aggregate.Root, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	newModel, err := r.model(aggregateType)
	if err != nil {
		return nil, err
	}
	if root, ok := tracked(ctx, aggregateType, aggregateID); ok {
		return root, nil
	}
	r.mu.Lock()
	history, ok := r.streams[streamKey(aggregateType, aggregateID)]
	history = append([]event.Message(nil), history...)
	r.mu.Unlock()
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeAggregateNotFound,
			fmt.Sprintf("aggregate %s/%s not found", aggregateType, aggregateID),
			map[string]string{"aggregate_type": aggregateType, "aggregate_id": aggregateID})
	}

	opts := append(r.rootOptions(), aggregate.Replaying())
	root := aggregate.New(ctx, newModel(), aggregateID, opts...)
	if err := root.Initialize(ctx, history); err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", aggregateType, aggregateID, err)
	}
	r.saveOnCommit(ctx, root)
	return root, nil
}

// Save appends the root's uncommitted events to its stream, or drops the
// stream when the root was marked deleted. The save fails with
// ErrConcurrencyConflict when the stream moved since the root was loaded.
func (r *Repository) Save(ctx context.Context, root *aggregate.Root) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if root == nil {
		return fmt.Errorf("aggregate root is required")
	}
	key := streamKey(root.AggregateType(), root.AggregateID())
	pending := root.UncommittedEvents()

	r.mu.Lock()
	defer r.mu.Unlock()
	stream := r.streams[key]
	if root.Deleted() {
		delete(r.streams, key)
		root.MarkCommitted()
		return nil
	}
	if len(pending) == 0 {
		return nil
	}
	if expected := int64(len(stream)); pending[0].Seq != expected {
		return apperrors.WithMetadata(apperrors.CodeAggregateVersionConflict,
			fmt.Sprintf("aggregate %s: expected sequence %d, got %d", key, expected, pending[0].Seq),
			map[string]string{"aggregate_type": root.AggregateType(), "aggregate_id": root.AggregateID()})
	}
	r.streams[key] = append(stream, pending...)
	root.MarkCommitted()
	return nil
}

// Stream returns a copy of the stored events for an aggregate.
func (r *Repository) Stream(aggregateType, aggregateID string) []event.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Message(nil), r.streams[streamKey(aggregateType, aggregateID)]...)
}

func (r *Repository) model(aggregateType string) (aggregate.Constructor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	newModel, ok := r.models[strings.TrimSpace(aggregateType)]
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeAggregateTypeUnknown,
			fmt.Sprintf("aggregate type %q is not registered", aggregateType),
			map[string]string{"aggregate_type": aggregateType})
	}
	return newModel, nil
}

func (r *Repository) rootOptions() []aggregate.Option {
	opts := []aggregate.Option{aggregate.WithCreator(r)}
	if r.publisher != nil {
		opts = append(opts, aggregate.WithPublisher(r.publisher))
	}
	if r.deadlines != nil {
		opts = append(opts, aggregate.WithDeadlines(r.deadlines))
	}
	return opts
}

// tracked returns the root the active unit of work already tracks for
// the aggregate.
func tracked(ctx context.Context, aggregateType, aggregateID string) (*aggregate.Root, bool) {
	reg, ok := unitofwork.FromContext(ctx)
	if !ok {
		return nil, false
	}
	value, ok := reg.Resource(saveKey(aggregateType, aggregateID))
	if !ok {
		return nil, false
	}
	root, ok := value.(*aggregate.Root)
	return root, ok && root != nil
}

// saveOnCommit arranges for root to be saved when the active unit of work
// commits and reports whether it could.
func (r *Repository) saveOnCommit(ctx context.Context, root *aggregate.Root) bool {
	reg, ok := unitofwork.FromContext(ctx)
	if !ok {
		return false
	}
	hooks, ok := reg.(unitofwork.CommitHooks)
	if !ok {
		return false
	}
	reg.ResourceOrCompute(saveKey(root.AggregateType(), root.AggregateID()), func(string) any {
		hooks.OnCommit(func(ctx context.Context) error { return r.Save(ctx, root) })
		return root
	})
	return true
}

func saveKey(aggregateType, aggregateID string) string {
	return "repository.save/" + streamKey(aggregateType, aggregateID)
}

func streamKey(aggregateType, aggregateID string) string {
	return aggregateType + "/" + aggregateID
}

var _ lifecycle.Creator = (*Repository)(nil)
