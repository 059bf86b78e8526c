package lifecycle

import (
	"context"

	"github.com/louisbranch/lifecycle/internal/lifecycle/unitofwork"
)

// ManagedAggregatesKey is the unit-of-work resource holding the aggregates
// managed by that unit of work.
const ManagedAggregatesKey = "ManagedAggregates"

// managedSet is an insertion-ordered set of lifecycle instances. Two
// instances of the same aggregate are two entries, so the fallback refuses
// to pick between them.
type managedSet struct {
	index map[Lifecycle]struct{}
	items []Lifecycle
}

func (s *managedSet) add(l Lifecycle) {
	if _, ok := s.index[l]; ok {
		return
	}
	if s.index == nil {
		s.index = make(map[Lifecycle]struct{})
	}
	s.index[l] = struct{}{}
	s.items = append(s.items, l)
}

func identity(l Aggregate) string {
	return l.AggregateType() + "/" + l.AggregateID()
}

// RegisterWithUnitOfWork adds l to the aggregates managed by the active unit
// of work. Registering the same instance again has no effect, and nothing
// happens when no unit of work is active. Implementations of Lifecycle must
// be comparable; pointer types are.
func RegisterWithUnitOfWork(ctx context.Context, l Lifecycle) {
	if l == nil {
		return
	}
	unitofwork.IfStarted(ctx, func(r unitofwork.Registry) {
		if set, ok := r.ResourceOrCompute(ManagedAggregatesKey, func(string) any {
			return &managedSet{}
		}).(*managedSet); ok {
			set.add(l)
		}
	})
}

// Managed returns the aggregates managed by the active unit of work in
// registration order.
func Managed(ctx context.Context) []Lifecycle {
	set, ok := managed(ctx)
	if !ok {
		return nil
	}
	return append([]Lifecycle(nil), set.items...)
}

func soleManaged(ctx context.Context) (Lifecycle, bool) {
	set, ok := managed(ctx)
	if !ok || len(set.items) != 1 {
		return nil, false
	}
	return set.items[0], true
}

func managed(ctx context.Context) (*managedSet, bool) {
	r, ok := unitofwork.FromContext(ctx)
	if !ok {
		return nil, false
	}
	value, ok := r.Resource(ManagedAggregatesKey)
	if !ok {
		return nil, false
	}
	set, ok := value.(*managedSet)
	return set, ok && set != nil
}
