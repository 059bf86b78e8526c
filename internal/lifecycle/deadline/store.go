package deadline

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"
)

// Record is the stored form of a scheduled deadline.
type Record struct {
	ID            string
	AggregateType string
	AggregateID   string
	Name          string
	PayloadJSON   []byte
	TriggerAt     time.Time
	CreatedAt     time.Time
}

// Store persists scheduled deadlines.
type Store interface {
	Insert(ctx context.Context, record Record) error
	// Delete removes a record and reports whether it existed. Firing and
	// cancelling both go through Delete, so whichever happens first wins.
	Delete(ctx context.Context, id string) (bool, error)
	// ListDue lists records with TriggerAt <= now, earliest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Record, error)
}

// MemoryStore keeps deadlines in memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Insert stores a record.
func (m *MemoryStore) Insert(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m == nil {
		return ErrStoreRequired
	}
	record.ID = strings.TrimSpace(record.ID)
	if record.ID == "" {
		return errors.New("deadline id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[record.ID]; exists {
		return errors.New("deadline id already scheduled")
	}
	record.PayloadJSON = append([]byte(nil), record.PayloadJSON...)
	m.records[record.ID] = record
	return nil
}

// Delete removes a record.
func (m *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if m == nil {
		return false, ErrStoreRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id = strings.TrimSpace(id)
	if _, ok := m.records[id]; !ok {
		return false, nil
	}
	delete(m.records, id)
	return true, nil
}

// ListDue lists due records, earliest first.
func (m *MemoryStore) ListDue(ctx context.Context, now time.Time, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrStoreRequired
	}
	if limit <= 0 {
		return nil, errors.New("limit must be greater than zero")
	}

	m.mu.Lock()
	due := make([]Record, 0)
	for _, record := range m.records {
		if !record.TriggerAt.After(now) {
			due = append(due, record)
		}
	}
	m.mu.Unlock()

	slices.SortFunc(due, func(a, b Record) int {
		if c := a.TriggerAt.Compare(b.TriggerAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Len returns the number of scheduled records.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

var _ Store = (*MemoryStore)(nil)
