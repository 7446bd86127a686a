package store

import (
	"context"
	"sync"

	"github.com/teranos/strata/errors"
)

// MemoryStore keeps records in process memory.
// It honours the same all-or-nothing contract as SQLiteStore.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	order   []string
	saves   int
	failErr error
	closed  bool
}

// NewMemoryStore creates an empty store, optionally seeded with records.
func NewMemoryStore(seed ...Record) *MemoryStore {
	m := &MemoryStore{records: make(map[string]Record)}
	for _, rec := range seed {
		m.records[rec.ID] = rec.Clone()
		m.order = append(m.order, rec.ID)
	}
	return m
}

// FailNextSave makes the next Save return err without applying anything.
func (m *MemoryStore) FailNextSave(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Saves is the number of successful non-empty saves.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Get returns a copy of the stored record.
func (m *MemoryStore) Get(id string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Load returns copies of every record in insertion order.
func (m *MemoryStore) Load(ctx context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("memory store is closed")
	}
	out := make([]Record, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.records[id].Clone())
	}
	return out, nil
}

// Save validates the whole change set before applying any of it.
func (m *MemoryStore) Save(ctx context.Context, changes ChangeSet) error {
	if changes.Empty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.WrapPersistence(err, "save changes")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.WrapPersistence(errors.New("memory store is closed"), "save changes")
	}
	if m.failErr != nil {
		err := m.failErr
		m.failErr = nil
		return errors.WrapPersistence(err, "save changes")
	}

	for _, rec := range changes.Inserted {
		if _, exists := m.records[rec.ID]; exists {
			return errors.WrapPersistence(errors.Newf("object %s already exists", rec.ID), "save changes")
		}
	}
	for _, upd := range changes.Updated {
		if _, exists := m.records[upd.ID]; !exists {
			return errors.WrapPersistence(errors.Wrapf(errors.ErrNotFound, "update object %s", upd.ID), "save changes")
		}
	}

	for _, rec := range changes.Inserted {
		m.records[rec.ID] = rec.Clone()
		m.order = append(m.order, rec.ID)
	}
	for _, upd := range changes.Updated {
		m.records[upd.ID] = upd.Record.Clone()
	}
	if len(changes.Deleted) > 0 {
		gone := make(map[string]bool, len(changes.Deleted))
		for _, id := range changes.Deleted {
			gone[id] = true
			delete(m.records, id)
		}
		kept := m.order[:0]
		for _, id := range m.order {
			if !gone[id] {
				kept = append(kept, id)
			}
		}
		m.order = kept
	}
	m.saves++
	return nil
}

// Counts returns the number of stored objects per entity.
func (m *MemoryStore) Counts(ctx context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, rec := range m.records {
		counts[rec.Entity]++
	}
	return counts, nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
