package persist

import (
	"context"
	"sync"
)

// MemoryStore keeps the last saved snapshot in process. Used by tests and
// when no DATABASE_URL is configured (state is lost on restart).
type MemoryStore struct {
	mu    sync.Mutex
	snap  Snapshot
	saves int
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Seed primes the store with a snapshot, as if a previous process had saved
// it. Tests use it to exercise the load/migration path.
func (m *MemoryStore) Seed(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
}

func (m *MemoryStore) Load(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.snap
	return &snap, nil
}

func (m *MemoryStore) Save(ctx context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = *snap
	m.saves++
	return nil
}

// Saves reports how many flushes hit the store; the debounce tests assert on
// it.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemoryStore) Close() error { return nil }
