package wizard

import (
	"context"
	"sync"
	"time"
)

type Store interface {
	Get(ctx context.Context, key Key) (State, error)
	Put(ctx context.Context, state State) error
	Delete(ctx context.Context, key Key) error
}

type memoryEntry struct {
	state   State
	expires time.Time
}

// MemoryStore keeps wizard progress in process; it is lost on restart.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[Key]memoryEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, entries: map[Key]memoryEntry{}}
}

func (m *MemoryStore) Get(_ context.Context, key Key) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return State{}, ErrNotFound
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		delete(m.entries, key)
		return State{}, ErrNotFound
	}
	return e.state, nil
}

func (m *MemoryStore) Put(_ context.Context, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{state: state}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.entries[state.Key] = e
	m.sweepLocked()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) sweepLocked() {
	now := m.now()
	for k, e := range m.entries {
		if !e.expires.IsZero() && now.After(e.expires) {
			delete(m.entries, k)
		}
	}
}
