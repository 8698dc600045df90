package health

import (
	"context"
	"sync"
)

// Store holds provider circuit state with optimistic-concurrency semantics.
// Get returns the state and a version token; CompareAndSet only writes when
// the stored version still matches, so concurrent recorders retry instead of
// losing updates.
type Store interface {
	Get(ctx context.Context, providerName string) (*providerState, int64, error)
	CompareAndSet(ctx context.Context, providerName string, version int64, st *providerState) (bool, error)
	Providers(ctx context.Context) ([]string, error)
}

// MemoryStore is the in-process Store used by tests and single-node dev
// setups. Production uses the Redis store so state is shared across replicas.
type MemoryStore struct {
	mu       sync.Mutex
	states   map[string]*providerState
	versions map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:   map[string]*providerState{},
		versions: map[string]int64{},
	}
}

func (m *MemoryStore) Get(_ context.Context, providerName string) (*providerState, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[providerName]
	if !ok {
		return newProviderState(), 0, nil
	}
	cp := *st
	cp.Window = append([]sample(nil), st.Window...)
	return &cp, m.versions[providerName], nil
}

func (m *MemoryStore) CompareAndSet(_ context.Context, providerName string, version int64, st *providerState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.versions[providerName] != version {
		return false, nil
	}
	cp := *st
	cp.Window = append([]sample(nil), st.Window...)
	m.states[providerName] = &cp
	m.versions[providerName] = version + 1
	return true, nil
}

func (m *MemoryStore) Providers(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.states))
	for name := range m.states {
		names = append(names, name)
	}
	return names, nil
}
