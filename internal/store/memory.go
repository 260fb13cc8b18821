package store

import (
	"sort"
	"sync"
)

const subscriberBuffer = 100

// MemoryStore is an in-memory [Store] keyed by watch name.
//
// Updates are sent to subscribers without blocking; a full subscriber
// buffer drops the update for that subscriber only.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]WatchState

	subMu       sync.RWMutex
	subscribers map[chan WatchState]struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:      make(map[string]WatchState),
		subscribers: make(map[chan WatchState]struct{}),
	}
}

// Update stores state and notifies subscribers.
func (m *MemoryStore) Update(state WatchState) {
	m.mu.Lock()
	m.states[state.Name] = state
	m.mu.Unlock()

	m.notifySubscribers(state)
}

// Get returns the state stored for name.
func (m *MemoryStore) Get(name string) (WatchState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[name]
	return state, ok
}

// GetAll returns a copy of every stored state sorted by name.
func (m *MemoryStore) GetAll() []WatchState {
	m.mu.RLock()
	states := make([]WatchState, 0, len(m.states))
	for _, state := range m.states {
		states = append(states, state)
	}
	m.mu.RUnlock()

	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}

// Subscribe returns a channel with a buffer of 100 updates.
func (m *MemoryStore) Subscribe() <-chan WatchState {
	ch := make(chan WatchState, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes the subscription and closes ch. Unknown or already
// removed channels are ignored.
func (m *MemoryStore) Unsubscribe(ch <-chan WatchState) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			return
		}
	}
}

func (m *MemoryStore) notifySubscribers(state WatchState) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- state:
		default:
			// slow subscriber
		}
	}
}
