package session

import (
	"context"
	"sort"
	"sync"
)

// Store persists sessions. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the session for id; ok is false if it does not exist.
	Get(ctx context.Context, id string) (Session, bool, error)
	// Put inserts or replaces a session.
	Put(ctx context.Context, s Session) error
	// Delete removes a session and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
	// ListByUser returns every stored session for the user, in no particular order.
	ListByUser(ctx context.Context, userID string) ([]Session, error)
	// Scan calls fn for every stored session until fn returns false.
	Scan(ctx context.Context, fn func(Session) bool) error
}

type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]Session
	byUser map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]Session),
		byUser: make(map[string]map[string]struct{}),
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	return s, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.byID[s.ID]; ok && prev.UserID != s.UserID {
		m.unindex(prev)
	}
	m.byID[s.ID] = s
	set, ok := m.byUser[s.UserID]
	if !ok {
		set = make(map[string]struct{})
		m.byUser[s.UserID] = set
	}
	set[s.ID] = struct{}{}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[id]
	if !ok {
		return false, nil
	}
	delete(m.byID, id)
	m.unindex(s)
	return true, nil
}

func (m *MemoryStore) unindex(s Session) {
	set := m.byUser[s.UserID]
	delete(set, s.ID)
	if len(set) == 0 {
		delete(m.byUser, s.UserID)
	}
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.byUser[userID]
	out := make([]Session, 0, len(set))
	for id := range set {
		out = append(out, m.byID[id])
	}
	return out, nil
}

// Scan iterates over a snapshot so fn may call back into the store.
func (m *MemoryStore) Scan(_ context.Context, fn func(Session) bool) error {
	m.mu.RLock()
	snapshot := make([]Session, 0, len(m.byID))
	for _, s := range m.byID {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	for _, s := range snapshot {
		if !fn(s) {
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// sortByRecency orders sessions most recently active first; ties go to the newer session.
func sortByRecency(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if !a.LastActivity.Equal(b.LastActivity) {
			return a.LastActivity.After(b.LastActivity)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
