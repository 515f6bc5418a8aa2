package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// Store defines the persistence operations the Manager needs.
// Implemented by storage.Store, postgres.Store and MemStore.
type Store interface {
	// UpsertMemory inserts e or overwrites the entry with the same
	// (UserID, Key). It returns the ID of the stored row, which is the
	// existing ID on overwrite.
	UpsertMemory(ctx context.Context, e Entry) (string, error)
	// GetMemory returns ErrNotFound when no entry exists.
	GetMemory(ctx context.Context, userID, key string) (Entry, error)
	TouchMemory(ctx context.Context, userID, key string, at time.Time) error
	ListMemories(ctx context.Context, userID string) ([]Entry, error)
	DeleteMemory(ctx context.Context, userID, key string) (bool, error)
	DeleteUserMemories(ctx context.Context, userID string) (int, error)
	// DeleteExpiredMemories removes entries whose TTL has elapsed at now
	// and entries last used before staleBefore. A zero staleBefore
	// disables the staleness check.
	DeleteExpiredMemories(ctx context.Context, now, staleBefore time.Time) (int, error)
}

// MemStore is a process-local Store used by tests and the "memory" backend.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]Entry
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]map[string]Entry)}
}

func (m *MemStore) UpsertMemory(_ context.Context, e Entry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.entries[e.UserID]
	if !ok {
		user = make(map[string]Entry)
		m.entries[e.UserID] = user
	}
	if prev, ok := user[e.Key]; ok {
		e.ID = prev.ID
	}
	user[e.Key] = cloneEntry(e)
	return e.ID, nil
}

func (m *MemStore) GetMemory(_ context.Context, userID, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[userID][key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return cloneEntry(e), nil
}

func (m *MemStore) TouchMemory(_ context.Context, userID, key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[userID][key]
	if !ok {
		return ErrNotFound
	}
	e.LastUsedAt = at
	m.entries[userID][key] = e
	return nil
}

func (m *MemStore) ListMemories(_ context.Context, userID string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries[userID]))
	for _, e := range m.entries[userID] {
		out = append(out, cloneEntry(e))
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if c := b.LastUsedAt.Compare(a.LastUsedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})
	return out, nil
}

func (m *MemStore) DeleteMemory(_ context.Context, userID, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[userID][key]; !ok {
		return false, nil
	}
	delete(m.entries[userID], key)
	return true, nil
}

func (m *MemStore) DeleteUserMemories(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries[userID])
	delete(m.entries, userID)
	return n, nil
}

func (m *MemStore) DeleteExpiredMemories(_ context.Context, now, staleBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, user := range m.entries {
		for key, e := range user {
			stale := !staleBefore.IsZero() && e.LastUsedAt.Before(staleBefore)
			if e.Expired(now) || stale {
				delete(user, key)
				n++
			}
		}
	}
	return n, nil
}

func cloneEntry(e Entry) Entry {
	e.Value = slices.Clone(e.Value)
	if e.TTLDays != nil {
		e.TTLDays = Days(*e.TTLDays)
	}
	if e.Metadata != nil {
		md := make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			md[k] = v
		}
		e.Metadata = md
	}
	return e
}
