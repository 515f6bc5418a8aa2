package history

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/kalambet/lifeos/internal/intent"
)

// MemStore is a process-local Store used by tests and the "memory" backend.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	turns    map[string][]Turn
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]Session),
		turns:    make(map[string][]Turn),
	}
}

func (m *MemStore) CreateSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		m.sessions[s.ID] = s
	}
	return nil
}

func (m *MemStore) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *MemStore) AppendTurn(_ context.Context, t Turn) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	turns := m.turns[t.SessionID]
	t.Number = 1
	if n := len(turns); n > 0 {
		t.Number = turns[n-1].Number + 1
	}
	t.Extracted = maps.Clone(t.Extracted)
	m.turns[t.SessionID] = append(turns, t)

	s, ok := m.sessions[t.SessionID]
	if !ok {
		s = Session{ID: t.SessionID, UserID: t.UserID, StartedAt: t.CreatedAt}
	}
	s.LastActiveAt = t.CreatedAt
	s.TotalTurns = t.Number
	m.sessions[t.SessionID] = s
	return t.Number, nil
}

func (m *MemStore) RecentTurns(_ context.Context, sessionID string, n int) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	turns := m.turns[sessionID]
	if n < len(turns) {
		turns = turns[len(turns)-n:]
	}
	return slices.Clone(turns), nil
}

func (m *MemStore) IntentCounts(_ context.Context, sessionID string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int)
	for _, t := range m.turns[sessionID] {
		counts[string(t.Intent)]++
	}
	return counts, nil
}

func (m *MemStore) TurnsByIntent(_ context.Context, userID string, in intent.Intent, limit int) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Turn
	for _, turns := range m.turns {
		for _, t := range turns {
			if t.UserID == userID && t.Intent == in {
				out = append(out, t)
			}
		}
	}
	slices.SortFunc(out, func(a, b Turn) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
