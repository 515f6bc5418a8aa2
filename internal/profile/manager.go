package profile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/lifeos/internal/memory"
)

// EntrySource defines the memory operation the Manager needs.
// Implemented by memory.Manager.
type EntrySource interface {
	Entries(ctx context.Context, userID string, typ memory.Type) ([]memory.Entry, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cached struct {
	profile UserProfile
	at      time.Time
}

// Manager provides cached access to folded user profiles.
type Manager struct {
	source EntrySource
	clock  Clock
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]cached
	gen   uint64
	group singleflight.Group
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(source EntrySource) *Manager {
	return NewManagerWithClock(source, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(source EntrySource, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		source: source,
		clock:  clock,
		ttl:    ttl,
		cache:  make(map[string]cached),
	}
}

// Get returns the profile of userID, folding it from memory on a cache
// miss. Concurrent misses for the same user share one fold.
func (m *Manager) Get(ctx context.Context, userID string) (UserProfile, error) {
	m.mu.RLock()
	c, ok := m.cache[userID]
	m.mu.RUnlock()
	if ok && m.clock.Now().Before(c.at.Add(m.ttl)) {
		return c.profile.Clone(), nil
	}

	v, err, _ := m.group.Do(userID, func() (any, error) {
		m.mu.RLock()
		gen := m.gen
		m.mu.RUnlock()

		entries, err := m.source.Entries(ctx, userID, "")
		if err != nil {
			return nil, fmt.Errorf("loading memories for profile: %w", err)
		}
		p := Fold(userID, entries)
		m.mu.Lock()
		if m.gen == gen {
			m.cache[userID] = cached{profile: p, at: m.clock.Now()}
		}
		m.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return Default(userID), err
	}
	return v.(UserProfile).Clone(), nil
}

// Summary returns the prompt summary of userID's profile.
func (m *Manager) Summary(ctx context.Context, userID string) (string, error) {
	p, err := m.Get(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("getting profile for summary: %w", err)
	}
	return Summary(p), nil
}

// Invalidate drops the cached profile of userID, or every cached profile
// when userID is empty.
func (m *Manager) Invalidate(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	if userID == "" {
		clear(m.cache)
		return
	}
	delete(m.cache, userID)
}
