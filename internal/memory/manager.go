package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultArchiveAfter is how long an unused entry survives before Sweep
// removes it.
const DefaultArchiveAfter = 180 * 24 * time.Hour

// DefaultSensitiveTopics are key fragments Infer refuses to store.
var DefaultSensitiveTopics = []string{"health", "finance", "legal"}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	ArchiveAfter    time.Duration
	SensitiveTopics []string
	Clock           Clock
	Logger          *slog.Logger
}

// Manager is the high-level memory API: remember, recall, forget, sweep.
type Manager struct {
	store        Store
	clock        Clock
	archiveAfter time.Duration
	sensitive    []string
	logger       *slog.Logger

	mu        sync.RWMutex
	listeners []func(userID string)
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts Options) *Manager {
	m := &Manager{
		store:        store,
		clock:        opts.Clock,
		archiveAfter: opts.ArchiveAfter,
		sensitive:    opts.SensitiveTopics,
		logger:       opts.Logger,
	}
	if m.clock == nil {
		m.clock = realClock{}
	}
	if m.archiveAfter <= 0 {
		m.archiveAfter = DefaultArchiveAfter
	}
	if m.sensitive == nil {
		m.sensitive = DefaultSensitiveTopics
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// OnChange registers fn to run after any write affecting userID. Sweep
// notifies with an empty user id.
func (m *Manager) OnChange(fn func(userID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) changed(userID string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, fn := range m.listeners {
		fn(userID)
	}
}

// Remember stores value under (userID, key), overwriting any previous entry.
// Restating a fact restarts its TTL. Entries from the user or the system
// carry confidence 1.
func (m *Manager) Remember(ctx context.Context, userID, key string, value any, typ Type, ttlDays *int, source Source) (string, error) {
	return m.Put(ctx, Entry{
		UserID:     userID,
		Key:        key,
		Type:       typ,
		TTLDays:    ttlDays,
		Source:     source,
		Confidence: 1,
	}, value)
}

// Put validates e, encodes value as JSON and upserts the entry. Timestamps
// and the ID are assigned here.
func (m *Manager) Put(ctx context.Context, e Entry, value any) (string, error) {
	if strings.TrimSpace(e.UserID) == "" || strings.TrimSpace(e.Key) == "" {
		return "", errors.New("memory user id and key are required")
	}
	if e.Type == "" {
		e.Type = Preference
	}
	if _, err := ParseType(string(e.Type)); err != nil {
		return "", err
	}
	if e.Source == "" {
		e.Source = FromUser
	}
	if e.TTLDays != nil && *e.TTLDays < 0 {
		return "", fmt.Errorf("negative ttl %d for memory %s", *e.TTLDays, e.Key)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return "", fmt.Errorf("confidence %.2f out of range for memory %s", e.Confidence, e.Key)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encoding value for memory %s: %w", e.Key, err)
	}
	now := m.clock.Now().UTC()
	e.ID = uuid.New().String()
	e.Value = raw
	e.CreatedAt = now
	e.LastUsedAt = now

	id, err := m.store.UpsertMemory(ctx, e)
	if err != nil {
		return "", fmt.Errorf("storing memory %s: %w", e.Key, err)
	}
	m.changed(e.UserID)
	return id, nil
}

// Infer stores a low-confidence pattern the assistant derived from the
// conversation. It expires after InferredTTLDays and is refused with
// ErrSensitive when key names a private topic.
func (m *Manager) Infer(ctx context.Context, userID, key string, value any, confidence float64) (string, error) {
	if m.IsSensitive(key) {
		m.logger.Debug("refused sensitive inference", "user_id", userID, "key", key)
		return "", fmt.Errorf("%s: %w", key, ErrSensitive)
	}
	return m.Put(ctx, Entry{
		UserID:     userID,
		Key:        key,
		Type:       Pattern,
		TTLDays:    Days(InferredTTLDays),
		Source:     FromInferred,
		Confidence: min(max(confidence, 0), 1),
	}, value)
}

// IsSensitive reports whether key mentions a sensitive topic.
func (m *Manager) IsSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, topic := range m.sensitive {
		if topic != "" && strings.Contains(lower, topic) {
			return true
		}
	}
	return false
}

// Get returns the live entry for (userID, key) without touching it.
// Expired entries that have not been swept yet are reported as ErrNotFound.
func (m *Manager) Get(ctx context.Context, userID, key string) (Entry, error) {
	e, err := m.store.GetMemory(ctx, userID, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("loading memory %s: %w", key, err)
	}
	if e.Expired(m.clock.Now()) {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// Recall returns the decoded value for (userID, key) and bumps its
// last-used time. ok is false when nothing live is stored.
func (m *Manager) Recall(ctx context.Context, userID, key string) (value any, ok bool, err error) {
	e, err := m.Get(ctx, userID, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := m.store.TouchMemory(ctx, userID, key, m.clock.Now().UTC()); err != nil && !errors.Is(err, ErrNotFound) {
		m.logger.Warn("failed to touch memory", "user_id", userID, "key", key, "error", err)
	}
	return e.Any(), true, nil
}

// Forget removes one entry. It reports whether anything was removed.
func (m *Manager) Forget(ctx context.Context, userID, key string) (bool, error) {
	ok, err := m.store.DeleteMemory(ctx, userID, key)
	if err != nil {
		return false, fmt.Errorf("forgetting memory %s: %w", key, err)
	}
	if ok {
		m.changed(userID)
	}
	return ok, nil
}

// ForgetAll removes every entry of userID. It reports whether anything was
// removed.
func (m *Manager) ForgetAll(ctx context.Context, userID string) (bool, error) {
	n, err := m.store.DeleteUserMemories(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("forgetting memories of %s: %w", userID, err)
	}
	if n > 0 {
		m.changed(userID)
	}
	return n > 0, nil
}

// Entries lists the live entries of userID, most recently used first. An
// empty typ lists every type.
func (m *Manager) Entries(ctx context.Context, userID string, typ Type) ([]Entry, error) {
	all, err := m.store.ListMemories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing memories of %s: %w", userID, err)
	}
	now := m.clock.Now()
	return slices.DeleteFunc(all, func(e Entry) bool {
		return e.Expired(now) || (typ != "" && e.Type != typ)
	}), nil
}

// Relevant returns up to limit live entries whose key or value contains
// query, case-insensitively, and bumps their last-used time.
func (m *Manager) Relevant(ctx context.Context, userID, query string, limit int) ([]Entry, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	all, err := m.Entries(ctx, userID, "")
	if err != nil {
		return nil, err
	}

	var out []Entry
	now := m.clock.Now().UTC()
	for _, e := range all {
		if !strings.Contains(strings.ToLower(e.Key), query) &&
			!strings.Contains(strings.ToLower(string(e.Value)), query) {
			continue
		}
		if err := m.store.TouchMemory(ctx, userID, e.Key, now); err != nil {
			m.logger.Warn("failed to touch memory", "user_id", userID, "key", e.Key, "error", err)
		}
		e.LastUsedAt = now
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Sweep deletes expired entries and entries unused for longer than the
// archive period. It returns the number removed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	now := m.clock.Now().UTC()
	n, err := m.store.DeleteExpiredMemories(ctx, now, now.Add(-m.archiveAfter))
	if err != nil {
		return 0, fmt.Errorf("sweeping memories: %w", err)
	}
	if n > 0 {
		m.changed("")
	}
	return n, nil
}

// Now returns the manager's current time.
func (m *Manager) Now() time.Time { return m.clock.Now() }
