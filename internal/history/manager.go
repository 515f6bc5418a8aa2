package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/lifeos/internal/intent"
)

// DefaultWindow is the number of turns History returns when asked for none.
const DefaultWindow = 5

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// TurnInput is what a caller knows about a finished exchange.
type TurnInput struct {
	SessionID        string
	UserID           string
	UserMessage      string
	AssistantMessage string
	Intent           intent.Intent
	Confidence       float64
	Extracted        map[string]any
}

// Manager persists turns and rebuilds short-term context. Turn appends are
// serialized per session inside the process; across processes the store's
// unique constraint decides and the loser retries once.
type Manager struct {
	store  Store
	clock  Clock
	logger *slog.Logger
	locks  keyedMutex
}

// NewManager creates a Manager over store.
func NewManager(store Store) *Manager {
	return NewManagerWithClock(store, realClock{})
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock) *Manager {
	return &Manager{store: store, clock: clock, logger: slog.Default()}
}

// NewSessionID returns "<user>_<yyyymmdd_hhmmss>_<8 hex>".
func NewSessionID(userID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s", userID, at.Format("20060102_150405"), uuid.New().String()[:8])
}

// CreateSession registers sessionID for userID, generating an id when it is
// empty. It is idempotent for the owner and returns ErrSessionOwner when
// the id belongs to someone else.
func (m *Manager) CreateSession(ctx context.Context, userID, sessionID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id is required")
	}
	now := m.clock.Now().UTC()
	if sessionID == "" {
		sessionID = NewSessionID(userID, now)
	}
	err := m.store.CreateSession(ctx, Session{
		ID:           sessionID,
		UserID:       userID,
		StartedAt:    now,
		LastActiveAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("creating session %s: %w", sessionID, err)
	}
	// The insert is a no-op for an existing id, so read back who owns it.
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	if sess.UserID != userID {
		return "", fmt.Errorf("session %s: %w", sessionID, ErrSessionOwner)
	}
	return sessionID, nil
}

// AddTurn persists one exchange and returns its turn number.
func (m *Manager) AddTurn(ctx context.Context, in TurnInput) (int, error) {
	if in.SessionID == "" || in.UserID == "" {
		return 0, errors.New("session id and user id are required")
	}

	unlock := m.locks.Lock(in.SessionID)
	defer unlock()

	t := Turn{
		SessionID:        in.SessionID,
		UserID:           in.UserID,
		UserMessage:      in.UserMessage,
		AssistantMessage: in.AssistantMessage,
		Intent:           in.Intent,
		Confidence:       in.Confidence,
		Extracted:        in.Extracted,
		CreatedAt:        m.clock.Now().UTC(),
	}
	n, err := m.store.AppendTurn(ctx, t)
	if errors.Is(err, ErrTurnConflict) {
		m.logger.Warn("turn number conflict, retrying", "session_id", in.SessionID)
		n, err = m.store.AppendTurn(ctx, t)
	}
	if err != nil {
		return 0, fmt.Errorf("adding turn to %s: %w", in.SessionID, err)
	}
	return n, nil
}

// History returns the last lastN turns of a session, oldest first. A
// non-positive lastN selects DefaultWindow.
func (m *Manager) History(ctx context.Context, sessionID string, lastN int) ([]Turn, error) {
	if lastN <= 0 {
		lastN = DefaultWindow
	}
	turns, err := m.store.RecentTurns(ctx, sessionID, lastN)
	if err != nil {
		return nil, fmt.Errorf("loading history of %s: %w", sessionID, err)
	}
	return turns, nil
}

// Stats returns counters and the intent distribution of a session.
func (m *Manager) Stats(ctx context.Context, sessionID string) (Stats, error) {
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Stats{}, ErrNotFound
		}
		return Stats{}, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	counts, err := m.store.IntentCounts(ctx, sessionID)
	if err != nil {
		return Stats{}, fmt.Errorf("counting intents of %s: %w", sessionID, err)
	}
	return Stats{
		SessionID:          s.ID,
		TotalTurns:         s.TotalTurns,
		StartedAt:          s.StartedAt,
		LastActiveAt:       s.LastActiveAt,
		IntentDistribution: counts,
	}, nil
}

// Similar returns the user's most recent turns classified as in.
func (m *Manager) Similar(ctx context.Context, userID string, in intent.Intent, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 3
	}
	turns, err := m.store.TurnsByIntent(ctx, userID, in, limit)
	if err != nil {
		return nil, fmt.Errorf("searching turns of %s: %w", userID, err)
	}
	return turns, nil
}

const (
	summaryTurns       = 2
	summaryUserRunes   = 50
	summaryAnswerRunes = 80
)

// ContextSummary renders the last two turns as a short prompt preamble.
func ContextSummary(turns []Turn) string {
	if len(turns) == 0 {
		return "这是新对话的开始。"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "历史对话共 %d 轮：", len(turns))
	for _, t := range turns[max(0, len(turns)-summaryTurns):] {
		fmt.Fprintf(&b, "\n- 用户: %s -> 意图: %s", truncate(t.UserMessage, summaryUserRunes), t.Intent)
		if t.AssistantMessage != "" {
			fmt.Fprintf(&b, "\n  助手: %s", truncate(t.AssistantMessage, summaryAnswerRunes))
		}
	}
	return b.String()
}

// Hint builds the classifier hint for the next turn.
func Hint(turns []Turn) intent.Hint {
	h := intent.Hint{Summary: ContextSummary(turns)}
	if len(turns) > 0 {
		h.LastIntent = turns[len(turns)-1].Intent
	}
	return h
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// keyedMutex hands out one mutex per key and forgets it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
