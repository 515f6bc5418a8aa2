package history

import (
	"context"
	"errors"
	"time"

	"github.com/kalambet/lifeos/internal/intent"
)

var (
	// ErrNotFound is returned for unknown sessions.
	ErrNotFound = errors.New("session not found")

	// ErrTurnConflict is returned by a Store when another writer took the
	// turn number first.
	ErrTurnConflict = errors.New("turn number already taken")

	// ErrSessionOwner is returned when a session id belongs to another user.
	ErrSessionOwner = errors.New("session belongs to another user")
)

// Turn is one persisted exchange. (SessionID, Number) is unique and numbers
// start at 1 in every session.
type Turn struct {
	SessionID        string         `json:"session_id"`
	UserID           string         `json:"user_id"`
	Number           int            `json:"turn_number"`
	UserMessage      string         `json:"user_message"`
	AssistantMessage string         `json:"assistant_message"`
	Intent           intent.Intent  `json:"intent"`
	Confidence       float64        `json:"intent_confidence"`
	Extracted        map[string]any `json:"extracted_data,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Session groups the turns of one conversation.
type Session struct {
	ID           string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	StartedAt    time.Time `json:"started_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	TotalTurns   int       `json:"total_turns"`
	Summary      string    `json:"summary,omitempty"`
}

// Stats summarises a session.
type Stats struct {
	SessionID          string         `json:"session_id"`
	TotalTurns         int            `json:"total_turns"`
	StartedAt          time.Time      `json:"started_at"`
	LastActiveAt       time.Time      `json:"last_active_at"`
	IntentDistribution map[string]int `json:"intent_distribution"`
}

// Store defines the persistence operations the Manager needs.
// Implemented by storage.Store, postgres.Store and MemStore.
type Store interface {
	// CreateSession inserts s unless a session with the same ID exists.
	CreateSession(ctx context.Context, s Session) error
	// GetSession returns ErrNotFound for unknown ids.
	GetSession(ctx context.Context, id string) (Session, error)
	// AppendTurn stores t with number 1+max(existing) and updates the
	// session counters in the same transaction, creating the session row
	// if needed. t.Number is ignored. It returns the assigned number, or
	// ErrTurnConflict when a concurrent writer took it.
	AppendTurn(ctx context.Context, t Turn) (int, error)
	// RecentTurns returns the last n turns of a session, oldest first.
	RecentTurns(ctx context.Context, sessionID string, n int) ([]Turn, error)
	IntentCounts(ctx context.Context, sessionID string) (map[string]int, error)
	// TurnsByIntent returns the user's most recent turns with the given
	// intent, newest first.
	TurnsByIntent(ctx context.Context, userID string, in intent.Intent, limit int) ([]Turn, error)
}
