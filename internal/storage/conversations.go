package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kalambet/lifeos/internal/history"
	"github.com/kalambet/lifeos/internal/intent"
)

// --- Sessions ---

func (s *Store) CreateSession(ctx context.Context, sess history.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, started_at, last_active_at, total_turns, summary)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT (session_id) DO NOTHING`,
		sess.ID, sess.UserID, formatTime(sess.StartedAt), formatTime(sess.LastActiveAt),
		sql.NullString{String: sess.Summary, Valid: sess.Summary != ""},
	)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (history.Session, error) {
	var (
		sess              history.Session
		started, lastSeen string
		summary           sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, started_at, last_active_at, total_turns, summary
		FROM sessions WHERE session_id = ?`, id,
	).Scan(&sess.ID, &sess.UserID, &started, &lastSeen, &sess.TotalTurns, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return history.Session{}, history.ErrNotFound
	}
	if err != nil {
		return history.Session{}, err
	}
	sess.Summary = summary.String
	if sess.StartedAt, err = parseTime(started); err != nil {
		return history.Session{}, err
	}
	if sess.LastActiveAt, err = parseTime(lastSeen); err != nil {
		return history.Session{}, err
	}
	return sess, nil
}

// --- Turns ---

func (s *Store) AppendTurn(ctx context.Context, t history.Turn) (int, error) {
	extracted, err := nullJSON(t.Extracted)
	if err != nil {
		return 0, fmt.Errorf("encoding extracted data: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning turn transaction: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(turn_number), 0) + 1 FROM conversation_turns WHERE session_id = ?`, t.SessionID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("computing turn number: %w", err)
	}

	at := formatTime(t.CreatedAt)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversation_turns (session_id, user_id, turn_number, user_message, assistant_message, intent, intent_confidence, extracted_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.SessionID, t.UserID, n, t.UserMessage, t.AssistantMessage, string(t.Intent), t.Confidence, extracted, at,
	)
	if isUniqueViolation(err) {
		return 0, history.ErrTurnConflict
	}
	if err != nil {
		return 0, fmt.Errorf("inserting turn: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, started_at, last_active_at, total_turns)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			last_active_at = excluded.last_active_at,
			total_turns = excluded.total_turns`,
		t.SessionID, t.UserID, at, at, n,
	); err != nil {
		return 0, fmt.Errorf("updating session counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing turn: %w", err)
	}
	return n, nil
}

func (s *Store) RecentTurns(ctx context.Context, sessionID string, n int) ([]history.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+turnColumns+` FROM (
			SELECT * FROM conversation_turns WHERE session_id = ?
			ORDER BY turn_number DESC LIMIT ?
		) ORDER BY turn_number ASC`, sessionID, n)
	if err != nil {
		return nil, err
	}
	return collectTurns(rows)
}

func (s *Store) IntentCounts(ctx context.Context, sessionID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(intent, ''), COUNT(*) FROM conversation_turns
		WHERE session_id = ? GROUP BY intent`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var in string
		var c int
		if err := rows.Scan(&in, &c); err != nil {
			return nil, err
		}
		counts[in] = c
	}
	return counts, rows.Err()
}

func (s *Store) TurnsByIntent(ctx context.Context, userID string, in intent.Intent, limit int) ([]history.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+turnColumns+` FROM conversation_turns
		WHERE user_id = ? AND intent = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, userID, string(in), limit)
	if err != nil {
		return nil, err
	}
	return collectTurns(rows)
}

func collectTurns(rows *sql.Rows) ([]history.Turn, error) {
	defer rows.Close()
	var results []history.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}
