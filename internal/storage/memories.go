package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/lifeos/internal/memory"
)

// --- Memories ---

func (s *Store) UpsertMemory(ctx context.Context, e memory.Entry) (string, error) {
	metadata, err := nullJSON(e.Metadata)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	var ttl sql.NullInt64
	var expires sql.NullString
	if e.TTLDays != nil {
		ttl = sql.NullInt64{Int64: int64(*e.TTLDays), Valid: true}
		expires = sql.NullString{String: formatTime(e.ExpiresAt()), Valid: true}
	}

	var id string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO memories (id, user_id, key, type, value, created_at, last_used_at, ttl_days, expires_at, confidence, source, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, key) DO UPDATE SET
			type = excluded.type,
			value = excluded.value,
			created_at = excluded.created_at,
			last_used_at = excluded.last_used_at,
			ttl_days = excluded.ttl_days,
			expires_at = excluded.expires_at,
			confidence = excluded.confidence,
			source = excluded.source,
			metadata = excluded.metadata
		RETURNING id`,
		e.ID, e.UserID, e.Key, string(e.Type), string(e.Value),
		formatTime(e.CreatedAt), formatTime(e.LastUsedAt), ttl, expires,
		e.Confidence, string(e.Source), metadata,
	).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) GetMemory(ctx context.Context, userID, key string) (memory.Entry, error) {
	e, err := scanMemory(s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE user_id = ? AND key = ?`, userID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Entry{}, memory.ErrNotFound
	}
	return e, err
}

func (s *Store) TouchMemory(ctx context.Context, userID, key string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET last_used_at = ? WHERE user_id = ? AND key = ?`, formatTime(at), userID, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return memory.ErrNotFound
	}
	return nil
}

func (s *Store) ListMemories(ctx context.Context, userID string) ([]memory.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE user_id = ? ORDER BY last_used_at DESC, key ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []memory.Entry
	for rows.Next() {
		e, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

func (s *Store) DeleteMemory(ctx context.Context, userID, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE user_id = ? AND key = ?`, userID, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) DeleteUserMemories(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE user_id = ?`, userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) DeleteExpiredMemories(ctx context.Context, now, staleBefore time.Time) (int, error) {
	query := `DELETE FROM memories WHERE expires_at IS NOT NULL AND expires_at < ?`
	args := []any{formatTime(now)}
	if !staleBefore.IsZero() {
		query += ` OR last_used_at < ?`
		args = append(args, formatTime(staleBefore))
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
