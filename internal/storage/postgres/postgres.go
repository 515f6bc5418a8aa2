// Package postgres implements the memory and history stores on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kalambet/lifeos/internal/history"
	"github.com/kalambet/lifeos/internal/intent"
	"github.com/kalambet/lifeos/internal/memory"
)

// Store persists memories, sessions and turns in PostgreSQL. It implements
// memory.Store and history.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and creates the schema if needed.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			key TEXT NOT NULL,
			type TEXT NOT NULL,
			value JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			last_used_at TIMESTAMPTZ NOT NULL,
			ttl_days INTEGER,
			expires_at TIMESTAMPTZ,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			source TEXT NOT NULL DEFAULT 'user',
			metadata JSONB,
			PRIMARY KEY (user_id, key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_last_used ON memories (last_used_at);`,
		`CREATE INDEX IF NOT EXISTS idx_memories_expires ON memories (expires_at);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			last_active_at TIMESTAMPTZ NOT NULL,
			total_turns INTEGER NOT NULL DEFAULT 0,
			summary TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions (user_id);`,
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			turn_number INTEGER NOT NULL,
			user_message TEXT NOT NULL,
			assistant_message TEXT,
			intent TEXT,
			intent_confidence DOUBLE PRECISION,
			extracted_data JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (session_id, turn_number)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_user_intent ON conversation_turns (user_id, intent, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Memories ---

const memoryColumns = `id, user_id, key, type, value, created_at, last_used_at, ttl_days, confidence, source, metadata`

func scanMemory(row pgx.Row) (memory.Entry, error) {
	var (
		e               memory.Entry
		typ, source     string
		value, metadata []byte
		ttl             *int
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.Key, &typ, &value, &e.CreatedAt, &e.LastUsedAt, &ttl, &e.Confidence, &source, &metadata); err != nil {
		return memory.Entry{}, err
	}
	e.Type = memory.Type(typ)
	e.Source = memory.Source(source)
	e.Value = json.RawMessage(value)
	e.TTLDays = ttl
	e.CreatedAt = e.CreatedAt.UTC()
	e.LastUsedAt = e.LastUsedAt.UTC()
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return memory.Entry{}, fmt.Errorf("decode metadata of %s: %w", e.Key, err)
		}
	}
	return e, nil
}

func (s *Store) UpsertMemory(ctx context.Context, e memory.Entry) (string, error) {
	metadata, err := jsonOrNil(e.Metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	var expires *time.Time
	if e.TTLDays != nil {
		t := e.ExpiresAt()
		expires = &t
	}

	var id string
	err = s.pool.QueryRow(ctx,
		`INSERT INTO memories (id, user_id, key, type, value, created_at, last_used_at, ttl_days, expires_at, confidence, source, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (user_id, key) DO UPDATE SET
			type = EXCLUDED.type,
			value = EXCLUDED.value,
			created_at = EXCLUDED.created_at,
			last_used_at = EXCLUDED.last_used_at,
			ttl_days = EXCLUDED.ttl_days,
			expires_at = EXCLUDED.expires_at,
			confidence = EXCLUDED.confidence,
			source = EXCLUDED.source,
			metadata = EXCLUDED.metadata
		 RETURNING id`,
		e.ID, e.UserID, e.Key, string(e.Type), string(e.Value), e.CreatedAt, e.LastUsedAt,
		e.TTLDays, expires, e.Confidence, string(e.Source), metadata,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert memory: %w", err)
	}
	return id, nil
}

func (s *Store) GetMemory(ctx context.Context, userID, key string) (memory.Entry, error) {
	e, err := scanMemory(s.pool.QueryRow(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE user_id=$1 AND key=$2`, userID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return memory.Entry{}, memory.ErrNotFound
	}
	if err != nil {
		return memory.Entry{}, fmt.Errorf("get memory: %w", err)
	}
	return e, nil
}

func (s *Store) TouchMemory(ctx context.Context, userID, key string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE memories SET last_used_at=$1 WHERE user_id=$2 AND key=$3`, at, userID, key)
	if err != nil {
		return fmt.Errorf("touch memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

func (s *Store) ListMemories(ctx context.Context, userID string) ([]memory.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE user_id=$1 ORDER BY last_used_at DESC, key ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var items []memory.Entry
	for rows.Next() {
		e, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory rows: %w", err)
	}
	return items, nil
}

func (s *Store) DeleteMemory(ctx context.Context, userID, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE user_id=$1 AND key=$2`, userID, key)
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) DeleteUserMemories(ctx context.Context, userID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE user_id=$1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user memories: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) DeleteExpiredMemories(ctx context.Context, now, staleBefore time.Time) (int, error) {
	var stale *time.Time
	if !staleBefore.IsZero() {
		stale = &staleBefore
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM memories
		 WHERE (expires_at IS NOT NULL AND expires_at < $1)
		    OR ($2::timestamptz IS NOT NULL AND last_used_at < $2)`, now, stale)
	if err != nil {
		return 0, fmt.Errorf("delete expired memories: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- Sessions ---

func (s *Store) CreateSession(ctx context.Context, sess history.Session) error {
	var summary *string
	if sess.Summary != "" {
		summary = &sess.Summary
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (session_id, user_id, started_at, last_active_at, total_turns, summary)
		 VALUES ($1, $2, $3, $4, 0, $5)
		 ON CONFLICT (session_id) DO NOTHING`,
		sess.ID, sess.UserID, sess.StartedAt, sess.LastActiveAt, summary)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (history.Session, error) {
	var sess history.Session
	var summary *string
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, user_id, started_at, last_active_at, total_turns, summary
		 FROM sessions WHERE session_id=$1`, id,
	).Scan(&sess.ID, &sess.UserID, &sess.StartedAt, &sess.LastActiveAt, &sess.TotalTurns, &summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return history.Session{}, history.ErrNotFound
	}
	if err != nil {
		return history.Session{}, fmt.Errorf("get session: %w", err)
	}
	if summary != nil {
		sess.Summary = *summary
	}
	sess.StartedAt = sess.StartedAt.UTC()
	sess.LastActiveAt = sess.LastActiveAt.UTC()
	return sess, nil
}

// --- Turns ---

// AppendTurn locks the session row so writers in other processes queue up
// behind each other; the UNIQUE constraint is the last line.
func (s *Store) AppendTurn(ctx context.Context, t history.Turn) (int, error) {
	extracted, err := jsonOrNil(t.Extracted)
	if err != nil {
		return 0, fmt.Errorf("encode extracted data: %w", err)
	}

	var n int
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO sessions (session_id, user_id, started_at, last_active_at, total_turns)
			 VALUES ($1, $2, $3, $3, 0)
			 ON CONFLICT (session_id) DO NOTHING`,
			t.SessionID, t.UserID, t.CreatedAt); err != nil {
			return fmt.Errorf("ensure session: %w", err)
		}
		if _, err := tx.Exec(ctx, `SELECT 1 FROM sessions WHERE session_id=$1 FOR UPDATE`, t.SessionID); err != nil {
			return fmt.Errorf("lock session: %w", err)
		}
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(turn_number), 0) + 1 FROM conversation_turns WHERE session_id=$1`, t.SessionID,
		).Scan(&n); err != nil {
			return fmt.Errorf("compute turn number: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO conversation_turns (session_id, user_id, turn_number, user_message, assistant_message, intent, intent_confidence, extracted_data, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			t.SessionID, t.UserID, n, t.UserMessage, t.AssistantMessage, string(t.Intent), t.Confidence, extracted, t.CreatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE sessions SET last_active_at=$2, total_turns=$3 WHERE session_id=$1`,
			t.SessionID, t.CreatedAt, n)
		return err
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return 0, history.ErrTurnConflict
	}
	if err != nil {
		return 0, fmt.Errorf("append turn: %w", err)
	}
	return n, nil
}

const turnColumns = `session_id, user_id, turn_number, user_message, assistant_message, intent, intent_confidence, extracted_data, created_at`

func scanTurns(rows pgx.Rows) ([]history.Turn, error) {
	defer rows.Close()
	var items []history.Turn
	for rows.Next() {
		var (
			t         history.Turn
			answer    *string
			in        *string
			conf      *float64
			extracted []byte
		)
		if err := rows.Scan(&t.SessionID, &t.UserID, &t.Number, &t.UserMessage, &answer, &in, &conf, &extracted, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		if answer != nil {
			t.AssistantMessage = *answer
		}
		if in != nil {
			t.Intent = intent.Intent(*in)
		}
		if conf != nil {
			t.Confidence = *conf
		}
		if len(extracted) > 0 {
			if err := json.Unmarshal(extracted, &t.Extracted); err != nil {
				return nil, fmt.Errorf("decode extracted data: %w", err)
			}
		}
		t.CreatedAt = t.CreatedAt.UTC()
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return items, nil
}

func (s *Store) RecentTurns(ctx context.Context, sessionID string, n int) ([]history.Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+turnColumns+` FROM (
			SELECT * FROM conversation_turns WHERE session_id=$1
			ORDER BY turn_number DESC LIMIT $2
		 ) recent ORDER BY turn_number ASC`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	return scanTurns(rows)
}

func (s *Store) IntentCounts(ctx context.Context, sessionID string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT COALESCE(intent, ''), COUNT(*) FROM conversation_turns WHERE session_id=$1 GROUP BY intent`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query intent counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var in string
		var c int
		if err := rows.Scan(&in, &c); err != nil {
			return nil, fmt.Errorf("scan intent count: %w", err)
		}
		counts[in] = c
	}
	return counts, rows.Err()
}

func (s *Store) TurnsByIntent(ctx context.Context, userID string, in intent.Intent, limit int) ([]history.Turn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+turnColumns+` FROM conversation_turns
		 WHERE user_id=$1 AND intent=$2
		 ORDER BY created_at DESC, id DESC LIMIT $3`, userID, string(in), limit)
	if err != nil {
		return nil, fmt.Errorf("query turns by intent: %w", err)
	}
	return scanTurns(rows)
}

func jsonOrNil(v map[string]any) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}
