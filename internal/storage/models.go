package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kalambet/lifeos/internal/history"
	"github.com/kalambet/lifeos/internal/intent"
	"github.com/kalambet/lifeos/internal/memory"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const memoryColumns = `id, user_id, key, type, value, created_at, last_used_at, ttl_days, confidence, source, metadata`

func scanMemory(r rowScanner) (memory.Entry, error) {
	var (
		e                   memory.Entry
		typ, value, source  string
		createdAt, lastUsed string
		ttl                 sql.NullInt64
		metadata            sql.NullString
	)
	if err := r.Scan(&e.ID, &e.UserID, &e.Key, &typ, &value, &createdAt, &lastUsed, &ttl, &e.Confidence, &source, &metadata); err != nil {
		return memory.Entry{}, err
	}
	e.Type = memory.Type(typ)
	e.Source = memory.Source(source)
	e.Value = json.RawMessage(value)
	if ttl.Valid {
		e.TTLDays = memory.Days(int(ttl.Int64))
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return memory.Entry{}, fmt.Errorf("decoding metadata of %s: %w", e.Key, err)
		}
	}
	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return memory.Entry{}, err
	}
	if e.LastUsedAt, err = parseTime(lastUsed); err != nil {
		return memory.Entry{}, err
	}
	return e, nil
}

const turnColumns = `session_id, user_id, turn_number, user_message, assistant_message, intent, intent_confidence, extracted_data, created_at`

func scanTurn(r rowScanner) (history.Turn, error) {
	var (
		t         history.Turn
		answer    sql.NullString
		in        sql.NullString
		conf      sql.NullFloat64
		extracted sql.NullString
		createdAt string
	)
	if err := r.Scan(&t.SessionID, &t.UserID, &t.Number, &t.UserMessage, &answer, &in, &conf, &extracted, &createdAt); err != nil {
		return history.Turn{}, err
	}
	t.AssistantMessage = answer.String
	t.Intent = intent.Intent(in.String)
	t.Confidence = conf.Float64
	if extracted.Valid && extracted.String != "" {
		if err := json.Unmarshal([]byte(extracted.String), &t.Extracted); err != nil {
			return history.Turn{}, fmt.Errorf("decoding extracted data of turn %d: %w", t.Number, err)
		}
	}
	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return history.Turn{}, err
	}
	return t, nil
}

// nullJSON encodes v as JSON text, or NULL for an empty map.
func nullJSON(v map[string]any) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
