package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no live entry exists for a (user, key) pair.
	ErrNotFound = errors.New("memory not found")

	// ErrSensitive is returned by Infer for keys that touch a private topic.
	ErrSensitive = errors.New("refusing to infer sensitive memory")
)

// Type classifies what a remembered fact is about.
type Type string

const (
	Preference Type = "preference"
	Routine    Type = "routine"
	Fact       Type = "fact"
	Goal       Type = "goal"
	Pattern    Type = "pattern"
	Constraint Type = "constraint"
)

// Types lists every memory type.
var Types = []Type{Preference, Routine, Fact, Goal, Pattern, Constraint}

// ParseType validates s as a memory type.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown memory type %q", s)
}

// Source records where a fact came from.
type Source string

const (
	FromUser     Source = "user"
	FromInferred Source = "inferred"
	FromSystem   Source = "system"
)

// ParseSource validates s as a memory source. The legacy spelling
// "user_input" is accepted as FromUser.
func ParseSource(s string) (Source, error) {
	switch s {
	case "user", "user_input", "":
		return FromUser, nil
	case "inferred":
		return FromInferred, nil
	case "system":
		return FromSystem, nil
	}
	return "", fmt.Errorf("unknown memory source %q", s)
}

// InferredTTLDays is the lifetime of facts the assistant inferred itself.
const InferredTTLDays = 90

// Entry is one remembered fact about a user. (UserID, Key) identifies it.
type Entry struct {
	ID         string
	UserID     string
	Key        string
	Type       Type
	Value      json.RawMessage
	CreatedAt  time.Time
	LastUsedAt time.Time
	TTLDays    *int
	Confidence float64
	Source     Source
	Metadata   map[string]any
}

// ExpiresAt returns when the entry expires, or the zero time for permanent
// entries.
func (e Entry) ExpiresAt() time.Time {
	if e.TTLDays == nil {
		return time.Time{}
	}
	return e.CreatedAt.Add(time.Duration(*e.TTLDays) * 24 * time.Hour)
}

// Expired reports whether more than TTLDays have passed since CreatedAt.
func (e Entry) Expired(now time.Time) bool {
	exp := e.ExpiresAt()
	return !exp.IsZero() && now.After(exp)
}

// Stale reports whether the entry has not been used for longer than d.
func (e Entry) Stale(now time.Time, d time.Duration) bool {
	return d > 0 && now.Sub(e.LastUsedAt) > d
}

// Decode unmarshals the stored value into v.
func (e Entry) Decode(v any) error {
	if len(e.Value) == 0 {
		return fmt.Errorf("memory %s has no value", e.Key)
	}
	return json.Unmarshal(e.Value, v)
}

// Any returns the stored value decoded into a generic Go value.
func (e Entry) Any() any {
	var v any
	if err := e.Decode(&v); err != nil {
		return nil
	}
	return v
}

// Days is a convenience for building a TTLDays pointer.
func Days(n int) *int { return &n }
