// Package memorytest holds behavioural tests shared by every memory.Store
// implementation.
package memorytest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kalambet/lifeos/internal/memory"
)

// Run exercises store through its whole contract. newStore must return an
// empty store.
func Run(t *testing.T, newStore func(t *testing.T) memory.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	entry := func(user, key string, at time.Time, ttl *int) memory.Entry {
		return memory.Entry{
			ID:         user + "-" + key,
			UserID:     user,
			Key:        key,
			Type:       memory.Preference,
			Value:      []byte(`true`),
			CreatedAt:  at,
			LastUsedAt: at,
			TTLDays:    ttl,
			Confidence: 1,
			Source:     memory.FromUser,
			Metadata:   map[string]any{"note": "x"},
		}
	}

	t.Run("upsert keeps id and overwrites", func(t *testing.T) {
		s := newStore(t)
		id, err := s.UpsertMemory(ctx, entry("u1", "k", base, nil))
		if err != nil {
			t.Fatalf("UpsertMemory: %v", err)
		}

		e := entry("u1", "k", base.Add(time.Hour), memory.Days(3))
		e.ID = "other"
		e.Value = []byte(`"evening"`)
		e.Type = memory.Pattern
		e.Source = memory.FromInferred
		e.Confidence = 0.7
		id2, err := s.UpsertMemory(ctx, e)
		if err != nil {
			t.Fatalf("UpsertMemory overwrite: %v", err)
		}
		if id2 != id {
			t.Errorf("id changed on overwrite: %q -> %q", id, id2)
		}

		got, err := s.GetMemory(ctx, "u1", "k")
		if err != nil {
			t.Fatalf("GetMemory: %v", err)
		}
		if string(got.Value) != `"evening"` || got.Type != memory.Pattern || got.Source != memory.FromInferred {
			t.Errorf("entry not overwritten: %+v", got)
		}
		if got.TTLDays == nil || *got.TTLDays != 3 || got.Confidence != 0.7 {
			t.Errorf("ttl/confidence = %v/%v", got.TTLDays, got.Confidence)
		}
		if !got.CreatedAt.Equal(base.Add(time.Hour)) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, base.Add(time.Hour))
		}
		if got.Metadata["note"] != "x" {
			t.Errorf("Metadata = %v", got.Metadata)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.GetMemory(ctx, "u1", "none"); !errors.Is(err, memory.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("touch and list order", func(t *testing.T) {
		s := newStore(t)
		for _, k := range []string{"a", "b", "c"} {
			if _, err := s.UpsertMemory(ctx, entry("u1", k, base, nil)); err != nil {
				t.Fatal(err)
			}
		}
		s.UpsertMemory(ctx, entry("u2", "a", base, nil))
		if err := s.TouchMemory(ctx, "u1", "b", base.Add(time.Minute)); err != nil {
			t.Fatalf("TouchMemory: %v", err)
		}

		list, err := s.ListMemories(ctx, "u1")
		if err != nil {
			t.Fatalf("ListMemories: %v", err)
		}
		if len(list) != 3 || list[0].Key != "b" {
			t.Errorf("ListMemories = %v, want b first of 3", keys(list))
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		s.UpsertMemory(ctx, entry("u1", "a", base, nil))
		s.UpsertMemory(ctx, entry("u1", "b", base, nil))
		s.UpsertMemory(ctx, entry("u2", "a", base, nil))

		ok, err := s.DeleteMemory(ctx, "u1", "a")
		if err != nil || !ok {
			t.Fatalf("DeleteMemory = %v, %v", ok, err)
		}
		if ok, _ := s.DeleteMemory(ctx, "u1", "a"); ok {
			t.Error("second DeleteMemory reported a removal")
		}

		n, err := s.DeleteUserMemories(ctx, "u1")
		if err != nil || n != 1 {
			t.Errorf("DeleteUserMemories = %d, %v; want 1", n, err)
		}
		if _, err := s.GetMemory(ctx, "u2", "a"); err != nil {
			t.Errorf("other user's memory removed: %v", err)
		}
	})

	t.Run("delete expired and stale", func(t *testing.T) {
		s := newStore(t)
		s.UpsertMemory(ctx, entry("u1", "permanent", base, nil))
		s.UpsertMemory(ctx, entry("u1", "expired", base, memory.Days(1)))
		s.UpsertMemory(ctx, entry("u1", "fresh", base, memory.Days(30)))
		old := entry("u1", "stale", base.Add(-200*24*time.Hour), nil)
		s.UpsertMemory(ctx, old)

		now := base.Add(3 * 24 * time.Hour)
		n, err := s.DeleteExpiredMemories(ctx, now, now.Add(-180*24*time.Hour))
		if err != nil {
			t.Fatalf("DeleteExpiredMemories: %v", err)
		}
		if n != 2 {
			t.Errorf("removed %d, want 2", n)
		}
		list, _ := s.ListMemories(ctx, "u1")
		got := map[string]bool{}
		for _, e := range list {
			got[e.Key] = true
		}
		if !got["permanent"] || !got["fresh"] || got["expired"] || got["stale"] {
			t.Errorf("remaining = %v", keys(list))
		}
	})
}

func keys(es []memory.Entry) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Key
	}
	return out
}
