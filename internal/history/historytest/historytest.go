// Package historytest holds behavioural tests shared by every history.Store
// implementation.
package historytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/lifeos/internal/history"
	"github.com/kalambet/lifeos/internal/intent"
)

// Run exercises store through its whole contract. newStore must return an
// empty store.
func Run(t *testing.T, newStore func(t *testing.T) history.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	turn := func(session, user string, in intent.Intent, at time.Time) history.Turn {
		return history.Turn{
			SessionID:        session,
			UserID:           user,
			UserMessage:      "msg " + string(in),
			AssistantMessage: "reply",
			Intent:           in,
			Confidence:       0.8,
			Extracted:        map[string]any{"tasks": []any{"写报告"}},
			CreatedAt:        at,
		}
	}

	t.Run("create session is idempotent", func(t *testing.T) {
		s := newStore(t)
		sess := history.Session{ID: "s1", UserID: "u1", StartedAt: base, LastActiveAt: base}
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		later := sess
		later.StartedAt = base.Add(time.Hour)
		if err := s.CreateSession(ctx, later); err != nil {
			t.Fatalf("second CreateSession: %v", err)
		}
		got, err := s.GetSession(ctx, "s1")
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if !got.StartedAt.Equal(base) || got.TotalTurns != 0 {
			t.Errorf("session = %+v", got)
		}
		if _, err := s.GetSession(ctx, "nope"); !errors.Is(err, history.ErrNotFound) {
			t.Errorf("GetSession(nope) err = %v, want ErrNotFound", err)
		}
	})

	t.Run("append numbers and counters", func(t *testing.T) {
		s := newStore(t)
		s.CreateSession(ctx, history.Session{ID: "s1", UserID: "u1", StartedAt: base, LastActiveAt: base})
		for i, in := range []intent.Intent{intent.Task, intent.Emotion, intent.Task} {
			n, err := s.AppendTurn(ctx, turn("s1", "u1", in, base.Add(time.Duration(i+1)*time.Minute)))
			if err != nil {
				t.Fatalf("AppendTurn: %v", err)
			}
			if n != i+1 {
				t.Errorf("turn %d numbered %d", i+1, n)
			}
		}
		n, _ := s.AppendTurn(ctx, turn("s2", "u1", intent.Casual, base))
		if n != 1 {
			t.Errorf("first turn of new session numbered %d", n)
		}

		sess, err := s.GetSession(ctx, "s1")
		if err != nil {
			t.Fatalf("GetSession: %v", err)
		}
		if sess.TotalTurns != 3 || !sess.LastActiveAt.Equal(base.Add(3*time.Minute)) {
			t.Errorf("session counters = %+v", sess)
		}
		if _, err := s.GetSession(ctx, "s2"); err != nil {
			t.Errorf("AppendTurn did not create session s2: %v", err)
		}

		counts, err := s.IntentCounts(ctx, "s1")
		if err != nil {
			t.Fatalf("IntentCounts: %v", err)
		}
		if counts["task"] != 2 || counts["emotion"] != 1 || len(counts) != 2 {
			t.Errorf("IntentCounts = %v", counts)
		}
	})

	t.Run("recent turns oldest first", func(t *testing.T) {
		s := newStore(t)
		for i := range 7 {
			s.AppendTurn(ctx, turn("s1", "u1", intent.Task, base.Add(time.Duration(i)*time.Minute)))
		}
		turns, err := s.RecentTurns(ctx, "s1", 3)
		if err != nil {
			t.Fatalf("RecentTurns: %v", err)
		}
		if len(turns) != 3 {
			t.Fatalf("got %d turns, want 3", len(turns))
		}
		for i, want := range []int{5, 6, 7} {
			if turns[i].Number != want {
				t.Errorf("turns[%d].Number = %d, want %d", i, turns[i].Number, want)
			}
		}
		if got := turns[0].Extracted["tasks"]; fmt.Sprint(got) != "[写报告]" {
			t.Errorf("Extracted tasks = %v", got)
		}
		if turns[0].Intent != intent.Task || turns[0].UserID != "u1" {
			t.Errorf("turn = %+v", turns[0])
		}
	})

	t.Run("turns by intent", func(t *testing.T) {
		s := newStore(t)
		s.AppendTurn(ctx, turn("s1", "u1", intent.Goal, base))
		s.AppendTurn(ctx, turn("s1", "u1", intent.Task, base.Add(time.Minute)))
		s.AppendTurn(ctx, turn("s2", "u1", intent.Goal, base.Add(2*time.Minute)))
		s.AppendTurn(ctx, turn("s3", "u2", intent.Goal, base.Add(3*time.Minute)))

		turns, err := s.TurnsByIntent(ctx, "u1", intent.Goal, 5)
		if err != nil {
			t.Fatalf("TurnsByIntent: %v", err)
		}
		if len(turns) != 2 || turns[0].SessionID != "s2" || turns[1].SessionID != "s1" {
			t.Errorf("TurnsByIntent = %+v", turns)
		}
	})

	t.Run("concurrent appends", func(t *testing.T) {
		s := newStore(t)
		const writers = 8
		var wg sync.WaitGroup
		nums := make(chan int, writers)
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					n, err := s.AppendTurn(ctx, turn("s1", "u1", intent.Task, base.Add(time.Duration(i)*time.Second)))
					if errors.Is(err, history.ErrTurnConflict) {
						continue
					}
					if err != nil {
						t.Errorf("AppendTurn: %v", err)
						return
					}
					nums <- n
					return
				}
			}()
		}
		wg.Wait()
		close(nums)

		seen := make(map[int]bool)
		for n := range nums {
			if seen[n] {
				t.Errorf("turn number %d assigned twice", n)
			}
			seen[n] = true
		}
		for i := 1; i <= writers; i++ {
			if !seen[i] {
				t.Errorf("turn number %d missing", i)
			}
		}
	})
}
