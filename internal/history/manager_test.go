package history_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/lifeos/internal/history"
	"github.com/kalambet/lifeos/internal/history/historytest"
	"github.com/kalambet/lifeos/internal/intent"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// conflictStore fails the first AppendTurn with ErrTurnConflict.
type conflictStore struct {
	*history.MemStore
	mu        sync.Mutex
	conflicts int
	calls     int
}

func (c *conflictStore) AppendTurn(ctx context.Context, t history.Turn) (int, error) {
	c.mu.Lock()
	c.calls++
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return 0, history.ErrTurnConflict
	}
	c.mu.Unlock()
	return c.MemStore.AppendTurn(ctx, t)
}

func TestMemStoreContract(t *testing.T) {
	historytest.Run(t, func(*testing.T) history.Store { return history.NewMemStore() })
}

func TestCreateSession(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 2, 3, 14, 5, 6, 0, time.UTC)
	m := history.NewManagerWithClock(history.NewMemStore(), fixedClock{now})

	id, err := m.CreateSession(ctx, "alice", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !regexp.MustCompile(`^alice_20250203_140506_[0-9a-f]{8}$`).MatchString(id) {
		t.Errorf("generated id %q has wrong shape", id)
	}

	again, err := m.CreateSession(ctx, "alice", id)
	if err != nil || again != id {
		t.Errorf("CreateSession(existing) = %q, %v", again, err)
	}

	if _, err := m.CreateSession(ctx, "", ""); err == nil {
		t.Error("expected error for empty user id")
	}

	if _, err := m.CreateSession(ctx, "bob", id); !errors.Is(err, history.ErrSessionOwner) {
		t.Errorf("CreateSession(other user's id) err = %v, want ErrSessionOwner", err)
	}
}

func TestAddTurnAndHistory(t *testing.T) {
	ctx := context.Background()
	m := history.NewManager(history.NewMemStore())
	id, _ := m.CreateSession(ctx, "u1", "s1")

	for i := 1; i <= 7; i++ {
		n, err := m.AddTurn(ctx, history.TurnInput{
			SessionID:   id,
			UserID:      "u1",
			UserMessage: strings.Repeat("x", i),
			Intent:      intent.Task,
		})
		if err != nil {
			t.Fatalf("AddTurn: %v", err)
		}
		if n != i {
			t.Errorf("AddTurn #%d returned %d", i, n)
		}
	}

	turns, err := m.History(ctx, id, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != history.DefaultWindow || turns[0].Number != 3 || turns[4].Number != 7 {
		t.Errorf("History = %d turns from %d", len(turns), turns[0].Number)
	}

	stats, err := m.Stats(ctx, id)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalTurns != 7 || stats.IntentDistribution["task"] != 7 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestStats_UnknownSession(t *testing.T) {
	m := history.NewManager(history.NewMemStore())
	if _, err := m.Stats(context.Background(), "missing"); !errors.Is(err, history.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAddTurn_RetriesConflictOnce(t *testing.T) {
	ctx := context.Background()
	store := &conflictStore{MemStore: history.NewMemStore(), conflicts: 1}
	m := history.NewManager(store)

	n, err := m.AddTurn(ctx, history.TurnInput{SessionID: "s1", UserID: "u1"})
	if err != nil || n != 1 {
		t.Fatalf("AddTurn = %d, %v", n, err)
	}
	if store.calls != 2 {
		t.Errorf("store called %d times, want 2", store.calls)
	}

	store.conflicts = 2
	if _, err := m.AddTurn(ctx, history.TurnInput{SessionID: "s1", UserID: "u1"}); !errors.Is(err, history.ErrTurnConflict) {
		t.Errorf("err = %v, want ErrTurnConflict after second conflict", err)
	}
}

func TestAddTurn_ConcurrentSameSession(t *testing.T) {
	ctx := context.Background()
	m := history.NewManager(history.NewMemStore())

	const writers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int]bool)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := m.AddTurn(ctx, history.TurnInput{SessionID: "s1", UserID: "u1", Intent: intent.Casual})
			if err != nil {
				t.Errorf("AddTurn: %v", err)
				return
			}
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	for i := 1; i <= writers; i++ {
		if !seen[i] {
			t.Errorf("turn %d missing", i)
		}
	}
}

func TestContextSummary(t *testing.T) {
	if got := history.ContextSummary(nil); got != "这是新对话的开始。" {
		t.Errorf("empty summary = %q", got)
	}

	turns := []history.Turn{
		{UserMessage: "第一轮", Intent: intent.Casual},
		{UserMessage: "帮我安排一下今天", Intent: intent.Task, AssistantMessage: strings.Repeat("好", 100)},
		{UserMessage: "下一步呢", Intent: intent.Task, AssistantMessage: "第二步"},
	}
	got := history.ContextSummary(turns)
	if !strings.HasPrefix(got, "历史对话共 3 轮") {
		t.Errorf("summary header: %q", got)
	}
	if strings.Contains(got, "第一轮") {
		t.Error("summary includes more than the last two turns")
	}
	if !strings.Contains(got, strings.Repeat("好", 80)+"...") || strings.Contains(got, strings.Repeat("好", 81)) {
		t.Error("assistant text not truncated to 80 runes")
	}

	h := history.Hint(turns)
	if h.LastIntent != intent.Task || h.Summary != got {
		t.Errorf("Hint = %+v", h)
	}
}

func TestSimilar(t *testing.T) {
	ctx := context.Background()
	m := history.NewManager(history.NewMemStore())
	m.AddTurn(ctx, history.TurnInput{SessionID: "s1", UserID: "u1", Intent: intent.Goal, UserMessage: "学英语"})
	m.AddTurn(ctx, history.TurnInput{SessionID: "s1", UserID: "u1", Intent: intent.Task})

	turns, err := m.Similar(ctx, "u1", intent.Goal, 0)
	if err != nil {
		t.Fatalf("Similar: %v", err)
	}
	if len(turns) != 1 || turns[0].UserMessage != "学英语" {
		t.Errorf("Similar = %+v", turns)
	}
}
