package api

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/lifeos/internal/orchestrator"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) MCPDeps {
	t.Helper()
	c, err := orchestrator.New(orchestrator.Context{})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	return MCPDeps{
		Chat:        c,
		Memory:      c.Memory(),
		Profiles:    c.Profiles(),
		History:     c.History(),
		DefaultUser: "u1",
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func call(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) *mcp.CallToolResult {
	t.Helper()
	result, err := h(context.Background(), makeCallToolRequest("tool", args))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return result
}

// --- tests ---

func TestNewMCPServer(t *testing.T) {
	if NewMCPServer(newTestMCPDeps(t)) == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_Chat(t *testing.T) {
	deps := newTestMCPDeps(t)

	result := call(t, mcpChat(deps), map[string]any{"message": "你好"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var res orchestrator.Result
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("parsing result: %v", err)
	}
	if res.FinalOutput == "" || !strings.HasPrefix(res.SessionID, "u1_") {
		t.Errorf("result = %+v", res)
	}

	result = call(t, mcpChat(deps), map[string]any{"message": "谢谢", "session_id": res.SessionID})
	var next orchestrator.Result
	json.Unmarshal([]byte(toolText(t, result)), &next)
	if next.TurnNumber != 2 {
		t.Errorf("turn = %d, want 2", next.TurnNumber)
	}
}

func TestMCPTool_Chat_ForeignSession(t *testing.T) {
	deps := newTestMCPDeps(t)

	result := call(t, mcpChat(deps), map[string]any{"message": "你好", "user_id": "alice"})
	var res orchestrator.Result
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("parsing result: %v", err)
	}

	result = call(t, mcpChat(deps), map[string]any{"message": "下一步", "session_id": res.SessionID})
	if !result.IsError || !strings.Contains(toolText(t, result), "another user") {
		t.Errorf("result = %s, want ownership error", toolText(t, result))
	}
}

func TestMCPTool_Chat_MissingMessage(t *testing.T) {
	result := call(t, mcpChat(newTestMCPDeps(t)), map[string]any{})
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPTool_RememberAndRecall(t *testing.T) {
	deps := newTestMCPDeps(t)

	result := call(t, mcpRemember(deps), map[string]any{"key": "morning_productivity", "value": "true"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	result = call(t, mcpRemember(deps), map[string]any{
		"key": "exam", "value": "周五考试", "type": "fact", "ttl_days": 7,
	})
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	if got := toolText(t, call(t, mcpRecall(deps), map[string]any{"key": "morning_productivity"})); got != "true" {
		t.Errorf("recall key = %s, want true (decoded JSON)", got)
	}
	if got := toolText(t, call(t, mcpRecall(deps), map[string]any{"key": "exam"})); got != `"周五考试"` {
		t.Errorf("recall text = %s", got)
	}
	if got := toolText(t, call(t, mcpRecall(deps), map[string]any{"key": "missing"})); got != "null" {
		t.Errorf("recall missing = %s, want null", got)
	}

	var views []MemoryView
	text := toolText(t, call(t, mcpRecall(deps), map[string]any{"query": "考试"}))
	if err := json.Unmarshal([]byte(text), &views); err != nil {
		t.Fatalf("parsing search: %v", err)
	}
	if len(views) != 1 || views[0].Key != "exam" {
		t.Errorf("search = %+v", views)
	}

	p, err := deps.Profiles.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if !p.MorningProductivity {
		t.Error("remembered preference not reflected in profile")
	}
}

func TestMCPTool_Remember_Invalid(t *testing.T) {
	deps := newTestMCPDeps(t)
	for name, args := range map[string]map[string]any{
		"no key":   {"value": "x"},
		"no value": {"key": "k"},
		"bad type": {"key": "k", "value": "x", "type": "opinion"},
	} {
		t.Run(name, func(t *testing.T) {
			if !call(t, mcpRemember(deps), args).IsError {
				t.Error("expected error result")
			}
		})
	}
	if !call(t, mcpRecall(deps), map[string]any{}).IsError {
		t.Error("recall without key or query should fail")
	}
}

func TestMCPTool_Forget(t *testing.T) {
	deps := newTestMCPDeps(t)
	ctx := context.Background()
	deps.Memory.Remember(ctx, "u1", "a", 1, "fact", nil, "user")
	deps.Memory.Remember(ctx, "u1", "b", 2, "fact", nil, "user")

	if got := toolText(t, call(t, mcpForget(deps), map[string]any{"key": "a"})); got != "Forgot a" {
		t.Errorf("forget = %q", got)
	}
	if got := toolText(t, call(t, mcpForget(deps), map[string]any{"key": "a"})); !strings.Contains(got, "No memory") {
		t.Errorf("second forget = %q", got)
	}
	if got := toolText(t, call(t, mcpForget(deps), map[string]any{"all": true})); !strings.Contains(got, "everything") {
		t.Errorf("forget all = %q", got)
	}
	if got := toolText(t, call(t, mcpForget(deps), map[string]any{"all": true})); got != "Nothing to forget" {
		t.Errorf("second forget all = %q", got)
	}
	if !call(t, mcpForget(deps), map[string]any{}).IsError {
		t.Error("forget without key should fail")
	}
}

func TestMCPTool_SessionHistory(t *testing.T) {
	deps := newTestMCPDeps(t)
	res, err := deps.Chat.Run(context.Background(), "u1", "你好", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	text := toolText(t, call(t, mcpSessionHistory(deps), map[string]any{"session_id": res.SessionID}))
	var turns []map[string]any
	if err := json.Unmarshal([]byte(text), &turns); err != nil {
		t.Fatalf("parsing history: %v", err)
	}
	if len(turns) != 1 || turns[0]["user_message"] != "你好" {
		t.Errorf("turns = %v", turns)
	}

	if got := toolText(t, call(t, mcpSessionHistory(deps), map[string]any{"session_id": "nope"})); got != "[]" {
		t.Errorf("unknown session = %s, want []", got)
	}
	if !call(t, mcpSessionHistory(deps), map[string]any{}).IsError {
		t.Error("missing session_id should fail")
	}
}

func TestMCPTool_SimilarTurns(t *testing.T) {
	deps := newTestMCPDeps(t)
	ctx := context.Background()
	for _, in := range []struct{ user, msg string }{
		{"u1", "我想养成每天跑步的习惯"},
		{"u1", "你好"},
		{"u1", "我想坚持打卡健身"},
		{"u2", "我想养成早起的习惯"},
	} {
		if _, err := deps.Chat.Run(ctx, in.user, in.msg, ""); err != nil {
			t.Fatalf("Run(%q): %v", in.msg, err)
		}
	}

	text := toolText(t, call(t, mcpSimilarTurns(deps), map[string]any{"intent": "habit"}))
	var turns []map[string]any
	if err := json.Unmarshal([]byte(text), &turns); err != nil {
		t.Fatalf("parsing turns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2: %s", len(turns), text)
	}
	for _, tr := range turns {
		if tr["intent"] != "habit" || tr["user_id"] != "u1" {
			t.Errorf("turn = %v, want a habit turn of u1", tr)
		}
	}

	text = toolText(t, call(t, mcpSimilarTurns(deps), map[string]any{"intent": "habit", "user_id": "u2", "limit": 5}))
	if err := json.Unmarshal([]byte(text), &turns); err != nil {
		t.Fatalf("parsing turns: %v", err)
	}
	if len(turns) != 1 || turns[0]["user_message"] != "我想养成早起的习惯" {
		t.Errorf("u2 turns = %v", turns)
	}

	if got := toolText(t, call(t, mcpSimilarTurns(deps), map[string]any{"intent": "reflection"})); got != "[]" {
		t.Errorf("no matching turns = %s, want []", got)
	}
	if !call(t, mcpSimilarTurns(deps), map[string]any{"intent": "weather"}).IsError {
		t.Error("unknown intent should fail")
	}
	if !call(t, mcpSimilarTurns(deps), map[string]any{}).IsError {
		t.Error("missing intent should fail")
	}
}

func TestMCPResource_Profile(t *testing.T) {
	deps := newTestMCPDeps(t)
	deps.Memory.Remember(context.Background(), "u2", "weekly_focus", "写论文", "preference", nil, "user")
	handler := mcpResourceProfile(deps)

	contents, err := handler(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "profile://u2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var p map[string]any
	if err := json.Unmarshal([]byte(tc.Text), &p); err != nil {
		t.Fatalf("parsing profile: %v", err)
	}
	if p["user_id"] != "u2" || p["weekly_focus"] != "写论文" {
		t.Errorf("profile = %v", p)
	}

	if _, err := handler(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "user://profile"},
	}); err == nil {
		t.Error("expected error for a uri without user id")
	}
}

func TestMCPServer_ConcurrentCalls(t *testing.T) {
	deps := newTestMCPDeps(t)
	remember := mcpRemember(deps)
	recall := mcpRecall(deps)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := string(rune('a' + i))
			if r, _ := remember(context.Background(), makeCallToolRequest("remember", map[string]any{"key": key, "value": "1"})); r.IsError {
				t.Errorf("remember %s failed", key)
			}
			if r, _ := recall(context.Background(), makeCallToolRequest("recall", map[string]any{"key": key})); r.IsError {
				t.Errorf("recall %s failed", key)
			}
		}()
	}
	wg.Wait()

	entries, err := deps.Memory.Entries(context.Background(), "u1", "")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 20 {
		t.Errorf("entries = %d, want 20", len(entries))
	}
}
