package intent

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/lifeos/internal/llm"
)

// mockGenerator implements llm.Generator for testing.
type mockGenerator struct {
	response string
	err      error
	delay    time.Duration
	calls    int
}

func (m *mockGenerator) Generate(ctx context.Context, _ []llm.Message, _ llm.Options) (string, error) {
	m.calls++
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.response, m.err
}

func TestRuleClassify(t *testing.T) {
	c := NewRuleClassifier(nil)
	tests := []struct {
		name     string
		text     string
		want     Intent
		wantConf float64
	}{
		{"mixed end to end", "我感觉好崩溃，今天事情太多了：写报告，开会，回复邮件", Mixed, 0.85},
		{"greeting", "你好", Casual, 0.6},
		{"pure emotion", "最近压力大，晚上总是焦虑", Emotion, 0.9},
		{"task list", "明天要交报告，还要准备周会的材料", Task, 0.9},
		{"decision", "我在纠结要不要换一份新的城市生活方式", Decision, 0.75},
		{"habit", "我想养成每天早起跑步的习惯", Habit, 0.9},
		{"goal", "今年我的目标是拿到一个新的认证证书", Goal, 0.8},
		{"reflection", "帮我回顾一下这一周过得怎么样吧朋友", Reflection, 0.8},
		{"unknown", "关于宇宙起源的那个理论到底是谁提出的呢", Unknown, 0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.text, Hint{})
			if got.Intent != tt.want {
				t.Fatalf("Classify(%q).Intent = %s (signals %v), want %s", tt.text, got.Intent, got.Signals, tt.want)
			}
			if diff := got.Confidence - tt.wantConf; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.wantConf)
			}
			if got.Mode != ModeFor(got.Intent) {
				t.Errorf("Mode = %s, want %s", got.Mode, ModeFor(got.Intent))
			}
		})
	}
}

func TestRuleClassify_EmotionAndTaskAlwaysMixed(t *testing.T) {
	c := NewRuleClassifier(nil)
	emotion := []string{"累", "焦虑", "崩溃", "我觉得", "stressed"}
	task := []string{"完成", "清单", "回复", "开会", "deadline"}
	for _, e := range emotion {
		for _, k := range task {
			text := fmt.Sprintf("%s，还有%s", e, k)
			got := c.Classify(text, Hint{LastIntent: Goal})
			if got.Intent != Mixed {
				t.Errorf("Classify(%q) = %s, want mixed", text, got.Intent)
			}
		}
	}
}

func TestRuleClassify_ConfidenceCapped(t *testing.T) {
	got := NewRuleClassifier(nil).Classify("今天要做：整理清单、安排日程、复习、回复邮件、联系客户、准备材料", Hint{})
	if got.Intent != Task {
		t.Fatalf("Intent = %s, want task", got.Intent)
	}
	if got.Confidence != 0.95 {
		t.Errorf("Confidence = %v, want capped 0.95", got.Confidence)
	}
}

func TestRuleClassify_FollowUp(t *testing.T) {
	c := NewRuleClassifier(nil)

	got := c.Classify("第二步呢", Hint{LastIntent: Goal})
	if got.Intent != Goal || got.Signals[0] != "followup" {
		t.Errorf("follow-up = %+v, want goal/followup", got)
	}

	got = c.Classify("第二步呢", Hint{})
	if got.Intent != Casual {
		t.Errorf("follow-up without history = %s, want casual", got.Intent)
	}
}

func TestParseTable_Custom(t *testing.T) {
	table, err := ParseTable([]byte(`
casual_max_runes: 3
intents:
  - name: habit
    keywords: [gym]
  - name: goal
    keywords: [gym]
`))
	if err != nil {
		t.Fatalf("ParseTable: %v", err)
	}
	c := NewRuleClassifier(table)
	if got := c.Classify("off to the gym now", Hint{}); got.Intent != Habit {
		t.Errorf("tie-break = %s, want habit (earlier rule)", got.Intent)
	}
	if got := c.Classify("yo", Hint{}); got.Intent != Casual {
		t.Errorf("short input = %s, want casual", got.Intent)
	}
}

func TestParseTable_Errors(t *testing.T) {
	tests := map[string]string{
		"unknown intent": "intents:\n  - name: shopping\n",
		"derived intent": "intents:\n  - name: mixed\n",
		"bad regex":      "intents:\n  - name: task\n    patterns: ['(']\n",
		"duplicate":      "intents:\n  - name: task\n  - name: task\n",
		"bad yaml":       "intents: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseTable([]byte(doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestAssisted_UsesGeneratorLabel(t *testing.T) {
	gen := &mockGenerator{response: "```json\n{\"intent\":\"reflection\",\"confidence\":1.7,\"reasoning\":\"reviewing the day\"}\n```"}
	got := NewAssisted(gen, nil).Classify(context.Background(), "今天过得一般般，想聊聊今天发生的事情", Hint{})

	if got.Intent != Reflection {
		t.Fatalf("Intent = %s, want reflection", got.Intent)
	}
	if got.Confidence != 1 {
		t.Errorf("Confidence = %v, want clamped 1", got.Confidence)
	}
	if got.Reason != "reviewing the day" {
		t.Errorf("Reason = %q", got.Reason)
	}
}

func TestAssisted_Fallbacks(t *testing.T) {
	text := "明天要交报告，还要准备周会的材料"
	tests := []struct {
		name string
		gen  *mockGenerator
	}{
		{"error", &mockGenerator{err: fmt.Errorf("connection refused")}},
		{"malformed", &mockGenerator{response: "not valid json {{{"}},
		{"unknown label", &mockGenerator{response: `{"intent":"shopping","confidence":0.9}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewAssisted(tt.gen, nil).Classify(context.Background(), text, Hint{})
			if got.Intent != Task {
				t.Errorf("Intent = %s, want rule fallback task", got.Intent)
			}
		})
	}
}

func TestAssisted_Timeout(t *testing.T) {
	gen := &mockGenerator{response: `{"intent":"goal"}`, delay: 5 * time.Second}
	a := NewAssisted(gen, nil)
	a.timeout = 50 * time.Millisecond

	start := time.Now()
	got := a.Classify(context.Background(), "你好", Hint{})
	if time.Since(start) > time.Second {
		t.Error("classification did not respect its timeout")
	}
	if got.Intent != Casual {
		t.Errorf("Intent = %s, want casual fallback", got.Intent)
	}
}

func TestAssisted_MixedSkipsGenerator(t *testing.T) {
	gen := &mockGenerator{response: `{"intent":"task","confidence":0.9}`}
	got := NewAssisted(gen, nil).Classify(context.Background(), "好焦虑，要完成三件事", Hint{})
	if got.Intent != Mixed {
		t.Errorf("Intent = %s, want mixed", got.Intent)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times, want 0", gen.calls)
	}
}

func TestBuildPrompt(t *testing.T) {
	msgs := BuildPrompt("hi", Hint{Summary: "用户: 写报告", LastIntent: Task})
	if len(msgs) != 2 || msgs[0].Role != llm.RoleSystem || msgs[1].Content != "hi" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if !strings.Contains(msgs[0].Content, "[Recent Conversation]") || !strings.Contains(msgs[0].Content, `"task"`) {
		t.Error("system prompt is missing conversation context")
	}
}

func TestRoute(t *testing.T) {
	if Route(Mixed) != NodeTaskExtraction {
		t.Errorf("Route(mixed) = %s", Route(Mixed))
	}
	if Route(Unknown) != NodeClarification || Route("bogus") != NodeClarification {
		t.Error("unknown intents must route to clarification")
	}
	for _, i := range All {
		if _, ok := Routes()[string(i)]; !ok {
			t.Errorf("intent %s has no route", i)
		}
	}
}
