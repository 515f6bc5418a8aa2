package nodes

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/lifeos/internal/history"
	"github.com/kalambet/lifeos/internal/intent"
	"github.com/kalambet/lifeos/internal/llm"
	"github.com/kalambet/lifeos/internal/pipeline"
	"github.com/kalambet/lifeos/internal/profile"
	"github.com/kalambet/lifeos/internal/tasks"
)

// mockGenerator implements llm.Generator for testing.
type mockGenerator struct {
	response string
	err      error
	delay    time.Duration
	calls    int
	last     []llm.Message
}

func (m *mockGenerator) Generate(ctx context.Context, msgs []llm.Message, _ llm.Options) (string, error) {
	m.calls++
	m.last = msgs
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.response, m.err
}

type stubProfiles struct {
	p   profile.UserProfile
	err error
}

func (s *stubProfiles) Get(_ context.Context, userID string) (profile.UserProfile, error) {
	if s.err != nil {
		return profile.Default(userID), s.err
	}
	return s.p, nil
}

const mixedInput = "我感觉好崩溃，今天事情太多了：写报告，开会，回复邮件"

func newState(input string) pipeline.State {
	return pipeline.State{UserID: "u1", SessionID: "s1", UserInput: input}
}

// chain runs fns in order, merging each update like the executor does.
func chain(t *testing.T, s pipeline.State, fns ...pipeline.Node) pipeline.State {
	t.Helper()
	for _, fn := range fns {
		u, err := fn(context.Background(), s)
		if err != nil {
			t.Fatalf("node returned error: %v", err)
		}
		s = pipeline.Apply(s, u)
	}
	return s
}

func TestClassify(t *testing.T) {
	n := New(Deps{})
	s := chain(t, newState(mixedInput), n.Classify)
	if s.Intent != intent.Mixed {
		t.Errorf("Intent = %s, want mixed", s.Intent)
	}
	if s.Mode != intent.ModeMixed {
		t.Errorf("Mode = %s", s.Mode)
	}
	if len(s.ProcessingSteps) != 1 || !strings.Contains(s.ProcessingSteps[0], intent.NodeTaskExtraction) {
		t.Errorf("ProcessingSteps = %v", s.ProcessingSteps)
	}
}

func TestTaskExtraction_Generator(t *testing.T) {
	gen := &mockGenerator{response: "```json\n[\"写报告\", \"1. 开会\", \"写报告\", \"\"]\n```"}
	n := New(Deps{Generator: gen})
	s := chain(t, newState(mixedInput), n.TaskExtraction)

	if diff := cmp.Diff([]string{"写报告", "开会"}, s.RawTasks); diff != "" {
		t.Errorf("RawTasks mismatch (-want +got):\n%s", diff)
	}
	if len(s.Errors) != 0 {
		t.Errorf("Errors = %v", s.Errors)
	}
}

func TestTaskExtraction_ObjectShape(t *testing.T) {
	gen := &mockGenerator{response: `{"tasks": [{"title": "写报告"}, "开会"]}`}
	n := New(Deps{Generator: gen})
	s := chain(t, newState(mixedInput), n.TaskExtraction)
	if diff := cmp.Diff([]string{"写报告", "开会"}, s.RawTasks); diff != "" {
		t.Errorf("RawTasks mismatch (-want +got):\n%s", diff)
	}
}

func TestTaskExtraction_Fallbacks(t *testing.T) {
	want := []string{"写报告", "开会", "回复邮件"}
	tests := []struct {
		name       string
		gen        llm.Generator
		wantErrors int
	}{
		{"unconfigured", nil, 0},
		{"generator error", &mockGenerator{err: errors.New("connection refused")}, 1},
		{"malformed", &mockGenerator{response: "sure, here are your tasks"}, 1},
		{"empty list", &mockGenerator{response: "[]"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := New(Deps{Generator: tt.gen})
			s := chain(t, newState(mixedInput), n.TaskExtraction)
			if diff := cmp.Diff(want, s.RawTasks); diff != "" {
				t.Errorf("RawTasks mismatch (-want +got):\n%s", diff)
			}
			if len(s.Errors) != tt.wantErrors {
				t.Errorf("Errors = %v, want %d entries", s.Errors, tt.wantErrors)
			}
			for _, e := range s.Errors {
				if !strings.HasPrefix(e, intent.NodeTaskExtraction+": ") {
					t.Errorf("error %q not attributed to the node", e)
				}
			}
		})
	}
}

func TestTaskExtraction_FollowUpReusesHistory(t *testing.T) {
	gen := &mockGenerator{response: `["怎么做"]`}
	n := New(Deps{Generator: gen})
	s := newState("第一个怎么做")
	s.Signals = []string{"followup"}
	s.History = []history.Turn{
		{Number: 1, Extracted: map[string]any{"tasks": []any{"写报告", "开会"}}},
		{Number: 2, Extracted: map[string]any{"tasks": []any{}}},
	}

	s = chain(t, s, n.TaskExtraction)
	if diff := cmp.Diff([]string{"写报告", "开会"}, s.RawTasks); diff != "" {
		t.Errorf("RawTasks mismatch (-want +got):\n%s", diff)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times for a follow-up", gen.calls)
	}
}

func TestTaskChain(t *testing.T) {
	n := New(Deps{})
	s := newState(mixedInput)
	s.Intent = intent.Mixed

	s = chain(t, s, n.TaskExtraction, n.TaskAnalysis, n.PrioritySort, n.ActionDecompose, n.Personalize, n.OutputCompose)

	if len(s.HighPriority)+len(s.MediumPriority)+len(s.LowPriority) != 3 {
		t.Fatalf("buckets do not cover all tasks: %+v %+v %+v", s.HighPriority, s.MediumPriority, s.LowPriority)
	}
	if diff := cmp.Diff([]string{"回复邮件"}, s.Deferrable); diff != "" {
		t.Errorf("Deferrable mismatch (-want +got):\n%s", diff)
	}
	if s.RecommendedTask == nil || s.RecommendedTask.Title != "写报告" {
		t.Fatalf("RecommendedTask = %+v, want 写报告", s.RecommendedTask)
	}
	if got := tasks.TotalMinutes(s.ActionSteps); got != 60 {
		t.Errorf("steps sum to %d, want 60", got)
	}
	if s.QuickStart == nil || s.QuickStart.EstimatedMinutes > 5 {
		t.Errorf("QuickStart = %+v, want a step of at most 5 minutes", s.QuickStart)
	}
	if s.Profile == nil || !s.Profile.PrefersShortTasks {
		t.Errorf("Profile = %+v, want defaults", s.Profile)
	}

	out := s.FinalOutput
	if !strings.HasPrefix(out, MixedAcknowledgment) {
		t.Errorf("mixed reply does not open with the acknowledgment:\n%s", out)
	}
	if strings.Count(out, MixedAcknowledgment) != 1 {
		t.Errorf("acknowledgment repeated:\n%s", out)
	}
	for _, want := range []string{"写报告", "开会", "回复邮件", "【下一步行动】", adjustmentHead} {
		if !strings.Contains(out, want) {
			t.Errorf("reply missing %q:\n%s", want, out)
		}
	}
}

func TestPersonalize_ShortestStep(t *testing.T) {
	n := New(Deps{Profiles: &stubProfiles{p: profile.Default("u1")}})
	s := newState("x")
	s.ActionSteps = []tasks.Step{
		{Number: 1, Description: "a", EstimatedMinutes: 5},
		{Number: 2, Description: "b", EstimatedMinutes: 3},
		{Number: 3, Description: "c", EstimatedMinutes: 3},
	}
	s.QuickStart = &s.ActionSteps[0]

	s = chain(t, s, n.Personalize)
	if s.QuickStart == nil || s.QuickStart.Number != 2 {
		t.Errorf("QuickStart = %+v, want step 2", s.QuickStart)
	}
}

func TestPersonalize_ShortestSkipsReview(t *testing.T) {
	n := New(Deps{Profiles: &stubProfiles{p: profile.Default("u1")}})
	s := newState("x")
	s.ActionSteps = tasks.Decompose("回复邮件", 10)
	s.QuickStart = &s.ActionSteps[0]

	s = chain(t, s, n.Personalize)
	if s.QuickStart == nil || s.QuickStart.Type == tasks.StepReview {
		t.Fatalf("QuickStart = %+v, want a non-review step", s.QuickStart)
	}
	if s.QuickStart.Number != 2 || s.QuickStart.EstimatedMinutes != 2 {
		t.Errorf("QuickStart = %+v, want step 2 at 2 minutes", s.QuickStart)
	}
	for _, a := range s.PersonalizedAdjustments {
		if strings.Contains(a, "检查") {
			t.Errorf("adjustment points at the review step: %q", a)
		}
	}
}

func TestPersonalize_ProfileNotes(t *testing.T) {
	p := profile.Default("u1")
	p.MorningProductivity = true
	p.PrefersShortTasks = false
	p.DistractedByPhone = true
	p.NeedsFrequentBreaks = true
	p.LongTermGoals = []string{"报告"}
	n := New(Deps{Profiles: &stubProfiles{p: p}})

	s := newState(mixedInput)
	s = chain(t, s, n.TaskExtraction, n.TaskAnalysis, n.PrioritySort, n.ActionDecompose)
	first := *s.QuickStart
	s = chain(t, s, n.Personalize)

	if *s.QuickStart != first {
		t.Errorf("QuickStart changed without a short-task preference: %+v", s.QuickStart)
	}
	joined := strings.Join(s.PersonalizedAdjustments, "\n")
	for _, want := range []string{"上午", "1 个任务可以延后", "勿扰", "休息", "「写报告」与你的目标「报告」相关"} {
		if !strings.Contains(joined, want) {
			t.Errorf("adjustments missing %q:\n%s", want, joined)
		}
	}
}

func TestPersonalize_ProfileError(t *testing.T) {
	n := New(Deps{Profiles: &stubProfiles{err: errors.New("db down")}})
	s := chain(t, newState("x"), n.Personalize)
	if s.Profile == nil || s.Profile.UserID != "u1" {
		t.Errorf("Profile = %+v, want default for u1", s.Profile)
	}
	if len(s.Errors) != 1 || !strings.HasPrefix(s.Errors[0], "profile: ") {
		t.Errorf("Errors = %v", s.Errors)
	}
}

func TestEmotionSupport(t *testing.T) {
	gen := &mockGenerator{response: `{"empathy_response": "听起来你真的很累了。", "suggestions": ["先喝杯水", "列出最重要的一件事", "早点休息", "第四条"]}`}
	p := profile.Default("u1")
	p.MorningProductivity = true
	n := New(Deps{Generator: gen, Profiles: &stubProfiles{p: p}})
	s := newState("最近压力好大")
	s.ContextSummary = "这是新对话的开始。"

	s = chain(t, s, n.EmotionSupport)
	want := "听起来你真的很累了。\n\n建议：\n• 先喝杯水\n• 列出最重要的一件事\n• 早点休息"
	if s.FinalOutput != want {
		t.Errorf("FinalOutput = %q, want %q", s.FinalOutput, want)
	}
	if len(gen.last) != 2 || gen.last[0].Role != llm.RoleSystem || gen.last[1].Content != "最近压力好大" {
		t.Fatalf("messages = %+v", gen.last)
	}
	sys := gen.last[0].Content
	if !strings.Contains(sys, "早上效率高") || !strings.Contains(sys, "这是新对话的开始。") {
		t.Errorf("system prompt lacks profile or context:\n%s", sys)
	}
}

func TestCoaching_Fallbacks(t *testing.T) {
	tests := []struct {
		name string
		node func(*Nodes) pipeline.Node
		want string
	}{
		{intent.NodeEmotionSupport, func(n *Nodes) pipeline.Node { return n.EmotionSupport }, emotionFallback},
		{intent.NodeHabitCoach, func(n *Nodes) pipeline.Node { return n.HabitCoach }, habitFallback},
		{intent.NodeGoalPlanning, func(n *Nodes) pipeline.Node { return n.GoalPlanning }, goalFallback},
		{intent.NodeReflection, func(n *Nodes) pipeline.Node { return n.ReflectionGuide }, reflectionFallback},
	}
	gens := map[string]func() llm.Generator{
		"error":     func() llm.Generator { return &mockGenerator{err: errors.New("timeout")} },
		"malformed": func() llm.Generator { return &mockGenerator{response: "not json"} },
		"wrong":     func() llm.Generator { return &mockGenerator{response: `{"unexpected": 1}`} },
	}
	for _, tt := range tests {
		for kind, gen := range gens {
			t.Run(tt.name+"/"+kind, func(t *testing.T) {
				n := New(Deps{Generator: gen()})
				s := chain(t, newState("hello"), tt.node(n))
				if s.FinalOutput != tt.want {
					t.Errorf("FinalOutput = %q, want fallback %q", s.FinalOutput, tt.want)
				}
				if len(s.Errors) != 1 || !strings.HasPrefix(s.Errors[0], tt.name+": ") {
					t.Errorf("Errors = %v", s.Errors)
				}
			})
		}
	}
}

func TestCoaching_TimeoutHonoursContext(t *testing.T) {
	gen := &mockGenerator{response: `{}`, delay: time.Second}
	n := New(Deps{Generator: gen})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	u, err := n.EmotionSupport(ctx, newState("好累"))
	if err != nil {
		t.Fatalf("EmotionSupport returned error: %v", err)
	}
	if u.AppendOutput != emotionFallback {
		t.Errorf("AppendOutput = %q, want fallback", u.AppendOutput)
	}
	if len(u.Errors) != 1 || !strings.Contains(u.Errors[0], "deadline") {
		t.Errorf("Errors = %v", u.Errors)
	}
}

func TestHabitCoach(t *testing.T) {
	gen := &mockGenerator{response: `{"habit_plan": {"habit_name": "早起跑步", "frequency": "每天", "trigger": "闹钟响后"}, "motivation_message": "你可以的！"}`}
	n := New(Deps{Generator: gen})
	s := chain(t, newState("我想养成跑步的习惯"), n.HabitCoach)

	for _, want := range []string{"📌 习惯：早起跑步", "⏰ 频率：每天", "🎯 触发：闹钟响后", "🎁 奖励：完成后奖励自己", "💪 你可以的！"} {
		if !strings.Contains(s.FinalOutput, want) {
			t.Errorf("reply missing %q:\n%s", want, s.FinalOutput)
		}
	}
}

func TestGoalPlanning(t *testing.T) {
	gen := &mockGenerator{response: `{
		"goal": "学会 Go",
		"why": "换工作",
		"milestones": [{"milestone": "基础语法", "deadline": "第1周", "actions": ["读 Tour of Go", "写小工具"]}],
		"first_step": {"action": "安装 Go", "time_required": "10分钟"},
		"tips": ["每天写一点"]
	}`}
	n := New(Deps{Generator: gen})
	s := chain(t, newState("我的目标是学会 Go"), n.GoalPlanning)

	for _, want := range []string{"🎯 **目标**: 学会 Go", "**阶段1: 基础语法** (第1周)", "   ✓ 读 Tour of Go", "   📝 安装 Go", "⏱️ 预计耗时: 10分钟", "   • 每天写一点"} {
		if !strings.Contains(s.FinalOutput, want) {
			t.Errorf("reply missing %q:\n%s", want, s.FinalOutput)
		}
	}
	if s.Extracted["goal"] != "学会 Go" {
		t.Errorf("Extracted = %v", s.Extracted)
	}
}

func TestGoalPlanning_Continuation(t *testing.T) {
	gen := &mockGenerator{response: `{"is_continuation": true, "step_number": 3, "action": "写一个 CLI", "expected_result": "能跑起来"}`}
	n := New(Deps{Generator: gen})
	s := chain(t, newState("第三步怎么做"), n.GoalPlanning)

	want := "🚀 **第3步**:\n\n📝 **行动**: 写一个 CLI\n\n✨ **预期成果**: 能跑起来"
	if s.FinalOutput != want {
		t.Errorf("FinalOutput = %q, want %q", s.FinalOutput, want)
	}
}

func TestReflectionGuide(t *testing.T) {
	gen := &mockGenerator{response: `{"summary": "这周很充实", "achievements": ["完成报告"], "learnings": []}`}
	n := New(Deps{Generator: gen})
	s := chain(t, newState("帮我回顾一下这周"), n.ReflectionGuide)

	want := "📊 这周很充实\n\n✅ 成就：\n• 完成报告"
	if s.FinalOutput != want {
		t.Errorf("FinalOutput = %q, want %q", s.FinalOutput, want)
	}
}

func TestCasualChat(t *testing.T) {
	t.Run("generated", func(t *testing.T) {
		gen := &mockGenerator{response: "  今天也要开心哦！  "}
		n := New(Deps{Generator: gen})
		s := chain(t, newState("嗨"), n.CasualChat)
		if s.FinalOutput != "今天也要开心哦！" {
			t.Errorf("FinalOutput = %q", s.FinalOutput)
		}
	})

	tests := []struct {
		input string
		want  string
	}{
		{"你好", greetingReply},
		{"Hi there", greetingReply},
		{"hi, 在吗", greetingReply},
		{"this", presenceReply},
		{"nothing much", presenceReply},
		{"which one", presenceReply},
		{"你有什么功能", capabilitiesReply},
		{"谢谢你", thanksReply},
		{"在吗", presenceReply},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			n := New(Deps{})
			s := chain(t, newState(tt.input), n.CasualChat)
			if s.FinalOutput != tt.want {
				t.Errorf("FinalOutput = %q, want %q", s.FinalOutput, tt.want)
			}
			if len(s.Errors) != 0 {
				t.Errorf("Errors = %v", s.Errors)
			}
		})
	}
}

func TestClarification(t *testing.T) {
	n := New(Deps{})
	s := chain(t, newState("嗯"), n.Clarification, n.OutputCompose)
	if !s.NeedsClarification {
		t.Error("NeedsClarification not set")
	}
	if s.FinalOutput != clarificationPrompt {
		t.Errorf("FinalOutput = %q", s.FinalOutput)
	}
}

func TestOutputCompose(t *testing.T) {
	n := New(Deps{})

	t.Run("empty task reply", func(t *testing.T) {
		s := newState("帮我安排")
		s.Intent = intent.Task
		s = chain(t, s, n.OutputCompose)
		if s.FinalOutput != noTasksReply {
			t.Errorf("FinalOutput = %q", s.FinalOutput)
		}
	})

	t.Run("empty other reply", func(t *testing.T) {
		s := newState("嗯嗯")
		s.Intent = intent.Unknown
		s = chain(t, s, n.OutputCompose)
		if s.FinalOutput != acceptedReply {
			t.Errorf("FinalOutput = %q", s.FinalOutput)
		}
	})

	t.Run("appends personalization once", func(t *testing.T) {
		s := newState("x")
		s.FinalOutput = "已有回复"
		s.PersonalizedAdjustments = []string{"早上做"}
		s = chain(t, s, n.OutputCompose, n.OutputCompose)
		want := "已有回复\n\n" + adjustmentHead + "\n• 早上做"
		if s.FinalOutput != want {
			t.Errorf("FinalOutput = %q, want %q", s.FinalOutput, want)
		}
	})

	t.Run("keeps reply", func(t *testing.T) {
		s := newState("x")
		s.FinalOutput = "已有回复"
		s = chain(t, s, n.OutputCompose)
		if s.FinalOutput != "已有回复" {
			t.Errorf("FinalOutput = %q", s.FinalOutput)
		}
	})

	t.Run("caps listed tasks", func(t *testing.T) {
		s := newState("x")
		for range 7 {
			s.MediumPriority = append(s.MediumPriority, tasks.Task{Title: "开会", Priority: tasks.Medium})
		}
		s = chain(t, s, n.OutputCompose)
		if !strings.Contains(s.FinalOutput, "…还有 2 个") || !strings.Contains(s.FinalOutput, "整理了 7 个任务") {
			t.Errorf("FinalOutput = %q", s.FinalOutput)
		}
	})
}

func TestApology(t *testing.T) {
	n := New(Deps{})
	s := newState("x")
	s.FinalOutput = "部分结果"
	s = chain(t, s, n.Apology, n.Apology)
	want := "部分结果\n\n" + pipeline.DefaultApology
	if s.FinalOutput != want {
		t.Errorf("FinalOutput = %q, want %q", s.FinalOutput, want)
	}
}

func TestCompose_Budget(t *testing.T) {
	long := strings.Repeat("很长的上下文", 500)
	msgs := compose("指令", "画像", long, "输入")
	sys := msgs[0].Content
	if n := len([]rune(sys)); n > maxContextRunes+100 {
		t.Errorf("system prompt has %d runes, want at most about %d", n, maxContextRunes)
	}
	if !strings.HasPrefix(sys, "指令") || !strings.Contains(sys, "画像") || !strings.HasSuffix(sys, "很长的上下文") {
		t.Errorf("unexpected system prompt layout: %.60q", sys)
	}
}
