package nodes

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/kalambet/lifeos/internal/intent"
	"github.com/kalambet/lifeos/internal/llm"
	"github.com/kalambet/lifeos/internal/parse"
	"github.com/kalambet/lifeos/internal/pipeline"
	"github.com/kalambet/lifeos/internal/profile"
)

const (
	emotionFallback    = "我理解你现在的感受。要不要先休息一下，然后我们一起整理思路？"
	habitFallback      = "好的！要养成新习惯，建议：\n1. 从小目标开始\n2. 设定固定时间\n3. 记录打卡"
	goalFallback       = "好的！让我们把大目标拆解成小步骤，一步步实现！"
	reflectionFallback = "让我们一起回顾一下：\n1. 这段时间完成了什么？\n2. 有什么收获？\n3. 下一步怎么做？"

	greetingReply     = "你好！我是 LifeOS 智能助理 😊\n\n我可以帮你：\n• 管理任务和待办\n• 追踪习惯打卡\n• 设定和拆解目标\n• 记录反思总结\n• 提供情绪支持\n\n有什么可以帮到你的吗？"
	capabilitiesReply = "我有这些能力：\n\n1. 📋 任务管理：整理待办，智能排序\n2. 🎯 习惯追踪：打卡记录，数据统计\n3. 🌟 目标规划：拆解目标，制定计划\n4. 📝 反思总结：定期回顾，持续改进\n5. 💚 情绪支持：倾听理解，温暖陪伴\n\n试试告诉我你现在想做什么吧！"
	thanksReply       = "不客气！😊 很高兴能帮到你。有其他需要随时告诉我哦！"
	presenceReply     = "我在呢！有什么可以帮你的吗？😊"
)

// maxListItems caps every bullet list rendered from generator output.
const maxListItems = 3

// messages builds the generator input for a coaching node.
func (n *Nodes) messages(ctx context.Context, s pipeline.State, instructions string) ([]llm.Message, []string) {
	p, errs := n.userProfile(ctx, s)
	return compose(instructions, profile.Summary(p), s.ContextSummary, s.UserInput), errs
}

// EmotionSupport answers with empathy and a few gentle suggestions.
func (n *Nodes) EmotionSupport(ctx context.Context, s pipeline.State) (pipeline.Update, error) {
	msgs, errs := n.messages(ctx, s, emotionPrompt)
	obj, err := n.object(ctx, msgs)
	if err == nil && parse.String(obj, "empathy_response") == "" {
		err = fmt.Errorf("%w: missing empathy_response", ErrMalformed)
	}
	if err != nil {
		return reply(intent.NodeEmotionSupport, emotionFallback, false, append(errs, n.degraded(intent.NodeEmotionSupport, err)...)), nil
	}

	out := parse.String(obj, "empathy_response")
	if tips := items(obj, "suggestions"); len(tips) > 0 {
		out += "\n\n建议：\n" + bullets(tips, "• ")
	}
	return reply(intent.NodeEmotionSupport, out, true, errs), nil
}

// HabitCoach designs a small habit plan.
func (n *Nodes) HabitCoach(ctx context.Context, s pipeline.State) (pipeline.Update, error) {
	msgs, errs := n.messages(ctx, s, habitPrompt)
	obj, err := n.object(ctx, msgs)
	plan, _ := obj["habit_plan"].(map[string]any)
	if err == nil && plan == nil {
		err = fmt.Errorf("%w: missing habit_plan", ErrMalformed)
	}
	if err != nil {
		return reply(intent.NodeHabitCoach, habitFallback, false, append(errs, n.degraded(intent.NodeHabitCoach, err)...)), nil
	}

	var b strings.Builder
	b.WriteString("好的，帮你设计习惯计划：\n\n")
	fmt.Fprintf(&b, "📌 习惯：%s\n", cmp.Or(parse.String(plan, "habit_name"), "新习惯"))
	fmt.Fprintf(&b, "⏰ 频率：%s\n", cmp.Or(parse.String(plan, "frequency"), "每天"))
	fmt.Fprintf(&b, "🎯 触发：%s\n", cmp.Or(parse.String(plan, "trigger"), "设定一个触发条件"))
	fmt.Fprintf(&b, "🎁 奖励：%s", cmp.Or(parse.String(plan, "reward"), "完成后奖励自己"))
	if m := parse.String(obj, "motivation_message"); m != "" {
		fmt.Fprintf(&b, "\n\n💪 %s", m)
	}
	return reply(intent.NodeHabitCoach, b.String(), true, errs), nil
}

// GoalPlanning splits a goal into milestones and a first step, or details
// one step of a goal discussed in an earlier turn.
func (n *Nodes) GoalPlanning(ctx context.Context, s pipeline.State) (pipeline.Update, error) {
	msgs, errs := n.messages(ctx, s, goalPrompt)
	obj, err := n.object(ctx, msgs)
	if err != nil {
		return reply(intent.NodeGoalPlanning, goalFallback, false, append(errs, n.degraded(intent.NodeGoalPlanning, err)...)), nil
	}
	if parse.Bool(obj, "is_continuation") {
		u := reply(intent.NodeGoalPlanning, goalStep(obj), true, errs)
		u.Extracted = map[string]any{"goal_step": stepNumber(obj)}
		return u, nil
	}
	if parse.String(obj, "goal") == "" {
		err = fmt.Errorf("%w: missing goal", ErrMalformed)
		return reply(intent.NodeGoalPlanning, goalFallback, false, append(errs, n.degraded(intent.NodeGoalPlanning, err)...)), nil
	}
	u := reply(intent.NodeGoalPlanning, goalPlan(obj), true, errs)
	u.Extracted = map[string]any{"goal": parse.String(obj, "goal")}
	return u, nil
}

func stepNumber(obj map[string]any) int {
	if f, ok := parse.Float(obj, "step_number"); ok && f > 0 {
		return int(f)
	}
	return 2
}

func goalStep(obj map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚀 **第%d步**:\n\n", stepNumber(obj))
	fmt.Fprintf(&b, "📝 **行动**: %s\n", cmp.Or(parse.String(obj, "action"), "继续行动"))
	if d := parse.String(obj, "details"); d != "" {
		fmt.Fprintf(&b, "\n💡 **详细说明**:\n%s\n", d)
	}
	if t := parse.String(obj, "time_required"); t != "" {
		fmt.Fprintf(&b, "\n⏱️ **预计耗时**: %s", t)
	}
	if r := parse.String(obj, "expected_result"); r != "" {
		fmt.Fprintf(&b, "\n✨ **预期成果**: %s", r)
	}
	return b.String()
}

func goalPlan(obj map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎯 **目标**: %s\n", parse.String(obj, "goal"))
	if why := parse.String(obj, "why"); why != "" {
		fmt.Fprintf(&b, "💡 **动机**: %s\n", why)
	}
	if tl := parse.String(obj, "timeline"); tl != "" {
		fmt.Fprintf(&b, "⏰ **时间规划**: %s\n", tl)
	}

	if milestones, _ := obj["milestones"].([]any); len(milestones) > 0 {
		b.WriteString("\n📍 **里程碑**:\n")
		for i, raw := range milestones {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "\n**阶段%d: %s**", i+1, parse.String(m, "milestone"))
			if d := parse.String(m, "deadline"); d != "" {
				fmt.Fprintf(&b, " (%s)", d)
			}
			b.WriteString("\n")
			if desc := parse.String(m, "description"); desc != "" {
				fmt.Fprintf(&b, "   %s\n", desc)
			}
			if acts := items(m, "actions"); len(acts) > 0 {
				b.WriteString("   行动清单:\n")
				b.WriteString(bullets(acts, "   ✓ "))
				b.WriteString("\n")
			}
		}
	}

	b.WriteString("\n🚀 **立即开始（第一步）**:\n")
	switch first := obj["first_step"].(type) {
	case map[string]any:
		fmt.Fprintf(&b, "   📝 %s\n", cmp.Or(parse.String(first, "action"), "开始行动"))
		if t := parse.String(first, "time_required"); t != "" {
			fmt.Fprintf(&b, "   ⏱️ 预计耗时: %s\n", t)
		}
		if r := parse.String(first, "expected_result"); r != "" {
			fmt.Fprintf(&b, "   ✨ 预期成果: %s\n", r)
		}
	case string:
		fmt.Fprintf(&b, "   %s\n", cmp.Or(strings.TrimSpace(first), "开始行动"))
	default:
		b.WriteString("   📝 开始行动\n")
	}

	if res := items(obj, "resources"); len(res) > 0 {
		b.WriteString("\n📚 **推荐资源**:\n")
		b.WriteString(bullets(res, "   • "))
		b.WriteString("\n")
	}
	if tips := items(obj, "tips"); len(tips) > 0 {
		b.WriteString("\n💡 **实用建议**:\n")
		b.WriteString(bullets(tips, "   • "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// ReflectionGuide summarises what the user did and learnt.
func (n *Nodes) ReflectionGuide(ctx context.Context, s pipeline.State) (pipeline.Update, error) {
	msgs, errs := n.messages(ctx, s, reflectionPrompt)
	obj, err := n.object(ctx, msgs)
	if err == nil && parse.String(obj, "summary") == "" {
		err = fmt.Errorf("%w: missing summary", ErrMalformed)
	}
	if err != nil {
		return reply(intent.NodeReflection, reflectionFallback, false, append(errs, n.degraded(intent.NodeReflection, err)...)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 %s", parse.String(obj, "summary"))
	if a := items(obj, "achievements"); len(a) > 0 {
		b.WriteString("\n\n✅ 成就：\n" + bullets(a, "• "))
	}
	if l := items(obj, "learnings"); len(l) > 0 {
		b.WriteString("\n\n💡 收获：\n" + bullets(l, "• "))
	}
	return reply(intent.NodeReflection, b.String(), true, errs), nil
}

// CasualChat replies to small talk. The generator answers in free text; the
// fixed replies cover greetings, capability questions and thanks.
func (n *Nodes) CasualChat(ctx context.Context, s pipeline.State) (pipeline.Update, error) {
	msgs, errs := n.messages(ctx, s, casualPrompt)
	text, err := n.generate(ctx, msgs, false)
	if err == nil && text != "" {
		return reply(intent.NodeCasualChat, text, true, errs), nil
	}
	if err != nil {
		errs = append(errs, n.degraded(intent.NodeCasualChat, err)...)
	}
	return reply(intent.NodeCasualChat, casualFallback(s.UserInput), false, errs), nil
}

func casualFallback(input string) string {
	lower := strings.ToLower(input)
	switch {
	case strings.Contains(lower, "你好") || hasWord(lower, "hi"):
		return greetingReply
	case strings.Contains(lower, "功能") || strings.Contains(lower, "能做"):
		return capabilitiesReply
	case strings.Contains(lower, "谢谢") || strings.Contains(lower, "感谢"):
		return thanksReply
	default:
		return presenceReply
	}
}

// hasWord reports whether w appears in s as a whole word.
func hasWord(s, w string) bool {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return slices.Contains(words, w)
}

// items returns up to maxListItems strings stored under key.
func items(obj map[string]any, key string) []string {
	arr, _ := obj[key].([]any)
	var out []string
	for _, v := range arr {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
		if len(out) == maxListItems {
			break
		}
	}
	return out
}

func bullets(list []string, prefix string) string {
	lines := make([]string, len(list))
	for i, s := range list {
		lines[i] = prefix + s
	}
	return strings.Join(lines, "\n")
}
