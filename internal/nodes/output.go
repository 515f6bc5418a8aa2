package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/lifeos/internal/intent"
	"github.com/kalambet/lifeos/internal/pipeline"
	"github.com/kalambet/lifeos/internal/tasks"
)

const (
	clarificationPrompt = "我还不太确定你想让我帮什么忙，可以再具体说说吗？😊\n\n比如：\n• 整理今天的任务和优先级\n• 聊聊你现在的心情\n• 养成一个新习惯\n• 拆解一个长期目标\n• 回顾最近的收获"

	// MixedAcknowledgment opens every reply to a message that carries both
	// feelings and tasks.
	MixedAcknowledgment = "听起来你现在压力不小，先深呼吸一下，我们一起把事情一件件理清楚。"

	noTasksReply   = "我没有从你的消息里找到具体的任务，可以把要做的事情一条条列给我吗？"
	acceptedReply  = "我理解了，让我们一起来处理！"
	adjustmentHead = "💡 根据你的习惯，我做了这些调整："
	maxListedTasks = 5
)

var priorityIcons = map[tasks.Priority]string{
	tasks.High:   "🔴",
	tasks.Medium: "🟡",
	tasks.Low:    "🟢",
}

// Clarification asks the user to say what they need.
func (n *Nodes) Clarification(_ context.Context, _ pipeline.State) (pipeline.Update, error) {
	return pipeline.Update{
		AppendOutput:       clarificationPrompt,
		NeedsClarification: pipeline.Flag(true),
		ProcessingSteps:    []string{"asked for clarification"},
	}, nil
}

// OutputCompose produces the final reply. A reply already written by a
// capability node is kept and only gains the personalization section; an
// empty one is composed from the task plan. Mixed input always opens with
// MixedAcknowledgment.
func (n *Nodes) OutputCompose(_ context.Context, s pipeline.State) (pipeline.Update, error) {
	out := strings.TrimSpace(s.FinalOutput)
	var step string
	switch {
	case out == "":
		out = composeTasks(s)
		step = "composed reply"
	case len(s.PersonalizedAdjustments) > 0 && !strings.Contains(out, adjustmentHead):
		out += "\n\n" + adjustments(s.PersonalizedAdjustments)
		step = "appended personalization"
	default:
		step = "kept reply"
	}

	if s.Intent == intent.Mixed && !strings.HasPrefix(out, MixedAcknowledgment) {
		out = MixedAcknowledgment + "\n\n" + out
	}
	return pipeline.Update{
		FinalOutput:     pipeline.Text(out),
		ProcessingSteps: []string{step},
	}, nil
}

func composeTasks(s pipeline.State) string {
	total := len(s.HighPriority) + len(s.MediumPriority) + len(s.LowPriority)
	if total == 0 {
		switch s.Intent {
		case intent.Task, intent.Mixed, intent.Decision:
			return noTasksReply
		}
		return acceptedReply
	}

	var b strings.Builder
	fmt.Fprintf(&b, "好的！我帮你整理了 %d 个任务：", total)
	section(&b, "📌 高优先级（必须今天完成）", s.HighPriority)
	section(&b, "📌 中优先级（今天完成更好）", s.MediumPriority)
	section(&b, "📌 低优先级", s.LowPriority)
	if len(s.Deferrable) > 0 {
		fmt.Fprintf(&b, "\n\n⏳ 可延后（不影响核心进度）：%s", strings.Join(s.Deferrable, "、"))
	}
	if q := s.QuickStart; q != nil {
		fmt.Fprintf(&b, "\n\n🟦 【下一步行动】%s（%d分钟）", q.Description, q.EstimatedMinutes)
		if rec := s.RecommendedTask; rec != nil {
			fmt.Fprintf(&b, "\n从「%s」开始，只需要迈出这一小步。", rec.Title)
		}
	}
	if len(s.PersonalizedAdjustments) > 0 {
		b.WriteString("\n\n" + adjustments(s.PersonalizedAdjustments))
	}
	b.WriteString("\n\n⭐ 我已经帮你整理好了，一次只专注一件事就好！")
	return b.String()
}

func section(b *strings.Builder, title string, list []tasks.Task) {
	if len(list) == 0 {
		return
	}
	fmt.Fprintf(b, "\n\n%s", title)
	for i, t := range list {
		if i == maxListedTasks {
			fmt.Fprintf(b, "\n…还有 %d 个", len(list)-maxListedTasks)
			break
		}
		fmt.Fprintf(b, "\n%d. %s %s", i+1, priorityIcons[t.Priority], t.Title)
		if t.EstimatedMinutes > 0 {
			fmt.Fprintf(b, "（约%d分钟）", t.EstimatedMinutes)
		}
	}
}

func adjustments(list []string) string {
	return adjustmentHead + "\n" + bullets(list, "• ")
}

// Apology appends the generic apology after whatever partial output exists.
func (n *Nodes) Apology(_ context.Context, s pipeline.State) (pipeline.Update, error) {
	if strings.Contains(s.FinalOutput, pipeline.DefaultApology) {
		return pipeline.Update{}, nil
	}
	return pipeline.Update{AppendOutput: pipeline.DefaultApology}, nil
}
