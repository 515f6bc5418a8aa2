package tasks

import (
	"fmt"
	"strings"
)

const (
	quickStartMinutes = 5
	coreBlockMinutes  = 30
	maxReviewMinutes  = 10
)

// Decompose breaks a task of total minutes into small-first steps: one quick
// start of at most five minutes, max(2, (total-5)/30) core steps sharing the
// remaining time evenly, and one review step of at most ten minutes.
//
// Every step after the quick start takes at least one minute, so for totals
// below 8 minutes the sum may exceed total by up to three minutes. From
// 8 minutes onwards the sum equals total exactly.
func Decompose(title string, total int) []Step {
	if total <= 0 {
		total = coreBlockMinutes
	}

	quick := min(quickStartMinutes, total)
	rest := total - quick
	n := max(2, (total-quickStartMinutes)/coreBlockMinutes)
	review := max(1, min(maxReviewMinutes, rest/(n+1)))
	core := rest - review

	steps := make([]Step, 0, n+2)
	steps = append(steps, Step{
		Number:           1,
		Description:      QuickStart(title),
		EstimatedMinutes: quick,
		Difficulty:       "easy",
		ExpectedOutcome:  "完成初始设置，进入工作状态",
		Type:             StepQuickStart,
	})

	for i := range n {
		minutes := core / n
		if i < core%n {
			minutes++
		}
		steps = append(steps, Step{
			Number:           i + 2,
			Description:      fmt.Sprintf("完成%s的第%d部分", title, i+1),
			EstimatedMinutes: max(1, minutes),
			Difficulty:       "medium",
			ExpectedOutcome:  fmt.Sprintf("完成进度 %d%%", (i+1)*100/n),
			Type:             StepCore,
		})
	}

	steps = append(steps, Step{
		Number:           n + 2,
		Description:      fmt.Sprintf("检查%s的完整性", title),
		EstimatedMinutes: review,
		Difficulty:       "easy",
		ExpectedOutcome:  "确保质量无误",
		Type:             StepReview,
	})
	return steps
}

// Shortest returns the step with the fewest minutes, the earliest on ties.
func Shortest(steps []Step) (Step, bool) {
	if len(steps) == 0 {
		return Step{}, false
	}
	best := steps[0]
	for _, s := range steps[1:] {
		if s.EstimatedMinutes < best.EstimatedMinutes {
			best = s
		}
	}
	return best, true
}

// TotalMinutes sums the step durations.
func TotalMinutes(steps []Step) int {
	var sum int
	for _, s := range steps {
		sum += s.EstimatedMinutes
	}
	return sum
}

var quickStarts = []struct {
	words []string
	text  string
}{
	{[]string{"写", "报告", "write", "report"}, "打开文档，写下3个核心要点"},
	{[]string{"学", "study", "learn"}, "打开学习材料，浏览目录"},
	{[]string{"准备", "prepare"}, "列出需要准备的清单"},
	{[]string{"整理", "organize"}, "新建文件夹，分类放置"},
	{[]string{"会议", "开会", "meeting"}, "确认会议时间，写下想讨论的1个问题"},
	{[]string{"邮件", "回复", "email", "reply"}, "打开收件箱，先回复最短的一封"},
}

// QuickStart returns a five-minute opening action for a task.
func QuickStart(title string) string {
	lower := strings.ToLower(title)
	for _, q := range quickStarts {
		if hasAny(lower, q.words) {
			return q.text
		}
	}
	return fmt.Sprintf("打开与'%s'相关的工具/文档", title)
}
