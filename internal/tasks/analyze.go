package tasks

import "strings"

var (
	urgentWords   = []string{"今天", "明天", "马上", "立即", "紧急", "today", "tomorrow", "urgent", "asap"}
	soonWords     = []string{"本周", "这周", "近期", "this week"}
	importantWord = []string{"报告", "项目", "会议", "开会", "客户", "考试", "report", "meeting", "project", "client", "exam"}
	routineWords  = []string{"邮件", "回复", "查看", "email", "reply"}

	workWords     = []string{"工作", "项目", "会议", "开会", "报告", "客户", "work", "meeting", "report"}
	learningWords = []string{"学习", "学", "练习", "教程", "复习", "study", "learn"}
	healthWords   = []string{"运动", "健身", "健康", "跑步", "体检", "workout", "gym"}

	deepVerbs  = []string{"写", "做", "完成", "准备", "write", "prepare", "finish"}
	quickVerbs = []string{"回复", "查看", "确认", "reply", "check", "confirm"}
	bigNouns   = []string{"报告", "文档", "方案", "document", "proposal"}
)

// Analyze scores one task title with keyword heuristics.
func Analyze(title string) Task {
	lower := strings.ToLower(title)

	urgency := 5
	switch {
	case hasAny(lower, urgentWords):
		urgency = 9
	case hasAny(lower, soonWords):
		urgency = 7
	}

	importance := 6
	switch {
	case hasAny(lower, importantWord):
		importance = 8
	case hasAny(lower, routineWords):
		importance = 5
	}

	category := "personal"
	switch {
	case hasAny(lower, workWords):
		category = "work"
	case hasAny(lower, learningWords):
		category = "learning"
	case hasAny(lower, healthWords):
		category = "health"
	}

	minutes := 30
	switch {
	case hasAny(lower, deepVerbs):
		minutes = 60
	case hasAny(lower, quickVerbs):
		minutes = 10
	case hasAny(lower, bigNouns):
		minutes = 120
	}

	canDefer := urgency < 7 && importance < 7

	var reason string
	switch {
	case urgency >= 9:
		reason = "时间紧迫，必须尽快完成"
	case importance >= 8:
		reason = "高重要性任务，优先处理"
	case canDefer:
		reason = "不紧急且重要性一般，可以延后"
	default:
		reason = "正常优先级任务"
	}

	t := Task{
		Title:            title,
		Category:         category,
		Importance:       importance,
		Urgency:          urgency,
		EstimatedMinutes: minutes,
		CanDefer:         canDefer,
		Reason:           reason,
	}
	t.Priority = Bucket(t)
	return t
}

// AnalyzeAll scores every title in order.
func AnalyzeAll(titles []string) []Task {
	out := make([]Task, 0, len(titles))
	for _, title := range titles {
		out = append(out, Analyze(title))
	}
	return out
}

// Bucket assigns a priority from importance and urgency.
func Bucket(t Task) Priority {
	switch {
	case (t.Importance >= 7 && t.Urgency >= 7) || t.Urgency >= 9:
		return High
	case (t.Importance >= 6 && t.Urgency >= 5) || t.Importance >= 8:
		return Medium
	default:
		return Low
	}
}

// Prioritize partitions tasks into buckets, preserving input order within
// each. Every task lands in exactly one bucket; Deferrable lists the titles
// of tasks flagged CanDefer.
func Prioritize(tasks []Task) Buckets {
	b := Buckets{
		High:       []Task{},
		Medium:     []Task{},
		Low:        []Task{},
		Deferrable: []string{},
	}
	for _, t := range tasks {
		t.Priority = Bucket(t)
		switch t.Priority {
		case High:
			b.High = append(b.High, t)
		case Medium:
			b.Medium = append(b.Medium, t)
		default:
			b.Low = append(b.Low, t)
		}
		if t.CanDefer {
			b.Deferrable = append(b.Deferrable, t.Title)
		}
	}
	return b
}

func hasAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
