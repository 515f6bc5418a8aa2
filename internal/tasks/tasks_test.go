package tasks

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "colon then commas",
			in:   "我感觉好崩溃，今天事情太多了：写报告，开会，回复邮件",
			want: []string{"写报告", "开会", "回复邮件"},
		},
		{
			name: "numbered lines",
			in:   "今天要做的事:\n1. 写周报\n2) 给客户打电话\n3、整理桌面",
			want: []string{"写周报", "给客户打电话", "整理桌面"},
		},
		{
			name: "bullets",
			in:   "- buy milk\n• call mom\n* 复习英语",
			want: []string{"buy milk", "call mom", "复习英语"},
		},
		{
			name: "time is not a list marker",
			in:   "10:30开会；下午写方案",
			want: []string{"10:30开会", "下午写方案"},
		},
		{
			name: "punctuation only parts dropped",
			in:   "写报告，，。；开会。",
			want: []string{"写报告", "开会"},
		},
		{
			name: "empty",
			in:   "   ",
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Extract(tt.in)); diff != "" {
				t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtract_Cap(t *testing.T) {
	in := "a,b,c,d,e,f,g,h,i,j,k,l"
	if got := len(Extract(in)); got != MaxTasks {
		t.Errorf("len(Extract) = %d, want %d", got, MaxTasks)
	}
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		title      string
		urgency    int
		importance int
		minutes    int
		category   string
		canDefer   bool
		priority   Priority
	}{
		{"写报告", 5, 8, 60, "work", false, Medium},
		{"开会", 5, 8, 30, "work", false, Medium},
		{"回复邮件", 5, 5, 10, "personal", true, Low},
		{"明天交项目方案", 9, 8, 120, "work", false, High},
		{"本周复习考试", 7, 8, 30, "learning", false, High},
		{"去健身房", 5, 6, 30, "health", true, Medium},
		{"看一部电影", 5, 6, 30, "personal", true, Medium},
		{"今天查看快递", 9, 5, 10, "personal", false, High},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			got := Analyze(tt.title)
			if got.Urgency != tt.urgency || got.Importance != tt.importance {
				t.Errorf("urgency/importance = %d/%d, want %d/%d", got.Urgency, got.Importance, tt.urgency, tt.importance)
			}
			if got.EstimatedMinutes != tt.minutes {
				t.Errorf("EstimatedMinutes = %d, want %d", got.EstimatedMinutes, tt.minutes)
			}
			if got.Category != tt.category {
				t.Errorf("Category = %q, want %q", got.Category, tt.category)
			}
			if got.CanDefer != tt.canDefer {
				t.Errorf("CanDefer = %v, want %v", got.CanDefer, tt.canDefer)
			}
			if got.Priority != tt.priority {
				t.Errorf("Priority = %s, want %s", got.Priority, tt.priority)
			}
		})
	}
}

func TestPrioritize_TotalPartition(t *testing.T) {
	var all []Task
	for imp := 1; imp <= 10; imp++ {
		for urg := 1; urg <= 10; urg++ {
			all = append(all, Task{
				Title:      "t",
				Importance: imp,
				Urgency:    urg,
				CanDefer:   imp < 7 && urg < 7,
			})
		}
	}

	b := Prioritize(all)
	if b.Len() != len(all) {
		t.Fatalf("buckets hold %d tasks, want %d", b.Len(), len(all))
	}

	deferrable := 0
	for _, bucket := range [][]Task{b.High, b.Medium, b.Low} {
		for _, task := range bucket {
			if task.CanDefer {
				deferrable++
				if task.Importance >= 7 || task.Urgency >= 7 {
					t.Errorf("deferrable task has scores %d/%d", task.Importance, task.Urgency)
				}
			}
		}
	}
	if deferrable != len(b.Deferrable) {
		t.Errorf("Deferrable has %d entries, want %d", len(b.Deferrable), deferrable)
	}

	for _, task := range b.High {
		if !((task.Importance >= 7 && task.Urgency >= 7) || task.Urgency >= 9) {
			t.Errorf("task %d/%d wrongly in high", task.Importance, task.Urgency)
		}
	}
	for _, task := range b.Low {
		if (task.Importance >= 6 && task.Urgency >= 5) || task.Importance >= 8 || task.Urgency >= 9 {
			t.Errorf("task %d/%d wrongly in low", task.Importance, task.Urgency)
		}
	}
}

func TestRecommend(t *testing.T) {
	b := Prioritize(AnalyzeAll([]string{"回复邮件", "写报告", "开会"}))
	got, ok := b.Recommend()
	if !ok || got.Title != "写报告" {
		t.Errorf("Recommend() = %q, %v; want 写报告", got.Title, ok)
	}
	if _, ok := (Buckets{}).Recommend(); ok {
		t.Error("Recommend() on empty buckets returned ok")
	}
}

func TestDecompose(t *testing.T) {
	for total := 1; total <= 600; total++ {
		steps := Decompose("写报告", total)

		n := max(2, (total-5)/30)
		if len(steps) != n+2 {
			t.Fatalf("total=%d: %d steps, want %d", total, len(steps), n+2)
		}
		if want := min(5, total); steps[0].EstimatedMinutes != want || steps[0].Type != StepQuickStart {
			t.Fatalf("total=%d: first step = %+v, want quick start of %d", total, steps[0], want)
		}
		last := steps[len(steps)-1]
		if last.Type != StepReview || last.EstimatedMinutes > 10 {
			t.Fatalf("total=%d: last step = %+v", total, last)
		}
		for i, s := range steps {
			if s.Number != i+1 {
				t.Fatalf("total=%d: step %d numbered %d", total, i, s.Number)
			}
			if i > 0 && s.EstimatedMinutes < 1 {
				t.Fatalf("total=%d: step %d has %d minutes", total, i, s.EstimatedMinutes)
			}
		}

		sum := TotalMinutes(steps)
		if total >= 8 && sum != total {
			t.Fatalf("total=%d: steps sum to %d", total, sum)
		}
		if total < 8 && (sum < total || sum > total+3) {
			t.Fatalf("total=%d: steps sum to %d, outside tolerance", total, sum)
		}
	}
}

func TestDecompose_Sixty(t *testing.T) {
	got := Decompose("写报告", 60)
	minutes := make([]int, len(got))
	for i, s := range got {
		minutes[i] = s.EstimatedMinutes
	}
	if diff := cmp.Diff([]int{5, 23, 22, 10}, minutes); diff != "" {
		t.Errorf("minutes mismatch (-want +got):\n%s", diff)
	}
	if got[0].Description != "打开文档，写下3个核心要点" {
		t.Errorf("quick start = %q", got[0].Description)
	}
}

func TestShortest(t *testing.T) {
	steps := []Step{{Number: 1, EstimatedMinutes: 5}, {Number: 2, EstimatedMinutes: 3}, {Number: 3, EstimatedMinutes: 3}}
	got, ok := Shortest(steps)
	if !ok || got.Number != 2 {
		t.Errorf("Shortest() = %+v, want step 2", got)
	}
	if _, ok := Shortest(nil); ok {
		t.Error("Shortest(nil) returned ok")
	}
}

func TestQuickStart(t *testing.T) {
	if got := QuickStart("整理房间"); got != "新建文件夹，分类放置" {
		t.Errorf("QuickStart(整理房间) = %q", got)
	}
	if got := QuickStart("遛狗"); got != "打开与'遛狗'相关的工具/文档" {
		t.Errorf("QuickStart(遛狗) = %q", got)
	}
}
