package nodes

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/lifeos/internal/intent"
	"github.com/kalambet/lifeos/internal/parse"
	"github.com/kalambet/lifeos/internal/pipeline"
	"github.com/kalambet/lifeos/internal/tasks"
)

// followUpMaxRunes is the input length under which a message may refer back
// to the tasks of an earlier turn.
const followUpMaxRunes = 20

// TaskExtraction turns the user input into raw task titles. The generator is
// asked first; the keyword splitter is used when it fails or finds nothing.
// A short follow-up reuses the tasks of the most recent turn that had any.
func (n *Nodes) TaskExtraction(ctx context.Context, s pipeline.State) (pipeline.Update, error) {
	var u pipeline.Update

	if isFollowUp(s) {
		if prev := previousTasks(s); len(prev) > 0 {
			u.RawTasks = prev
			u.ProcessingSteps = []string{fmt.Sprintf("reused %d tasks from history", len(prev))}
			return u, nil
		}
	}

	titles, err := n.extract(ctx, s)
	source := "generator"
	if err != nil {
		u.Errors = n.degraded(intent.NodeTaskExtraction, err)
	}
	if len(titles) == 0 {
		titles = tasks.Extract(s.UserInput)
		source = "rules"
	}
	if len(titles) == 0 && utf8.RuneCountInString(s.UserInput) < followUpMaxRunes {
		titles = previousTasks(s)
		source = "history"
	}

	u.RawTasks = titles
	u.ProcessingSteps = []string{fmt.Sprintf("extracted %d tasks (%s)", len(titles), source)}
	return u, nil
}

func (n *Nodes) extract(ctx context.Context, s pipeline.State) ([]string, error) {
	raw, err := n.generate(ctx, compose(taskExtractionPrompt, "", "", s.UserInput), true)
	if err != nil {
		return nil, err
	}
	found, ok := parse.Strings(raw, "tasks")
	if !ok {
		return nil, fmt.Errorf("%w: %.80q", ErrMalformed, raw)
	}
	out := make([]string, 0, len(found))
	for _, t := range found {
		if t = tasks.Clean(t); t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
		if len(out) == tasks.MaxTasks {
			break
		}
	}
	return out, nil
}

func isFollowUp(s pipeline.State) bool {
	return slices.Contains(s.Signals, intent.SignalFollowUp) && utf8.RuneCountInString(s.UserInput) < followUpMaxRunes
}

// previousTasks returns the task titles of the latest history turn that
// recorded any. Persisted turns hold them under extracted_data.tasks.
func previousTasks(s pipeline.State) []string {
	for i := len(s.History) - 1; i >= 0; i-- {
		var out []string
		switch v := s.History[i].Extracted["tasks"].(type) {
		case []string:
			out = slices.Clone(v)
		case []any:
			for _, x := range v {
				if t, ok := x.(string); ok && strings.TrimSpace(t) != "" {
					out = append(out, t)
				}
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// TaskAnalysis scores the raw tasks.
func (n *Nodes) TaskAnalysis(_ context.Context, s pipeline.State) (pipeline.Update, error) {
	analyzed := tasks.AnalyzeAll(s.RawTasks)
	return pipeline.Update{
		AnalyzedTasks:   analyzed,
		ProcessingSteps: []string{fmt.Sprintf("analyzed %d tasks", len(analyzed))},
	}, nil
}

// PrioritySort partitions the analysed tasks into priority buckets.
func (n *Nodes) PrioritySort(_ context.Context, s pipeline.State) (pipeline.Update, error) {
	b := tasks.Prioritize(s.AnalyzedTasks)
	return pipeline.Update{
		Buckets: &b,
		ProcessingSteps: []string{fmt.Sprintf("prioritized: %d high, %d medium, %d low",
			len(b.High), len(b.Medium), len(b.Low))},
	}, nil
}

// ActionDecompose breaks the recommended task into small-first steps.
func (n *Nodes) ActionDecompose(_ context.Context, s pipeline.State) (pipeline.Update, error) {
	b := tasks.Buckets{High: s.HighPriority, Medium: s.MediumPriority, Low: s.LowPriority}
	rec, ok := b.Recommend()
	if !ok {
		return pipeline.Update{ProcessingSteps: []string{"no task to decompose"}}, nil
	}
	steps := tasks.Decompose(rec.Title, rec.EstimatedMinutes)
	quick := steps[0]
	return pipeline.Update{
		RecommendedTask: &rec,
		ActionSteps:     steps,
		QuickStart:      &quick,
		ProcessingSteps: []string{fmt.Sprintf("decomposed %q into %d steps", rec.Title, len(steps))},
	}, nil
}

// Personalize adjusts the plan to the user's profile.
func (n *Nodes) Personalize(ctx context.Context, s pipeline.State) (pipeline.Update, error) {
	p, errs := n.userProfile(ctx, s)
	u := pipeline.Update{Profile: &p, Errors: errs}

	adj := []string{}
	if rec := s.RecommendedTask; rec != nil {
		switch {
		case p.MorningProductivity:
			adj = append(adj, fmt.Sprintf("把「%s」安排在上午完成，你上午效率最高", rec.Title))
		case p.EveningProductivity:
			adj = append(adj, fmt.Sprintf("「%s」可以放到晚上专注处理，那是你状态最好的时候", rec.Title))
		}
	}
	if p.PrefersShortTasks {
		// The review step is the last thing to do, never a place to start.
		work := slices.DeleteFunc(slices.Clone(s.ActionSteps), func(st tasks.Step) bool {
			return st.Type == tasks.StepReview
		})
		if short, ok := tasks.Shortest(work); ok {
			u.QuickStart = &short
			adj = append(adj, fmt.Sprintf("先做最短的一步：%s（%d分钟）", short.Description, short.EstimatedMinutes))
		}
	}
	if len(s.Deferrable) > 0 {
		adj = append(adj, fmt.Sprintf("有 %d 个任务可以延后，今天不必全部完成", len(s.Deferrable)))
	}
	if p.DistractedBySocial || p.DistractedByPhone {
		adj = append(adj, "开始前把手机调成勿扰模式，远离社交媒体")
	}
	if p.NeedsFrequentBreaks {
		adj = append(adj, "每专注 25 分钟就休息 5 分钟")
	}
	adj = append(adj, goalNotes(s.AnalyzedTasks, append(slices.Clone(p.LongTermGoals), p.WeeklyFocus))...)

	u.PersonalizedAdjustments = adj
	u.ProcessingSteps = []string{fmt.Sprintf("%d personalized adjustments", len(adj))}
	return u, nil
}

// goalNotes flags tasks whose title mentions one of the user's goals.
func goalNotes(list []tasks.Task, goals []string) []string {
	var notes []string
	for _, t := range list {
		title := strings.ToLower(t.Title)
		for _, g := range goals {
			g = strings.TrimSpace(g)
			if g == "" {
				continue
			}
			if strings.Contains(title, strings.ToLower(g)) {
				notes = append(notes, fmt.Sprintf("「%s」与你的目标「%s」相关，值得优先投入", t.Title, g))
				break
			}
		}
	}
	return notes
}
