// Package tasks holds the deterministic task heuristics: splitting free text
// into tasks, scoring them, bucketing by priority and breaking one task into
// small-first action steps.
package tasks

// Priority is the bucket a task lands in after scoring.
type Priority string

const (
	High   Priority = "high"
	Medium Priority = "medium"
	Low    Priority = "low"
)

// Task is an analysed task.
type Task struct {
	Title            string   `json:"title"`
	Category         string   `json:"category"`
	Importance       int      `json:"importance"`
	Urgency          int      `json:"urgency"`
	EstimatedMinutes int      `json:"estimated_minutes"`
	CanDefer         bool     `json:"can_defer"`
	Reason           string   `json:"reason"`
	Priority         Priority `json:"priority"`
}

// StepType distinguishes the phases of a decomposed task.
type StepType string

const (
	StepQuickStart StepType = "quick_start"
	StepCore       StepType = "core"
	StepReview     StepType = "review"
)

// Step is one action of a decomposed task.
type Step struct {
	Number           int      `json:"step_number"`
	Description      string   `json:"description"`
	EstimatedMinutes int      `json:"estimated_minutes"`
	Difficulty       string   `json:"difficulty"`
	ExpectedOutcome  string   `json:"expected_outcome"`
	Type             StepType `json:"type"`
}

// Buckets is the priority partition of a task list.
type Buckets struct {
	High       []Task   `json:"high"`
	Medium     []Task   `json:"medium"`
	Low        []Task   `json:"low"`
	Deferrable []string `json:"deferrable"`
}

// Len returns the number of tasks across all buckets.
func (b Buckets) Len() int {
	return len(b.High) + len(b.Medium) + len(b.Low)
}

// Recommend returns the task to start with: the first high-priority task,
// else the first medium, else the first low.
func (b Buckets) Recommend() (Task, bool) {
	for _, bucket := range [][]Task{b.High, b.Medium, b.Low} {
		if len(bucket) > 0 {
			return bucket[0], true
		}
	}
	return Task{}, false
}
