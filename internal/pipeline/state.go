package pipeline

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/kalambet/lifeos/internal/history"
	"github.com/kalambet/lifeos/internal/intent"
	"github.com/kalambet/lifeos/internal/profile"
	"github.com/kalambet/lifeos/internal/tasks"
)

// State is the record threaded through one pipeline run for one user
// message. Nodes never mutate it; they return an Update which Apply merges.
type State struct {
	// Set once by the controller.
	UserID    string
	SessionID string
	UserInput string
	Timestamp time.Time

	// Loaded before the run, read-only for nodes.
	History        []history.Turn
	ContextSummary string

	Intent       intent.Intent
	Confidence   float64
	Signals      []string
	Mode         intent.Mode
	IntentReason string

	RawTasks      []string
	AnalyzedTasks []tasks.Task

	HighPriority   []tasks.Task
	MediumPriority []tasks.Task
	LowPriority    []tasks.Task
	Deferrable     []string

	RecommendedTask         *tasks.Task
	ActionSteps             []tasks.Step
	QuickStart              *tasks.Step
	Profile                 *profile.UserProfile
	PersonalizedAdjustments []string
	FinalOutput             string
	Extracted               map[string]any

	ProcessingSteps []string
	Errors          []string

	ShouldContinue     bool
	NeedsClarification bool
}

// Update is a partial state produced by a node. Zero-valued fields leave the
// state untouched.
//
// RawTasks, AnalyzedTasks, ProcessingSteps and Errors append. AppendOutput
// appends a section to FinalOutput. Extracted merges key by key. Every other
// field overwrites.
type Update struct {
	Classification *intent.Classification

	RawTasks      []string
	AnalyzedTasks []tasks.Task

	Buckets *tasks.Buckets

	RecommendedTask         *tasks.Task
	ActionSteps             []tasks.Step
	QuickStart              *tasks.Step
	Profile                 *profile.UserProfile
	PersonalizedAdjustments []string
	FinalOutput             *string
	AppendOutput            string
	Extracted               map[string]any

	ProcessingSteps []string
	Errors          []string

	ShouldContinue     *bool
	NeedsClarification *bool
}

// Apply merges u into s and returns the result. s is not modified: every
// slice and map reachable from the result is freshly allocated where it
// changed, so earlier states stay valid snapshots.
func Apply(s State, u Update) State {
	if c := u.Classification; c != nil {
		s.Intent = c.Intent
		s.Confidence = c.Confidence
		s.Signals = slices.Clone(c.Signals)
		s.Mode = c.Mode
		s.IntentReason = c.Reason
	}

	if len(u.RawTasks) > 0 {
		s.RawTasks = slices.Concat(s.RawTasks, u.RawTasks)
	}
	if len(u.AnalyzedTasks) > 0 {
		s.AnalyzedTasks = slices.Concat(s.AnalyzedTasks, u.AnalyzedTasks)
	}
	if len(u.ProcessingSteps) > 0 {
		s.ProcessingSteps = slices.Concat(s.ProcessingSteps, u.ProcessingSteps)
	}
	if len(u.Errors) > 0 {
		s.Errors = slices.Concat(s.Errors, u.Errors)
	}

	if b := u.Buckets; b != nil {
		s.HighPriority = slices.Clone(b.High)
		s.MediumPriority = slices.Clone(b.Medium)
		s.LowPriority = slices.Clone(b.Low)
		s.Deferrable = slices.Clone(b.Deferrable)
	}

	if u.RecommendedTask != nil {
		t := *u.RecommendedTask
		s.RecommendedTask = &t
	}
	if u.ActionSteps != nil {
		s.ActionSteps = slices.Clone(u.ActionSteps)
	}
	if u.QuickStart != nil {
		q := *u.QuickStart
		s.QuickStart = &q
	}
	if u.Profile != nil {
		p := u.Profile.Clone()
		s.Profile = &p
	}
	if u.PersonalizedAdjustments != nil {
		s.PersonalizedAdjustments = slices.Clone(u.PersonalizedAdjustments)
	}

	if u.FinalOutput != nil {
		s.FinalOutput = *u.FinalOutput
	}
	if add := strings.TrimSpace(u.AppendOutput); add != "" {
		if s.FinalOutput == "" {
			s.FinalOutput = add
		} else {
			s.FinalOutput = strings.TrimRight(s.FinalOutput, "\n") + "\n\n" + add
		}
	}

	if len(u.Extracted) > 0 {
		merged := make(map[string]any, len(s.Extracted)+len(u.Extracted))
		maps.Copy(merged, s.Extracted)
		maps.Copy(merged, u.Extracted)
		s.Extracted = merged
	}

	if u.ShouldContinue != nil {
		s.ShouldContinue = *u.ShouldContinue
	}
	if u.NeedsClarification != nil {
		s.NeedsClarification = *u.NeedsClarification
	}
	return s
}

// Text is a convenience for setting FinalOutput in an Update literal.
func Text(s string) *string { return &s }

// Flag is a convenience for setting a control flag in an Update literal.
func Flag(b bool) *bool { return &b }
