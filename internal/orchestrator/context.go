// Package orchestrator runs one conversation turn end to end: it loads the
// session history, executes the capability graph, persists the turn and
// remembers what it learnt about the user.
package orchestrator

import (
	"log/slog"
	"time"

	"github.com/kalambet/lifeos/internal/history"
	"github.com/kalambet/lifeos/internal/intent"
	"github.com/kalambet/lifeos/internal/llm"
	"github.com/kalambet/lifeos/internal/memory"
	"github.com/kalambet/lifeos/internal/observability"
	"github.com/kalambet/lifeos/internal/profile"
)

const (
	defaultRunTimeout       = 60 * time.Second
	defaultPersistTimeout   = 5 * time.Second
	defaultGeneratorTimeout = 20 * time.Second
)

// Options tunes a Controller. Zero values select the defaults.
type Options struct {
	// HistoryWindow is how many earlier turns are loaded per run.
	HistoryWindow int
	// RunTimeout bounds the pipeline run.
	RunTimeout time.Duration
	// PersistTimeout bounds turn persistence, which runs detached from
	// the caller's context.
	PersistTimeout time.Duration
	// GeneratorTimeout bounds every generator call.
	GeneratorTimeout time.Duration
	// ClassifyWithGenerator lets the generator label intents, with the
	// rule table as fallback.
	ClassifyWithGenerator bool
	Temperature           float64
	MaxTokens             int
}

// Context bundles everything a Controller depends on. Missing managers are
// replaced by in-memory ones and a nil Generator runs in rule-only mode.
type Context struct {
	Generator  llm.Generator
	Classifier intent.Classifier
	Memory     *memory.Manager
	Profiles   *profile.Manager
	History    *history.Manager
	Metrics    *observability.Metrics
	Logger     *slog.Logger
	Options    Options
}

func (c *Context) defaults() {
	o := &c.Options
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = history.DefaultWindow
	}
	if o.RunTimeout <= 0 {
		o.RunTimeout = defaultRunTimeout
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = defaultPersistTimeout
	}
	if o.GeneratorTimeout <= 0 {
		o.GeneratorTimeout = defaultGeneratorTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Memory == nil {
		c.Memory = memory.NewManager(memory.NewMemStore(), memory.Options{Logger: c.Logger})
	}
	if c.Profiles == nil {
		c.Profiles = profile.NewManager(c.Memory)
		c.Memory.OnChange(c.Profiles.Invalidate)
	}
	if c.History == nil {
		c.History = history.NewManager(history.NewMemStore())
	}
	if c.Generator == nil {
		c.Generator = llm.Unavailable{}
	} else {
		c.Generator = llm.Observed(llm.WithTimeout(c.Generator, o.GeneratorTimeout), c.Metrics.ObserveGenerator)
	}
	if c.Classifier == nil {
		if o.ClassifyWithGenerator {
			c.Classifier = intent.NewAssisted(c.Generator, nil)
		} else {
			c.Classifier = intent.Rules(nil)
		}
	}
}
