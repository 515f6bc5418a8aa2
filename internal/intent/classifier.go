package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/lifeos/internal/llm"
	"github.com/kalambet/lifeos/internal/parse"
)

const classifyTimeout = 3 * time.Second

// Classifier is the classification contract consumed by the pipeline.
type Classifier interface {
	Classify(ctx context.Context, text string, hint Hint) Classification
}

// Assisted asks the text generator for a label and falls back to the rule
// classifier on any failure. A nil generator makes it purely rule-based.
type Assisted struct {
	gen     llm.Generator
	rules   *RuleClassifier
	timeout time.Duration
	logger  *slog.Logger
}

// NewAssisted creates a generator-assisted classifier over rules.
func NewAssisted(gen llm.Generator, rules *RuleClassifier) *Assisted {
	if rules == nil {
		rules = NewRuleClassifier(nil)
	}
	return &Assisted{gen: gen, rules: rules, timeout: classifyTimeout, logger: slog.Default()}
}

// Rules returns a Classifier that never calls the generator.
func Rules(rules *RuleClassifier) *Assisted {
	return NewAssisted(nil, rules)
}

type llmLabel struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Classify returns the generator's label when it is well formed, otherwise
// the rule-based classification. Mixed input keeps its rule label: the
// acknowledge-then-act policy is decided by keywords, not by the generator.
func (a *Assisted) Classify(ctx context.Context, text string, hint Hint) Classification {
	base := a.rules.Classify(text, hint)
	if a.gen == nil || strings.TrimSpace(text) == "" || base.Intent == Mixed {
		return base
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.gen.Generate(ctx, BuildPrompt(text, hint), llm.Options{Temperature: 0.1, MaxTokens: 200, JSON: true})
	if err != nil {
		a.logger.Warn("intent classification generation failed", "error", err)
		return base
	}

	var label llmLabel
	if !parse.Into(raw, &label) {
		a.logger.Warn("failed to parse intent label from generator response", "response", raw)
		return base
	}
	in, ok := Parse(strings.ToLower(strings.TrimSpace(label.Intent)))
	if !ok {
		a.logger.Warn("generator returned unknown intent", "intent", label.Intent)
		return base
	}

	reason := label.Reasoning
	if reason == "" {
		reason = fmt.Sprintf("generator labelled input as %s", in)
	}
	return Classification{
		Intent:     in,
		Confidence: min(max(label.Confidence, 0), 1),
		Signals:    base.Signals,
		Mode:       ModeFor(in),
		Reason:     reason,
	}
}
