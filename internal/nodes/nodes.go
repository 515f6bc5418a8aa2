// Package nodes implements the capability nodes of the conversation
// pipeline. Every node reads the turn state, optionally calls the text
// generator, and returns a partial update. Generator failures never escape a
// node: they are logged, noted in Update.Errors and replaced by a fixed reply.
package nodes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/lifeos/internal/history"
	"github.com/kalambet/lifeos/internal/intent"
	"github.com/kalambet/lifeos/internal/llm"
	"github.com/kalambet/lifeos/internal/parse"
	"github.com/kalambet/lifeos/internal/pipeline"
	"github.com/kalambet/lifeos/internal/profile"
)

// Node names outside the routing table.
const (
	Classify        = "classify"
	TaskAnalysis    = "task_analysis"
	PrioritySort    = "priority_sort"
	ActionDecompose = "action_decompose"
	Personalize     = "personalize"
	OutputCompose   = "output_compose"
	Apology         = "apology"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 1024
)

// ErrMalformed is recorded when the generator answered with text that does
// not hold the expected JSON shape.
var ErrMalformed = errors.New("malformed generator output")

// Profiles resolves the derived profile of a user.
type Profiles interface {
	Get(ctx context.Context, userID string) (profile.UserProfile, error)
}

// Deps are the collaborators shared by all nodes. Zero values are replaced
// by working defaults: a nil Generator behaves as llm.Unavailable, a nil
// Classifier is rule-based only, and a nil Profiles yields default profiles.
type Deps struct {
	Generator   llm.Generator
	Classifier  intent.Classifier
	Profiles    Profiles
	Temperature float64
	MaxTokens   int
	Logger      *slog.Logger
}

// Nodes holds the node implementations. Its methods have the pipeline.Node
// signature and are registered on a graph by method value.
type Nodes struct {
	gen         llm.Generator
	classifier  intent.Classifier
	profiles    Profiles
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

// New creates the node set.
func New(d Deps) *Nodes {
	n := &Nodes{
		gen:         d.Generator,
		classifier:  d.Classifier,
		profiles:    d.Profiles,
		temperature: d.Temperature,
		maxTokens:   d.MaxTokens,
		logger:      d.Logger,
	}
	if n.gen == nil {
		n.gen = llm.Unavailable{}
	}
	if n.classifier == nil {
		n.classifier = intent.Rules(nil)
	}
	if n.temperature <= 0 {
		n.temperature = defaultTemperature
	}
	if n.maxTokens <= 0 {
		n.maxTokens = defaultMaxTokens
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	return n
}

// Classify labels the user input and records the routing decision.
func (n *Nodes) Classify(ctx context.Context, s pipeline.State) (pipeline.Update, error) {
	c := n.classifier.Classify(ctx, s.UserInput, history.Hint(s.History))
	return pipeline.Update{
		Classification:  &c,
		ProcessingSteps: []string{fmt.Sprintf("intent %s (%.2f) -> %s", c.Intent, c.Confidence, intent.Route(c.Intent))},
	}, nil
}

// generate sends msgs to the generator and returns its trimmed text.
func (n *Nodes) generate(ctx context.Context, msgs []llm.Message, jsonMode bool) (string, error) {
	raw, err := n.gen.Generate(ctx, msgs, llm.Options{
		Temperature: n.temperature,
		MaxTokens:   n.maxTokens,
		JSON:        jsonMode,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

// object asks the generator for a JSON object.
func (n *Nodes) object(ctx context.Context, msgs []llm.Message) (map[string]any, error) {
	raw, err := n.generate(ctx, msgs, true)
	if err != nil {
		return nil, err
	}
	obj, ok := parse.Object(raw)
	if !ok {
		return nil, fmt.Errorf("%w: %.80q", ErrMalformed, raw)
	}
	return obj, nil
}

// degraded logs a generator failure and returns the Errors entry for it.
// An unconfigured generator is the normal rule-only mode and is not noted.
func (n *Nodes) degraded(node string, err error) []string {
	if errors.Is(err, llm.ErrUnavailable) {
		n.logger.Debug("generator not configured, using fallback", "node", node)
		return nil
	}
	n.logger.Warn("generator call failed, using fallback", "node", node, "error", err)
	return []string{fmt.Sprintf("%s: %v", node, err)}
}

// userProfile returns the profile already in the state, or loads it. On a
// lookup failure the default profile is returned with an Errors note.
func (n *Nodes) userProfile(ctx context.Context, s pipeline.State) (profile.UserProfile, []string) {
	if s.Profile != nil {
		return s.Profile.Clone(), nil
	}
	if n.profiles == nil {
		return profile.Default(s.UserID), nil
	}
	p, err := n.profiles.Get(ctx, s.UserID)
	if err != nil {
		n.logger.Warn("loading profile failed", "user_id", s.UserID, "error", err)
		return profile.Default(s.UserID), []string{fmt.Sprintf("profile: %v", err)}
	}
	return p, nil
}

// reply is the common update of the single-shot capability nodes.
func reply(node, text string, generated bool, errs []string) pipeline.Update {
	step := node + ": fallback"
	if generated {
		step = node + ": generated"
	}
	return pipeline.Update{
		AppendOutput:    text,
		ProcessingSteps: []string{step},
		Errors:          errs,
	}
}
