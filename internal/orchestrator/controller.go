package orchestrator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/lifeos/internal/history"
	"github.com/kalambet/lifeos/internal/intent"
	"github.com/kalambet/lifeos/internal/memory"
	"github.com/kalambet/lifeos/internal/nodes"
	"github.com/kalambet/lifeos/internal/observability"
	"github.com/kalambet/lifeos/internal/pipeline"
	"github.com/kalambet/lifeos/internal/profile"
)

var (
	// ErrEmptyInput is returned by Run for a blank message.
	ErrEmptyInput = errors.New("empty input")

	// ErrSessionOwner is returned by Run when the session belongs to
	// another user.
	ErrSessionOwner = history.ErrSessionOwner
)

// Result is what a caller gets back for one turn.
type Result struct {
	FinalOutput     string        `json:"final_output"`
	Intent          intent.Intent `json:"intent"`
	Confidence      float64       `json:"confidence"`
	ProcessingSteps []string      `json:"processing_steps"`
	SessionID       string        `json:"session_id"`
	TurnNumber      int           `json:"turn_number"`
	Errors          []string      `json:"errors,omitempty"`
	// StorageDegraded is set when history or memory could not be read or
	// written. The reply is still valid.
	StorageDegraded bool `json:"storage_degraded"`
}

// Controller runs conversation turns. It is safe for concurrent use.
type Controller struct {
	graph    *pipeline.Graph
	memory   *memory.Manager
	profiles *profile.Manager
	history  *history.Manager
	metrics  *observability.Metrics
	logger   *slog.Logger
	opts     Options
}

// New builds a Controller from c, filling in defaults for anything missing.
func New(c Context) (*Controller, error) {
	c.defaults()

	n := nodes.New(nodes.Deps{
		Generator:   c.Generator,
		Classifier:  c.Classifier,
		Profiles:    c.Profiles,
		Temperature: c.Options.Temperature,
		MaxTokens:   c.Options.MaxTokens,
		Logger:      c.Logger,
	})
	g := NewGraph(n).
		Observe(c.Metrics.ObserveNode).
		WithLogger(c.Logger)
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("building pipeline: %w", err)
	}

	return &Controller{
		graph:    g,
		memory:   c.Memory,
		profiles: c.Profiles,
		history:  c.History,
		metrics:  c.Metrics,
		logger:   c.Logger,
		opts:     c.Options,
	}, nil
}

// Memory returns the memory manager the controller writes to.
func (c *Controller) Memory() *memory.Manager { return c.memory }

// Profiles returns the profile manager used to personalise replies.
func (c *Controller) Profiles() *profile.Manager { return c.profiles }

// History returns the history manager the controller writes to.
func (c *Controller) History() *history.Manager { return c.history }

// Run processes one user message. An empty sessionID starts a new session.
// Invalid input returns ErrEmptyInput or ErrSessionOwner; storage failures
// are reported through Result.StorageDegraded.
func (c *Controller) Run(ctx context.Context, userID, input, sessionID string) (Result, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Result{}, ErrEmptyInput
	}
	userID = cmp.Or(strings.TrimSpace(userID), "default_user")
	start := time.Now()
	logger := c.logger.With("user_id", userID)
	degraded := false

	sid, err := c.history.CreateSession(ctx, userID, sessionID)
	if errors.Is(err, history.ErrSessionOwner) {
		logger.Warn("session owned by another user", "session_id", sessionID)
		return Result{}, ErrSessionOwner
	}
	if err != nil {
		degraded = c.storageFailed(logger, "create_session", err)
		sid = cmp.Or(sessionID, history.NewSessionID(userID, start))
	}
	logger = logger.With("session_id", sid)

	var turns []history.Turn
	if !degraded {
		turns, err = c.history.History(ctx, sid, c.opts.HistoryWindow)
		if err != nil {
			degraded = c.storageFailed(logger, "load_history", err)
			turns = nil
		}
	}

	initial := pipeline.State{
		UserID:         userID,
		SessionID:      sid,
		UserInput:      input,
		Timestamp:      start.UTC(),
		History:        turns,
		ContextSummary: history.ContextSummary(turns),
	}
	runCtx, cancel := context.WithTimeout(ctx, c.opts.RunTimeout)
	s, err := c.graph.Run(runCtx, initial)
	cancel()
	if err != nil {
		return Result{}, fmt.Errorf("running pipeline: %w", err)
	}
	in := cmp.Or(s.Intent, intent.Unknown)

	// The caller may have gone away; the turn is recorded regardless.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.PersistTimeout)
	defer cancel()

	num, err := c.history.AddTurn(persistCtx, history.TurnInput{
		SessionID:        sid,
		UserID:           userID,
		UserMessage:      input,
		AssistantMessage: s.FinalOutput,
		Intent:           in,
		Confidence:       s.Confidence,
		Extracted:        extracted(s),
	})
	if err != nil {
		degraded = c.storageFailed(logger, "add_turn", err)
	}
	if err := c.infer(persistCtx, s); err != nil {
		degraded = c.storageFailed(logger, "infer_memory", err)
	}

	c.metrics.TurnCompleted(string(in))
	logger.Info("turn completed",
		"intent", in,
		"turn", num,
		"errors", len(s.Errors),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return Result{
		FinalOutput:     s.FinalOutput,
		Intent:          in,
		Confidence:      s.Confidence,
		ProcessingSteps: s.ProcessingSteps,
		SessionID:       sid,
		TurnNumber:      num,
		Errors:          s.Errors,
		StorageDegraded: degraded,
	}, nil
}

func (c *Controller) storageFailed(logger *slog.Logger, op string, err error) bool {
	logger.Error("storage operation failed", "op", op, "error", err)
	c.metrics.StorageFailed(op)
	return true
}

// extracted is the structured part of a turn kept with its history.
func extracted(s pipeline.State) map[string]any {
	out := make(map[string]any)
	if len(s.RawTasks) > 0 {
		out["tasks"] = s.RawTasks
	}
	if len(s.ActionSteps) > 0 {
		out["steps"] = s.ActionSteps
	}
	if s.QuickStart != nil {
		out["quick_start"] = s.QuickStart.Description
		out["quick_start_minutes"] = s.QuickStart.EstimatedMinutes
	}
	if len(s.Signals) > 0 {
		out["signals"] = s.Signals
	}
	if len(s.Errors) > 0 {
		out["errors"] = s.Errors
	}
	for k, v := range s.Extracted {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out
}
