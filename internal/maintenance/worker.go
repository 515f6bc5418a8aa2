// Package maintenance runs the periodic memory sweep.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kalambet/lifeos/internal/observability"
)

// DefaultSchedule sweeps once a day at midnight.
const DefaultSchedule = "@daily"

const (
	sweepTimeout = 2 * time.Minute
	stopTimeout  = 10 * time.Second
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Sweeper removes expired and stale memories. Implemented by memory.Manager.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Worker runs Sweep on a cron schedule.
type Worker struct {
	target   Sweeper
	spec     string
	schedule cron.Schedule
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewWorker creates a Worker for a standard five-field cron expression or
// descriptor such as "@daily" or "@every 6h". An empty spec selects
// DefaultSchedule.
func NewWorker(target Sweeper, spec string, metrics *observability.Metrics) (*Worker, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing sweep schedule %q: %w", spec, err)
	}
	return &Worker{
		target:   target,
		spec:     spec,
		schedule: schedule,
		metrics:  metrics,
		logger:   slog.Default(),
	}, nil
}

// Run sweeps on schedule until ctx is cancelled. A sweep still running when
// the next one is due is not overlapped.
func (w *Worker) Run(ctx context.Context) {
	logger := cronLogger{w.logger}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(w.schedule, cron.FuncJob(func() {
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error("memory sweep failed", "error", err)
		}
	}))
	c.Start()
	w.logger.Info("memory sweep scheduled", "schedule", w.spec)

	<-ctx.Done()
	select {
	case <-c.Stop().Done():
	case <-time.After(stopTimeout):
		w.logger.Warn("memory sweep did not stop in time")
	}
}

// RunOnce performs one sweep and returns the number of entries removed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	start := time.Now()
	n, err := w.target.Sweep(ctx)
	if err != nil {
		w.metrics.StorageFailed("sweep")
		return 0, err
	}
	w.metrics.Swept(n)
	w.logger.Info("memory sweep finished", "removed", n, "duration_ms", time.Since(start).Milliseconds())
	return n, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
