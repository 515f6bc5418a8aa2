package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kalambet/lifeos/internal/config"
	"github.com/kalambet/lifeos/internal/history"
	"github.com/kalambet/lifeos/internal/llm"
	"github.com/kalambet/lifeos/internal/maintenance"
	"github.com/kalambet/lifeos/internal/memory"
	"github.com/kalambet/lifeos/internal/observability"
	"github.com/kalambet/lifeos/internal/orchestrator"
	"github.com/kalambet/lifeos/internal/profile"
	"github.com/kalambet/lifeos/internal/storage"
	"github.com/kalambet/lifeos/internal/storage/postgres"
)

// runtime is the assembled assistant shared by serve and the in-process
// commands.
type runtime struct {
	cfg        config.Config
	generator  llm.Generator // nil for provider none
	controller *orchestrator.Controller
	worker     *maintenance.Worker
	metrics    *observability.Metrics
	ping       func(context.Context) error // nil for the in-memory backend
	close      func() error
}

// stores is the opened storage backend.
type stores struct {
	memory  memory.Store
	history history.Store
	ping    func(context.Context) error
	close   func() error
}

func setupLogging(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		s, err := postgres.Open(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return stores{}, fmt.Errorf("opening postgres: %w", err)
		}
		return stores{s, s, s.Ping, s.Close}, nil
	case config.BackendMemory:
		return stores{memory.NewMemStore(), history.NewMemStore(), nil, func() error { return nil }}, nil
	default:
		s, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return stores{}, fmt.Errorf("opening storage: %w", err)
		}
		return stores{s, s, s.Ping, s.Close}, nil
	}
}

func openRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	closeStores := st.close

	var gen llm.Generator
	if cfg.LLM.Provider != config.ProviderNone {
		gen, err = llm.New(llm.Settings{
			Provider: cfg.LLM.Provider,
			BaseURL:  cfg.LLM.BaseURL,
			Model:    cfg.LLM.Model,
			APIKey:   cfg.LLM.APIKey,
		})
		if err != nil {
			closeStores()
			return nil, err
		}
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	mem := memory.NewManager(st.memory, memory.Options{ArchiveAfter: cfg.ArchiveAfter()})
	profiles := profile.NewManager(mem)
	mem.OnChange(profiles.Invalidate)

	ctrl, err := orchestrator.New(orchestrator.Context{
		Generator: gen,
		Memory:    mem,
		Profiles:  profiles,
		History:   history.NewManager(st.history),
		Metrics:   metrics,
		Options: orchestrator.Options{
			HistoryWindow:         cfg.History.Window,
			RunTimeout:            cfg.RunTimeout(),
			GeneratorTimeout:      cfg.LLMTimeout(),
			ClassifyWithGenerator: cfg.LLM.ClassifyWithLLM && gen != nil,
			Temperature:           cfg.LLM.Temperature,
			MaxTokens:             cfg.LLM.MaxTokens,
		},
	})
	if err != nil {
		closeStores()
		return nil, err
	}

	worker, err := maintenance.NewWorker(mem, cfg.Memory.SweepSchedule, metrics)
	if err != nil {
		closeStores()
		return nil, err
	}

	return &runtime{
		cfg:        cfg,
		generator:  gen,
		controller: ctrl,
		worker:     worker,
		metrics:    metrics,
		ping:       st.ping,
		close:      closeStores,
	}, nil
}

// loadRuntime loads the configuration and opens the runtime for a one-shot
// command.
func loadRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return openRuntime(ctx, cfg)
}

func (r *runtime) Close() error {
	if err := r.close(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("closing storage: %w", err)
	}
	return nil
}
