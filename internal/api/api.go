// Package api exposes the assistant over HTTP, WebSocket and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/lifeos/internal/history"
	"github.com/kalambet/lifeos/internal/memory"
	"github.com/kalambet/lifeos/internal/observability"
	"github.com/kalambet/lifeos/internal/orchestrator"
	"github.com/kalambet/lifeos/internal/profile"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Runner runs one conversation turn. Implemented by orchestrator.Controller.
type Runner interface {
	Run(ctx context.Context, userID, input, sessionID string) (orchestrator.Result, error)
}

// SweepRunner performs one memory sweep. Implemented by maintenance.Worker.
type SweepRunner interface {
	RunOnce(ctx context.Context) (int, error)
}

// Deps holds everything the HTTP handler serves.
type Deps struct {
	Chat     Runner
	Memory   *memory.Manager
	Profiles *profile.Manager
	History  *history.Manager
	Sweeper  SweepRunner // optional; without it POST /v1/maintenance/sweep returns 501
	Metrics  *observability.Metrics
	Ping     func(context.Context) error // optional storage health check
	Token    string
	Logger   *slog.Logger
}

// NewHandler returns the HTTP API. Everything except /health and /metrics
// requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/v1/chat", handleChat(deps))
		r.Get("/v1/chat/ws", handleChatWS(deps))

		r.Get("/v1/sessions/{id}/history", handleSessionHistory(deps))
		r.Get("/v1/sessions/{id}/stats", handleSessionStats(deps))

		r.Get("/v1/users/{uid}/memories", handleListMemories(deps))
		r.Delete("/v1/users/{uid}/memories", handleForgetAll(deps))
		r.Get("/v1/users/{uid}/memories/{key}", handleGetMemory(deps))
		r.Put("/v1/users/{uid}/memories/{key}", handlePutMemory(deps))
		r.Delete("/v1/users/{uid}/memories/{key}", handleForget(deps))
		r.Get("/v1/users/{uid}/profile", handleProfile(deps))

		r.Post("/v1/maintenance/sweep", handleSweep(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Ping != nil {
			if err := deps.Ping(r.Context()); err != nil {
				deps.Logger.Warn("storage health check failed", "error", err)
				httpError(w, http.StatusServiceUnavailable, "storage_error", "storage unavailable")
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		res, err := deps.Chat.Run(r.Context(), req.UserID, req.Message, req.SessionID)
		if err != nil {
			if errors.Is(err, orchestrator.ErrEmptyInput) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
				return
			}
			if errors.Is(err, orchestrator.ErrSessionOwner) {
				httpError(w, http.StatusForbidden, "permission_error", "session %s belongs to another user", req.SessionID)
				return
			}
			deps.Logger.Error("chat turn failed", "user_id", req.UserID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "chat failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleSessionHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		lastN, err := queryInt(r, "last_n", history.DefaultWindow)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		turns, err := deps.History.History(r.Context(), id, lastN)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load history: %v", err)
			return
		}
		if turns == nil {
			turns = []history.Turn{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": id,
			"turns":      turns,
		})
	}
}

func handleSessionStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		stats, err := deps.History.Stats(r.Context(), id)
		if errors.Is(err, history.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load stats: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleSweep(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Sweeper == nil {
			httpError(w, http.StatusNotImplemented, "api_error", "memory sweep is not configured")
			return
		}
		n, err := deps.Sweeper.RunOnce(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "sweep failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"removed": n})
	}
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
