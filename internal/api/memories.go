package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/lifeos/internal/memory"
	"github.com/kalambet/lifeos/internal/profile"
)

// MemoryView is the wire form of a memory entry.
type MemoryView struct {
	Key        string          `json:"key"`
	Type       memory.Type     `json:"type"`
	Value      json.RawMessage `json:"value"`
	Source     memory.Source   `json:"source"`
	Confidence float64         `json:"confidence"`
	TTLDays    *int            `json:"ttl_days,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	LastUsedAt time.Time       `json:"last_used_at"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
}

func viewOf(e memory.Entry) MemoryView {
	v := MemoryView{
		Key:        e.Key,
		Type:       e.Type,
		Value:      e.Value,
		Source:     e.Source,
		Confidence: e.Confidence,
		TTLDays:    e.TTLDays,
		CreatedAt:  e.CreatedAt,
		LastUsedAt: e.LastUsedAt,
	}
	if exp := e.ExpiresAt(); !exp.IsZero() {
		v.ExpiresAt = &exp
	}
	return v
}

// RememberRequest is the body of PUT /v1/users/{uid}/memories/{key}.
type RememberRequest struct {
	Value   json.RawMessage `json:"value"`
	Type    string          `json:"type"`
	TTLDays *int            `json:"ttl_days"`
	Source  string          `json:"source"`
}

func handleListMemories(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var typ memory.Type
		if raw := r.URL.Query().Get("type"); raw != "" {
			t, err := memory.ParseType(raw)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			typ = t
		}

		entries, err := deps.Memory.Entries(r.Context(), chi.URLParam(r, "uid"), typ)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list memories: %v", err)
			return
		}
		views := make([]MemoryView, len(entries))
		for i, e := range entries {
			views[i] = viewOf(e)
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleGetMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, key := chi.URLParam(r, "uid"), chi.URLParam(r, "key")
		e, err := deps.Memory.Get(r.Context(), uid, key)
		if errors.Is(err, memory.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "memory %s not found", key)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load memory: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(e))
	}
}

func handlePutMemory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req RememberRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if len(req.Value) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "value is required")
			return
		}
		typ := memory.Preference
		if req.Type != "" {
			t, err := memory.ParseType(req.Type)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			typ = t
		}
		source, err := memory.ParseSource(req.Source)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if req.TTLDays != nil && *req.TTLDays < 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "ttl_days must not be negative")
			return
		}

		uid, key := chi.URLParam(r, "uid"), chi.URLParam(r, "key")
		id, err := deps.Memory.Remember(r.Context(), uid, key, req.Value, typ, req.TTLDays, source)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to remember: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "key": key})
	}
}

func handleForget(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, key := chi.URLParam(r, "uid"), chi.URLParam(r, "key")
		ok, err := deps.Memory.Forget(r.Context(), uid, key)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to forget: %v", err)
			return
		}
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "memory %s not found", key)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleForgetAll(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, err := deps.Memory.ForgetAll(r.Context(), chi.URLParam(r, "uid"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to forget: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"removed": ok})
	}
}

func handleProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profiles.Get(r.Context(), chi.URLParam(r, "uid"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get profile: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			profile.UserProfile
			Summary string `json:"summary"`
		}{p, profile.Summary(p)})
	}
}
