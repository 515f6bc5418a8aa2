package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNormalize(t *testing.T) {
	in := []Message{
		{Role: "System ", Content: "be kind"},
		{Role: "system", Content: "be brief"},
		{Role: "human", Content: "hi"},
		{Role: "ai", Content: "hello"},
		{Role: "tool", Content: "dropped"},
		{Role: "user", Content: "   "},
		{Role: "system", Content: "late system"},
	}
	want := []Message{
		{Role: RoleSystem, Content: "be kind\n\nbe brief"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleSystem, Content: "late system"},
	}
	if diff := cmp.Diff(want, Normalize(in)); diff != "" {
		t.Errorf("Normalize() mismatch (-want +got):\n%s", diff)
	}
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable{}.Generate(context.Background(), nil, Options{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestWithTimeout(t *testing.T) {
	slow := GeneratorFunc(func(ctx context.Context, _ []Message, _ Options) (string, error) {
		select {
		case <-time.After(time.Second):
			return "late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	start := time.Now()
	_, err := WithTimeout(slow, 20*time.Millisecond).Generate(context.Background(), nil, Options{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("err = %v, want timed out", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("timeout was not enforced")
	}
}

func TestObserved(t *testing.T) {
	var calls int
	var gotErr error
	g := Observed(Unavailable{}, func(err error, _ time.Duration) {
		calls++
		gotErr = err
	})
	g.Generate(context.Background(), nil, Options{})
	if calls != 1 || !errors.Is(gotErr, ErrUnavailable) {
		t.Errorf("calls = %d, err = %v", calls, gotErr)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		provider string
		wantType string
		wantErr  bool
	}{
		{"ollama", "*llm.Ollama", false},
		{"", "*llm.Ollama", false},
		{"openai", "*llm.OpenAI", false},
		{"none", "llm.Unavailable", false},
		{"bogus", "", true},
	}
	for _, tt := range tests {
		g, err := New(Settings{Provider: tt.provider, BaseURL: "http://x", Model: "m"})
		if tt.wantErr {
			if err == nil {
				t.Errorf("New(%q): expected error", tt.provider)
			}
			continue
		}
		if err != nil {
			t.Fatalf("New(%q): %v", tt.provider, err)
		}
		if got := fmt.Sprintf("%T", g); got != tt.wantType {
			t.Errorf("New(%q) = %s, want %s", tt.provider, got, tt.wantType)
		}
	}
}

func TestOllamaGenerate(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s, want /api/chat", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"{\"ok\":true}"}}`)
	}))
	defer srv.Close()

	c := NewOllama(srv.URL, "qwen2.5")
	out, err := c.Generate(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: "human", Content: "hi"},
	}, Options{Temperature: 0.3, MaxTokens: 64, JSON: true})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != `{"ok":true}` {
		t.Errorf("out = %q", out)
	}
	if got.Model != "qwen2.5" || got.Format != "json" || got.Stream {
		t.Errorf("request = %+v", got)
	}
	if got.Options["num_predict"] != float64(64) {
		t.Errorf("num_predict = %v, want 64", got.Options["num_predict"])
	}
	if got.Messages[1].Role != RoleUser {
		t.Errorf("role not normalized: %q", got.Messages[1].Role)
	}
}

func TestOllamaGenerate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewOllama(srv.URL, "m").Generate(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, Options{}); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestOllamaHasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"qwen2.5:latest"}]}`)
	}))
	defer srv.Close()

	c := NewOllama(srv.URL, "qwen2.5")
	if !c.HasModel(context.Background(), "qwen2.5") {
		t.Error("HasModel(qwen2.5) = false, want true")
	}
	if c.HasModel(context.Background(), "llama3") {
		t.Error("HasModel(llama3) = true, want false")
	}
	var sb strings.Builder
	if err := c.EnsureReady(context.Background(), &sb); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if !strings.Contains(sb.String(), "ready") {
		t.Errorf("EnsureReady output = %q", sb.String())
	}
}

func TestOllamaEnsureReady_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	err := NewOllama(srv.URL, "m").EnsureReady(context.Background(), &strings.Builder{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestOpenAIGenerate_AuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req openAIChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Errorf("response_format = %+v", req.ResponseFormat)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Hello!"}}]}`)
	}))
	defer srv.Close()

	c := NewOpenAI(srv.URL, "test-key", "gpt-4o-mini")
	out, err := c.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{JSON: true})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "Hello!" {
		t.Errorf("out = %q", out)
	}
}

func TestOpenAIGenerate_RateLimitRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"finally"}}]}`)
	}))
	defer srv.Close()

	c := NewOpenAI(srv.URL, "k", "m")
	c.backoff = time.Millisecond
	out, err := c.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "finally" || calls.Load() != 3 {
		t.Errorf("out = %q after %d calls", out, calls.Load())
	}
}

func TestOpenAIGenerate_RateLimitExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenAI(srv.URL, "k", "m")
	c.backoff = time.Millisecond
	_, err := c.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("err = %v, want rate limited", err)
	}
}
