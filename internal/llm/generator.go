package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat conversation sent to a Generator.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single generation call. Zero values mean provider defaults.
type Options struct {
	Temperature float64
	MaxTokens   int
	// JSON asks the provider for JSON-only output when it supports it.
	JSON bool
}

// Generator produces assistant text from a message list. Implementations
// must honour ctx cancellation; callers treat any error as "no answer".
type Generator interface {
	Generate(ctx context.Context, messages []Message, opts Options) (string, error)
}

// GeneratorFunc adapts a plain function to the Generator interface.
type GeneratorFunc func(ctx context.Context, messages []Message, opts Options) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	return f(ctx, messages, opts)
}

// ErrUnavailable is returned by Unavailable and by clients whose backend
// cannot be reached.
var ErrUnavailable = errors.New("text generator unavailable")

// Unavailable is a Generator that always fails. It is used when no provider
// is configured so every node takes its deterministic fallback path.
type Unavailable struct{}

func (Unavailable) Generate(context.Context, []Message, Options) (string, error) {
	return "", ErrUnavailable
}

// ParseRole maps loose role spellings onto the Role enum. Unknown roles
// return false.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "system", "sys":
		return RoleSystem, true
	case "user", "human":
		return RoleUser, true
	case "assistant", "ai", "bot", "model":
		return RoleAssistant, true
	default:
		return "", false
	}
}

// Normalize canonicalises roles, drops messages with unknown roles or empty
// content, and merges a leading run of system messages into one.
func Normalize(in []Message) []Message {
	out := make([]Message, 0, len(in))
	var system []string
	leading := true
	for _, m := range in {
		role, ok := ParseRole(string(m.Role))
		content := strings.TrimSpace(m.Content)
		if !ok || content == "" {
			continue
		}
		if role == RoleSystem && leading {
			system = append(system, content)
			continue
		}
		leading = false
		out = append(out, Message{Role: role, Content: content})
	}
	if len(system) > 0 {
		out = append([]Message{{Role: RoleSystem, Content: strings.Join(system, "\n\n")}}, out...)
	}
	return out
}

type timeoutGenerator struct {
	next    Generator
	timeout time.Duration
}

// WithTimeout bounds every call to g by d. A non-positive d returns g.
func WithTimeout(g Generator, d time.Duration) Generator {
	if d <= 0 {
		return g
	}
	return &timeoutGenerator{next: g, timeout: d}
}

func (t *timeoutGenerator) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	out, err := t.next.Generate(ctx, messages, opts)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("generation timed out after %s: %w", t.timeout, err)
	}
	return out, err
}

type observedGenerator struct {
	next     Generator
	observed func(err error, elapsed time.Duration)
}

// Observed calls fn after every generation with its outcome and latency.
func Observed(g Generator, fn func(err error, elapsed time.Duration)) Generator {
	return &observedGenerator{next: g, observed: fn}
}

func (o *observedGenerator) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	start := time.Now()
	out, err := o.next.Generate(ctx, messages, opts)
	o.observed(err, time.Since(start))
	return out, err
}
