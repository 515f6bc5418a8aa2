package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// End is the terminal pseudo-node. An edge to End finishes the run.
const End = "__end__"

const defaultMaxSteps = 32

// DefaultApology is the reply of last resort when no node produced output.
const DefaultApology = "抱歉，处理你的消息时出了点问题，请稍后再试一次。"

// ErrUnknownNode is returned when the graph references an unregistered node.
var ErrUnknownNode = errors.New("unknown pipeline node")

// Node processes the current state and returns a partial update.
type Node func(ctx context.Context, s State) (Update, error)

// Selector picks the outgoing branch of a conditional edge.
type Selector func(s State) string

type conditional struct {
	selector Selector
	routes   map[string]string
}

// Graph is a directed graph of nodes executed strictly one after another.
type Graph struct {
	nodes    map[string]Node
	entry    string
	edges    map[string]string
	branches map[string]conditional
	fallback string
	deflt    string
	maxSteps int
	observer func(node string, elapsed time.Duration, err error)
	logger   *slog.Logger
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:    make(map[string]Node),
		edges:    make(map[string]string),
		branches: make(map[string]conditional),
		maxSteps: defaultMaxSteps,
		logger:   slog.Default(),
	}
}

// AddNode registers n under name, replacing any previous registration.
func (g *Graph) AddNode(name string, n Node) *Graph {
	g.nodes[name] = n
	return g
}

// SetEntry sets the first node of every run.
func (g *Graph) SetEntry(name string) *Graph {
	g.entry = name
	return g
}

// AddEdge adds an unconditional edge. A node has at most one outgoing edge
// of either kind; the last call wins.
func (g *Graph) AddEdge(from, to string) *Graph {
	delete(g.branches, from)
	g.edges[from] = to
	return g
}

// AddConditionalEdge routes from a node to routes[selector(state)].
func (g *Graph) AddConditionalEdge(from string, selector Selector, routes map[string]string) *Graph {
	delete(g.edges, from)
	cp := make(map[string]string, len(routes))
	for k, v := range routes {
		cp[k] = v
	}
	g.branches[from] = conditional{selector: selector, routes: cp}
	return g
}

// SetFallback names the node run after any node error or panic. It should
// always produce output and must not fail.
func (g *Graph) SetFallback(name string) *Graph {
	g.fallback = name
	return g
}

// SetDefault names the node a conditional edge routes to when its selector
// returns a value missing from the mapping.
func (g *Graph) SetDefault(name string) *Graph {
	g.deflt = name
	return g
}

// SetMaxSteps bounds the number of node executions per run.
func (g *Graph) SetMaxSteps(n int) *Graph {
	if n > 0 {
		g.maxSteps = n
	}
	return g
}

// Observe registers fn to be called after every node execution.
func (g *Graph) Observe(fn func(node string, elapsed time.Duration, err error)) *Graph {
	g.observer = fn
	return g
}

// WithLogger sets the logger used for node failures.
func (g *Graph) WithLogger(l *slog.Logger) *Graph {
	if l != nil {
		g.logger = l
	}
	return g
}

// Validate checks that the entry, every edge target and the fallback and
// default nodes are registered.
func (g *Graph) Validate() error {
	known := func(name string) bool {
		_, ok := g.nodes[name]
		return ok || name == End
	}
	if g.entry == "" || !known(g.entry) {
		return fmt.Errorf("entry %q: %w", g.entry, ErrUnknownNode)
	}
	for from, to := range g.edges {
		if !known(from) || !known(to) {
			return fmt.Errorf("edge %s -> %s: %w", from, to, ErrUnknownNode)
		}
	}
	for from, c := range g.branches {
		if !known(from) {
			return fmt.Errorf("conditional edge from %s: %w", from, ErrUnknownNode)
		}
		for value, to := range c.routes {
			if !known(to) {
				return fmt.Errorf("conditional edge %s[%s] -> %s: %w", from, value, to, ErrUnknownNode)
			}
		}
	}
	if g.fallback != "" && !known(g.fallback) {
		return fmt.Errorf("fallback %q: %w", g.fallback, ErrUnknownNode)
	}
	if g.deflt != "" && !known(g.deflt) {
		return fmt.Errorf("default %q: %w", g.deflt, ErrUnknownNode)
	}
	return nil
}

// Run executes the graph from its entry node. Node errors, panics and
// cancellation are recorded in State.Errors and divert the run to the
// fallback node; the returned state always carries a non-empty FinalOutput.
// The error is non-nil only for an invalid graph.
func (g *Graph) Run(ctx context.Context, s State) (State, error) {
	if err := g.Validate(); err != nil {
		return s, err
	}

	fellBack := false
	cur := g.entry
	for steps := 0; cur != End; steps++ {
		if steps >= g.maxSteps {
			s = Apply(s, Update{Errors: []string{fmt.Sprintf("step limit %d reached at %s", g.maxSteps, cur)}})
			break
		}
		if err := ctx.Err(); err != nil && !fellBack {
			s = Apply(s, Update{Errors: []string{fmt.Sprintf("run interrupted before %s: %v", cur, err)}})
			cur, fellBack = g.divert()
			continue
		}

		u, err := g.call(ctx, cur, s)
		if err != nil {
			g.logger.Warn("pipeline node failed", "node", cur, "error", err)
			s = Apply(s, Update{Errors: []string{fmt.Sprintf("%s: %v", cur, err)}})
			if fellBack || cur == g.fallback {
				break
			}
			cur, fellBack = g.divert()
			continue
		}

		u.ProcessingSteps = append([]string{"node:" + cur}, u.ProcessingSteps...)
		s = Apply(s, u)
		if cur == g.fallback {
			fellBack = true
		}
		next, note := g.next(cur, s)
		if note != "" {
			s = Apply(s, Update{Errors: []string{note}})
		}
		cur = next
	}

	if s.FinalOutput == "" && !fellBack && g.fallback != "" {
		if u, err := g.call(context.WithoutCancel(ctx), g.fallback, s); err == nil {
			u.ProcessingSteps = append([]string{"node:" + g.fallback}, u.ProcessingSteps...)
			s = Apply(s, u)
		} else {
			s = Apply(s, Update{Errors: []string{fmt.Sprintf("%s: %v", g.fallback, err)}})
		}
	}
	if s.FinalOutput == "" {
		s.FinalOutput = DefaultApology
	}
	return s, nil
}

func (g *Graph) divert() (string, bool) {
	if g.fallback == "" {
		return End, true
	}
	return g.fallback, true
}

// next resolves the outgoing edge of cur. The note is non-empty when a
// selector value had no route.
func (g *Graph) next(cur string, s State) (string, string) {
	if to, ok := g.edges[cur]; ok {
		return to, ""
	}
	c, ok := g.branches[cur]
	if !ok {
		return End, ""
	}
	value, err := selectRoute(c.selector, s)
	if err != nil {
		value = ""
	}
	if to, ok := c.routes[value]; ok && err == nil {
		return to, ""
	}
	g.logger.Warn("conditional edge has no route", "node", cur, "value", value, "error", err)
	note := fmt.Sprintf("%s: no route for %q", cur, value)
	if err != nil {
		note = fmt.Sprintf("%s: selector failed: %v", cur, err)
	}
	if g.deflt != "" {
		return g.deflt, note
	}
	return End, note
}

func (g *Graph) call(ctx context.Context, name string, s State) (u Update, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if g.observer != nil {
			g.observer(name, time.Since(start), err)
		}
	}()
	return g.nodes[name](ctx, s)
}

func selectRoute(sel Selector, s State) (value string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return sel(s), nil
}
