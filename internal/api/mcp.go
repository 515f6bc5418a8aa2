package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/lifeos/internal/history"
	"github.com/kalambet/lifeos/internal/intent"
	"github.com/kalambet/lifeos/internal/memory"
	"github.com/kalambet/lifeos/internal/orchestrator"
	"github.com/kalambet/lifeos/internal/profile"
)

const profileURIPrefix = "profile://"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Chat     Runner
	Memory   *memory.Manager
	Profiles *profile.Manager
	History  *history.Manager
	// DefaultUser is used when a tool call names no user_id.
	DefaultUser string
}

func (d MCPDeps) user(req mcp.CallToolRequest) string {
	return req.GetString("user_id", d.DefaultUser)
}

// NewMCPServer creates an MCP server with all lifeos tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.DefaultUser == "" {
		deps.DefaultUser = "default_user"
	}
	s := server.NewMCPServer(
		"lifeos",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("lifeos: a personal assistant that organises tasks, coaches habits and goals, and remembers user preferences."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("chat",
			mcp.WithDescription("Send one message to the assistant and get its reply."),
			mcp.WithString("message", mcp.Description("The user's message"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("User the turn belongs to")),
			mcp.WithString("session_id", mcp.Description("Session to continue; omitted starts a new one")),
		),
		mcpChat(deps),
	)

	s.AddTool(
		mcp.NewTool("remember",
			mcp.WithDescription("Store a fact about the user. The value may be JSON or plain text."),
			mcp.WithString("key", mcp.Description("Memory key (e.g. morning_productivity)"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value to store"), mcp.Required()),
			mcp.WithString("type", mcp.Description("preference, routine, fact, goal, pattern or constraint")),
			mcp.WithNumber("ttl_days", mcp.Description("Days until the fact expires; omitted keeps it forever")),
			mcp.WithString("user_id", mcp.Description("User the fact belongs to")),
		),
		mcpRemember(deps),
	)

	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("Look up a remembered fact by key, or search facts by text."),
			mcp.WithString("key", mcp.Description("Exact memory key")),
			mcp.WithString("query", mcp.Description("Text to search keys and values for")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of search results (default 5)")),
			mcp.WithString("user_id", mcp.Description("User whose memory to read")),
		),
		mcpRecall(deps),
	)

	s.AddTool(
		mcp.NewTool("forget",
			mcp.WithDescription("Delete one remembered fact, or all of them."),
			mcp.WithString("key", mcp.Description("Memory key to delete")),
			mcp.WithBoolean("all", mcp.Description("Delete every fact about the user")),
			mcp.WithString("user_id", mcp.Description("User whose memory to change")),
		),
		mcpForget(deps),
	)

	s.AddTool(
		mcp.NewTool("session_history",
			mcp.WithDescription("Return the most recent turns of a conversation session."),
			mcp.WithString("session_id", mcp.Description("Session id"), mcp.Required()),
			mcp.WithNumber("last_n", mcp.Description("Number of turns (default 5)")),
		),
		mcpSessionHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("similar_turns",
			mcp.WithDescription("Return a user's most recent turns across sessions that had the given intent."),
			mcp.WithString("intent", mcp.Description("Intent label, e.g. task, goal, habit"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("User id (defaults to the server's user)")),
			mcp.WithNumber("limit", mcp.Description("Number of turns (default 3)")),
		),
		mcpSimilarTurns(deps),
	)

	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			profileURIPrefix+"{user_id}",
			"User Profile",
			mcp.WithTemplateDescription("Profile derived from what the assistant remembers about a user"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	return s
}

func mcpChat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil || strings.TrimSpace(message) == "" {
			return mcpError("message is required"), nil
		}
		res, err := deps.Chat.Run(ctx, deps.user(req), message, req.GetString("session_id", ""))
		if errors.Is(err, orchestrator.ErrSessionOwner) {
			return mcpError("session belongs to another user"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("chat failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpRemember(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		raw, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}
		typ, err := memory.ParseType(req.GetString("type", string(memory.Preference)))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		var ttl *int
		if n := req.GetInt("ttl_days", -1); n >= 0 {
			ttl = memory.Days(n)
		}

		var value any = raw
		if json.Valid([]byte(raw)) {
			value = json.RawMessage(raw)
		}

		if _, err := deps.Memory.Remember(ctx, deps.user(req), key, value, typ, ttl, memory.FromUser); err != nil {
			return mcpError(fmt.Sprintf("failed to remember: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Remembered %s", key)), nil
	}
}

func mcpRecall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID := deps.user(req)

		if key := req.GetString("key", ""); key != "" {
			value, ok, err := deps.Memory.Recall(ctx, userID, key)
			if err != nil {
				return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
			}
			if !ok {
				return mcpText("null"), nil
			}
			return mcpJSON(value)
		}

		query := req.GetString("query", "")
		if query == "" {
			return mcpError("key or query is required"), nil
		}
		limit := min(max(req.GetInt("limit", 5), 1), 50)

		entries, err := deps.Memory.Relevant(ctx, userID, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}
		views := make([]MemoryView, len(entries))
		for i, e := range entries {
			views[i] = viewOf(e)
		}
		return mcpJSON(views)
	}
}

func mcpForget(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID := deps.user(req)

		if req.GetBool("all", false) {
			ok, err := deps.Memory.ForgetAll(ctx, userID)
			if err != nil {
				return mcpError(fmt.Sprintf("forget failed: %v", err)), nil
			}
			if !ok {
				return mcpText("Nothing to forget"), nil
			}
			return mcpText(fmt.Sprintf("Forgot everything about %s", userID)), nil
		}

		key := req.GetString("key", "")
		if key == "" {
			return mcpError("key or all is required"), nil
		}
		ok, err := deps.Memory.Forget(ctx, userID, key)
		if err != nil {
			return mcpError(fmt.Sprintf("forget failed: %v", err)), nil
		}
		if !ok {
			return mcpText(fmt.Sprintf("No memory named %s", key)), nil
		}
		return mcpText(fmt.Sprintf("Forgot %s", key)), nil
	}
}

func mcpSessionHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}
		turns, err := deps.History.History(ctx, id, req.GetInt("last_n", history.DefaultWindow))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load history: %v", err)), nil
		}
		if turns == nil {
			turns = []history.Turn{}
		}
		return mcpJSON(turns)
	}
}

func mcpSimilarTurns(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		label, err := req.RequireString("intent")
		if err != nil {
			return mcpError("intent is required"), nil
		}
		in, ok := intent.Parse(strings.ToLower(strings.TrimSpace(label)))
		if !ok {
			return mcpError(fmt.Sprintf("unknown intent %q", label)), nil
		}
		turns, err := deps.History.Similar(ctx, deps.user(req), in, req.GetInt("limit", 3))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to search history: %v", err)), nil
		}
		if turns == nil {
			turns = []history.Turn{}
		}
		return mcpJSON(turns)
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		userID := strings.TrimPrefix(req.Params.URI, profileURIPrefix)
		if userID == "" || userID == req.Params.URI {
			return nil, errors.New("profile uri must look like profile://{user_id}")
		}

		p, err := deps.Profiles.Get(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
