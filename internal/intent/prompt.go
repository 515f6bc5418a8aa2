package intent

import (
	"fmt"
	"strings"

	"github.com/kalambet/lifeos/internal/llm"
)

const systemPrompt = `You are the intent router of a personal life assistant. Classify the user's latest message. Your output must be ONLY a single JSON object: {"intent": "...", "confidence": 0.0-1.0, "reasoning": "..."}. Do not include any other text, prose, or markdown.

Intents:
- "task": the user lists things to do or wants help organising work
- "emotion": the user expresses feelings and needs support
- "decision": the user weighs options and asks what to choose
- "habit": the user talks about building or tracking a habit
- "goal": the user sets or pursues a longer-term goal
- "reflection": the user reviews their day or wants to reflect
- "casual": greetings and small talk
- "unknown": none of the above is clear`

// BuildPrompt constructs the classification messages for text.
func BuildPrompt(text string, hint Hint) []llm.Message {
	var sb strings.Builder
	sb.WriteString(systemPrompt)

	if hint.Summary != "" {
		fmt.Fprintf(&sb, "\n\n[Recent Conversation]\n%s", hint.Summary)
	}
	if hint.LastIntent != "" {
		fmt.Fprintf(&sb, "\n\nThe previous turn was classified as %q.", hint.LastIntent)
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: sb.String()},
		{Role: llm.RoleUser, Content: text},
	}
}
