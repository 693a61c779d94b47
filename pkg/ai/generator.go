package ai

import "context"

// TextGenerator produces text from a system prompt and a user prompt.
// Both supported providers (Gemini, OpenAI-compatible) implement it, and
// the application depends only on this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
