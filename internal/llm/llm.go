package llm

import (
	"context"
	"errors"
)

// ErrGenerationUnavailable is returned when the generation service failed or
// produced nothing usable. Callers surface it as a generic retry-later
// message; raw provider errors never reach users.
var ErrGenerationUnavailable = errors.New("generation unavailable")

// Message is one turn of conversation history sent to the generator.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Generator is the language-generation boundary. The reply is untrusted
// free text; callers validate and sanitize it themselves.
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, history []Message, maxTokens int) (string, error)
}
