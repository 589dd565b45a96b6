// Package llm defines the Provider interface for Large Language Model backends.
//
// The meeting assistant uses a provider to answer questions asked in session
// chat and, optionally, to clean up transcript fragments before they are
// merged. Both are single request/response completions.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"

	"github.com/MrWong99/parley/pkg/types"
)

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Usage is the token accounting a backend reports for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is a single prompt sent to the model.
type CompletionRequest struct {
	// SystemPrompt, when set, is sent ahead of Messages in the system role.
	SystemPrompt string

	// Messages must not be empty. The assistant sends one user message: the
	// question or the fragment text to clean up.
	Messages []types.Message

	// Temperature in [0, 2]. Zero leaves the backend default.
	Temperature float64

	// MaxTokens caps the reply. Zero leaves the backend default.
	MaxTokens int
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Content string

	// Truncated is set when the backend stopped because MaxTokens was
	// reached rather than at a natural end of the reply.
	Truncated bool

	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req and waits for the whole reply. It must return
	// promptly once ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many context tokens messages occupy. The
	// estimate may overcount but should not undercount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities describes the configured model's limits.
	Capabilities() ModelCapabilities
}
