// Package llm defines the Provider interface for text-generation backends.
//
// A provider wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama instance, ...) and exposes a single blocking completion call so the
// step generator can stay independent of any vendor SDK.
//
// Implementors must be safe for concurrent use: the pipeline issues one
// completion per transcript chunk and may run several chunks in parallel.
package llm

import "context"

// Role values accepted in [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in the conversation sent to the model.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser] or [RoleAssistant].
	Role string

	// Content is the text of the message.
	Content string
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add returns the field-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// CompletionRequest carries everything the model needs to produce a reply.
// Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is usually the
	// user prompt that drives the reply.
	Messages []Message

	// SystemPrompt is an optional instruction placed before Messages. Providers
	// without a dedicated system field prepend it as a system-role message.
	SystemPrompt string

	// Temperature controls randomness in [0.0, 2.0].
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int

	// JSONMode asks the backend to constrain output to a JSON object when it
	// supports doing so. Backends that cannot honour it ignore the flag.
	JSONMode bool
}

// CompletionResponse is the full reply to a [CompletionRequest].
type CompletionResponse struct {
	// Content is the assistant's text.
	Content string

	// Usage is the token accounting for this call.
	Usage Usage
}

// Provider is the abstraction over any text-generation backend.
type Provider interface {
	// Complete sends req and waits for the full reply. It must return promptly
	// with ctx.Err() when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// ModelID returns the identifier of the underlying model.
	ModelID() string
}
