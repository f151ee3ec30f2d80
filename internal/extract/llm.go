// Package extract asks a language model to pick forms and to read field
// values out of the conversation.
package extract

import "context"

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is one message of a completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral completion request. System is sent as the
// provider's system prompt.
type Request struct {
	System      string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
}

type Response struct {
	Text string
}

// LLMClient is implemented by every completion backend.
type LLMClient interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
