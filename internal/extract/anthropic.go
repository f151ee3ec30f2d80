package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-5"
	defaultAnthropicMaxTokens = 1024
	// conversationOpener stands in for the user when the transcript begins
	// with the assistant's greeting.
	conversationOpener = "(Gesprächsbeginn)"
)

// AnthropicClient completes chats through the Anthropic messages API.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewAnthropicClient(apiKey, model string, opts ...option.RequestOption) *AnthropicClient {
	if model == "" {
		model = defaultAnthropicModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	system, messages, err := alternate(req)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   int64(defaultAnthropicMaxTokens),
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == ChatRoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic: %w", err)
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return Response{}, errors.New("anthropic: empty response")
	}
	return Response{Text: text.String()}, nil
}

// alternate prepares a request for the messages API: system messages move
// into the system prompt, consecutive messages of the same role are merged,
// the sequence starts and ends with a user message.
func alternate(req Request) (string, []ChatMessage, error) {
	systemParts := []string{}
	if req.System != "" {
		systemParts = append(systemParts, req.System)
	}

	var merged []ChatMessage
	for _, m := range req.Messages {
		role := m.Role
		switch role {
		case ChatRoleSystem:
			systemParts = append(systemParts, m.Content)
			continue
		case ChatRoleAssistant:
		default:
			role = ChatRoleUser
		}
		if n := len(merged); n > 0 && merged[n-1].Role == role {
			merged[n-1].Content += "\n\n" + m.Content
			continue
		}
		merged = append(merged, ChatMessage{Role: role, Content: m.Content})
	}

	if len(merged) == 0 {
		return "", nil, errors.New("no conversation messages")
	}
	if merged[0].Role == ChatRoleAssistant {
		merged = append([]ChatMessage{{Role: ChatRoleUser, Content: conversationOpener}}, merged...)
	}
	if merged[len(merged)-1].Role != ChatRoleUser {
		return "", nil, errors.New("last message must come from the user")
	}
	return strings.Join(systemParts, "\n\n"), merged, nil
}
