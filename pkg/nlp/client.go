package nlp

import (
	"context"

	"github.com/soundprediction/graphqa/pkg/types"
)

// Client defines the interface for the external completion provider.
// Both agents drive extraction and evidence interpretation through it.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, messages []types.Message) (*types.Response, error)

	// Close cleans up any resources.
	Close() error
}

const (
	// RoleSystem represents a system message.
	RoleSystem types.Role = "system"
	// RoleUser represents a user message.
	RoleUser types.Role = "user"
	// RoleAssistant represents an assistant message.
	RoleAssistant types.Role = "assistant"
)

// Config holds configuration for completion clients.
type Config struct {
	Model       string   `json:"model"`
	Temperature float32  `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	BaseURL     string   `json:"base_url,omitempty"` // Custom base URL for OpenAI-compatible services
}

// NewMessage creates a new message with the specified role and content.
func NewMessage(role types.Role, content string) types.Message {
	return types.Message{
		Role:    role,
		Content: content,
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) types.Message {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) types.Message {
	return NewMessage(RoleUser, content)
}

// Complete sends a single-prompt completion and returns the response text.
func Complete(ctx context.Context, client Client, prompt string) (string, error) {
	resp, err := client.Chat(ctx, []types.Message{NewUserMessage(prompt)})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
