// Package model defines a minimal chat abstraction over LLM providers and
// adapters for Anthropic, OpenAI and Google Gemini.
package model

import (
	"context"
	"errors"
)

// ChatModel sends a conversation to an LLM and returns its reply.
//
// Example:
//
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleSystem, Content: "Answer with one word."},
//	    {Role: model.RoleUser, Content: "Pick a storage backend: s3, gcs, local_fs"},
//	})
type ChatModel interface {
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatOut is a model reply.
type ChatOut struct {
	Text string

	// TokensUsed is the provider-reported total, 0 when unknown.
	TokensUsed int
}

// ErrNoMessages is returned when Chat is called with no user or assistant turns.
var ErrNoMessages = errors.New("model: conversation has no messages")

// SplitSystem separates system turns, joined by blank lines, from the rest
// of the conversation. Providers that take the system prompt as a separate
// parameter use it.
func SplitSystem(messages []Message) (string, []Message) {
	var system string
	var rest []Message
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		rest = append(rest, msg)
	}
	return system, rest
}
