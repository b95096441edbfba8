// Package openai adapts OpenAI chat completions to model.ChatModel.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/invoicegraph/graph/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// DefaultModel is used when NewChatModel gets an empty model name.
const DefaultModel = "gpt-4o-mini"

// completions is the part of the SDK client the adapter uses.
type completions interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// ChatModel implements model.ChatModel for OpenAI, retrying transient
// failures with a linear backoff.
type ChatModel struct {
	api        completions
	modelName  string
	maxRetries int
	retryDelay time.Duration
}

// NewChatModel creates an OpenAI adapter with 3 retries one second apart.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = DefaultModel
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &ChatModel{
		api:        &client.Chat.Completions,
		modelName:  modelName,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, msgs []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}
	if len(msgs) == 0 {
		return model.ChatOut{}, model.ErrNoMessages
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.modelName),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)),
	}
	for _, msg := range msgs {
		switch msg.Role {
		case model.RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(msg.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(msg.Content))
		}
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		completion, err := m.api.New(ctx, params)
		if err == nil {
			if len(completion.Choices) == 0 {
				return model.ChatOut{}, errors.New("openai: no choices in response")
			}
			return model.ChatOut{
				Text:       completion.Choices[0].Message.Content,
				TokensUsed: int(completion.Usage.TotalTokens),
			}, nil
		}

		lastErr = err
		if !isTransient(err) || attempt == m.maxRetries {
			break
		}

		select {
		case <-time.After(m.retryDelay * time.Duration(attempt+1)):
		case <-ctx.Done():
			return model.ChatOut{}, ctx.Err()
		}
	}
	return model.ChatOut{}, fmt.Errorf("openai: %w", lastErr)
}

// isTransient reports whether err is worth retrying.
func isTransient(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "temporary"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
