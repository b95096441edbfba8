// Package google adapts Gemini to model.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/invoicegraph/graph/model"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultModel is used when NewChatModel gets an empty model name.
const DefaultModel = "gemini-2.5-flash"

// generateFunc sends one request; system may be empty.
type generateFunc func(ctx context.Context, system string, parts []genai.Part) (*genai.GenerateContentResponse, error)

// ChatModel implements model.ChatModel for Gemini. Call Close when done.
type ChatModel struct {
	client   *genai.Client
	generate generateFunc
}

// NewChatModel creates a Gemini adapter holding one client.
func NewChatModel(ctx context.Context, apiKey, modelName string) (*ChatModel, error) {
	if apiKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}

	m := &ChatModel{client: client}
	m.generate = func(ctx context.Context, system string, parts []genai.Part) (*genai.GenerateContentResponse, error) {
		gm := client.GenerativeModel(modelName)
		if system != "" {
			gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
		}
		return gm.GenerateContent(ctx, parts...)
	}
	return m, nil
}

// Close releases the client.
func (m *ChatModel) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}

// Chat implements model.ChatModel. Gemini receives the non-system turns as
// text parts of a single request.
func (m *ChatModel) Chat(ctx context.Context, msgs []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	system, turns := model.SplitSystem(msgs)
	parts := make([]genai.Part, 0, len(turns))
	for _, t := range turns {
		if t.Content != "" {
			parts = append(parts, genai.Text(t.Content))
		}
	}
	if len(parts) == 0 {
		return model.ChatOut{}, model.ErrNoMessages
	}

	resp, err := m.generate(ctx, system, parts)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("google: %w", err)
	}
	return convertResponse(resp), nil
}

func convertResponse(resp *genai.GenerateContentResponse) model.ChatOut {
	var out model.ChatOut
	if resp == nil {
		return out
	}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	var text []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text = append(text, string(t))
		}
	}
	out.Text = strings.Join(text, "\n")
	return out
}
