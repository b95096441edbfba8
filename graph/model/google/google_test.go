package google

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/invoicegraph/graph/model"
	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatModel_Chat(t *testing.T) {
	var gotSystem string
	var gotParts []genai.Part
	m := &ChatModel{generate: func(_ context.Context, system string, parts []genai.Part) (*genai.GenerateContentResponse, error) {
		gotSystem, gotParts = system, parts
		return &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []genai.Part{genai.Text("tesseract")}},
			}},
			UsageMetadata: &genai.UsageMetadata{TotalTokenCount: 7},
		}, nil
	}}

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "one word"},
		{Role: model.RoleUser, Content: "ocr: google_vision, tesseract, aws_textract"},
	})
	require.NoError(t, err)
	assert.Equal(t, "tesseract", out.Text)
	assert.Equal(t, 7, out.TokensUsed)
	assert.Equal(t, "one word", gotSystem)
	assert.Equal(t, []genai.Part{genai.Text("ocr: google_vision, tesseract, aws_textract")}, gotParts)
	assert.NoError(t, m.Close())
}

func TestChatModel_Errors(t *testing.T) {
	m := &ChatModel{generate: func(context.Context, string, []genai.Part) (*genai.GenerateContentResponse, error) {
		return nil, errors.New("blocked")
	}}

	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}})
	assert.ErrorContains(t, err, "blocked")

	_, err = m.Chat(context.Background(), []model.Message{{Role: model.RoleUser}})
	assert.ErrorIs(t, err, model.ErrNoMessages)
}

func TestConvertResponse(t *testing.T) {
	assert.Equal(t, model.ChatOut{}, convertResponse(nil))
	assert.Equal(t, model.ChatOut{}, convertResponse(&genai.GenerateContentResponse{}))

	out := convertResponse(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text("a"), genai.Text("b")}},
	}}})
	assert.Equal(t, "a\nb", out.Text)
}

func TestNewChatModel_RequiresKey(t *testing.T) {
	_, err := NewChatModel(context.Background(), "", "")
	assert.Error(t, err)
}
