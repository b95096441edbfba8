package invoice

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/invoicegraph/graph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstPicker(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "s3", FirstPicker{}.Pick(ctx, CapabilityStorage, Pools[CapabilityStorage]))
	assert.Empty(t, FirstPicker{}.Pick(ctx, "none", nil))
}

func TestRandomPicker_SeededIsReproducible(t *testing.T) {
	ctx := context.Background()
	pool := Pools[CapabilityOCR]
	a, b := NewRandomPicker(7), NewRandomPicker(7)
	for i := 0; i < 20; i++ {
		pick := a.Pick(ctx, CapabilityOCR, pool)
		assert.Contains(t, pool, pick)
		assert.Equal(t, pick, b.Pick(ctx, CapabilityOCR, pool))
	}
	assert.Contains(t, pool, NewRandomPicker(0).Pick(ctx, CapabilityOCR, pool))
	assert.Empty(t, NewRandomPicker(7).Pick(ctx, CapabilityOCR, nil))
}

func TestModelPicker(t *testing.T) {
	ctx := context.Background()
	pool := Pools[CapabilityOCR]

	tests := []struct {
		name  string
		model *model.MockChatModel
		want  string
	}{
		{"exact", &model.MockChatModel{Responses: []model.ChatOut{{Text: "tesseract"}}}, "tesseract"},
		{"quoted and cased", &model.MockChatModel{Responses: []model.ChatOut{{Text: " \"AWS_Textract\".\n"}}}, "aws_textract"},
		{"unknown falls back", &model.MockChatModel{Responses: []model.ChatOut{{Text: "abbyy"}}}, "google_vision"},
		{"error falls back", &model.MockChatModel{Err: errors.New("rate limited")}, "google_vision"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewModelPicker(tt.model, nil)
			assert.Equal(t, tt.want, p.Pick(ctx, CapabilityOCR, pool))
		})
	}
}

func TestModelPicker_Prompt(t *testing.T) {
	m := &model.MockChatModel{Responses: []model.ChatOut{{Text: "ses"}}}
	p := NewModelPicker(m, nil)
	assert.Equal(t, "ses", p.Pick(context.Background(), CapabilityEmail, Pools[CapabilityEmail]))

	calls := m.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 2)
	assert.Equal(t, model.RoleSystem, calls[0][0].Role)
	assert.Equal(t, "Capability: email\nTools: sendgrid, smartlead, ses", calls[0][1].Content)
}
