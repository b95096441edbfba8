package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/dshills/invoicegraph/graph/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessages struct {
	got  anthropic.MessageNewParams
	resp *anthropic.Message
	err  error
}

func (f *fakeMessages) New(_ context.Context, body anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.got = body
	return f.resp, f.err
}

func TestChatModel_Chat(t *testing.T) {
	fake := &fakeMessages{resp: &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "s3"},
		},
		Usage: anthropic.Usage{InputTokens: 12, OutputTokens: 1},
	}}
	m := &ChatModel{api: fake, modelName: DefaultModel, maxTokens: 16}

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "Answer with one tool name."},
		{Role: model.RoleUser, Content: "storage: s3, gcs, local_fs"},
	})
	require.NoError(t, err)
	assert.Equal(t, "s3", out.Text)
	assert.Equal(t, 13, out.TokensUsed)

	require.Len(t, fake.got.System, 1)
	assert.Equal(t, "Answer with one tool name.", fake.got.System[0].Text)
	assert.Len(t, fake.got.Messages, 1)
	assert.Equal(t, anthropic.Model(DefaultModel), fake.got.Model)
	assert.EqualValues(t, 16, fake.got.MaxTokens)
}

func TestChatModel_Errors(t *testing.T) {
	m := &ChatModel{api: &fakeMessages{err: errors.New("overloaded")}, modelName: DefaultModel, maxTokens: 16}

	_, err := m.Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}})
	assert.ErrorContains(t, err, "overloaded")

	_, err = m.Chat(context.Background(), []model.Message{{Role: model.RoleSystem, Content: "only system"}})
	assert.ErrorIs(t, err, model.ErrNoMessages)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: "x"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewChatModel_DefaultModel(t *testing.T) {
	m := NewChatModel("key", "")
	assert.Equal(t, DefaultModel, m.modelName)
	assert.NotNil(t, m.api)
}
