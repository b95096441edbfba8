package openai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/invoicegraph/graph/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompletions struct {
	calls int
	got   openai.ChatCompletionNewParams
	errs  []error
	resp  *openai.ChatCompletion
}

func (f *fakeCompletions) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.got = body
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.resp, nil
}

func completion(text string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: text}}},
		Usage:   openai.CompletionUsage{TotalTokens: 9},
	}
}

func newTestModel(api completions) *ChatModel {
	return &ChatModel{api: api, modelName: DefaultModel, maxRetries: 2, retryDelay: time.Millisecond}
}

func TestChatModel_Chat(t *testing.T) {
	fake := &fakeCompletions{resp: completion("sap_sandbox")}

	out, err := newTestModel(fake).Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "pick one"},
		{Role: model.RoleUser, Content: "erp_connector: sap_sandbox, netsuite, mock_erp"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sap_sandbox", out.Text)
	assert.Equal(t, 9, out.TokensUsed)
	assert.Len(t, fake.got.Messages, 2)
	assert.Equal(t, 1, fake.calls)
}

func TestChatModel_RetriesTransientErrors(t *testing.T) {
	fake := &fakeCompletions{
		errs: []error{errors.New("connection reset"), errors.New("request timeout")},
		resp: completion("ok"),
	}

	out, err := newTestModel(fake).Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Text)
	assert.Equal(t, 3, fake.calls)
}

func TestChatModel_GivesUp(t *testing.T) {
	fake := &fakeCompletions{errs: []error{
		errors.New("timeout"), errors.New("timeout"), errors.New("timeout"), errors.New("timeout"),
	}}
	_, err := newTestModel(fake).Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}})
	assert.ErrorContains(t, err, "timeout")
	assert.Equal(t, 3, fake.calls)
}

func TestChatModel_PermanentErrorNotRetried(t *testing.T) {
	fake := &fakeCompletions{errs: []error{errors.New("invalid api key")}}
	_, err := newTestModel(fake).Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}})
	assert.Error(t, err)
	assert.Equal(t, 1, fake.calls)
}

func TestChatModel_NoChoices(t *testing.T) {
	fake := &fakeCompletions{resp: &openai.ChatCompletion{}}
	_, err := newTestModel(fake).Chat(context.Background(), []model.Message{{Role: model.RoleUser, Content: "x"}})
	assert.ErrorContains(t, err, "no choices")
}

func TestChatModel_EmptyConversation(t *testing.T) {
	_, err := newTestModel(&fakeCompletions{}).Chat(context.Background(), nil)
	assert.ErrorIs(t, err, model.ErrNoMessages)
}
