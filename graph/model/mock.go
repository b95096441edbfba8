package model

import (
	"context"
	"sync"
)

// MockChatModel is a scripted ChatModel for tests. Replies are returned in
// order and the last one repeats. Err, when set, fails every call.
type MockChatModel struct {
	Responses []ChatOut
	Err       error

	mu    sync.Mutex
	calls [][]Message
}

// Chat implements ChatModel.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message) (ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return ChatOut{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.calls)
	m.calls = append(m.calls, messages)
	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	switch {
	case len(m.Responses) == 0:
		return ChatOut{}, nil
	case n >= len(m.Responses):
		return m.Responses[len(m.Responses)-1], nil
	default:
		return m.Responses[n], nil
	}
}

// Calls returns the conversations received so far.
func (m *MockChatModel) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]Message(nil), m.calls...)
}
