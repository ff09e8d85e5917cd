package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrNoScriptedReply is returned by Mock when its script is exhausted and no
// fallback reply is set.
var ErrNoScriptedReply = errors.New("mock llm: no scripted reply")

type MockReply struct {
	Text string
	Err  error
}

// Mock replays scripted replies in order and records every request. It is
// used when no provider key is configured and in tests.
type Mock struct {
	mu       sync.Mutex
	script   []MockReply
	fallback *MockReply
	calls    [][]Message
	options  []CallOptions
}

func NewMock(replies ...MockReply) *Mock {
	return &Mock{script: replies}
}

// Push appends replies to the script.
func (m *Mock) Push(replies ...MockReply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, replies...)
}

// SetFallback sets the reply used once the script is empty.
func (m *Mock) SetFallback(reply MockReply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &reply
}

func (m *Mock) Complete(ctx context.Context, prompt string, opts ...CallOption) (string, error) {
	return m.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, opts...)
}

func (m *Mock) Chat(ctx context.Context, messages []Message, opts ...CallOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]Message(nil), messages...))
	m.options = append(m.options, applyOptions(opts))

	if len(m.script) == 0 {
		if m.fallback != nil {
			return m.fallback.Text, m.fallback.Err
		}
		return "", ErrNoScriptedReply
	}
	next := m.script[0]
	m.script = m.script[1:]
	return next.Text, next.Err
}

// Calls returns a copy of every request seen so far.
func (m *Mock) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]Message, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *Mock) Options() []CallOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CallOptions(nil), m.options...)
}
