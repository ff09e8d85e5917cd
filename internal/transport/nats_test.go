package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/agentos/internal/intent"
	"github.com/ent0n29/agentos/internal/tasks"
)

const sendHiPayload = `{
  "intent": {"domain": "messaging", "action": "send_text", "confidence": 0.95},
  "slots": {
    "recipient": {"name": "recipient", "type": "contact", "required": true, "value": "mom", "resolved": true},
    "message": {"name": "message", "type": "string", "required": true, "value": null, "resolved": false}
  }
}`

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: append([]byte(nil), data...)})
	return nil
}

func (f *fakePublisher) snapshot() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

type countingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (c *countingMetrics) ObservePublish(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = map[string]int{}
	}
	c.outcomes[outcome]++
}

func (c *countingMetrics) count(outcome string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcomes[outcome]
}

func newTestTransport(t *testing.T, pub Publisher, metrics Metrics, prefix string) (*NATSTransport, *tasks.Manager) {
	t.Helper()
	manager := tasks.NewManager(tasks.NewRepository(tasks.NewMemoryStore(), zerolog.Nop()))
	t.Cleanup(manager.Close)
	tr := newTransport(pub, Config{SubjectPrefix: prefix}, manager, intent.NewParser(), metrics, zerolog.Nop())
	return tr, manager
}

func TestSubjects(t *testing.T) {
	tr, _ := newTestTransport(t, &fakePublisher{}, nil, " assistant.prod. ")
	assert.Equal(t, "assistant.prod.events.task_ready", tr.EventSubject(tasks.EventReady))
	assert.Equal(t, "assistant.prod.intent.parse", tr.ParseSubject())

	tr, _ = newTestTransport(t, &fakePublisher{}, nil, "")
	assert.Equal(t, "agentos.events.task_completed", tr.EventSubject(tasks.EventCompleted))
}

func TestForwardPublishesLifecycleEvents(t *testing.T) {
	pub := &fakePublisher{}
	metrics := &countingMetrics{}
	tr, manager := newTestTransport(t, pub, metrics, "agentos")

	events, unsubscribe := manager.Subscribe()
	defer unsubscribe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.forward(ctx, events) }()

	task, err := manager.CreateTask(ctx, tasks.CreateRequest{
		Intent: tasks.Intent{Domain: "web", Action: "search", Confidence: 0.9},
	})
	require.NoError(t, err)
	_, err = manager.Cancel(ctx, task.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs := pub.snapshot()
		return len(msgs) > 0 && msgs[len(msgs)-1].subject == "agentos.events.task_cancelled"
	}, time.Second, 5*time.Millisecond)

	msgs := pub.snapshot()
	assert.Equal(t, "agentos.events.task_created", msgs[0].subject)
	var evt tasks.Event
	require.NoError(t, json.Unmarshal(msgs[0].data, &evt))
	assert.Equal(t, task.ID, evt.TaskID)
	assert.Equal(t, tasks.EventCreated, evt.Type)
	assert.Equal(t, len(msgs), metrics.count("ok"))

	cancel()
	require.NoError(t, <-done)
}

func TestPublishFailureIsCounted(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	metrics := &countingMetrics{}
	tr, _ := newTestTransport(t, pub, metrics, "agentos")

	tr.publishEvent(tasks.Event{Type: tasks.EventCreated, TaskID: "t-1"})
	assert.Equal(t, 1, metrics.count("error"))
	assert.Empty(t, pub.snapshot())
}

func TestProcessParseCreatesTask(t *testing.T) {
	tr, manager := newTestTransport(t, &fakePublisher{}, nil, "agentos")
	req, err := json.Marshal(ParseRequest{
		Raw:     sendHiPayload,
		Context: tasks.TaskContext{Source: tasks.InputSourceText, SessionID: "s-1"},
	})
	require.NoError(t, err)

	resp := tr.processParse(context.Background(), req)
	require.Equal(t, StatusOK, resp.Status, resp.ErrorMessage)
	require.NotNil(t, resp.Task)
	assert.Equal(t, tasks.TaskStatusNeedsInput, resp.Task.Status)
	assert.Equal(t, "s-1", resp.Task.Context.SessionID)

	stored, err := manager.GetTask(context.Background(), resp.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"message"}, stored.MissingSlots())
}

func TestProcessParseErrors(t *testing.T) {
	tr, _ := newTestTransport(t, &fakePublisher{}, nil, "agentos")

	resp := tr.processParse(context.Background(), []byte("{not json"))
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, ErrorParseError, resp.ErrorCode)

	req, err := json.Marshal(ParseRequest{Raw: "I cannot help with that."})
	require.NoError(t, err)
	resp = tr.processParse(context.Background(), req)
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, ErrorMalformed, resp.ErrorCode)
	assert.Nil(t, resp.Task)
}
