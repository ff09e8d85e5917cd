package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ent0n29/agentos/internal/tasks"
)

func TestParseClientMessageUtterance(t *testing.T) {
	raw := []byte(`{"type":"client_utterance","session_id":"s1","text":"  send hi to mom ","source":"voice"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	u, ok := msg.(ClientUtterance)
	if !ok {
		t.Fatalf("message type = %T, want ClientUtterance", msg)
	}
	if u.SessionID != "s1" || u.Text != "send hi to mom" || u.Source != tasks.InputSourceVoice {
		t.Fatalf("unexpected utterance: %+v", u)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageUpdateSlot(t *testing.T) {
	raw := []byte(`{"type":"client_command","session_id":"s1","request_id":"r1","command":"update_slot","task_id":"t1","slot":"recipient","value":{"name":"Mom","vip":true}}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	cmd, ok := msg.(ClientCommand)
	if !ok {
		t.Fatalf("message type = %T, want ClientCommand", msg)
	}
	if cmd.TaskID != "t1" || cmd.Slot != "recipient" || cmd.RequestID != "r1" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if cmd.Value.Kind() != tasks.KindMap {
		t.Fatalf("Value kind = %s, want map", cmd.Value.Kind())
	}
}

func TestParseClientMessageRejectsInvalidCommands(t *testing.T) {
	for name, raw := range map[string]string{
		"no session":      `{"type":"client_command","command":"cancel","task_id":"t1"}`,
		"no task":         `{"type":"client_command","session_id":"s1","command":"cancel"}`,
		"unknown command": `{"type":"client_command","session_id":"s1","command":"explode","task_id":"t1"}`,
		"slot missing":    `{"type":"client_command","session_id":"s1","command":"update_slot","task_id":"t1"}`,
		"result missing":  `{"type":"client_command","session_id":"s1","command":"complete","task_id":"t1"}`,
		"error missing":   `{"type":"client_command","session_id":"s1","command":"fail","task_id":"t1"}`,
		"empty utterance": `{"type":"client_utterance","session_id":"s1","text":"   "}`,
		"broken envelope": `{"type":`,
	} {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestNewTaskEventWireShape(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	evt := tasks.Event{
		Seq:          7,
		Type:         tasks.EventNeedsInput,
		TaskID:       "t1",
		Task:         tasks.Task{ID: "t1", Status: tasks.TaskStatusNeedsInput},
		MissingSlots: []string{"recipient"},
		At:           at,
	}
	data, err := json.Marshal(NewTaskEvent(evt))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != string(TypeTaskEvent) || got["event"] != "task_needs_input" {
		t.Fatalf("unexpected wire shape: %s", data)
	}
	if got["ts_ms"] != float64(at.UnixMilli()) {
		t.Fatalf("ts_ms = %v", got["ts_ms"])
	}
}

func BenchmarkParseClientMessageUtterance(b *testing.B) {
	raw := []byte(`{"type":"client_utterance","session_id":"s1","text":"book a cab to the airport","source":"voice"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(ClientUtterance); !ok {
			b.Fatalf("message type = %T, want ClientUtterance", msg)
		}
	}
}
