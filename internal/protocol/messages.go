package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/agentos/internal/tasks"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientUtterance MessageType = "client_utterance"
	TypeClientCommand   MessageType = "client_command"

	TypeTaskEvent      MessageType = "task_event"
	TypeAssistantReply MessageType = "assistant_reply"
	TypeCommandResult  MessageType = "command_result"
	TypeSystemEvent    MessageType = "system_event"
	TypeErrorEvent     MessageType = "error_event"
)

// Commands accepted in a client_command message.
const (
	CommandUpdateSlot = "update_slot"
	CommandReady      = "ready"
	CommandExecute    = "execute"
	CommandComplete   = "complete"
	CommandFail       = "fail"
	CommandCancel     = "cancel"
	CommandConfirm    = "confirm"
	CommandDecline    = "decline"
	CommandFocus      = "focus"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientUtterance struct {
	Type      MessageType       `json:"type"`
	SessionID string            `json:"session_id"`
	Text      string            `json:"text"`
	Source    tasks.InputSource `json:"source,omitempty"`
}

// ClientCommand drives one task manager command. Slot and Value are used by
// update_slot, Result by complete, Error by fail.
type ClientCommand struct {
	Type      MessageType       `json:"type"`
	SessionID string            `json:"session_id"`
	RequestID string            `json:"request_id,omitempty"`
	Command   string            `json:"command"`
	TaskID    string            `json:"task_id"`
	Slot      string            `json:"slot,omitempty"`
	Value     tasks.Value       `json:"value"`
	Result    *tasks.TaskResult `json:"result,omitempty"`
	Error     *tasks.TaskError  `json:"error,omitempty"`
}

type TaskEvent struct {
	Type         MessageType      `json:"type"`
	Seq          uint64           `json:"seq"`
	Event        tasks.EventType  `json:"event"`
	TaskID       string           `json:"task_id"`
	Task         tasks.Task       `json:"task"`
	MissingSlots []string         `json:"missing_slots,omitempty"`
	Error        *tasks.TaskError `json:"error,omitempty"`
	TSMs         int64            `json:"ts_ms"`
}

type AssistantReply struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TaskID    string      `json:"task_id,omitempty"`
	Kind      string      `json:"kind"`
	Text      string      `json:"text"`
}

type CommandResult struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	RequestID string      `json:"request_id,omitempty"`
	Command   string      `json:"command"`
	Task      tasks.Task  `json:"task"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	RequestID string      `json:"request_id,omitempty"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// NewTaskEvent converts a manager event into its wire form.
func NewTaskEvent(evt tasks.Event) TaskEvent {
	return TaskEvent{
		Type:         TypeTaskEvent,
		Seq:          evt.Seq,
		Event:        evt.Type,
		TaskID:       evt.TaskID,
		Task:         evt.Task,
		MissingSlots: evt.MissingSlots,
		Error:        evt.Error,
		TSMs:         evt.At.UnixMilli(),
	}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientUtterance:
		var msg ClientUtterance
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Text = strings.TrimSpace(msg.Text)
		if msg.SessionID == "" || msg.Text == "" {
			return nil, errors.New("invalid client_utterance")
		}
		return msg, nil
	case TypeClientCommand:
		var msg ClientCommand
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if err := validateCommand(msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

func validateCommand(msg ClientCommand) error {
	if msg.SessionID == "" {
		return errors.New("invalid client_command: session_id is required")
	}
	if msg.TaskID == "" && msg.Command != CommandFocus {
		return errors.New("invalid client_command: task_id is required")
	}
	switch msg.Command {
	case CommandUpdateSlot:
		if strings.TrimSpace(msg.Slot) == "" {
			return errors.New("invalid client_command: update_slot needs slot")
		}
	case CommandComplete:
		if msg.Result == nil {
			return errors.New("invalid client_command: complete needs result")
		}
	case CommandFail:
		if msg.Error == nil {
			return errors.New("invalid client_command: fail needs error")
		}
	case CommandReady, CommandExecute, CommandCancel, CommandConfirm, CommandDecline, CommandFocus:
	default:
		return fmt.Errorf("invalid client_command: unknown command %q", msg.Command)
	}
	return nil
}
