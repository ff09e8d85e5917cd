package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/agentos/internal/assistant"
	"github.com/ent0n29/agentos/internal/protocol"
	"github.com/ent0n29/agentos/internal/tasks"
)

var errSessionMismatch = errors.New("session_id does not match connection")

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsPingInterval = 30 * time.Second
	wsQueueSize    = 256
)

// handleTasksWS streams task events, and the session's assistant replies when
// session_id is given, while accepting utterances and commands from the client.
func (s *Server) handleTasksWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	taskFilter := strings.TrimSpace(r.URL.Query().Get("task_id"))
	if sessionID != "" {
		if _, err := s.sessions.Get(sessionID); err != nil {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.observeSession("ws_connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		events      <-chan tasks.Event
		unsubscribe func()
	)
	if taskFilter != "" {
		events, unsubscribe = s.tasks.SubscribeTask(taskFilter)
	} else {
		events, unsubscribe = s.tasks.Subscribe()
	}
	defer unsubscribe()

	var replies <-chan assistant.Reply
	if sessionID != "" && s.assistant != nil {
		ch, stop := s.assistant.Replies().Subscribe(sessionID)
		defer stop()
		replies = ch
	}

	inbound := make(chan any, wsQueueSize)
	outbound := make(chan any, wsQueueSize)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, cancel, conn, outbound)
	}()

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for {
			var msg any
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					cancel()
					return
				}
				msg = protocol.NewTaskEvent(evt)
			case reply, ok := <-replies:
				if !ok {
					replies = nil
					continue
				}
				msg = protocol.AssistantReply{
					Type:      protocol.TypeAssistantReply,
					SessionID: reply.SessionID,
					TaskID:    reply.TaskID,
					Kind:      reply.Kind,
					Text:      reply.Text,
				}
			}
			if !enqueue(ctx, outbound, msg) {
				return
			}
		}
	}()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		for msg := range inbound {
			if reply := s.dispatch(ctx, sessionID, msg); reply != nil {
				if !enqueue(ctx, outbound, reply) {
					return
				}
			}
		}
	}()

	enqueue(ctx, outbound, protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: sessionID,
		Code:      "connected",
		Detail:    taskFilter,
	})

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Writes stay single-threaded; drop when the queue is saturated.
				s.observeWS("dropped", protocol.TypeErrorEvent)
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.observeWS("inbound", t)
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-dispatchDone
	<-forwardDone
	<-writerDone
	s.observeSession("ws_disconnected")
}

func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, outbound <-chan any) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				cancel()
				return
			}
		case msg := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug().Err(err).Msg("websocket write failed")
				cancel()
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				s.observeWS("outbound", t)
			}
		}
	}
}

// dispatch runs one client message and returns the message to send back.
func (s *Server) dispatch(ctx context.Context, connSession string, msg any) any {
	switch m := msg.(type) {
	case protocol.ClientUtterance:
		if connSession != "" && m.SessionID != connSession {
			return s.errorEvent(connSession, "", errSessionMismatch)
		}
		if s.assistant == nil {
			return s.errorEvent(m.SessionID, "", errors.New("assistant not configured"))
		}
		if _, err := s.assistant.HandleUtterance(ctx, m.SessionID, m.Text, m.Source); err != nil {
			return s.errorEvent(m.SessionID, "", err)
		}
		// Replies and task events reach the client through their streams.
		return nil

	case protocol.ClientCommand:
		if connSession != "" && m.SessionID != connSession {
			return s.errorEvent(connSession, m.RequestID, errSessionMismatch)
		}
		task, err := s.runCommand(ctx, m)
		if err != nil {
			return s.errorEvent(m.SessionID, m.RequestID, err)
		}
		return protocol.CommandResult{
			Type:      protocol.TypeCommandResult,
			SessionID: m.SessionID,
			RequestID: m.RequestID,
			Command:   m.Command,
			Task:      task,
		}
	}
	return nil
}

func (s *Server) runCommand(ctx context.Context, m protocol.ClientCommand) (tasks.Task, error) {
	switch m.Command {
	case protocol.CommandUpdateSlot:
		return s.tasks.UpdateSlot(ctx, m.TaskID, m.Slot, m.Value)
	case protocol.CommandReady:
		return s.tasks.MarkReady(ctx, m.TaskID)
	case protocol.CommandExecute:
		return s.tasks.BeginExecution(ctx, m.TaskID)
	case protocol.CommandComplete:
		return s.tasks.Complete(ctx, m.TaskID, *m.Result)
	case protocol.CommandFail:
		return s.tasks.Fail(ctx, m.TaskID, *m.Error)
	case protocol.CommandCancel:
		return s.tasks.Cancel(ctx, m.TaskID)
	case protocol.CommandConfirm:
		if s.assistant == nil {
			return s.tasks.BeginExecution(ctx, m.TaskID)
		}
		return s.assistant.Confirm(ctx, m.TaskID)
	case protocol.CommandDecline:
		if s.assistant == nil {
			return s.tasks.Cancel(ctx, m.TaskID)
		}
		return s.assistant.Decline(ctx, m.TaskID)
	case protocol.CommandFocus:
		task, err := s.tasks.SetCurrentTask(ctx, m.TaskID)
		if err != nil {
			return tasks.Task{}, err
		}
		if err := s.sessions.Focus(m.SessionID, task.ID); err != nil {
			return tasks.Task{}, err
		}
		return task, nil
	default:
		return tasks.Task{}, fmt.Errorf("unknown command %q", m.Command)
	}
}

func (s *Server) errorEvent(sessionID, requestID string, err error) protocol.ErrorEvent {
	status, code := commandErrorStatus(err)
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		RequestID: requestID,
		Code:      code,
		Source:    "task_manager",
		Retryable: status >= http.StatusInternalServerError,
		Detail:    err.Error(),
	}
}

func (s *Server) observeWS(direction string, t protocol.MessageType) {
	if s.metrics != nil {
		s.metrics.ObserveWSMessage(direction, string(t))
	}
}

func enqueue(ctx context.Context, outbound chan<- any, msg any) bool {
	select {
	case <-ctx.Done():
		return false
	case outbound <- msg:
		return true
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientUtterance:
		return m.Type, true
	case protocol.ClientCommand:
		return m.Type, true
	case protocol.TaskEvent:
		return m.Type, true
	case protocol.AssistantReply:
		return m.Type, true
	case protocol.CommandResult:
		return m.Type, true
	case protocol.SystemEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
