package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/ent0n29/agentos/internal/intent"
	"github.com/ent0n29/agentos/internal/tasks"
)

const (
	StatusOK    = "ok"
	StatusError = "error"

	ErrorParseError    = "parse_error"
	ErrorMalformed     = "malformed_response"
	ErrorInvalidTask   = "invalid_task"
	ErrorInternal      = "internal_error"
	defaultRequestWait = 10 * time.Second
)

// Publisher is the subset of *nats.Conn used to emit events.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type Metrics interface {
	ObservePublish(outcome string)
}

type Config struct {
	URL            string
	Name           string
	Timeout        time.Duration
	SubjectPrefix  string
	RequestTimeout time.Duration
}

// ParseRequest asks the service to turn a raw model response into a task.
type ParseRequest struct {
	Raw     string            `json:"raw"`
	Context tasks.TaskContext `json:"context"`
}

type ParseResponse struct {
	Status       string      `json:"status"`
	Task         *tasks.Task `json:"task,omitempty"`
	ErrorCode    string      `json:"error_code,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// NATSTransport mirrors task lifecycle events onto NATS subjects and serves
// parse requests from other services.
type NATSTransport struct {
	conn      *nats.Conn
	publisher Publisher
	manager   *tasks.Manager
	parser    *intent.Parser
	cfg       Config
	logger    zerolog.Logger
	metrics   Metrics
}

func NewNATSTransport(cfg Config, manager *tasks.Manager, parser *intent.Parser, metrics Metrics, logger zerolog.Logger) (*NATSTransport, error) {
	if cfg.Name == "" {
		cfg.Name = "agentos"
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	t := newTransport(conn, cfg, manager, parser, metrics, logger)
	t.conn = conn
	t.logger.Info().Str("url", cfg.URL).Msg("connected to nats")
	return t, nil
}

func newTransport(pub Publisher, cfg Config, manager *tasks.Manager, parser *intent.Parser, metrics Metrics, logger zerolog.Logger) *NATSTransport {
	cfg.SubjectPrefix = strings.Trim(strings.TrimSpace(cfg.SubjectPrefix), ".")
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "agentos"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestWait
	}
	return &NATSTransport{
		publisher: pub,
		manager:   manager,
		parser:    parser,
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger.With().Str("component", "nats_transport").Logger(),
	}
}

// EventSubject is the subject an event of the given type is published on.
func (t *NATSTransport) EventSubject(eventType tasks.EventType) string {
	return t.cfg.SubjectPrefix + ".events." + string(eventType)
}

func (t *NATSTransport) ParseSubject() string {
	return t.cfg.SubjectPrefix + ".intent.parse"
}

// Run subscribes to the parse subject and forwards every task event until
// ctx is done.
func (t *NATSTransport) Run(ctx context.Context) error {
	if t.conn != nil {
		sub, err := t.conn.Subscribe(t.ParseSubject(), t.handleParseRequest)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", t.ParseSubject(), err)
		}
		defer func() { _ = sub.Unsubscribe() }()
		t.logger.Info().Str("subject", t.ParseSubject()).Msg("subscribed")
	}

	events, unsubscribe := t.manager.Subscribe()
	defer unsubscribe()
	return t.forward(ctx, events)
}

func (t *NATSTransport) forward(ctx context.Context, events <-chan tasks.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			t.publishEvent(evt)
		}
	}
}

func (t *NATSTransport) publishEvent(evt tasks.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		t.observe("encode_error")
		t.logger.Error().Err(err).Str("task_id", evt.TaskID).Msg("encode task event")
		return
	}
	subject := t.EventSubject(evt.Type)
	if err := t.publisher.Publish(subject, data); err != nil {
		t.observe("error")
		t.logger.Warn().Err(err).Str("subject", subject).Str("task_id", evt.TaskID).Msg("publish task event")
		return
	}
	t.observe("ok")
}

func (t *NATSTransport) handleParseRequest(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.RequestTimeout)
	defer cancel()

	data, err := json.Marshal(t.processParse(ctx, msg.Data))
	if err != nil {
		t.logger.Error().Err(err).Msg("encode parse response")
		return
	}
	if err := msg.Respond(data); err != nil {
		t.logger.Warn().Err(err).Msg("send parse response")
	}
}

// processParse decodes a ParseRequest, parses it and creates the task.
func (t *NATSTransport) processParse(ctx context.Context, data []byte) ParseResponse {
	var req ParseRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errorResponse(ErrorParseError, "invalid request format")
	}
	parsed, err := t.parser.Parse(req.Raw, req.Context)
	if err != nil {
		return errorResponse(ErrorMalformed, err.Error())
	}
	task, err := t.manager.CreateTask(ctx, parsed.ToCreateRequest())
	if err != nil {
		code := ErrorInternal
		if errors.Is(err, tasks.ErrInvalidTask) {
			code = ErrorInvalidTask
		}
		return errorResponse(code, err.Error())
	}
	t.logger.Debug().Str("task_id", task.ID).Str("session_id", req.Context.SessionID).Msg("task created from parse request")
	return ParseResponse{Status: StatusOK, Task: &task}
}

func (t *NATSTransport) observe(outcome string) {
	if t.metrics != nil {
		t.metrics.ObservePublish(outcome)
	}
}

func (t *NATSTransport) Close() error {
	if t.conn != nil {
		if err := t.conn.Drain(); err != nil {
			t.conn.Close()
			return err
		}
		t.logger.Info().Msg("nats connection closed")
	}
	return nil
}

func errorResponse(code, message string) ParseResponse {
	return ParseResponse{Status: StatusError, ErrorCode: code, ErrorMessage: message}
}
