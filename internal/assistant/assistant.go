package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ent0n29/agentos/internal/intent"
	"github.com/ent0n29/agentos/internal/llm"
	"github.com/ent0n29/agentos/internal/memory"
	"github.com/ent0n29/agentos/internal/policy"
	"github.com/ent0n29/agentos/internal/session"
	"github.com/ent0n29/agentos/internal/tasks"
)

const (
	notUnderstoodText = "I'm sorry, I didn't understand that. Could you try again?"
	unavailableText   = "I can't reach the language service right now. Please try again in a moment."
	confirmFallback   = "Ready to proceed?"
	doneFallback      = "Done!"
	cancelledText     = "Okay, cancelled."

	intentTemperature = 0.3
	replyTemperature  = 0.7

	// replyQueueSize bounds replies waiting on the model. When it is full the
	// fallback text is sent right away.
	replyQueueSize = 256
)

var ErrEmptyUtterance = errors.New("utterance is empty")

// Outcome kinds returned by HandleUtterance.
const (
	OutcomeSlotFilled    = "slot_filled"
	OutcomeTaskCreated   = "task_created"
	OutcomeConfirmed     = "confirmed"
	OutcomeDeclined      = "declined"
	OutcomeNotUnderstood = "not_understood"
	OutcomeRefused       = "refused"
)

type Outcome struct {
	Kind  string      `json:"kind"`
	Task  *tasks.Task `json:"task,omitempty"`
	Reply *Reply      `json:"reply,omitempty"`
}

// Metrics is the subset of observability.Metrics the assistant reports to.
type Metrics interface {
	ObserveLLMCall(purpose string, err error, d time.Duration)
	ObserveStage(stage string, d time.Duration)
}

type Config struct {
	HistoryTurns int
	// GenerateReplies asks the model to phrase questions and confirmations.
	// When false, or when the call fails, fixed fallback texts are used.
	GenerateReplies bool
}

type Option func(*Assistant)

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Assistant) { a.logger = logger }
}

func WithMetrics(metrics Metrics) Option {
	return func(a *Assistant) { a.metrics = metrics }
}

func WithMemory(store memory.Store) Option {
	return func(a *Assistant) { a.memory = store }
}

// Assistant routes utterances into the task manager and turns lifecycle
// events into conversational replies.
type Assistant struct {
	manager  *tasks.Manager
	parser   *intent.Parser
	llm      llm.Client
	sessions *session.Manager
	replies  *ReplyHub
	memory   memory.Store
	cfg      Config
	logger   zerolog.Logger
	metrics  Metrics
}

func New(manager *tasks.Manager, parser *intent.Parser, client llm.Client, sessions *session.Manager, replies *ReplyHub, cfg Config, opts ...Option) *Assistant {
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = intent.DefaultHistoryTurns
	}
	if replies == nil {
		replies = NewReplyHub()
	}
	a := &Assistant{
		manager:  manager,
		parser:   parser,
		llm:      client,
		sessions: sessions,
		replies:  replies,
		cfg:      cfg,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.memory == nil {
		a.memory = memory.NewInMemoryStore()
	}
	a.logger = a.logger.With().Str("component", "assistant").Logger()
	return a
}

func (a *Assistant) Replies() *ReplyHub { return a.replies }

// HandleUtterance answers the focused task's pending question when there is
// one, and otherwise parses the text into a new task.
func (a *Assistant) HandleUtterance(ctx context.Context, sessionID, text string, source tasks.InputSource) (Outcome, error) {
	start := time.Now()
	defer func() { a.observeStage("utterance_total", time.Since(start)) }()

	text = strings.TrimSpace(text)
	if text == "" {
		return Outcome{}, ErrEmptyUtterance
	}
	sess, err := a.sessions.Get(sessionID)
	if err != nil {
		return Outcome{}, err
	}
	if source == "" {
		source = sess.Source
	}
	if err := a.sessions.RecordTurn(sessionID); err != nil {
		return Outcome{}, err
	}

	history := a.recentHistory(ctx, sessionID)
	focus, hasFocus := a.focusTask(ctx, sess)
	a.remember(ctx, sessionID, focus.ID, tasks.RoleUser, text)

	if hasFocus {
		switch focus.Status {
		case tasks.TaskStatusNeedsInput:
			return a.fillSlot(ctx, focus, text)
		case tasks.TaskStatusReady:
			if isAffirmative(text) {
				task, err := a.Confirm(ctx, focus.ID)
				if err != nil {
					return Outcome{}, err
				}
				return Outcome{Kind: OutcomeConfirmed, Task: &task}, nil
			}
			if isNegative(text) {
				task, err := a.Decline(ctx, focus.ID)
				if err != nil {
					return Outcome{}, err
				}
				return Outcome{Kind: OutcomeDeclined, Task: &task}, nil
			}
		}
	}

	if decision := policy.CheckUtterance(text); decision.Blocked {
		a.logger.Info().Str("session_id", sessionID).Str("reason", decision.Reason).Msg("utterance refused")
		reply := a.deliver(ctx, Reply{SessionID: sessionID, Kind: ReplyRefusal, Text: "I can't help with that request."})
		return Outcome{Kind: OutcomeRefused, Reply: &reply}, nil
	}

	raw, err := a.call(ctx, "intent", []llm.Message{
		{Role: llm.RoleSystem, Content: intent.SystemPrompt},
		{Role: llm.RoleUser, Content: intent.UserPrompt(text, policy.RedactHistory(history), a.cfg.HistoryTurns)},
	}, llm.WithJSON(), llm.WithTemperature(intentTemperature))
	if err != nil {
		a.deliver(ctx, Reply{SessionID: sessionID, Kind: ReplyUnavailable, Text: unavailableText})
		return Outcome{}, fmt.Errorf("intent completion: %w", err)
	}

	parsed, err := a.parser.Parse(raw, tasks.TaskContext{
		Source:    source,
		RawInput:  text,
		SessionID: sessionID,
		History:   policy.RedactHistory(history),
	})
	if errors.Is(err, intent.ErrMalformedResponse) {
		reply := a.deliver(ctx, Reply{SessionID: sessionID, Kind: ReplyNotUnderstood, Text: notUnderstoodText})
		return Outcome{Kind: OutcomeNotUnderstood, Reply: &reply}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	task, err := a.manager.CreateTask(ctx, parsed.ToCreateRequest())
	if err != nil {
		return Outcome{}, err
	}
	if err := a.sessions.Focus(sessionID, task.ID); err != nil {
		a.logger.Warn().Err(err).Str("session_id", sessionID).Msg("focus new task")
	}
	a.logger.Info().Str("task_id", task.ID).Str("intent", task.Intent.FullName()).Str("status", string(task.Status)).Msg("task created from utterance")
	return Outcome{Kind: OutcomeTaskCreated, Task: &task}, nil
}

func (a *Assistant) fillSlot(ctx context.Context, focus tasks.Task, text string) (Outcome, error) {
	slot, ok := focus.NextMissingSlot()
	if !ok {
		return Outcome{}, fmt.Errorf("%w: task %s has no missing slot", tasks.ErrInvalidTransition, focus.ID)
	}
	task, err := a.manager.UpdateSlot(ctx, focus.ID, slot.Name, tasks.String(text))
	if err != nil {
		return Outcome{}, err
	}
	a.logger.Debug().Str("task_id", task.ID).Str("slot", slot.Name).Msg("slot answered")
	return Outcome{Kind: OutcomeSlotFilled, Task: &task}, nil
}

// Confirm starts execution of a READY task.
func (a *Assistant) Confirm(ctx context.Context, taskID string) (tasks.Task, error) {
	return a.manager.BeginExecution(ctx, taskID)
}

// Decline cancels the task the user refused to run.
func (a *Assistant) Decline(ctx context.Context, taskID string) (tasks.Task, error) {
	return a.manager.Cancel(ctx, taskID)
}

// AbandonSession cancels the session's focused task if it is still waiting
// on the user. It is installed as the session expiry hook.
func (a *Assistant) AbandonSession(ctx context.Context, s *session.Session) {
	if s == nil || s.FocusTaskID == "" {
		return
	}
	task, err := a.manager.GetTask(ctx, s.FocusTaskID)
	if err != nil {
		return
	}
	if task.Status != tasks.TaskStatusNeedsInput && task.Status != tasks.TaskStatusReady {
		return
	}
	if _, err := a.manager.Cancel(ctx, task.ID); err != nil && !errors.Is(err, tasks.ErrInvalidTransition) {
		a.logger.Warn().Err(err).Str("task_id", task.ID).Msg("cancel abandoned task")
		return
	}
	a.logger.Info().Str("task_id", task.ID).Str("session_id", s.ID).Msg("abandoned task cancelled")
}

// Run reacts to manager events until ctx ends or the manager closes.
func (a *Assistant) Run(ctx context.Context) {
	events, unsubscribe := a.manager.Subscribe()
	defer unsubscribe()
	a.consume(ctx, events)
}

// replyJob is a reply whose text may still be phrased by the model. Without
// a prompt the fallback text in reply is sent as is.
type replyJob struct {
	reply   Reply
	purpose string
	prompt  string
}

// consume applies state changes on the event loop. Model calls run on a
// single reply worker that keeps event order.
func (a *Assistant) consume(ctx context.Context, events <-chan tasks.Event) {
	jobs := make(chan replyJob, replyQueueSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for job := range jobs {
			a.send(ctx, job)
		}
	}()
	defer func() {
		close(jobs)
		<-done
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.react(ctx, evt, jobs)
		}
	}
}

func (a *Assistant) react(ctx context.Context, evt tasks.Event, jobs chan<- replyJob) {
	task := evt.Task
	sessionID := task.Context.SessionID

	switch evt.Type {
	case tasks.EventNeedsInput:
		slot, ok := task.NextMissingSlot()
		if !ok || sessionID == "" {
			return
		}
		a.enqueue(ctx, jobs, replyJob{
			reply:   Reply{SessionID: sessionID, TaskID: task.ID, Kind: ReplySlotQuestion, Text: "What is the " + slot.Name + "?"},
			purpose: "slot_question",
			prompt:  intent.SlotQuestionPrompt(task.Summary(), slot),
		})

	case tasks.EventCreated:
		if task.Status == tasks.TaskStatusReady {
			a.onReady(ctx, task, jobs)
		}

	case tasks.EventReady:
		a.onReady(ctx, task, jobs)

	case tasks.EventCompleted, tasks.EventFailed:
		a.sessions.ReleaseTask(task.ID)
		if sessionID == "" {
			return
		}
		success, failure := true, ""
		if task.Result != nil {
			success = task.Result.Success
			if task.Result.Error != nil {
				failure = task.Result.Error.Message
			}
		}
		if evt.Type == tasks.EventFailed {
			success = false
		}
		fallback := doneFallback
		if !success {
			fallback = "Error: " + failure
		}
		a.enqueue(ctx, jobs, replyJob{
			reply:   Reply{SessionID: sessionID, TaskID: task.ID, Kind: ReplyCompletion, Text: fallback},
			purpose: "completion",
			prompt:  intent.CompletionPrompt(task.Summary(), success, failure),
		})

	case tasks.EventCancelled:
		a.sessions.ReleaseTask(task.ID)
		if sessionID != "" {
			a.enqueue(ctx, jobs, replyJob{reply: Reply{SessionID: sessionID, TaskID: task.ID, Kind: ReplyCancelled, Text: cancelledText}})
		}
	}
}

func (a *Assistant) onReady(ctx context.Context, task tasks.Task, jobs chan<- replyJob) {
	decision := policy.DecideTask(task.Intent)
	if !decision.RequiresConfirmation {
		if _, err := a.manager.BeginExecution(ctx, task.ID); err != nil {
			a.logger.Warn().Err(err).Str("task_id", task.ID).Msg("auto-begin execution")
		}
		return
	}
	if task.Context.SessionID == "" {
		return
	}
	a.enqueue(ctx, jobs, replyJob{
		reply:   Reply{SessionID: task.Context.SessionID, TaskID: task.ID, Kind: ReplyConfirmation, Text: confirmFallback},
		purpose: "confirmation",
		prompt:  intent.ConfirmationPrompt(task.Summary()),
	})
}

func (a *Assistant) enqueue(ctx context.Context, jobs chan<- replyJob, job replyJob) {
	select {
	case jobs <- job:
	default:
		a.logger.Warn().Str("task_id", job.reply.TaskID).Str("kind", job.reply.Kind).Msg("reply queue full, sending fallback text")
		a.deliver(ctx, job.reply)
	}
}

func (a *Assistant) send(ctx context.Context, job replyJob) {
	if job.prompt != "" {
		job.reply.Text = a.generate(ctx, job.purpose, job.prompt, job.reply.Text)
	}
	a.deliver(ctx, job.reply)
}

func (a *Assistant) focusTask(ctx context.Context, sess *session.Session) (tasks.Task, bool) {
	if sess.FocusTaskID != "" {
		task, err := a.manager.GetTask(ctx, sess.FocusTaskID)
		if err == nil && !task.IsTerminal() {
			return task, true
		}
	}
	task, ok := a.manager.CurrentTask()
	if !ok || task.IsTerminal() || task.Context.SessionID != sess.ID {
		return tasks.Task{}, false
	}
	return task, true
}

func (a *Assistant) recentHistory(ctx context.Context, sessionID string) []tasks.ConversationTurn {
	records, err := a.memory.RecentTurns(ctx, sessionID, a.cfg.HistoryTurns)
	if err != nil {
		a.logger.Warn().Err(err).Str("session_id", sessionID).Msg("load conversation history")
		return nil
	}
	return memory.Turns(records)
}

func (a *Assistant) remember(ctx context.Context, sessionID, taskID string, role tasks.ConversationRole, content string) {
	redacted, changed := policy.RedactPII(content)
	err := a.memory.SaveTurn(ctx, memory.TurnRecord{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		TaskID:      taskID,
		Role:        role,
		Content:     redacted,
		PIIRedacted: changed,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		a.logger.Warn().Err(err).Str("session_id", sessionID).Msg("save conversation turn")
	}
}

func (a *Assistant) deliver(ctx context.Context, r Reply) Reply {
	a.remember(ctx, r.SessionID, r.TaskID, tasks.RoleAssistant, r.Text)
	a.replies.Publish(r)
	return r
}

// generate phrases a reply with the model, or returns fallback.
func (a *Assistant) generate(ctx context.Context, purpose, prompt, fallback string) string {
	if !a.cfg.GenerateReplies || a.llm == nil {
		return fallback
	}
	text, err := a.call(ctx, purpose, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, llm.WithTemperature(replyTemperature))
	if err != nil {
		a.logger.Debug().Err(err).Str("purpose", purpose).Msg("reply generation failed, using fallback")
		return fallback
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fallback
	}
	return text
}

func (a *Assistant) call(ctx context.Context, purpose string, messages []llm.Message, opts ...llm.CallOption) (string, error) {
	if a.llm == nil {
		return "", errors.New("no completion client configured")
	}
	start := time.Now()
	out, err := a.llm.Chat(ctx, messages, opts...)
	if a.metrics != nil {
		a.metrics.ObserveLLMCall(purpose, err, time.Since(start))
	}
	if err == nil {
		a.logger.Debug().Str("purpose", purpose).Str("response", out).Msg("model response")
	}
	return out, err
}

func (a *Assistant) observeStage(stage string, d time.Duration) {
	if a.metrics != nil {
		a.metrics.ObserveStage(stage, d)
	}
}

var (
	affirmatives = map[string]bool{"yes": true, "yeah": true, "yep": true, "sure": true, "ok": true, "okay": true, "confirm": true, "do it": true, "go ahead": true}
	negatives    = map[string]bool{"no": true, "nope": true, "cancel": true, "stop": true, "never mind": true, "nevermind": true}
)

func normalizeAnswer(text string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(text)), ".!?, ")
}

func isAffirmative(text string) bool { return affirmatives[normalizeAnswer(text)] }
func isNegative(text string) bool { return negatives[normalizeAnswer(text)] }
