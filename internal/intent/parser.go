package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog"

	"github.com/ent0n29/agentos/internal/tasks"
)

// ErrMalformedResponse matches every *MalformedResponseError through errors.Is.
var ErrMalformedResponse = errors.New("malformed model response")

// MalformedResponseError carries the untouched model output for diagnostics.
type MalformedResponseError struct {
	Raw string
	Err error
}

func (e *MalformedResponseError) Error() string {
	if e.Err == nil {
		return ErrMalformedResponse.Error()
	}
	return ErrMalformedResponse.Error() + ": " + e.Err.Error()
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

func (e *MalformedResponseError) Is(target error) bool { return target == ErrMalformedResponse }

// ParseMetrics counts parse outcomes: ok, repaired, malformed.
type ParseMetrics interface {
	ObserveParse(outcome string)
}

type Option func(*Parser)

// WithRepair lets the parser run jsonrepair over a payload that does not
// decode as-is.
func WithRepair(enabled bool) Option {
	return func(p *Parser) { p.repair = enabled }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Parser) { p.logger = logger }
}

func WithMetrics(metrics ParseMetrics) Option {
	return func(p *Parser) { p.metrics = metrics }
}

func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

// Parser turns model output into a PENDING task. It is stateless and safe
// for concurrent use.
type Parser struct {
	repair  bool
	logger  zerolog.Logger
	metrics ParseMetrics
	now     func() time.Time
}

func NewParser(opts ...Option) *Parser {
	p := &Parser{
		logger: zerolog.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With().Str("component", "intent_parser").Logger()
	return p
}

type wireResponse struct {
	Intent *wireIntent     `json:"intent"`
	Slots  json.RawMessage `json:"slots"`
}

type wireIntent struct {
	Domain     string   `json:"domain"`
	Action     string   `json:"action"`
	Confidence *float64 `json:"confidence"`
}

type wireSlot struct {
	Name        string                 `json:"name"`
	Type        string                 `json:"type"`
	Required    *bool                  `json:"required"`
	Value       tasks.Value            `json:"value"`
	Resolved    *bool                  `json:"resolved"`
	Description string                 `json:"description"`
	Constraints *tasks.SlotConstraints `json:"constraints"`
}

// Parse validates raw model output and builds a task from it. Structural
// problems fail with a *MalformedResponseError; unknown slot types degrade
// to string.
func (p *Parser) Parse(raw string, tctx tasks.TaskContext) (tasks.Task, error) {
	p.logger.Debug().Str("raw", raw).Msg("parsing model response")

	cleaned := StripCodeFence(raw)
	task, err := p.build(cleaned, tctx)
	if err == nil {
		p.observe("ok")
		return task, nil
	}
	if p.repair {
		if fixed, repairErr := jsonrepair.JSONRepair(cleaned); repairErr == nil && fixed != cleaned {
			if task, retryErr := p.build(fixed, tctx); retryErr == nil {
				p.logger.Debug().Err(err).Msg("model response repaired")
				p.observe("repaired")
				return task, nil
			}
		}
	}
	p.logger.Warn().Err(err).Int("raw_len", len(raw)).Msg("model response rejected")
	p.observe("malformed")
	return tasks.Task{}, &MalformedResponseError{Raw: raw, Err: err}
}

func (p *Parser) build(payload string, tctx tasks.TaskContext) (tasks.Task, error) {
	if payload == "" {
		return tasks.Task{}, errors.New("empty payload")
	}
	var resp wireResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return tasks.Task{}, fmt.Errorf("decode payload: %w", err)
	}
	if resp.Intent == nil {
		return tasks.Task{}, errors.New(`missing "intent"`)
	}
	domain := strings.TrimSpace(resp.Intent.Domain)
	action := strings.TrimSpace(resp.Intent.Action)
	if domain == "" || action == "" {
		return tasks.Task{}, errors.New("intent domain and action are required")
	}
	confidence := 1.0
	if resp.Intent.Confidence != nil {
		confidence = clamp01(*resp.Intent.Confidence)
	}
	if len(resp.Slots) == 0 || string(resp.Slots) == "null" {
		return tasks.Task{}, errors.New(`missing "slots"`)
	}

	var list []tasks.Slot
	err := tasks.EachObjectField(resp.Slots, func(key string, raw json.RawMessage) error {
		var ws wireSlot
		if err := json.Unmarshal(raw, &ws); err != nil {
			return fmt.Errorf("slot %q: %w", key, err)
		}
		if ws.Name != "" && ws.Name != key {
			p.logger.Debug().Str("slot", key).Str("declared", ws.Name).Msg("slot name differs from key")
		}
		slot := tasks.Slot{
			Name:        key,
			Type:        tasks.ParseSlotType(ws.Type),
			Required:    true,
			Value:       ws.Value,
			Description: strings.TrimSpace(ws.Description),
			Constraints: ws.Constraints,
		}
		if ws.Required != nil {
			slot.Required = *ws.Required
		}
		if ws.Resolved != nil {
			slot.Resolved = *ws.Resolved && !ws.Value.IsNull()
		}
		list = append(list, slot)
		return nil
	})
	if err != nil {
		return tasks.Task{}, fmt.Errorf("decode slots: %w", err)
	}
	slots, err := tasks.NewSlots(list...)
	if err != nil {
		return tasks.Task{}, err
	}

	now := p.now()
	return tasks.Task{
		ID:        uuid.NewString(),
		Intent:    tasks.Intent{Domain: domain, Action: action, Confidence: confidence},
		Status:    tasks.TaskStatusPending,
		Slots:     slots,
		Context:   tctx,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (p *Parser) observe(outcome string) {
	if p.metrics != nil {
		p.metrics.ObserveParse(outcome)
	}
}

// StripCodeFence removes a Markdown code fence around a payload, with or
// without a json language tag.
func StripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(s, "```json"); ok {
		s = rest
	} else if rest, ok := strings.CutPrefix(s, "```JSON"); ok {
		s = rest
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
