package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ent0n29/agentos/internal/reliability"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CallOptions tune a single completion request.
type CallOptions struct {
	JSON        bool
	Temperature *float64
}

type CallOption func(*CallOptions)

// WithJSON asks the provider for a JSON object response.
func WithJSON() CallOption {
	return func(o *CallOptions) { o.JSON = true }
}

func WithTemperature(t float64) CallOption {
	return func(o *CallOptions) { o.Temperature = &t }
}

func applyOptions(opts []CallOption) CallOptions {
	var o CallOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Client is the text-completion contract the assistant depends on.
type Client interface {
	Complete(ctx context.Context, prompt string, opts ...CallOption) (string, error)
	Chat(ctx context.Context, messages []Message, opts ...CallOption) (string, error)
}

// StatusError reports a non-2xx response from a provider.
type StatusError struct {
	Provider string
	Code     int
	Err      error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s status %d", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s status %d: %v", e.Provider, e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// IsRetryable reports whether a failed call is worth repeating.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var serr *StatusError
	if errors.As(err, &serr) {
		return reliability.IsRetryableHTTPStatus(serr.Code)
	}
	return reliability.IsTransient(err)
}
