package llm

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/agentos/internal/reliability"
)

const (
	defaultRetryBase = 250 * time.Millisecond
	defaultRetryCap  = 4 * time.Second
)

// Retrying repeats calls that fail with a retryable provider status.
type Retrying struct {
	next       Client
	maxRetries int
	base       time.Duration
	cap        time.Duration
	logger     zerolog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewRetrying(next Client, maxRetries int, logger zerolog.Logger) *Retrying {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Retrying{
		next:       next,
		maxRetries: maxRetries,
		base:       defaultRetryBase,
		cap:        defaultRetryCap,
		logger:     logger.With().Str("component", "llm_retry").Logger(),
		sleep:      sleepContext,
	}
}

func (r *Retrying) Complete(ctx context.Context, prompt string, opts ...CallOption) (string, error) {
	return r.do(ctx, func() (string, error) { return r.next.Complete(ctx, prompt, opts...) })
}

func (r *Retrying) Chat(ctx context.Context, messages []Message, opts ...CallOption) (string, error) {
	return r.do(ctx, func() (string, error) { return r.next.Chat(ctx, messages, opts...) })
}

func (r *Retrying) do(ctx context.Context, call func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, r.base, r.cap)
			r.logger.Debug().Err(lastErr).Int("attempt", attempt).Dur("wait", wait).Msg("retrying completion")
			if err := r.sleep(ctx, wait); err != nil {
				return "", err
			}
		}
		out, err := call()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return "", err
		}
	}
	return "", lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
