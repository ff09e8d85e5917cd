package llm

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleepRetrying(next Client, retries int) (*Retrying, *[]time.Duration) {
	r := NewRetrying(next, retries, zerolog.Nop())
	var waits []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return r, &waits
}

func TestRetryingRecoversFromRetryableStatus(t *testing.T) {
	mock := NewMock(
		MockReply{Err: &StatusError{Provider: "openai", Code: 503}},
		MockReply{Err: &StatusError{Provider: "openai", Code: 429}},
		MockReply{Text: "ok"},
	)
	r, waits := noSleepRetrying(mock, 2)

	out, err := r.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Len(t, mock.Calls(), 3)
	assert.Equal(t, []time.Duration{defaultRetryBase, 2 * defaultRetryBase}, *waits)
}

func TestRetryingStopsOnPermanentError(t *testing.T) {
	mock := NewMock(
		MockReply{Err: &StatusError{Provider: "openai", Code: 401}},
		MockReply{Text: "never"},
	)
	r, _ := noSleepRetrying(mock, 3)

	_, err := r.Complete(context.Background(), "hi")
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 401, serr.Code)
	assert.Len(t, mock.Calls(), 1)
}

func TestRetryingGivesUpAfterBudget(t *testing.T) {
	boom := &StatusError{Provider: "openai", Code: 500}
	mock := NewMock()
	mock.SetFallback(MockReply{Err: boom})
	r, _ := noSleepRetrying(mock, 2)

	_, err := r.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	assert.True(t, errors.Is(err, boom))
	assert.Len(t, mock.Calls(), 3)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.True(t, IsRetryable(&StatusError{Code: 502}))
	assert.False(t, IsRetryable(&StatusError{Code: 400}))
	assert.True(t, IsRetryable(classifyError(fmt.Errorf("post: %w", syscall.ECONNRESET))))
}

func TestClassifyErrorExtractsStatus(t *testing.T) {
	err := classifyError(errors.New("API returned unexpected status code: 429: rate limited"))
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 429, serr.Code)
	assert.True(t, IsRetryable(err))

	assert.False(t, IsRetryable(classifyError(errors.New("dial tcp: refused"))))
}

func TestMockRecordsOptions(t *testing.T) {
	mock := NewMock(MockReply{Text: "{}"})
	_, err := mock.Complete(context.Background(), "parse", WithJSON(), WithTemperature(0.1))
	require.NoError(t, err)

	opts := mock.Options()
	require.Len(t, opts, 1)
	assert.True(t, opts[0].JSON)
	require.NotNil(t, opts[0].Temperature)
	assert.Equal(t, 0.1, *opts[0].Temperature)

	_, err = mock.Complete(context.Background(), "again")
	assert.ErrorIs(t, err, ErrNoScriptedReply)
}
