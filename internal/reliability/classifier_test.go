package reliability

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	base := errors.New("boom")
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", base, false},
		{"marked transient", fmt.Errorf("call: %w", &TransientError{Err: base, StatusCode: 503}), true},
		{"permanent wins", &PermanentError{Err: &TransientError{Err: base}}, false},
		{"network timeout", fmt.Errorf("dial: %w", timeoutErr{}), true},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"context deadline", context.DeadlineExceeded, false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Fatalf("%s: IsTransient() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestExponentialBackoff(t *testing.T) {
	base := 250 * time.Millisecond
	capDur := 4 * time.Second
	want := []time.Duration{base, 500 * time.Millisecond, time.Second, 2 * time.Second, capDur, capDur}
	for attempt, w := range want {
		if got := ExponentialBackoff(attempt, base, capDur); got != w {
			t.Fatalf("attempt %d = %v, want %v", attempt, got, w)
		}
	}
}
