package main

import (
	"testing"
	"time"
)

func TestWSURLForSession(t *testing.T) {
	got, err := wsURLForSession("https://agent.example.com/base/", "s 1")
	if err != nil {
		t.Fatalf("wsURLForSession() error = %v", err)
	}
	want := "wss://agent.example.com/base/v1/tasks/ws?session_id=s+1"
	if got != want {
		t.Fatalf("wsURLForSession() = %q, want %q", got, want)
	}

	if _, err := wsURLForSession("ftp://agent.example.com", "s"); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
}

func TestParseFlagsSplitsTexts(t *testing.T) {
	cfg, err := parseFlags([]string{"-texts", " send hi to mom | |create a note ", "-turn-timeout-ms", "10"})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if len(cfg.texts) != 2 || cfg.texts[0] != "send hi to mom" || cfg.texts[1] != "create a note" {
		t.Fatalf("texts = %q", cfg.texts)
	}
	if cfg.turnTimeout != time.Second {
		t.Fatalf("turnTimeout = %s, want clamp to 1s", cfg.turnTimeout)
	}

	if _, err := parseFlags([]string{"-turns", "0"}); err == nil {
		t.Fatalf("expected error for zero turns")
	}
}

func TestPercentile(t *testing.T) {
	samples := make([]time.Duration, 0, 10)
	for i := 10; i >= 1; i-- {
		samples = append(samples, time.Duration(i)*time.Millisecond)
	}
	if got := percentile(samples, 0.5); got != 5*time.Millisecond {
		t.Fatalf("p50 = %s, want 5ms", got)
	}
	if got := percentile(samples, 1); got != 10*time.Millisecond {
		t.Fatalf("p100 = %s, want 10ms", got)
	}
	if got := percentile(nil, 0.5); got != 0 {
		t.Fatalf("empty percentile = %s, want 0", got)
	}
	if samples[0] != 10*time.Millisecond {
		t.Fatalf("percentile mutated its input")
	}
}
