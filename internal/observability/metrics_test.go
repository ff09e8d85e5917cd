package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestMetricsRecordTaskActivity(t *testing.T) {
	m := NewMetrics("test_obs_" + time.Now().Format("150405") + "_" + time.Now().Format("000000000"))

	m.ObserveTaskEvent("task_created")
	m.ObserveTaskTransition("pending", "needs_input")
	m.ObserveTaskCommand("create", "ok", 2*time.Millisecond)
	m.ObserveTaskCommand("cancel", "invalid_transition", time.Millisecond)
	m.ObserveDroppedEvent("task_updated")
	m.ObserveParse("malformed")
	m.ObserveLLMCall("intent", errors.New("boom"), 300*time.Millisecond)

	if got := counterValue(t, m.TaskEvents.WithLabelValues("task_created")); got != 1 {
		t.Fatalf("task_created = %v, want 1", got)
	}
	if got := counterValue(t, m.TaskTransitions.WithLabelValues("pending", "needs_input")); got != 1 {
		t.Fatalf("transition = %v, want 1", got)
	}
	if got := counterValue(t, m.TaskCommands.WithLabelValues("cancel", "invalid_transition")); got != 1 {
		t.Fatalf("cancel invalid_transition = %v, want 1", got)
	}
	if got := counterValue(t, m.LLMCalls.WithLabelValues("intent", "error")); got != 1 {
		t.Fatalf("llm intent error = %v, want 1", got)
	}

	snap := m.SnapshotLatency()
	stages := map[string]bool{}
	for _, s := range snap.Stages {
		stages[s.Stage] = true
	}
	for _, want := range []string{"command_create", "command_cancel", "llm_intent"} {
		if !stages[want] {
			t.Fatalf("latency snapshot missing %q: %+v", want, snap.Stages)
		}
	}
	indicators := map[string]int{}
	for _, ind := range snap.Indicators {
		indicators[ind.Name] = ind.Count
	}
	if indicators["invalid_transition"] != 1 || indicators["event_dropped"] != 1 || indicators["malformed_response"] != 1 {
		t.Fatalf("indicators = %+v", indicators)
	}
}
