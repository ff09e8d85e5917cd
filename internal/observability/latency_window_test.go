package observability

import (
	"testing"
	"time"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.Observe("llm_intent", 500*time.Millisecond)
	w.Observe("llm_intent", 700*time.Millisecond)
	w.Observe("llm_intent", 900*time.Millisecond)
	w.ObserveIndicator("malformed_response")
	w.ObserveIndicator("malformed_response")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "llm_intent" || s.Samples != 3 {
		t.Fatalf("unexpected stage: %+v", s)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.BudgetP95MS != 2500 {
		t.Fatalf("BudgetP95MS = %.2f, want 2500", s.BudgetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want malformed_response x2", snap.Indicators)
	}
}

func TestLatencyWindowWrapsRing(t *testing.T) {
	w := newLatencyWindow(2)
	for _, ms := range []int{10, 20, 30} {
		w.Observe("command_create", time.Duration(ms)*time.Millisecond)
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 25 {
		t.Fatalf("AvgMS = %.2f, want 25", s.AvgMS)
	}
	if s.BudgetP95MS != 50 {
		t.Fatalf("BudgetP95MS = %.2f, want 50", s.BudgetP95MS)
	}
}
