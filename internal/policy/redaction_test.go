package policy

import (
	"strings"
	"testing"

	"github.com/ent0n29/agentos/internal/tasks"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
	if _, changed := RedactPII("send hi to mom"); changed {
		t.Fatalf("plain text reported as changed")
	}
}

func TestRedactHistoryCopies(t *testing.T) {
	turns := []tasks.ConversationTurn{{Role: tasks.RoleUser, Content: "mail sam@example.com"}}
	out := RedactHistory(turns)
	if out[0].Content != "mail [REDACTED_EMAIL]" {
		t.Fatalf("Content = %q", out[0].Content)
	}
	if turns[0].Content != "mail sam@example.com" {
		t.Fatalf("input mutated: %q", turns[0].Content)
	}
}
