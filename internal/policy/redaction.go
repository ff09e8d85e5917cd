package policy

import (
	"regexp"

	"github.com/ent0n29/agentos/internal/tasks"
)

type redactionRule struct {
	pattern *regexp.Regexp
	marker  string
}

// Cards run before phones so long digit runs are not reported as phone numbers.
var redactionRules = []redactionRule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks email addresses, card numbers and phone numbers.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(out, rule.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// RedactHistory returns a copy of turns with PII masked in every content.
func RedactHistory(turns []tasks.ConversationTurn) []tasks.ConversationTurn {
	if len(turns) == 0 {
		return nil
	}
	out := make([]tasks.ConversationTurn, len(turns))
	for i, turn := range turns {
		turn.Content, _ = RedactPII(turn.Content)
		out[i] = turn
	}
	return out
}
