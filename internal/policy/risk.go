package policy

import (
	"regexp"
	"strings"

	"github.com/ent0n29/agentos/internal/tasks"
)

type Risk string

const (
	RiskLow     Risk = "low"
	RiskMedium  Risk = "medium"
	RiskHigh    Risk = "high"
	RiskBlocked Risk = "blocked"
)

// MinConfidence is the intent confidence below which a task is always
// confirmed with the user before it runs.
const MinConfidence = 0.7

type Decision struct {
	Risk                 Risk
	RequiresConfirmation bool
	Blocked              bool
	Reason               string
}

var (
	blockedUtterancePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\brm\s+-rf\s+/(?:\s|$)`),
		regexp.MustCompile(`(?i)\b(sudo\s+)?cat\s+.*(?:id_rsa|id_ed25519|\.env|auth\.json)`),
		regexp.MustCompile(`(?i)\b(exfiltrate|steal|dump credentials|leak secrets?)\b`),
		regexp.MustCompile(`(?i)\b(print|show|reveal)\b.*\b(api[_ -]?key|token|password|secret)\b`),
	}

	highRiskActions = map[string]bool{
		"notes.delete":            true,
		"apps.install_app":        true,
		"apps.uninstall_app":      true,
		"settings.change_setting": true,
		"settings.toggle_feature": true,
		"transport.book_ride":     true,
	}
	highRiskVerbs   = []string{"delete", "remove", "uninstall", "install", "wipe", "reset", "pay", "purchase", "book"}
	mediumRiskVerbs = []string{"send", "call", "share", "create", "edit", "add", "set", "post"}
)

// CheckUtterance refuses input that asks for destructive or
// secret-revealing behavior before it reaches the model.
func CheckUtterance(text string) Decision {
	in := strings.ToLower(strings.TrimSpace(text))
	for _, re := range blockedUtterancePatterns {
		if re.MatchString(in) {
			return Decision{
				Risk:                 RiskBlocked,
				RequiresConfirmation: true,
				Blocked:              true,
				Reason:               "Request appears to include destructive or secret-exfiltration behavior.",
			}
		}
	}
	return Decision{Risk: RiskLow}
}

// DecideTask rates a parsed intent. Anything that acts on the user's behalf
// is confirmed first; read-only lookups run straight away unless the model
// was unsure of the intent.
func DecideTask(in tasks.Intent) Decision {
	risk := intentRisk(in)
	d := Decision{
		Risk:                 risk,
		RequiresConfirmation: risk != RiskLow,
	}
	if in.Confidence < MinConfidence {
		d.RequiresConfirmation = true
		d.Reason = "low intent confidence"
	}
	return d
}

func intentRisk(in tasks.Intent) Risk {
	if highRiskActions[strings.ToLower(in.FullName())] {
		return RiskHigh
	}
	action := strings.ToLower(in.Action)
	for _, verb := range highRiskVerbs {
		if strings.Contains(action, verb) {
			return RiskHigh
		}
	}
	for _, verb := range mediumRiskVerbs {
		if strings.Contains(action, verb) {
			return RiskMedium
		}
	}
	return RiskLow
}
