package httpapi

import (
	"net/http"
	"strings"
)

type setupCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type setupStatusResponse struct {
	LLMProvider     string       `json:"llm_provider"`
	TaskStoreMode   string       `json:"task_store_mode"`
	MemoryStoreMode string       `json:"memory_store_mode"`
	Transport       string       `json:"transport"`
	Checks          []setupCheck `json:"checks"`
}

// handleSetupStatus reports which backends are active and how to upgrade
// the ones running in a degraded mode.
func (s *Server) handleSetupStatus(w http.ResponseWriter, _ *http.Request) {
	llmProvider := "mock"
	if s.cfg.UseOpenAI() {
		llmProvider = "openai"
	}
	taskStore := storeMode(s.taskStoreMode)
	memoryStore := storeMode(s.memoryStoreMode)
	transport := "disabled"
	if strings.TrimSpace(s.cfg.NATSURL) != "" {
		transport = "nats"
	}

	checks := make([]setupCheck, 0, 5)
	if llmProvider == "openai" {
		checks = append(checks, setupCheck{
			ID:     "llm_provider",
			Status: "ok",
			Label:  "Language model",
			Detail: "openai (" + s.cfg.OpenAIModel + ")",
		})
	} else {
		checks = append(checks, setupCheck{
			ID:     "llm_provider",
			Status: "warn",
			Label:  "Language model",
			Detail: "mock; utterances will not be understood",
			Fix:    "Set OPENAI_API_KEY (and optionally OPENAI_BASE_URL) to parse utterances.",
		})
	}
	checks = append(checks, storeCheck("task_store", "Task persistence", taskStore, "Set TASK_STORE_URL to a postgres:// or redis:// URL to keep tasks across restarts."))
	checks = append(checks, storeCheck("memory_store", "Conversation memory", memoryStore, "Set DATABASE_URL or MEMORY_STORE_URL to keep conversation history."))
	if s.cfg.ParserRepairJSON {
		checks = append(checks, setupCheck{
			ID:     "parser_repair",
			Status: "ok",
			Label:  "Response repair",
			Detail: "malformed model JSON is repaired before validation",
		})
	}
	if transport == "disabled" {
		checks = append(checks, setupCheck{
			ID:     "transport",
			Status: "warn",
			Label:  "Event bus",
			Detail: "disabled",
			Fix:    "Set NATS_URL to publish task events to other services.",
		})
	} else {
		checks = append(checks, setupCheck{
			ID:     "transport",
			Status: "ok",
			Label:  "Event bus",
			Detail: "nats, subjects " + s.cfg.NATSSubjectPrefix + ".*",
		})
	}

	respondJSON(w, http.StatusOK, setupStatusResponse{
		LLMProvider:     llmProvider,
		TaskStoreMode:   taskStore,
		MemoryStoreMode: memoryStore,
		Transport:       transport,
		Checks:          checks,
	})
}

func storeCheck(id, label, mode, fix string) setupCheck {
	switch mode {
	case "postgres", "redis":
		return setupCheck{ID: id, Status: "ok", Label: label, Detail: mode}
	case "memory", "in-memory":
		return setupCheck{ID: id, Status: "warn", Label: label, Detail: "in-memory only", Fix: fix}
	default:
		return setupCheck{ID: id, Status: "warn", Label: label, Detail: mode}
	}
}
