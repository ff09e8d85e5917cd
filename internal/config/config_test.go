package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.MetricsNamespace != "agentos" {
		t.Fatalf("MetricsNamespace = %q, want agentos", cfg.MetricsNamespace)
	}
	if cfg.TaskStoreURL != "" || cfg.MemoryStoreURL != "" {
		t.Fatalf("stores should default to in-memory, got task=%q memory=%q", cfg.TaskStoreURL, cfg.MemoryStoreURL)
	}
	if cfg.TaskEventBuffer != 64 || cfg.TaskEventLogTasks != 256 {
		t.Fatalf("event buffer/log = %d/%d, want 64/256", cfg.TaskEventBuffer, cfg.TaskEventLogTasks)
	}
	if cfg.TaskHistoryRetention != 0 {
		t.Fatalf("TaskHistoryRetention = %s, want disabled", cfg.TaskHistoryRetention)
	}
	if cfg.ParserRepairJSON {
		t.Fatalf("ParserRepairJSON should default to false")
	}
	if cfg.AssistantHistoryTurns != 3 {
		t.Fatalf("AssistantHistoryTurns = %d, want 3", cfg.AssistantHistoryTurns)
	}
	if cfg.UseOpenAI() {
		t.Fatalf("UseOpenAI() = true without an API key")
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("TASK_STORE_URL", " redis://localhost:6379/0 ")
	t.Setenv("TASK_HISTORY_RETENTION", "72h")
	t.Setenv("DATABASE_URL", "postgres://agentos@localhost/agentos")
	t.Setenv("PARSER_REPAIR_JSON", "yes")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("LOG_FORMAT", "Console")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TaskStoreURL != "redis://localhost:6379/0" {
		t.Fatalf("TaskStoreURL = %q", cfg.TaskStoreURL)
	}
	if cfg.TaskHistoryRetention != 72*time.Hour {
		t.Fatalf("TaskHistoryRetention = %s, want 72h", cfg.TaskHistoryRetention)
	}
	if cfg.MemoryStoreURL != cfg.DatabaseURL {
		t.Fatalf("MemoryStoreURL = %q, want DATABASE_URL fallback", cfg.MemoryStoreURL)
	}
	if !cfg.ParserRepairJSON {
		t.Fatalf("ParserRepairJSON = false, want true")
	}
	if !cfg.UseOpenAI() {
		t.Fatalf("UseOpenAI() = false with key in auto mode")
	}
	if cfg.LogFormat != "console" {
		t.Fatalf("LogFormat = %q, want console", cfg.LogFormat)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"bad duration":       {"LLM_TIMEOUT", "soon"},
		"bad bool":           {"PARSER_REPAIR_JSON", "maybe"},
		"short inactivity":   {"APP_SESSION_INACTIVITY_TIMEOUT", "1s"},
		"zero buffer":        {"TASK_EVENT_BUFFER", "0"},
		"negative retries":   {"LLM_MAX_RETRIES", "-1"},
		"unknown provider":   {"LLM_PROVIDER", "anthropic"},
		"openai without key": {"LLM_PROVIDER", "openai"},
		"bad log format":     {"LOG_FORMAT", "xml"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			if err == nil {
				t.Fatalf("Load() with %s=%q succeeded, want error", kv[0], kv[1])
			}
			if !strings.Contains(err.Error(), kv[0]) {
				t.Fatalf("error %q does not name %s", err, kv[0])
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"TASK_STORE_URL",
		"TASK_EVENT_BUFFER",
		"TASK_HISTORY_RETENTION",
		"TASK_JANITOR_INTERVAL",
		"TASK_EVENT_LOG_TASKS",
		"DATABASE_URL",
		"MEMORY_STORE_URL",
		"MEMORY_SESSION_TTL",
		"LLM_PROVIDER",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"OPENAI_MODEL",
		"LLM_TIMEOUT",
		"LLM_MAX_RETRIES",
		"PARSER_REPAIR_JSON",
		"NATS_URL",
		"NATS_SUBJECT_PREFIX",
		"ASSISTANT_HISTORY_TURNS",
		"ASSISTANT_GENERATE_REPLIES",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
