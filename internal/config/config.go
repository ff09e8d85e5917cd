package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the task lifecycle service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	AllowAnyOrigin           bool

	LogLevel  string
	LogFormat string

	TaskStoreURL         string
	TaskEventBuffer      int
	TaskHistoryRetention time.Duration
	TaskJanitorInterval  time.Duration
	TaskEventLogTasks    int

	// DatabaseURL backs conversation memory unless MemoryStoreURL overrides it.
	DatabaseURL      string
	MemoryStoreURL   string
	MemorySessionTTL time.Duration

	LLMProvider   string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	LLMTimeout    time.Duration
	LLMMaxRetries int

	ParserRepairJSON bool

	NATSURL           string
	NATSSubjectPrefix string

	AssistantHistoryTurns    int
	AssistantGenerateReplies bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "agentos"),
		LogLevel:                 strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		LogFormat:                strings.ToLower(envOrDefault("LOG_FORMAT", "json")),
		TaskStoreURL:             trimmedEnv("TASK_STORE_URL"),
		DatabaseURL:              trimmedEnv("DATABASE_URL"),
		MemoryStoreURL:           trimmedEnv("MEMORY_STORE_URL"),
		LLMProvider:              strings.ToLower(envOrDefault("LLM_PROVIDER", "auto")),
		OpenAIAPIKey:             trimmedEnv("OPENAI_API_KEY"),
		OpenAIBaseURL:            trimmedEnv("OPENAI_BASE_URL"),
		OpenAIModel:              envOrDefault("OPENAI_MODEL", "gpt-4o"),
		NATSURL:                  trimmedEnv("NATS_URL"),
		NATSSubjectPrefix:        envOrDefault("NATS_SUBJECT_PREFIX", "agentos"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		TaskEventBuffer:          64,
		TaskJanitorInterval:      time.Minute,
		TaskEventLogTasks:        256,
		MemorySessionTTL:         24 * time.Hour,
		LLMTimeout:               30 * time.Second,
		LLMMaxRetries:            2,
		AssistantHistoryTurns:    3,
	}
	if cfg.MemoryStoreURL == "" {
		cfg.MemoryStoreURL = cfg.DatabaseURL
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.TaskEventBuffer, err = intFromEnv("TASK_EVENT_BUFFER", cfg.TaskEventBuffer)
	if err != nil {
		return Config{}, err
	}
	cfg.TaskHistoryRetention, err = durationFromEnv("TASK_HISTORY_RETENTION", cfg.TaskHistoryRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.TaskJanitorInterval, err = durationFromEnv("TASK_JANITOR_INTERVAL", cfg.TaskJanitorInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.TaskEventLogTasks, err = intFromEnv("TASK_EVENT_LOG_TASKS", cfg.TaskEventLogTasks)
	if err != nil {
		return Config{}, err
	}
	cfg.MemorySessionTTL, err = durationFromEnv("MEMORY_SESSION_TTL", cfg.MemorySessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTimeout, err = durationFromEnv("LLM_TIMEOUT", cfg.LLMTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMMaxRetries, err = intFromEnv("LLM_MAX_RETRIES", cfg.LLMMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.ParserRepairJSON, err = boolFromEnv("PARSER_REPAIR_JSON", cfg.ParserRepairJSON)
	if err != nil {
		return Config{}, err
	}
	cfg.AssistantHistoryTurns, err = intFromEnv("ASSISTANT_HISTORY_TURNS", cfg.AssistantHistoryTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.AssistantGenerateReplies, err = boolFromEnv("ASSISTANT_GENERATE_REPLIES", cfg.AssistantGenerateReplies)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.TaskEventBuffer <= 0 {
		return Config{}, fmt.Errorf("TASK_EVENT_BUFFER must be positive")
	}
	if cfg.TaskHistoryRetention < 0 {
		return Config{}, fmt.Errorf("TASK_HISTORY_RETENTION must be >= 0")
	}
	if cfg.TaskHistoryRetention > 0 && cfg.TaskJanitorInterval <= 0 {
		return Config{}, fmt.Errorf("TASK_JANITOR_INTERVAL must be positive when retention is enabled")
	}
	if cfg.TaskEventLogTasks <= 0 {
		return Config{}, fmt.Errorf("TASK_EVENT_LOG_TASKS must be positive")
	}
	if cfg.LLMMaxRetries < 0 {
		return Config{}, fmt.Errorf("LLM_MAX_RETRIES must be >= 0")
	}
	if cfg.AssistantHistoryTurns < 0 {
		return Config{}, fmt.Errorf("ASSISTANT_HISTORY_TURNS must be >= 0")
	}
	switch cfg.LLMProvider {
	case "auto", "mock":
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return Config{}, fmt.Errorf("LLM_PROVIDER=openai requires OPENAI_API_KEY")
		}
	default:
		return Config{}, fmt.Errorf("LLM_PROVIDER must be one of auto, openai, mock")
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return Config{}, fmt.Errorf("LOG_FORMAT must be json or console")
	}

	return cfg, nil
}

// UseOpenAI reports whether the OpenAI-compatible client should be built.
func (c Config) UseOpenAI() bool {
	switch c.LLMProvider {
	case "openai":
		return true
	case "auto":
		return c.OpenAIAPIKey != ""
	default:
		return false
	}
}

func envOrDefault(key, fallback string) string {
	v := trimmedEnv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
