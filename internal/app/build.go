package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/agentos/internal/assistant"
	"github.com/ent0n29/agentos/internal/config"
	"github.com/ent0n29/agentos/internal/httpapi"
	"github.com/ent0n29/agentos/internal/intent"
	"github.com/ent0n29/agentos/internal/llm"
	"github.com/ent0n29/agentos/internal/memory"
	"github.com/ent0n29/agentos/internal/observability"
	"github.com/ent0n29/agentos/internal/session"
	"github.com/ent0n29/agentos/internal/tasks"
	"github.com/ent0n29/agentos/internal/transport"
)

const sessionJanitorInterval = 5 * time.Second

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Sessions  *session.Manager
	Tasks     *tasks.Manager
	Assistant *assistant.Assistant
	Transport *transport.NATSTransport
	Memory    memory.Store
	Metrics   *observability.Metrics

	TaskStoreMode   string
	MemoryStoreMode string
	LLMProvider     string

	// Cleanup should be called on shutdown to release external resources (stores, NATS).
	Cleanup func() error

	logger zerolog.Logger
}

func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	taskStore, taskMode, err := tasks.NewStore(ctx, cfg.TaskStoreURL)
	if err != nil {
		return nil, fmt.Errorf("task store init failed: %w", err)
	}
	manager := tasks.NewManager(
		tasks.NewRepository(taskStore, logger),
		tasks.WithLogger(logger),
		tasks.WithMetrics(metrics),
		tasks.WithSubscriberBuffer(cfg.TaskEventBuffer),
		tasks.WithEventLogTasks(cfg.TaskEventLogTasks),
	)

	memoryStore, memoryMode, err := memory.NewStore(ctx, cfg.MemoryStoreURL, cfg.MemorySessionTTL)
	if err != nil {
		manager.Close()
		_ = taskStore.Close()
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}

	client, provider, err := newLLMClient(cfg, logger)
	if err != nil {
		manager.Close()
		_ = taskStore.Close()
		_ = memoryStore.Close()
		return nil, err
	}
	logger.Info().Str("provider", provider).Str("task_store", taskMode).Str("memory_store", memoryMode).Msg("backends resolved")

	parser := intent.NewParser(
		intent.WithRepair(cfg.ParserRepairJSON),
		intent.WithLogger(logger),
		intent.WithMetrics(metrics),
	)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	assistantCfg := assistant.Config{
		HistoryTurns:    cfg.AssistantHistoryTurns,
		GenerateReplies: cfg.AssistantGenerateReplies,
	}
	asst := assistant.New(manager, parser, client, sessions, assistant.NewReplyHub(), assistantCfg,
		assistant.WithLogger(logger),
		assistant.WithMetrics(metrics),
		assistant.WithMemory(memoryStore),
	)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		asst.AbandonSession(context.Background(), s)
	})

	var bus *transport.NATSTransport
	if cfg.NATSURL != "" {
		bus, err = transport.NewNATSTransport(transport.Config{
			URL:            cfg.NATSURL,
			Name:           "agentos",
			Timeout:        5 * time.Second,
			SubjectPrefix:  cfg.NATSSubjectPrefix,
			RequestTimeout: cfg.LLMTimeout,
		}, manager, parser, metrics, logger)
		if err != nil {
			manager.Close()
			_ = taskStore.Close()
			_ = memoryStore.Close()
			return nil, err
		}
	}

	api := httpapi.New(cfg, httpapi.Deps{
		Sessions:        sessions,
		Tasks:           manager,
		Assistant:       asst,
		Parser:          parser,
		Metrics:         metrics,
		Logger:          logger,
		TaskStoreMode:   taskMode,
		MemoryStoreMode: memoryMode,
	})

	cleanup := func() error {
		var errs []string
		if bus != nil {
			if err := bus.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		manager.Close()
		if err := taskStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := memoryStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:          cfg,
		API:             api,
		Sessions:        sessions,
		Tasks:           manager,
		Assistant:       asst,
		Transport:       bus,
		Memory:          memoryStore,
		Metrics:         metrics,
		TaskStoreMode:   taskMode,
		MemoryStoreMode: memoryMode,
		LLMProvider:     provider,
		Cleanup:         cleanup,
		logger:          logger,
	}, nil
}

// Run starts the janitors and the event consumers and blocks until ctx is
// done or one of them fails.
func (b *BuildResult) Run(ctx context.Context) error {
	b.Sessions.StartJanitor(ctx, sessionJanitorInterval)
	b.Tasks.StartRetentionJanitor(ctx, b.Config.TaskJanitorInterval, b.Config.TaskHistoryRetention)
	memory.StartJanitor(ctx, b.Memory, b.Config.TaskJanitorInterval, b.Config.MemorySessionTTL, b.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b.Assistant.Run(ctx)
		return nil
	})
	if b.Transport != nil {
		g.Go(func() error {
			return b.Transport.Run(ctx)
		})
	}
	return g.Wait()
}

func newLLMClient(cfg config.Config, logger zerolog.Logger) (llm.Client, string, error) {
	if !cfg.UseOpenAI() {
		logger.Warn().Msg("no language model configured; utterances will get the unavailable reply")
		return llm.NewMock(), "mock", nil
	}
	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
		Timeout: cfg.LLMTimeout,
	})
	if err != nil {
		return nil, "", fmt.Errorf("llm client init failed: %w", err)
	}
	return llm.NewRetrying(client, cfg.LLMMaxRetries, logger), "openai", nil
}
