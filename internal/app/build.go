package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/brandely/internal/archive"
	"github.com/ent0n29/brandely/internal/chat"
	"github.com/ent0n29/brandely/internal/config"
	"github.com/ent0n29/brandely/internal/conversation"
	"github.com/ent0n29/brandely/internal/httpapi"
	"github.com/ent0n29/brandely/internal/llm"
	"github.com/ent0n29/brandely/internal/logging"
	"github.com/ent0n29/brandely/internal/observability"
	"github.com/ent0n29/brandely/internal/policy"
	"github.com/ent0n29/brandely/internal/session"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Chat     *chat.Service
	Sessions *session.Manager
	Store    *conversation.InMemoryStore
	Archive  archive.Store
	Metrics  *observability.Metrics
	Provider string

	// Cleanup should be called on shutdown to flush archive writes and close the database.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	logger = logging.OrNop(logger)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	invoker, provider, err := llm.NewInvoker(llm.Config{
		Mode:             cfg.LLMMode,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenAIBaseURL:    cfg.OpenAIBaseURL,
		HTTPURL:          cfg.LLMHTTPURL,
		HTTPStreamStrict: cfg.LLMHTTPStreamStrict,
	})
	if err != nil {
		return nil, fmt.Errorf("llm invoker init failed: %w", err)
	}

	gate, err := BuildGate(cfg)
	if err != nil {
		return nil, err
	}

	systemPrompt := chat.DefaultSystemPrompt
	if path := strings.TrimSpace(cfg.SystemPromptFile); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read system prompt: %w", err)
		}
		systemPrompt = string(raw)
	}

	archiveStore, err := archive.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("archive store init failed: %w", err)
	}

	store := conversation.NewInMemoryStore(cfg.MaxHistoryTurns)
	sessions := session.NewManager(cfg.SessionIdleTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		store.Purge(s.ID)
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	svc, err := chat.NewService(chat.Config{
		Model:           cfg.ModelName,
		Temperature:     cfg.Temperature,
		MaxHistoryTurns: cfg.MaxHistoryTurns,
		ContextTurns:    cfg.ContextTurns,
		RequestTimeout:  cfg.RequestTimeout,
		Enforcement:     cfg.SafetyEnforcement,
		RefusalMessage:  cfg.RefusalMessage,
		SystemPrompt:    systemPrompt,
	}, chat.Deps{
		Gate:     gate,
		Store:    store,
		Invoker:  invoker,
		Provider: provider,
		Sessions: sessions,
		Archive:  archiveStore,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		_ = archiveStore.Close()
		return nil, fmt.Errorf("chat service init failed: %w", err)
	}

	api := httpapi.New(cfg, sessions, svc, metrics, logger)

	logger.Info("brandely assembled",
		zap.String("llm_provider", provider),
		zap.String("archive_mode", archiveStore.Mode()),
		zap.String("enforcement", string(cfg.SafetyEnforcement)),
		zap.Int("max_history_turns", cfg.MaxHistoryTurns),
	)

	cleanup := func() error {
		svc.Wait()
		if err := archiveStore.Close(); err != nil {
			return fmt.Errorf("archive close: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Chat:     svc,
		Sessions: sessions,
		Store:    store,
		Archive:  archiveStore,
		Metrics:  metrics,
		Provider: provider,
		Cleanup:  cleanup,
	}, nil
}

// BuildGate assembles the keyword gate plus any configured patterns.
func BuildGate(cfg config.Config) (policy.Gate, error) {
	phrases := cfg.BannedPhrases
	if len(phrases) == 0 {
		phrases = policy.DefaultBannedPhrases
	}
	keyword := policy.NewKeywordGate(phrases)
	if len(cfg.SafetyPatterns) == 0 {
		return keyword, nil
	}
	pattern, err := policy.NewPatternGate(cfg.SafetyPatterns)
	if err != nil {
		return nil, fmt.Errorf("safety patterns: %w", err)
	}
	return policy.Gates{keyword, pattern}, nil
}
