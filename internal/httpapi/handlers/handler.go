package handlers

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/fretwise/fretwise/internal/ai"
	"github.com/fretwise/fretwise/internal/assist"
	"github.com/fretwise/fretwise/internal/config"
	"github.com/fretwise/fretwise/internal/ratelimit"
	"github.com/fretwise/fretwise/internal/song"
	"github.com/fretwise/fretwise/internal/store/rabbitmq"
)

type Handler struct {
	DB        *gorm.DB
	Cfg       config.Config
	AssistSvc *assist.Service
	Rabbit    *rabbitmq.Publisher
}

// NewRegistry wires the providers the deployment supports. Conversations
// store their provider/model, so routing stays per conversation.
func NewRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.AIModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.AIModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m,
			cfg.AIMaxTokens, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	return reg
}

// Quotas builds the per-class quota table from config.
func Quotas(cfg config.Config) map[ratelimit.Class]ratelimit.Quota {
	return map[ratelimit.Class]ratelimit.Quota{
		ratelimit.ClassChat:     {Limit: cfg.ChatRateLimit, Window: cfg.ChatRateWindow},
		ratelimit.ClassAnalysis: {Limit: cfg.AnalysisRateLimit, Window: cfg.AnalysisRateWindow},
	}
}

func NewHandler(gdb *gorm.DB, cfg config.Config, limiter ratelimit.Limiter, rabbit *rabbitmq.Publisher) *Handler {
	svc := assist.NewService(
		assist.NewRepo(gdb),
		song.NewRepo(gdb),
		NewRegistry(cfg),
		limiter,
		assist.Options{
			Provider:   cfg.AIProvider,
			Model:      cfg.AIModel,
			WindowSize: cfg.ContextWindowSize,
			Deadline:   cfg.RelayDeadline,
		},
	)
	return &Handler{DB: gdb, Cfg: cfg, AssistSvc: svc, Rabbit: rabbit}
}
