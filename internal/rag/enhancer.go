package rag

import (
	"context"
	"log/slog"

	"digitaltwin/internal/domain"
)

// Enhancer rewrites a raw question into a richer search query.
type Enhancer struct {
	provider domain.Provider
	opts     domain.GenerationOptions
	logger   *slog.Logger
}

type EnhancerConfig struct {
	Provider domain.Provider
	Options  domain.GenerationOptions // default temperature 0.3, 150 tokens
	Logger   *slog.Logger
}

func NewEnhancer(cfg EnhancerConfig) *Enhancer {
	if cfg.Options.MaxTokens <= 0 {
		cfg.Options = domain.GenerationOptions{Temperature: 0.3, MaxTokens: 150}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Enhancer{provider: cfg.Provider, opts: cfg.Options, logger: cfg.Logger}
}

// Enhance never fails: a provider error or blank reply yields the original
// question and degraded is true.
func (e *Enhancer) Enhance(ctx context.Context, question string) (query string, degraded bool) {
	resp, err := e.provider.Chat(ctx, domain.UserPrompt(EnhancementPrompt(question), e.opts))
	if err != nil {
		e.logger.Warn("query enhancement failed, using original question", "err", err)
		return question, true
	}
	enhanced := cleanQuery(resp.Content)
	if enhanced == "" {
		e.logger.Debug("empty enhancement reply, using original question", "provider", resp.Provider)
		return question, true
	}
	return enhanced, false
}
