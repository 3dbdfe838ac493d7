package rag

import (
	"context"
	"log/slog"
	"strings"

	"digitaltwin/internal/domain"
)

// Formatter turns retrieved chunks into the final first-person answer.
type Formatter struct {
	provider domain.Provider
	opts     domain.GenerationOptions
	logger   *slog.Logger
}

type FormatterConfig struct {
	Provider domain.Provider
	Options  domain.GenerationOptions // default temperature 0.7, 600 tokens
	Logger   *slog.Logger
}

func NewFormatter(cfg FormatterConfig) *Formatter {
	if cfg.Options.MaxTokens <= 0 {
		cfg.Options = domain.GenerationOptions{Temperature: 0.7, MaxTokens: 600}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Formatter{provider: cfg.Provider, opts: cfg.Options, logger: cfg.Logger}
}

// Format answers question from results. With no usable content it returns
// InsufficientInformation without calling the provider; when generation fails
// or comes back blank it returns the raw context block with degraded set.
func (f *Formatter) Format(ctx context.Context, results []domain.RetrievalResult, question, directive string) (answer string, degraded bool) {
	block := BuildContextBlock(results)
	if block == "" {
		return InsufficientInformation, false
	}

	resp, err := f.provider.Chat(ctx, domain.UserPrompt(InterviewPrompt(question, block, directive), f.opts))
	if err != nil {
		f.logger.Warn("response formatting failed, returning raw context", "err", err)
		return block, true
	}
	answer = strings.TrimSpace(resp.Content)
	if answer == "" {
		f.logger.Warn("empty formatting reply, returning raw context", "provider", resp.Provider)
		return block, true
	}
	return answer, false
}
