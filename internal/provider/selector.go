package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"digitaltwin/internal/domain"
	"digitaltwin/internal/metrics"
)

const (
	defaultCallTimeout  = 9 * time.Second
	defaultProbeTimeout = 2 * time.Second
)

// attempt is the selector state for one Chat call.
type attempt int

const (
	primaryAttempt attempt = iota
	fallbackAttempt
)

func (a attempt) String() string {
	if a == fallbackAttempt {
		return "fallback"
	}
	return "primary"
}

// Selector chooses between a local and a cloud provider. With a local
// preference it probes the local provider, uses it when healthy, and falls
// back to the cloud provider exactly once on probe or chat failure. With a
// cloud preference it calls the cloud provider only. Nothing is retried.
type Selector struct {
	local        domain.Provider
	cloud        domain.Provider
	preference   domain.ProviderMode
	callTimeout  time.Duration
	probeTimeout time.Duration
	logger       *slog.Logger
}

type SelectorConfig struct {
	Local        domain.Provider // may be nil
	Cloud        domain.Provider
	Preference   domain.ProviderMode
	CallTimeout  time.Duration
	ProbeTimeout time.Duration
	Logger       *slog.Logger
}

func NewSelector(cfg SelectorConfig) *Selector {
	if cfg.Preference == "" {
		cfg.Preference = domain.ModeCloud
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.ProbeTimeout <= 0 || cfg.ProbeTimeout > cfg.CallTimeout {
		cfg.ProbeTimeout = min(defaultProbeTimeout, cfg.CallTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Selector{
		local:        cfg.Local,
		cloud:        cfg.Cloud,
		preference:   cfg.Preference,
		callTimeout:  cfg.CallTimeout,
		probeTimeout: cfg.ProbeTimeout,
		logger:       cfg.Logger,
	}
}

func (s *Selector) Name() string {
	if s.localFirst() && s.cloud != nil {
		return "selector(" + s.local.Name() + "→" + s.cloud.Name() + ")"
	}
	if s.cloud != nil {
		return "selector(" + s.cloud.Name() + ")"
	}
	return "selector(none)"
}

func (s *Selector) Mode() domain.ProviderMode { return s.preference }

// Healthy reports whether at least one provider is usable.
func (s *Selector) Healthy(ctx context.Context) error {
	var errs []error
	for _, p := range s.chain() {
		pctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
		err := p.Healthy(pctx)
		cancel()
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return domain.Unavailable(s.Name(), errors.New("no provider configured"))
	}
	return errors.Join(errs...)
}

// Status probes each configured provider and reports the result by name.
func (s *Selector) Status(ctx context.Context) map[string]error {
	out := make(map[string]error)
	for _, p := range s.chain() {
		pctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
		out[p.Name()] = p.Healthy(pctx)
		cancel()
	}
	return out
}

func (s *Selector) chain() []domain.Provider {
	var out []domain.Provider
	if s.local != nil {
		out = append(out, s.local)
	}
	if s.cloud != nil {
		out = append(out, s.cloud)
	}
	return out
}

func (s *Selector) localFirst() bool {
	return s.preference == domain.ModeLocal && s.local != nil
}

// Chat runs the primary attempt and, when the local provider fails, the fallback attempt.
func (s *Selector) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	state := primaryAttempt

	if s.localFirst() {
		resp, reason, err := s.tryLocal(ctx, req)
		if err == nil {
			return resp, nil
		}
		metrics.ProviderFallbacks.WithLabelValues(reason).Inc()
		s.logger.Warn("local provider failed, falling back to cloud",
			"provider", s.local.Name(),
			"reason", reason,
			"err", err,
		)
		state = fallbackAttempt
	}

	if s.cloud == nil {
		return nil, domain.Unavailable(s.Name(), errors.New("no cloud provider configured"))
	}

	resp, err := s.call(ctx, s.cloud, req)
	if err != nil {
		return nil, fmt.Errorf("%s attempt: %w", state, err)
	}
	if state == fallbackAttempt {
		s.logger.Info("fallback provider answered", "provider", s.cloud.Name())
	}
	return resp, nil
}

// tryLocal probes then calls the local provider. reason names the failing step.
func (s *Selector) tryLocal(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, string, error) {
	pctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	err := s.local.Healthy(pctx)
	cancel()
	if err != nil {
		metrics.ProviderCalls.WithLabelValues(s.local.Name(), "unavailable").Inc()
		return nil, "probe_failed", err
	}

	resp, err := s.call(ctx, s.local, req)
	if err != nil {
		return nil, "chat_failed", err
	}
	return resp, "", nil
}

func (s *Selector) call(ctx context.Context, p domain.Provider, req domain.ChatRequest) (*domain.ChatResponse, error) {
	cctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	start := time.Now()
	resp, err := p.Chat(cctx, req)
	if err != nil {
		metrics.ProviderCalls.WithLabelValues(p.Name(), "error").Inc()
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrProviderUnavailable) && !errors.Is(err, domain.ErrProviderError) {
			err = domain.Unavailable(p.Name(), err)
		}
		return nil, err
	}
	metrics.ProviderCalls.WithLabelValues(p.Name(), "success").Inc()
	if resp.Provider == "" {
		resp.Provider = p.Name()
	}
	if resp.LatencyMs == 0 {
		resp.LatencyMs = time.Since(start).Milliseconds()
	}
	s.logger.Debug("provider call complete", "provider", p.Name(), "latency_ms", resp.LatencyMs)
	return resp, nil
}
