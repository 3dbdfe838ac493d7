package provider

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"digitaltwin/internal/domain"
)

// mockProvider implements domain.Provider for testing.
type mockProvider struct {
	name      string
	mode      domain.ProviderMode
	healthy   bool
	chatErr   error
	chatResp  *domain.ChatResponse
	chatDelay time.Duration

	probes atomic.Int32
	chats  atomic.Int32
	last   domain.ChatRequest
}

func (m *mockProvider) Name() string              { return m.name }
func (m *mockProvider) Mode() domain.ProviderMode { return m.mode }

func (m *mockProvider) Healthy(ctx context.Context) error {
	m.probes.Add(1)
	if !m.healthy {
		return domain.Unavailable(m.name, errors.New("connection refused"))
	}
	return nil
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.chats.Add(1)
	m.last = req
	if m.chatDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.chatDelay):
		}
	}
	if m.chatErr != nil {
		return nil, m.chatErr
	}
	resp := *m.chatResp
	return &resp, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func localMock(healthy bool) *mockProvider {
	return &mockProvider{name: "ollama", mode: domain.ModeLocal, healthy: healthy, chatResp: &domain.ChatResponse{Content: "from-local"}}
}

func cloudMock() *mockProvider {
	return &mockProvider{name: "groq", mode: domain.ModeCloud, healthy: true, chatResp: &domain.ChatResponse{Content: "from-cloud"}}
}

// --- Happy path ---

func TestSelector_LocalFirst_HealthyLocalAnswers(t *testing.T) {
	local, cloud := localMock(true), cloudMock()
	s := NewSelector(SelectorConfig{Local: local, Cloud: cloud, Preference: domain.ModeLocal, Logger: testLogger()})

	resp, err := s.Chat(context.Background(), domain.UserPrompt("hi", domain.GenerationOptions{Temperature: 0.3, MaxTokens: 150}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-local" || resp.Provider != "ollama" {
		t.Fatalf("expected local answer, got %+v", resp)
	}
	if cloud.chats.Load() != 0 {
		t.Fatal("cloud must not be called when local succeeds")
	}
	if local.last.Temperature != 0.3 || local.last.MaxTokens != 150 {
		t.Fatalf("options not forwarded: %+v", local.last)
	}
}

func TestSelector_CloudFirst_CallsCloudOnly(t *testing.T) {
	local, cloud := localMock(true), cloudMock()
	s := NewSelector(SelectorConfig{Local: local, Cloud: cloud, Preference: domain.ModeCloud, Logger: testLogger()})

	resp, err := s.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-cloud" {
		t.Fatalf("expected cloud answer, got %q", resp.Content)
	}
	if local.probes.Load() != 0 || local.chats.Load() != 0 {
		t.Fatal("local provider must not be touched with cloud preference")
	}
}

// --- Fallback ---

func TestSelector_ProbeFailure_CloudExactlyOnce_LocalChatNever(t *testing.T) {
	local, cloud := localMock(false), cloudMock()
	s := NewSelector(SelectorConfig{Local: local, Cloud: cloud, Preference: domain.ModeLocal, Logger: testLogger()})

	req := domain.UserPrompt("question", domain.GenerationOptions{Temperature: 0.7, MaxTokens: 600})
	resp, err := s.Chat(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-cloud" {
		t.Fatalf("expected cloud answer, got %q", resp.Content)
	}
	if got := cloud.chats.Load(); got != 1 {
		t.Fatalf("cloud should be called exactly once, got %d", got)
	}
	if got := local.chats.Load(); got != 0 {
		t.Fatalf("local Chat must never run after a failed probe, got %d", got)
	}
	if cloud.last.Messages[0].Content != "question" || cloud.last.MaxTokens != 600 {
		t.Fatalf("fallback must receive the same request, got %+v", cloud.last)
	}
}

func TestSelector_LocalChatError_FallsBack(t *testing.T) {
	local, cloud := localMock(true), cloudMock()
	local.chatErr = domain.ProviderErr("ollama", 500, errors.New("model not loaded"))
	s := NewSelector(SelectorConfig{Local: local, Cloud: cloud, Preference: domain.ModeLocal, Logger: testLogger()})

	resp, err := s.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-cloud" {
		t.Fatalf("expected cloud answer, got %q", resp.Content)
	}
	if local.chats.Load() != 1 || cloud.chats.Load() != 1 {
		t.Fatalf("expected one attempt each, got local=%d cloud=%d", local.chats.Load(), cloud.chats.Load())
	}
}

func TestSelector_BothFail_ReturnsFallbackError(t *testing.T) {
	local, cloud := localMock(false), cloudMock()
	cloud.chatErr = domain.ProviderErr("groq", 503, errors.New("overloaded"))
	s := NewSelector(SelectorConfig{Local: local, Cloud: cloud, Preference: domain.ModeLocal, Logger: testLogger()})

	_, err := s.Chat(context.Background(), domain.ChatRequest{})
	if err == nil {
		t.Fatal("expected error when both providers fail")
	}
	if !errors.Is(err, domain.ErrProviderError) {
		t.Fatalf("expected ErrProviderError, got %v", err)
	}
	if !strings.Contains(err.Error(), "fallback attempt") {
		t.Fatalf("error should name the fallback attempt: %v", err)
	}
	if cloud.chats.Load() != 1 {
		t.Fatalf("no retries: cloud should be called once, got %d", cloud.chats.Load())
	}
}

func TestSelector_CloudFirst_NoFallbackBeneath(t *testing.T) {
	local, cloud := localMock(true), cloudMock()
	cloud.chatErr = domain.Unavailable("groq", errors.New("dial tcp: no route"))
	s := NewSelector(SelectorConfig{Local: local, Cloud: cloud, Preference: domain.ModeCloud, Logger: testLogger()})

	_, err := s.Chat(context.Background(), domain.ChatRequest{})
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if local.chats.Load() != 0 {
		t.Fatal("cloud-first must not fall back to local")
	}
}

// --- Boundaries ---

func TestSelector_CallTimeoutBoundsSlowProvider(t *testing.T) {
	cloud := cloudMock()
	cloud.chatDelay = time.Second
	s := NewSelector(SelectorConfig{Cloud: cloud, CallTimeout: 50 * time.Millisecond, Logger: testLogger()})

	start := time.Now()
	_, err := s.Chat(context.Background(), domain.ChatRequest{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("timeout should classify as unavailable, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("call was not bounded by the timeout: %v", time.Since(start))
	}
}

func TestSelector_LocalPreferenceWithoutLocal_UsesCloud(t *testing.T) {
	cloud := cloudMock()
	s := NewSelector(SelectorConfig{Cloud: cloud, Preference: domain.ModeLocal, Logger: testLogger()})

	resp, err := s.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from-cloud" {
		t.Fatalf("expected cloud answer, got %q", resp.Content)
	}
}

func TestSelector_NoCloud_Unavailable(t *testing.T) {
	s := NewSelector(SelectorConfig{Logger: testLogger()})
	_, err := s.Chat(context.Background(), domain.ChatRequest{})
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestSelector_EmptyReplyIsSuccess(t *testing.T) {
	cloud := cloudMock()
	cloud.chatResp = &domain.ChatResponse{Content: ""}
	s := NewSelector(SelectorConfig{Cloud: cloud, Logger: testLogger()})

	resp, err := s.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatalf("empty content is not an error: %v", err)
	}
	if resp.Content != "" {
		t.Fatalf("expected empty content, got %q", resp.Content)
	}
}

// --- Health check ---

func TestSelector_Healthy_AtLeastOneHealthy(t *testing.T) {
	s := NewSelector(SelectorConfig{Local: localMock(false), Cloud: cloudMock(), Preference: domain.ModeLocal, Logger: testLogger()})
	if err := s.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got: %v", err)
	}
}

func TestSelector_Healthy_NoneHealthy(t *testing.T) {
	cloud := cloudMock()
	cloud.healthy = false
	s := NewSelector(SelectorConfig{Local: localMock(false), Cloud: cloud, Preference: domain.ModeLocal, Logger: testLogger()})
	if err := s.Healthy(context.Background()); err == nil {
		t.Fatal("expected error when no provider is healthy")
	}
}

func TestSelector_Status(t *testing.T) {
	s := NewSelector(SelectorConfig{Local: localMock(false), Cloud: cloudMock(), Preference: domain.ModeLocal, Logger: testLogger()})
	st := s.Status(context.Background())
	if len(st) != 2 {
		t.Fatalf("expected two entries, got %v", st)
	}
	if st["ollama"] == nil || st["groq"] != nil {
		t.Fatalf("unexpected status: %v", st)
	}
}

func TestSelector_Name(t *testing.T) {
	s := NewSelector(SelectorConfig{Local: localMock(true), Cloud: cloudMock(), Preference: domain.ModeLocal})
	if s.Name() != "selector(ollama→groq)" {
		t.Fatalf("unexpected name %q", s.Name())
	}
	if s.Mode() != domain.ModeLocal {
		t.Fatalf("unexpected mode %q", s.Mode())
	}
}
