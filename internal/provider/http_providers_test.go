package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"digitaltwin/internal/config"
	"digitaltwin/internal/domain"
)

// --- Ollama ---

func TestOllama_Chat_SendsOptions(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"message":{"role":"assistant","content":"  hello there \n"},"done":true,"done_reason":"stop","eval_count":3}`))
	}))
	defer srv.Close()

	o := NewOllamaWithClient(OllamaConfig{APIBase: srv.URL, Logger: testLogger()}, srv.Client())
	resp, err := o.Chat(context.Background(), domain.UserPrompt("hi", domain.GenerationOptions{Temperature: 0.3, MaxTokens: 150}))
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hello there" {
		t.Fatalf("expected trimmed content, got %q", resp.Content)
	}
	if got["model"] != ollamaDefaultModel || got["stream"] != false {
		t.Fatalf("unexpected body: %v", got)
	}
	opts, _ := got["options"].(map[string]any)
	if opts["temperature"] != 0.3 || opts["num_predict"] != float64(150) {
		t.Fatalf("unexpected options: %v", opts)
	}
}

func TestOllama_Chat_ServerError_NoRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := NewOllamaWithClient(OllamaConfig{APIBase: srv.URL, Logger: testLogger()}, srv.Client())
	_, err := o.Chat(context.Background(), domain.ChatRequest{})
	if !errors.Is(err, domain.ErrProviderError) {
		t.Fatalf("expected ErrProviderError, got %v", err)
	}
	var pf *domain.ProviderFailure
	if !errors.As(err, &pf) || pf.Status != http.StatusInternalServerError {
		t.Fatalf("expected status 500 in failure, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestOllama_Chat_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	o := NewOllamaWithClient(OllamaConfig{APIBase: base, Logger: testLogger()}, &http.Client{})
	_, err := o.Chat(context.Background(), domain.ChatRequest{})
	if !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if err := o.Healthy(context.Background()); !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected probe failure, got %v", err)
	}
}

func TestOllama_Chat_MalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	o := NewOllamaWithClient(OllamaConfig{APIBase: srv.URL, Logger: testLogger()}, srv.Client())
	if _, err := o.Chat(context.Background(), domain.ChatRequest{}); !errors.Is(err, domain.ErrProviderError) {
		t.Fatalf("expected ErrProviderError, got %v", err)
	}
}

func TestOllama_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	o := NewOllamaWithClient(OllamaConfig{APIBase: srv.URL + "/", Logger: testLogger()}, srv.Client())
	if err := o.Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}
	if o.Mode() != domain.ModeLocal {
		t.Fatalf("ollama should be local, got %q", o.Mode())
	}
}

// --- OpenAI-compatible ---

func TestOpenAI_Chat_Success(t *testing.T) {
	var got oaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer gsk_secret" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"I build distributed systems."},"finish_reason":"stop"}],"usage":{"total_tokens":12}}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "gsk_secret", APIBase: srv.URL, Logger: testLogger(), Client: srv.Client()})
	resp, err := o.Chat(context.Background(), domain.UserPrompt("q", domain.GenerationOptions{Temperature: 0.7, MaxTokens: 600}))
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "I build distributed systems." || resp.Provider != "groq" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got.Model != groqDefaultModel || got.MaxTokens != 600 || got.Temperature != 0.7 {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestOpenAI_Chat_NoChoicesIsProviderError(t *testing.T) {
	for name, body := range map[string]string{
		"empty choices": `{"choices":[]}`,
		"error payload": `{"error":{"message":"model overloaded"}}`,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))

		o := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger(), Client: srv.Client()})
		resp, err := o.Chat(context.Background(), domain.ChatRequest{})
		srv.Close()
		if !errors.Is(err, domain.ErrProviderError) {
			t.Errorf("%s: expected ErrProviderError, got %v (resp %+v)", name, err, resp)
			continue
		}
		var pf *domain.ProviderFailure
		if !errors.As(err, &pf) || pf.Status != http.StatusOK {
			t.Errorf("%s: expected status 200 in failure, got %v", name, err)
		}
	}
}

func TestOpenAI_Chat_ErrorScrubsKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid key gsk_topsecret_value"}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "gsk_topsecret_value", APIBase: srv.URL, Logger: testLogger(), Client: srv.Client()})
	_, err := o.Chat(context.Background(), domain.ChatRequest{})
	if !errors.Is(err, domain.ErrProviderError) {
		t.Fatalf("expected ErrProviderError, got %v", err)
	}
	if strings.Contains(err.Error(), "gsk_topsecret_value") {
		t.Fatalf("error leaks the API key: %v", err)
	}
}

func TestOpenAI_Chat_TruncatesLongErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(strings.Repeat("x", 5000)))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger(), Client: srv.Client()})
	_, err := o.Chat(context.Background(), domain.ChatRequest{})
	if err == nil || len(err.Error()) > maxErrorBody+100 {
		t.Fatalf("expected a bounded error, got %d bytes", len(err.Error()))
	}
}

func TestOpenAI_NoKey_Unavailable(t *testing.T) {
	o := NewOpenAI(OpenAIConfig{Logger: testLogger()})
	if _, err := o.Chat(context.Background(), domain.ChatRequest{}); !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if err := o.Healthy(context.Background()); err == nil {
		t.Fatal("expected unhealthy without key")
	}
}

// --- Claude ---

func TestClaude_Chat_SplitsSystemPrompt(t *testing.T) {
	var got claudeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" || r.Header.Get("x-api-key") != "ck" {
			t.Errorf("unexpected request %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"content":[{"type":"text","text":"Hello"},{"type":"text","text":" world"}],"stop_reason":"end_turn","usage":{"input_tokens":4,"output_tokens":2}}`))
	}))
	defer srv.Close()

	c := NewClaude(ClaudeConfig{APIKey: "ck", APIBase: srv.URL, Logger: testLogger(), Client: srv.Client()})
	resp, err := c.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "system", Content: "be brief"}, {Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Hello world" || resp.Usage.TotalTokens != 6 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got.System != "be brief" || len(got.Messages) != 1 || got.MaxTokens != defaultMaxTokens {
		t.Fatalf("unexpected request %+v", got)
	}
}

// --- Factory ---

func TestFactory_Selector(t *testing.T) {
	cfg := config.Defaults().Providers
	cfg.Preference = config.PreferLocal
	cfg.Cloud.APIKey = "k"

	s, err := NewFactory(cfg, testLogger()).Selector()
	if err != nil {
		t.Fatalf("Selector: %v", err)
	}
	if s.Name() != "selector(ollama→groq)" {
		t.Fatalf("unexpected selector %q", s.Name())
	}
	if s.callTimeout.Seconds() != 9 || s.probeTimeout.Seconds() != 2 {
		t.Fatalf("unexpected timeouts %v/%v", s.callTimeout, s.probeTimeout)
	}
}

func TestFactory_CloudKinds(t *testing.T) {
	for kind, name := range map[string]string{"groq": "groq", "openai": "openai", "claude": "claude"} {
		cfg := config.Defaults().Providers
		cfg.Cloud.Kind = kind
		p, err := NewFactory(cfg, testLogger()).Cloud()
		if err != nil {
			t.Fatalf("Cloud(%s): %v", kind, err)
		}
		if p.Name() != name || p.Mode() != domain.ModeCloud {
			t.Fatalf("kind %s built %s/%s", kind, p.Name(), p.Mode())
		}
	}

	cfg := config.Defaults().Providers
	cfg.Cloud.Kind = "nope"
	if _, err := NewFactory(cfg, testLogger()).Cloud(); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
