package provider

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"digitaltwin/internal/domain"
)

const (
	groqAPIBase        = "https://api.groq.com/openai/v1"
	groqDefaultModel   = "llama-3.3-70b-versatile"
	openAIAPIBase      = "https://api.openai.com/v1"
	openAIDefaultModel = "gpt-4o-mini"
)

// OpenAI implements domain.Provider for OpenAI-compatible chat completion APIs.
// With no base configured it talks to Groq.
type OpenAI struct {
	name    string
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type OpenAIConfig struct {
	Name    string // reported provider name, default "groq"
	APIKey  string
	APIBase string
	Model   string
	Logger  *slog.Logger
	Client  *http.Client
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Name == "" {
		cfg.Name = "groq"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = groqAPIBase
		if cfg.Name == "openai" {
			cfg.APIBase = openAIAPIBase
		}
	}
	if cfg.Model == "" {
		cfg.Model = groqDefaultModel
		if cfg.Name == "openai" {
			cfg.Model = openAIDefaultModel
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(defaultHTTPTimeout)
	}
	return &OpenAI{
		name:    cfg.Name,
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		model:   cfg.Model,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

func (o *OpenAI) Name() string              { return o.name }
func (o *OpenAI) Mode() domain.ProviderMode { return domain.ModeCloud }

func (o *OpenAI) Healthy(ctx context.Context) error {
	if o.apiKey == "" {
		return domain.Unavailable(o.name, errNoAPIKey)
	}
	return probe(ctx, o.client, o.name, o.apiBase+"/models", o.authHeaders(), o.apiKey)
}

func (o *OpenAI) authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + o.apiKey}
}

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature"`
	Stream      bool         `json:"stream"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Usage   oaiUsage    `json:"usage"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (o *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if o.apiKey == "" {
		return nil, domain.Unavailable(o.name, errNoAPIKey)
	}
	model := req.Model
	if model == "" {
		model = o.model
	}

	msgs := make([]oaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, oaiMessage{Role: m.Role, Content: m.Content})
	}

	body := oaiRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	start := time.Now()
	var oaiResp oaiResponse
	if err := postJSON(ctx, o.client, o.name, o.apiBase+"/chat/completions", o.authHeaders(), body, &oaiResp, o.apiKey); err != nil {
		return nil, err
	}

	out := &domain.ChatResponse{
		Provider:  o.name,
		LatencyMs: time.Since(start).Milliseconds(),
		Usage: domain.Usage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		},
	}
	if len(oaiResp.Choices) == 0 {
		return nil, domain.ProviderErr(o.name, http.StatusOK, errors.New("no choices in reply"))
	}

	choice := oaiResp.Choices[0]
	out.Content = strings.TrimSpace(choice.Message.Content)
	out.FinishReason = choice.FinishReason
	return out, nil
}
