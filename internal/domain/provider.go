package domain

import "context"

// ProviderMode tells where a generation provider runs.
type ProviderMode string

const (
	ModeLocal ProviderMode = "local"
	ModeCloud ProviderMode = "cloud"
)

// Provider is the interface all text-generation providers implement.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Mode() ProviderMode
	// Healthy is a lightweight availability probe. It must not generate text.
	Healthy(ctx context.Context) error
}

type ChatRequest struct {
	Messages    []Message
	Model       string // optional: override the provider's default model
	MaxTokens   int
	Temperature float64
}

type ChatResponse struct {
	Content      string
	FinishReason string
	Provider     string // name of the provider that actually answered
	Usage        Usage
	LatencyMs    int64
}

type Message struct {
	Role    string `json:"role"` // system | user | assistant
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerationOptions are the per-stage sampling settings.
type GenerationOptions struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

// UserPrompt builds a single-message request from a prompt and options.
func UserPrompt(prompt string, opts GenerationOptions) ChatRequest {
	return ChatRequest{
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
}
