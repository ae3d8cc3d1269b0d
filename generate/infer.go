package generate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Provider names accepted in model.provider.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// ErrModelNotFound is returned by Load when the backend does not serve the model.
var ErrModelNotFound = errors.New("model not found")

// ModelMeta is what a backend reports about a loaded model.
type ModelMeta struct {
	Name       string
	Parameters int64
}

// Request is a single generation call.
type Request struct {
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature float64
	TopP        float64
	Greedy      bool
	Device      string
}

// Backend performs inference against a model server.
type Backend interface {
	// Load confirms model is available and returns its metadata.
	Load(ctx context.Context, model string) (*ModelMeta, error)
	Generate(ctx context.Context, req Request) (string, error)
	// Release asks the server to free accelerator memory held for model.
	Release(ctx context.Context, model string) error
	Close()
}

// OpenAIBackend talks to any OpenAI-compatible server.
type OpenAIBackend struct {
	client  *openai.Client
	apiType string // "chat_completions" or "completions"
}

// NewOpenAIBackend creates a backend for baseURL (e.g. http://localhost:8080/v1).
func NewOpenAIBackend(baseURL, apiKey, apiType string, timeout time.Duration) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &OpenAIBackend{
		client:  openai.NewClientWithConfig(cfg),
		apiType: apiType,
	}
}

// Load looks the model up on the models endpoint.
func (b *OpenAIBackend) Load(ctx context.Context, model string) (*ModelMeta, error) {
	m, err := b.client.GetModel(ctx, model)
	if err != nil {
		var apiErr *openai.APIError
		var reqErr *openai.RequestError
		if (errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusNotFound) ||
			(errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, model)
		}
		return nil, fmt.Errorf("get model %s: %w", model, err)
	}
	name := m.ID
	if name == "" {
		name = model
	}
	return &ModelMeta{Name: name}, nil
}

// Generate runs a chat or text completion depending on the configured API type.
func (b *OpenAIBackend) Generate(ctx context.Context, req Request) (string, error) {
	temp := float32(req.Temperature)
	if req.Greedy || temp == 0 {
		// zero is dropped by omitempty and the server default would apply
		temp = math.SmallestNonzeroFloat32
	}

	if b.apiType == "completions" {
		resp, err := b.client.CreateCompletion(ctx, openai.CompletionRequest{
			Model:       req.Model,
			Prompt:      req.Prompt,
			MaxTokens:   req.MaxTokens,
			Temperature: temp,
			TopP:        float32(req.TopP),
		})
		if err != nil {
			return "", fmt.Errorf("completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("no choices in response")
		}
		return resp.Choices[0].Text, nil
	}

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: temp,
		TopP:        float32(req.TopP),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Release is a no-op; OpenAI-compatible servers manage their own memory.
func (b *OpenAIBackend) Release(ctx context.Context, model string) error { return nil }

// Close is a no-op (no subprocess to manage).
func (b *OpenAIBackend) Close() {}
