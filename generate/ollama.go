package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaBackend talks to an Ollama server's native API.
type OllamaBackend struct {
	baseURL string
	client  *http.Client
}

// NewOllamaBackend creates a backend for baseURL (e.g. http://localhost:11434).
func NewOllamaBackend(baseURL string, timeout time.Duration) *OllamaBackend {
	return &OllamaBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type ollamaShowRequest struct {
	Model string `json:"model"`
}

type ollamaShowResponse struct {
	ModelInfo map[string]any `json:"model_info"`
}

type ollamaGenerateRequest struct {
	Model     string         `json:"model"`
	Prompt    string         `json:"prompt"`
	Stream    bool           `json:"stream"`
	KeepAlive *int           `json:"keep_alive,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

type ollamaError struct {
	Error string `json:"error"`
}

// Load queries /api/show for the model and reads its parameter count.
func (b *OllamaBackend) Load(ctx context.Context, model string) (*ModelMeta, error) {
	var show ollamaShowResponse
	status, err := b.post(ctx, "/api/show", ollamaShowRequest{Model: model}, &show)
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, model)
	}
	if err != nil {
		return nil, fmt.Errorf("show model %s: %w", model, err)
	}
	return &ModelMeta{Name: model, Parameters: parameterCount(show.ModelInfo)}, nil
}

// parameterCount reads general.parameter_count; JSON numbers decode as float64.
func parameterCount(info map[string]any) int64 {
	switch n := info["general.parameter_count"].(type) {
	case float64:
		return int64(n)
	case json.Number:
		v, _ := n.Int64()
		return v
	}
	return 0
}

// Generate calls /api/generate without streaming.
func (b *OllamaBackend) Generate(ctx context.Context, req Request) (string, error) {
	opts := map[string]any{
		"num_predict": req.MaxTokens,
		"top_p":       req.TopP,
		"temperature": req.Temperature,
	}
	if req.Greedy {
		opts["temperature"] = 0
		opts["top_k"] = 1
	}
	if req.Device == DeviceCPU {
		opts["num_gpu"] = 0
	}

	var out ollamaGenerateResponse
	if _, err := b.post(ctx, "/api/generate", ollamaGenerateRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		Stream:  false,
		Options: opts,
	}, &out); err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("generate: %s", out.Error)
	}
	return out.Response, nil
}

// Release unloads the model by sending an empty generate with keep_alive 0.
func (b *OllamaBackend) Release(ctx context.Context, model string) error {
	zero := 0
	if _, err := b.post(ctx, "/api/generate", ollamaGenerateRequest{
		Model:     model,
		KeepAlive: &zero,
	}, nil); err != nil {
		return fmt.Errorf("release %s: %w", model, err)
	}
	return nil
}

// Close releases idle connections.
func (b *OllamaBackend) Close() {
	b.client.CloseIdleConnections()
}

// post sends a JSON body and decodes a JSON reply into out (when non-nil).
// The HTTP status is returned even on error.
func (b *OllamaBackend) post(ctx context.Context, path string, in, out any) (int, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr ollamaError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return resp.StatusCode, fmt.Errorf("API error (status %d): %s", resp.StatusCode, apiErr.Error)
		}
		return resp.StatusCode, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to parse response: %w (body: %s)", err, string(body))
		}
	}
	return resp.StatusCode, nil
}
