// Package generate turns user input into replies through an inference backend,
// with a keyword-based fallback when no model can be loaded.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	pal "github.com/Paranoid-AF/pal"
)

// Engine owns the backend connection and the generation settings.
type Engine struct {
	backend   Backend
	info      *InfoCache
	trunc     *truncator
	config    *pal.Config
	modelName string
	provider  string
	device    string
	dtype     string
	fallback  bool
	pick      func(n int) int // fallback reply choice; nil means math/rand
}

// NewEngine selects a device and loads the configured model. Load failures
// are logged and leave the engine in fallback mode; they never fail the caller.
func NewEngine(ctx context.Context, m *pal.Manager) *Engine {
	cfg, err := m.Config()
	if err != nil {
		slog.Warn("failed to decode config, using defaults", "error", err)
		cfg = pal.DefaultConfig()
	}
	for _, w := range pal.ValidateConfig(cfg) {
		slog.Warn("config", "warning", w)
	}
	return newEngine(ctx, cfg, nil, hostProber{})
}

// newEngine builds an engine. A nil backend is created from cfg.
func newEngine(ctx context.Context, cfg *pal.Config, backend Backend, p Prober) *Engine {
	e := &Engine{
		info:      NewInfoCache(0),
		trunc:     newTruncator(),
		config:    cfg,
		modelName: pal.ResolveModelName(cfg),
		provider:  providerName(cfg.Model.Provider),
	}
	e.device = selectDevice(ctx, cfg.Model.Device, p)
	e.dtype = dtypeFor(e.device)

	if backend == nil {
		var err error
		backend, err = newBackend(cfg)
		if err != nil {
			slog.Error("failed to load model", "model", e.modelName, "error", err)
			e.setupFallback()
			return e
		}
	}
	e.backend = backend
	e.load(ctx)

	slog.Info("AI engine initialized", "fallback", e.fallback)
	return e
}

func providerName(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return ProviderOllama
	}
	return p
}

// newBackend creates the backend named by model.provider.
func newBackend(cfg *pal.Config) (Backend, error) {
	baseURL := pal.ResolveModelBaseURL(cfg)
	timeout := cfg.Model.Timeout()
	switch providerName(cfg.Model.Provider) {
	case ProviderOllama:
		return NewOllamaBackend(baseURL, timeout), nil
	case ProviderOpenAI:
		return NewOpenAIBackend(baseURL, pal.ResolveModelAPIKey(cfg), cfg.Model.APIType, timeout), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}
}

func (e *Engine) load(ctx context.Context) {
	slog.Info("loading model", "model", e.modelName, "provider", e.provider, "dtype", e.dtype)
	meta, err := e.backend.Load(ctx, e.modelName)
	if err != nil {
		slog.Error("failed to load model", "model", e.modelName, "error", err)
		e.setupFallback()
		return
	}
	e.info.Put(e.modelName, meta)
	slog.Info("model loaded successfully", "model", e.modelName, "parameters", meta.Parameters)
}

func (e *Engine) setupFallback() {
	slog.Warn("setting up fallback response system")
	e.fallback = true
}

// Fallback reports whether the engine answers without a model.
func (e *Engine) Fallback() bool {
	return e.fallback
}

// Device returns the resolved device name.
func (e *Engine) Device() string {
	return e.device
}

// GenerateResponse answers input given earlier conversation lines, oldest
// first. It always returns a reply; errors are logged and replaced by a
// fixed apology.
func (e *Engine) GenerateResponse(ctx context.Context, input string, history []string, opts pal.GenerateOptions) string {
	if strings.TrimSpace(input) == "" {
		return ReplyEmptyInput
	}
	if e.fallback {
		return fallbackResponse(input, e.pick)
	}

	out, err := e.generate(ctx, input, history, opts)
	if err != nil {
		slog.Error("error generating response", "error", err)
		return ReplyError
	}
	return out
}

func (e *Engine) generate(ctx context.Context, input string, history []string, opts pal.GenerateOptions) (string, error) {
	prompt := e.trunc.Truncate(buildPrompt(input, history), e.config.Model.MaxLength)

	req := Request{
		Model:       e.modelName,
		Prompt:      prompt,
		MaxTokens:   e.config.Inference.MaxNewTokens,
		Temperature: e.config.Model.Temperature,
		TopP:        e.config.Model.TopP,
		Greedy:      !e.config.Inference.DoSample,
		Device:      e.device,
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.MaxTokens != nil && *opts.MaxTokens > 0 {
		req.MaxTokens = *opts.MaxTokens
	}

	slog.Debug("generating", "prompt", prompt, "max_tokens", req.MaxTokens, "temperature", req.Temperature)

	out, err := e.backend.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return ReplyNoResponse, nil
	}
	return out, nil
}

// ModelInfo describes the loaded model, or reports fallback mode.
func (e *Engine) ModelInfo(ctx context.Context) pal.ModelInfo {
	if e.fallback {
		return pal.ModelInfo{Status: pal.StatusFallback, ModelName: "none"}
	}

	info := pal.ModelInfo{
		Status:    pal.StatusLoaded,
		ModelName: e.modelName,
		Device:    e.device,
		Provider:  e.provider,
		Dtype:     e.dtype,
	}
	meta, err := e.info.Fetch(ctx, e.backend, e.modelName)
	if err != nil {
		slog.Warn("failed to fetch model metadata", "model", e.modelName, "error", err)
		return info
	}
	info.Parameters = meta.Parameters
	return info
}

// ClearCache drops cached model metadata. On cuda it also asks the backend
// to release accelerator memory held for a loaded model.
func (e *Engine) ClearCache(ctx context.Context) error {
	e.info.Clear()
	if e.fallback || e.device != DeviceCUDA || e.backend == nil {
		return nil
	}
	if err := e.backend.Release(ctx, e.modelName); err != nil {
		return fmt.Errorf("clear GPU cache: %w", err)
	}
	slog.Info("GPU cache cleared")
	return nil
}

// Close releases resources held by the engine.
func (e *Engine) Close() {
	if e.info != nil {
		e.info.Close()
	}
	if e.backend != nil {
		e.backend.Close()
	}
}
