// Package pal defines the HTTP request/response types and configuration for
// the pal assistant. Messages are JSON-encoded.
package pal

// Version is reported by the API root and health endpoints.
const Version = "1.0.0"

// ChatMessage is one earlier turn of a conversation.
type ChatMessage struct {
	// Role is "user" or "assistant".
	Role    string `json:"role"`
	Content string `json:"content"`
	// Timestamp is seconds since the Unix epoch, when the client tracks it.
	Timestamp *float64 `json:"timestamp,omitempty"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	// Message is the user's input. Required.
	Message *string `json:"message"`
	// ConversationHistory holds earlier turns, oldest first.
	ConversationHistory []ChatMessage `json:"conversation_history,omitempty"`
	// Temperature overrides model.temperature for this request.
	Temperature *float64 `json:"temperature,omitempty"`
	// MaxTokens overrides inference.max_new_tokens for this request.
	MaxTokens *int `json:"max_tokens,omitempty"`
}

// ChatResponse is returned from POST /chat.
type ChatResponse struct {
	Response  string    `json:"response"`
	Timestamp float64   `json:"timestamp"`
	ModelInfo ModelInfo `json:"model_info"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status      string  `json:"status"`
	Timestamp   float64 `json:"timestamp"`
	Version     string  `json:"version"`
	ModelStatus string  `json:"model_status"`
}

// Model status values reported in ModelInfo.Status.
const (
	StatusLoaded   = "loaded"
	StatusFallback = "fallback"
)

// ModelInfo describes the model behind the engine.
// In fallback mode only Status and ModelName are set.
type ModelInfo struct {
	Status     string `json:"status"`
	ModelName  string `json:"model_name"`
	Device     string `json:"device,omitempty"`
	Parameters int64  `json:"parameters,omitempty"`
	Provider   string `json:"provider,omitempty"`
	Dtype      string `json:"dtype,omitempty"`
}

// GenerateOptions carries per-request overrides of the configured
// sampling settings. Nil fields keep the configured value.
type GenerateOptions struct {
	Temperature *float64
	MaxTokens   *int
}

// ErrorResponse is the body of every non-2xx API response except 404.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// NotFoundResponse is the body of a 404.
type NotFoundResponse struct {
	Error              string   `json:"error"`
	Message            string   `json:"message"`
	AvailableEndpoints []string `json:"available_endpoints"`
}

// StatusResponse acknowledges an action endpoint such as cache clearing.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// RootResponse is returned from GET /.
type RootResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
}
