// Package serve exposes the chat engine over a small JSON HTTP API.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	pal "github.com/Paranoid-AF/pal"
)

// historyLimit is how many trailing conversation messages reach the engine.
const historyLimit = 10

// Endpoints lists the routes reported in 404 responses.
var Endpoints = []string{
	"/",
	"/health",
	"/chat",
	"/model/info",
	"/model/clear-cache",
	"/config",
}

// Chatter generates replies and reports on the model behind them.
type Chatter interface {
	GenerateResponse(ctx context.Context, input string, history []string, opts pal.GenerateOptions) string
	ModelInfo(ctx context.Context) pal.ModelInfo
	ClearCache(ctx context.Context) error
}

// ConfigSource provides the configuration tree served by GET /config.
type ConfigSource interface {
	Tree() map[string]any
}

// Server routes API requests to a Chatter.
type Server struct {
	engine  Chatter
	config  ConfigSource
	origins []string
	now     func() time.Time
	handler http.Handler
}

// NewServer creates an API server. corsOrigins are the origins allowed to
// make credentialed cross-origin requests.
func NewServer(engine Chatter, config ConfigSource, corsOrigins []string) *Server {
	s := &Server{
		engine:  engine,
		config:  config,
		origins: corsOrigins,
		now:     time.Now,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	r.HandleFunc("/model/info", s.handleModelInfo).Methods(http.MethodGet)
	r.HandleFunc("/model/clear-cache", s.handleClearCache).Methods(http.MethodPost)
	r.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	return withRequestID(logRequests(recoverPanics(s.cors(r))))
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully, letting in-flight requests finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) timestamp() float64 {
	return float64(s.now().UnixNano()) / 1e9
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, pal.RootResponse{
		Message: "Personal AI API",
		Version: pal.Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.engine.ModelInfo(r.Context()).Status
	if status == "" {
		status = "unknown"
	}
	writeJSON(w, http.StatusOK, pal.HealthResponse{
		Status:      "healthy",
		Timestamp:   s.timestamp(),
		Version:     pal.Version,
		ModelStatus: status,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req pal.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if req.Message == nil {
		writeError(w, http.StatusUnprocessableEntity, "field required: message")
		return
	}

	response := s.engine.GenerateResponse(r.Context(), *req.Message, formatHistory(req.ConversationHistory), pal.GenerateOptions{
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})

	writeJSON(w, http.StatusOK, pal.ChatResponse{
		Response:  response,
		Timestamp: s.timestamp(),
		ModelInfo: s.engine.ModelInfo(r.Context()),
	})
}

// formatHistory renders the trailing historyLimit messages as "role: content".
func formatHistory(msgs []pal.ChatMessage) []string {
	if len(msgs) > historyLimit {
		msgs = msgs[len(msgs)-historyLimit:]
	}
	history := make([]string, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, m.Role+": "+m.Content)
	}
	return history
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.ModelInfo(r.Context()))
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ClearCache(r.Context()); err != nil {
		slog.Error("clear cache API error", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pal.StatusResponse{Status: "success", Message: "Cache cleared"})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, publicConfig(s.config.Tree()))
}

// publicConfig drops the privacy section and masks credentials.
func publicConfig(tree map[string]any) map[string]any {
	if tree == nil {
		return map[string]any{}
	}
	delete(tree, "privacy")
	if model, ok := tree["model"].(map[string]any); ok {
		if key, ok := model["api_key"].(string); ok && key != "" {
			model["api_key"] = "***"
		}
	}
	return tree
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, pal.NotFoundResponse{
		Error:              "Not found",
		Message:            fmt.Sprintf("The endpoint %s was not found", r.URL.Path),
		AvailableEndpoints: Endpoints,
	})
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, pal.ErrorResponse{Detail: detail})
}
