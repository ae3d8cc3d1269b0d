package serve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pal "github.com/Paranoid-AF/pal"
)

// stubChatter records calls and returns fixed values.
type stubChatter struct {
	mu       sync.Mutex
	reply    string
	info     pal.ModelInfo
	clearErr error
	cleared  int
	input    string
	history  []string
	opts     pal.GenerateOptions
	panicMsg string
}

func (s *stubChatter) GenerateResponse(_ context.Context, input string, history []string, opts pal.GenerateOptions) string {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input, s.history, s.opts = input, history, opts
	return s.reply
}

func (s *stubChatter) ModelInfo(context.Context) pal.ModelInfo { return s.info }

func (s *stubChatter) ClearCache(context.Context) error {
	s.cleared++
	return s.clearErr
}

type stubConfig struct {
	tree map[string]any
}

func (c stubConfig) Tree() map[string]any {
	// Tree hands out a copy; mimic that so handlers can't alias the fixture.
	data, _ := json.Marshal(c.tree)
	var out map[string]any
	json.Unmarshal(data, &out)
	return out
}

var fixedNow = time.Unix(1700000000, 500000000)

func newTestServer(chatter *stubChatter, tree map[string]any) *Server {
	s := NewServer(chatter, stubConfig{tree: tree}, []string{"http://localhost:3000"})
	s.now = func() time.Time { return fixedNow }
	return s
}

func do(t *testing.T, s *Server, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

var loadedInfo = pal.ModelInfo{
	Status:     pal.StatusLoaded,
	ModelName:  "qwen2.5:0.5b",
	Device:     "cpu",
	Parameters: 494032768,
	Provider:   "ollama",
	Dtype:      "float32",
}

func TestRoot(t *testing.T) {
	s := newTestServer(&stubChatter{}, nil)
	rec := do(t, s, http.MethodGet, "/", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"Personal AI API","version":"1.0.0"}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	s := newTestServer(&stubChatter{info: loadedInfo}, nil)
	rec := do(t, s, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[pal.HealthResponse](t, rec)
	assert.Equal(t, "healthy", got.Status)
	assert.Equal(t, "1.0.0", got.Version)
	assert.Equal(t, "loaded", got.ModelStatus)
	assert.InDelta(t, 1700000000.5, got.Timestamp, 1e-3)
}

func TestHealthFallbackAndUnknown(t *testing.T) {
	s := newTestServer(&stubChatter{info: pal.ModelInfo{Status: pal.StatusFallback, ModelName: "none"}}, nil)
	assert.Equal(t, "fallback", decode[pal.HealthResponse](t, do(t, s, http.MethodGet, "/health", "")).ModelStatus)

	s = newTestServer(&stubChatter{}, nil)
	assert.Equal(t, "unknown", decode[pal.HealthResponse](t, do(t, s, http.MethodGet, "/health", "")).ModelStatus)
}

func TestChat(t *testing.T) {
	chatter := &stubChatter{reply: "Hi there!", info: loadedInfo}
	s := newTestServer(chatter, nil)

	rec := do(t, s, http.MethodPost, "/chat", `{
		"message": "hello",
		"conversation_history": [
			{"role": "user", "content": "earlier"},
			{"role": "assistant", "content": "reply", "timestamp": 1.5}
		],
		"temperature": 0.2,
		"max_tokens": 50
	}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[pal.ChatResponse](t, rec)
	assert.Equal(t, "Hi there!", got.Response)
	assert.Equal(t, loadedInfo, got.ModelInfo)
	assert.InDelta(t, 1700000000.5, got.Timestamp, 1e-3)

	assert.Equal(t, "hello", chatter.input)
	assert.Equal(t, []string{"user: earlier", "assistant: reply"}, chatter.history)
	require.NotNil(t, chatter.opts.Temperature)
	assert.Equal(t, 0.2, *chatter.opts.Temperature)
	require.NotNil(t, chatter.opts.MaxTokens)
	assert.Equal(t, 50, *chatter.opts.MaxTokens)
}

func TestChatKeepsLastTenHistoryMessages(t *testing.T) {
	chatter := &stubChatter{reply: "ok"}
	s := newTestServer(chatter, nil)

	var msgs []pal.ChatMessage
	for i := 0; i < 15; i++ {
		msgs = append(msgs, pal.ChatMessage{Role: "user", Content: string(rune('a' + i))})
	}
	body, err := json.Marshal(map[string]any{"message": "next", "conversation_history": msgs})
	require.NoError(t, err)

	rec := do(t, s, http.MethodPost, "/chat", string(body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, chatter.history, 10)
	assert.Equal(t, "user: f", chatter.history[0])
	assert.Equal(t, "user: o", chatter.history[9])
}

func TestChatWithoutHistory(t *testing.T) {
	chatter := &stubChatter{reply: "ok"}
	s := newTestServer(chatter, nil)

	rec := do(t, s, http.MethodPost, "/chat", `{"message": "hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, chatter.history)
	assert.Nil(t, chatter.opts.Temperature)
	assert.Nil(t, chatter.opts.MaxTokens)
}

func TestChatEmptyMessageReachesEngine(t *testing.T) {
	chatter := &stubChatter{reply: "I didn't catch that. Could you please repeat?"}
	s := newTestServer(chatter, nil)

	rec := do(t, s, http.MethodPost, "/chat", `{"message": ""}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, chatter.reply, decode[pal.ChatResponse](t, rec).Response)
}

func TestChatValidation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		detail string
	}{
		{"missing message", `{"conversation_history": []}`, "message"},
		{"null message", `{"message": null}`, "message"},
		{"malformed json", `{"message": `, "invalid request body"},
		{"wrong type", `{"message": 42}`, "invalid request body"},
		{"empty body", ``, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&stubChatter{}, nil)
			req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Contains(t, decode[pal.ErrorResponse](t, rec).Detail, tt.detail)
		})
	}
}

func TestChatPanicIs500(t *testing.T) {
	s := newTestServer(&stubChatter{panicMsg: "engine exploded"}, nil)
	rec := do(t, s, http.MethodPost, "/chat", `{"message":"hi"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, decode[pal.ErrorResponse](t, rec).Detail)
}

func TestModelInfo(t *testing.T) {
	s := newTestServer(&stubChatter{info: loadedInfo}, nil)
	rec := do(t, s, http.MethodGet, "/model/info", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"status": "loaded",
		"model_name": "qwen2.5:0.5b",
		"device": "cpu",
		"parameters": 494032768,
		"provider": "ollama",
		"dtype": "float32"
	}`, rec.Body.String())
}

func TestModelInfoFallback(t *testing.T) {
	s := newTestServer(&stubChatter{info: pal.ModelInfo{Status: pal.StatusFallback, ModelName: "none"}}, nil)
	rec := do(t, s, http.MethodGet, "/model/info", "")
	assert.JSONEq(t, `{"status":"fallback","model_name":"none"}`, rec.Body.String())
}

func TestClearCache(t *testing.T) {
	chatter := &stubChatter{}
	s := newTestServer(chatter, nil)
	rec := do(t, s, http.MethodPost, "/model/clear-cache", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"success","message":"Cache cleared"}`, rec.Body.String())
	assert.Equal(t, 1, chatter.cleared)
}

func TestClearCacheError(t *testing.T) {
	s := newTestServer(&stubChatter{clearErr: errors.New("release failed")}, nil)
	rec := do(t, s, http.MethodPost, "/model/clear-cache", "")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "release failed", decode[pal.ErrorResponse](t, rec).Detail)
}

func TestConfigOmitsPrivacyAndMasksKey(t *testing.T) {
	tree := map[string]any{
		"model":   map[string]any{"name": "m", "api_key": "sk-secret"},
		"api":     map[string]any{"port": 8000},
		"privacy": map[string]any{"anonymize_logs": true},
	}
	s := newTestServer(&stubChatter{}, tree)
	rec := do(t, s, http.MethodGet, "/config", "")

	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.NotContains(t, got, "privacy")
	assert.Equal(t, "***", got["model"].(map[string]any)["api_key"])
	assert.Equal(t, "m", got["model"].(map[string]any)["name"])
	assert.Equal(t, float64(8000), got["api"].(map[string]any)["port"])

	// the source tree is untouched
	assert.Contains(t, tree, "privacy")
}

func TestConfigEmptyKeyNotMasked(t *testing.T) {
	tree := map[string]any{"model": map[string]any{"api_key": ""}}
	s := newTestServer(&stubChatter{}, tree)
	got := decode[map[string]any](t, do(t, s, http.MethodGet, "/config", ""))
	assert.Equal(t, "", got["model"].(map[string]any)["api_key"])
}

func TestNotFound(t *testing.T) {
	s := newTestServer(&stubChatter{}, nil)
	rec := do(t, s, http.MethodGet, "/nope", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	got := decode[pal.NotFoundResponse](t, rec)
	assert.Equal(t, "Not found", got.Error)
	assert.Equal(t, "The endpoint /nope was not found", got.Message)
	assert.Equal(t, Endpoints, got.AvailableEndpoints)
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(&stubChatter{}, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/chat"},
		{http.MethodPost, "/health"},
		{http.MethodDelete, "/config"},
		{http.MethodGet, "/model/clear-cache"},
	} {
		rec := do(t, s, tc.method, tc.path, "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "%s %s", tc.method, tc.path)
		assert.NotEmpty(t, decode[pal.ErrorResponse](t, rec).Detail)
	}
}

func TestRequestIDGenerated(t *testing.T) {
	s := newTestServer(&stubChatter{}, nil)
	rec := do(t, s, http.MethodGet, "/", "")

	id := rec.Header().Get(RequestIDHeader)
	assert.Len(t, id, 36)
}

func TestRequestIDPropagated(t *testing.T) {
	s := newTestServer(&stubChatter{}, nil)
	rec := do(t, s, http.MethodGet, "/", "", RequestIDHeader, "abc-123")
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestRequestIDLogged(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	s := newTestServer(&stubChatter{}, nil)
	rec := do(t, s, http.MethodGet, "/health", "")
	id := rec.Header().Get(RequestIDHeader)
	require.NotEmpty(t, id)

	var entry struct {
		Msg       string `json:"msg"`
		RequestID string `json:"request_id"`
		Path      string `json:"path"`
		Status    int    `json:"status"`
	}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry.Msg == "request" {
			break
		}
	}
	assert.Equal(t, "request", entry.Msg)
	assert.Equal(t, id, entry.RequestID)
	assert.Equal(t, "/health", entry.Path)
	assert.Equal(t, http.StatusOK, entry.Status)
}

func TestCORSAllowedOrigin(t *testing.T) {
	s := newTestServer(&stubChatter{}, nil)
	rec := do(t, s, http.MethodGet, "/", "", "Origin", "http://localhost:3000")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSDisallowedOrigin(t *testing.T) {
	s := newTestServer(&stubChatter{}, nil)
	rec := do(t, s, http.MethodGet, "/", "", "Origin", "http://evil.example")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflightAllowsRequestedHeaders(t *testing.T) {
	s := newTestServer(&stubChatter{}, nil)
	rec := do(t, s, http.MethodOptions, "/chat", "",
		"Origin", "http://localhost:3000",
		"Access-Control-Request-Method", "POST",
		"Access-Control-Request-Headers", "Content-Type, X-Custom-Thing",
	)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	allowed := rec.Header().Get("Access-Control-Allow-Headers")
	assert.Contains(t, allowed, "Content-Type")
	assert.Contains(t, allowed, "X-Custom-Thing")
}

func TestCORSPreflightAnyMethod(t *testing.T) {
	s := newTestServer(&stubChatter{}, nil)
	rec := do(t, s, http.MethodOptions, "/config", "",
		"Origin", "http://localhost:3000",
		"Access-Control-Request-Method", "DELETE",
	)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DELETE", rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestListenAndServeShutsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	s := newTestServer(&stubChatter{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestListenAndServeBadAddr(t *testing.T) {
	s := newTestServer(&stubChatter{}, nil)
	err := s.ListenAndServe(context.Background(), "256.0.0.1:http-nope")
	assert.Error(t, err)
}

func TestFormatHistory(t *testing.T) {
	assert.Empty(t, formatHistory(nil))
	assert.Equal(t, []string{"user: a"}, formatHistory([]pal.ChatMessage{{Role: "user", Content: "a"}}))
}
