package serve

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
)

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestID returns the correlation ID stored in ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// withRequestID keeps a client-supplied X-Request-ID or assigns a new one,
// and echoes it on the response.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// logRequests logs one line per request once the response is written.
func logRequests(next http.Handler) http.Handler {
	return handlers.CustomLoggingHandler(io.Discard, next, func(_ io.Writer, p handlers.LogFormatterParams) {
		level := slog.LevelInfo
		if p.StatusCode >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(p.Request.Context(), level, "request",
			"request_id", RequestID(p.Request.Context()),
			"method", p.Request.Method,
			"path", p.URL.Path,
			"status", p.StatusCode,
			"bytes", p.Size,
			"duration", time.Since(p.TimeStamp),
		)
	})
}

// recoverPanics turns a handler panic into a 500 with a JSON detail.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				slog.Error("panic serving request", "path", r.URL.Path, "panic", v)
				writeError(w, http.StatusInternalServerError, "Internal Server Error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

var corsMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

// cors allows the configured origins with credentials, every method, and
// whatever headers the preflight asks for.
func (s *Server) cors(next http.Handler) http.Handler {
	base := []handlers.CORSOption{
		handlers.AllowedOrigins(s.origins),
		handlers.AllowCredentials(),
		handlers.AllowedMethods(corsMethods),
		handlers.ExposedHeaders([]string{RequestIDHeader}),
	}
	plain := handlers.CORS(base...)(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested := r.Header.Get("Access-Control-Request-Headers")
		if r.Method != http.MethodOptions || requested == "" {
			plain.ServeHTTP(w, r)
			return
		}
		opts := append(base[:len(base):len(base)], handlers.AllowedHeaders(strings.Split(requested, ",")))
		handlers.CORS(opts...)(next).ServeHTTP(w, r)
	})
}
