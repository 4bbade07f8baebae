package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/lei/streams-build/internal/config"
	"github.com/lei/streams-build/pkg/logger"
)

// accessTokenParam carries the API key for clients that cannot set headers,
// such as browser EventSource connections to the event stream
const accessTokenParam = "access_token"

// AuthMiddleware handles API key authentication
type AuthMiddleware struct {
	keys []config.APIKey
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(keys []config.APIKey) *AuthMiddleware {
	return &AuthMiddleware{keys: append([]config.APIKey(nil), keys...)}
}

// lookup compares against every key in constant time and returns the name
// of the matching one
func (m *AuthMiddleware) lookup(presented string) (string, bool) {
	var name string
	found := false
	for _, k := range m.keys {
		if subtle.ConstantTimeCompare([]byte(k.Key), []byte(presented)) == 1 && !found {
			name, found = k.Name, true
		}
	}
	return name, found
}

// credential extracts the API key from "Authorization: Bearer <key>" or,
// for GET requests without the header, the access_token query parameter
func credential(r *http.Request) (key string, reason string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if r.Method == http.MethodGet {
			if key := r.URL.Query().Get(accessTokenParam); key != "" {
				return key, ""
			}
		}
		return "", "missing authorization header"
	}
	scheme, key, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || key == "" {
		return "", "invalid authorization format, expected 'Bearer <token>'"
	}
	return key, ""
}

// Authenticate validates the API key of the request
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := GetLogger(r.Context())

		key, reason := credential(r)
		if reason != "" {
			log.Warn("authentication failed", "reason", reason)
			respondError(w, r, http.StatusUnauthorized, reason)
			return
		}

		name, ok := m.lookup(key)
		if !ok {
			prefix := key
			if len(prefix) > 4 {
				prefix = prefix[:4]
			}
			log.Warn("authentication failed: invalid api key", "key_prefix", prefix)
			respondError(w, r, http.StatusUnauthorized, "invalid api key")
			return
		}

		log.Debug("authenticated", "api_key_name", name)
		ctx := context.WithValue(r.Context(), contextKeyAPIKeyName, name)
		ctx = logger.WithContext(ctx, log.With("api_key_name", name))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware attaches a request-scoped logger and logs completion
type LoggingMiddleware struct {
	logger *logger.Logger
}

// NewLoggingMiddleware creates a new logging middleware
func NewLoggingMiddleware(logger *logger.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{logger: logger}
}

// Handler wraps HTTP handlers with logging. Event stream requests log when
// they open as well, since they stay open for the life of the client.
func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		if requestID == "" {
			requestID = "unknown"
		}

		reqLogger := m.logger.With(
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx := logger.WithContext(r.Context(), reqLogger)
		ctx = context.WithValue(ctx, contextKeyRequestID, requestID)

		streaming := strings.Contains(r.Header.Get("Accept"), "text/event-stream")
		if streaming {
			reqLogger.Info("event stream opened", "remote_addr", r.RemoteAddr)
		} else {
			reqLogger.Debug("request started", "remote_addr", r.RemoteAddr, "user_agent", r.UserAgent())
		}

		rec := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()
		defer func() {
			completionLog(reqLogger, rec.statusCode)("request completed",
				"status", rec.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"bytes_written", rec.bytesWritten)
		}()

		next.ServeHTTP(rec, r.WithContext(ctx))
	})
}

// completionLog picks the level a finished request is logged at
func completionLog(l *logger.Logger, status int) func(msg string, args ...any) {
	switch {
	case status >= 500:
		return l.Error
	case status >= 400:
		return l.Warn
	default:
		return l.Info
	}
}

// responseWriter records the status code and body size.
// Flush is forwarded so the event stream works behind the middleware.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
