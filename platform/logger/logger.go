// Package logger provides structured logging infrastructure for the application.
// This is part of the platform layer and contains no business logic.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Context key types for storing values in context
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
	// UserEmailKey is the context key for the authenticated user's email
	UserEmailKey contextKey = "user_email"
)

// Logger wraps slog.Logger for structured logging
type Logger struct {
	*slog.Logger
}

// New creates a new logger based on environment
func New(env string) *Logger {
	return NewWithWriter(env, os.Stdout)
}

// NewWithWriter creates a logger that writes to w. Tests use it to capture output.
func NewWithWriter(env string, w io.Writer) *Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if strings.EqualFold(env, "development") {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithContext returns a logger with request_id and user_email extracted from ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	newLogger := l

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		newLogger = newLogger.WithRequestID(requestID)
	}

	if email, ok := ctx.Value(UserEmailKey).(string); ok && email != "" {
		newLogger = &Logger{
			Logger: newLogger.With(slog.String("user_email", email)),
		}
	}

	return newLogger
}

// WithRequestID returns a logger with request ID
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger: l.With(slog.String("request_id", requestID)),
	}
}

// HTTPRequest logs an HTTP request
func (l *Logger) HTTPRequest(method, path string, status int, latencyMs float64, clientIP string) {
	l.Info("http_request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Float64("latency_ms", latencyMs),
		slog.String("client_ip", clientIP),
	)
}

// HTTPError logs an HTTP error
func (l *Logger) HTTPError(method, path string, status int, err error, clientIP string) {
	l.Error("http_error",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
		slog.String("client_ip", clientIP),
	)
}

// BackendError logs a failed call to one of the backing services (formio, bap).
func (l *Logger) BackendError(backend, operation string, err error) {
	l.Error("backend_error",
		slog.String("backend", backend),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// MatchAnomaly logs a record the matcher could not pair cleanly.
func (l *Logger) MatchAnomaly(kind, stage, key, detail string) {
	l.Warn("match_anomaly",
		slog.String("kind", kind),
		slog.String("stage", stage),
		slog.String("key", key),
		slog.String("detail", detail),
	)
}

// CascadeEvent logs the outcome of a cascade delete request.
func (l *Logger) CascadeEvent(rebateID, stage, submissionID, outcome string) {
	l.Info("cascade_delete",
		slog.String("rebate_id", rebateID),
		slog.String("stage", stage),
		slog.String("submission_id", submissionID),
		slog.String("outcome", outcome),
	)
}

// RateLimitExceeded logs rate limit events
func (l *Logger) RateLimitExceeded(clientIP, path string) {
	l.Warn("rate_limit_exceeded",
		slog.String("client_ip", clientIP),
		slog.String("path", path),
	)
}
