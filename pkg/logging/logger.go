package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const checkIDKey contextKey = "checkID"

// LevelTrace is below debug: per-layer and per-component detail of a check
const LevelTrace = slog.LevelDebug - 4

var (
	mu     sync.RWMutex
	out    io.Writer = os.Stderr
	level            = new(slog.LevelVar)
	logger *slog.Logger
)

func init() {
	// Checks run inside test binaries, so stay quiet on stdout by default
	level.Set(slog.LevelInfo)
	logger = slog.New(NewCompactHandler(out, &slog.HandlerOptions{Level: level}))
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetLevel changes the logging level
func SetLevel(l slog.Level) {
	level.Set(l)
}

// SetOutput redirects log output, keeping the compact format
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	logger = slog.New(NewCompactHandler(out, &slog.HandlerOptions{Level: level}))
}

// SetJSONOutput switches to JSON format output
func SetJSONOutput(l slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	level.Set(l)
	logger = slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}

// ParseLevel maps a verbosity name and a -v count to a level.
// An explicit name wins; otherwise each -v steps one level down from info.
func ParseLevel(name string, verbose int) slog.Level {
	switch strings.ToLower(name) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	switch {
	case verbose >= 2:
		return LevelTrace
	case verbose == 1:
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// WithCheckID tags the context with the ID of the running check
func WithCheckID(ctx context.Context, checkID string) context.Context {
	return context.WithValue(ctx, checkIDKey, checkID)
}

// GetCheckID retrieves the check ID from context
func GetCheckID(ctx context.Context) string {
	if id, ok := ctx.Value(checkIDKey).(string); ok {
		return id
	}
	return ""
}

func withCheckID(ctx context.Context, args []any) []any {
	if id := GetCheckID(ctx); id != "" {
		return append([]any{string(checkIDKey), id}, args...)
	}
	return args
}

// Trace logs at TRACE level (very verbose, debug-time only)
func Trace(msg string, args ...any) {
	current().Log(context.Background(), LevelTrace, msg, args...)
}

// TraceContext logs at TRACE level with context
func TraceContext(ctx context.Context, msg string, args ...any) {
	current().Log(ctx, LevelTrace, msg, withCheckID(ctx, args)...)
}

// Debug logs at DEBUG level (internal component behavior)
func Debug(msg string, args ...any) {
	current().Debug(msg, args...)
}

// DebugContext logs at DEBUG level with context
func DebugContext(ctx context.Context, msg string, args ...any) {
	current().DebugContext(ctx, msg, withCheckID(ctx, args)...)
}

// Info logs at INFO level (user-facing operations)
func Info(msg string, args ...any) {
	current().Info(msg, args...)
}

// InfoContext logs at INFO level with context
func InfoContext(ctx context.Context, msg string, args ...any) {
	current().InfoContext(ctx, msg, withCheckID(ctx, args)...)
}

// Warn logs at WARN level (should be monitored)
func Warn(msg string, args ...any) {
	current().Warn(msg, args...)
}

// WarnContext logs at WARN level with context
func WarnContext(ctx context.Context, msg string, args ...any) {
	current().WarnContext(ctx, msg, withCheckID(ctx, args)...)
}

// Error logs at ERROR level (logical bugs that shouldn't happen)
func Error(msg string, args ...any) {
	current().Error(msg, args...)
}

// ErrorContext logs at ERROR level with context
func ErrorContext(ctx context.Context, msg string, args ...any) {
	current().ErrorContext(ctx, msg, withCheckID(ctx, args)...)
}
