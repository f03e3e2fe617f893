package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	automationIDKey ctxKey = iota
	runIDKey
	actionIndexKey
)

// WithAutomationID returns a context with the automation ID set.
func WithAutomationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, automationIDKey, id)
}

// WithRunID returns a context with the run ID set.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// WithActionIndex returns a context with the executing action index set.
func WithActionIndex(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, actionIndexKey, index)
}

// AutomationID extracts the automation ID from the context, or "" if absent.
func AutomationID(ctx context.Context) string {
	v, _ := ctx.Value(automationIDKey).(string)
	return v
}

// RunID extracts the run ID from the context, or "" if absent.
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

// ActionIndex extracts the action index from the context; ok is false if absent.
func ActionIndex(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(actionIndexKey).(int)
	return v, ok
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only present values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := AutomationID(ctx); id != "" {
		logger = logger.With(slog.String("automation_id", id))
	}
	if id := RunID(ctx); id != "" {
		logger = logger.With(slog.String("run_id", id))
	}
	if idx, ok := ActionIndex(ctx); ok {
		logger = logger.With(slog.Int("action_index", idx))
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record. Use with
// slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := AutomationID(ctx); v != "" {
		r.AddAttrs(slog.String("automation_id", v))
	}
	if v := RunID(ctx); v != "" {
		r.AddAttrs(slog.String("run_id", v))
	}
	if idx, ok := ActionIndex(ctx); ok {
		r.AddAttrs(slog.Int("action_index", idx))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
