package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	// Initially empty.
	assert.Equal(t, "", AutomationID(ctx))
	assert.Equal(t, "", RunID(ctx))
	_, ok := ActionIndex(ctx)
	assert.False(t, ok)

	// Set values.
	ctx = WithAutomationID(ctx, "auto-123")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithActionIndex(ctx, 2)

	// Round-trip.
	assert.Equal(t, "auto-123", AutomationID(ctx))
	assert.Equal(t, "run-1", RunID(ctx))
	idx, ok := ActionIndex(ctx)
	assert.True(t, ok)
	assert.Equal(t, 2, idx)
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := context.Background()
	ctx = WithAutomationID(ctx, "auto-abc")
	ctx = WithRunID(ctx, "run-x")
	ctx = WithActionIndex(ctx, 0)

	enriched := LogWith(ctx, logger)
	enriched.Info("test message")

	output := buf.String()
	assert.Contains(t, output, "automation_id=auto-abc")
	assert.Contains(t, output, "run_id=run-x")
	assert.Contains(t, output, "action_index=0")
	assert.Contains(t, output, "test message")
}

func TestLogWithMissingKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Only set the automation ID; run and action index should not appear.
	ctx := WithAutomationID(context.Background(), "auto-only")

	enriched := LogWith(ctx, logger)
	enriched.Info("partial context")

	output := buf.String()
	assert.Contains(t, output, "automation_id=auto-only")
	assert.NotContains(t, output, "run_id")
	assert.NotContains(t, output, "action_index")
}

func TestLogWithEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// No correlation IDs means no extra attrs.
	enriched := LogWith(context.Background(), logger)
	enriched.Info("no context")

	output := buf.String()
	assert.NotContains(t, output, "automation_id")
	assert.NotContains(t, output, "run_id")
	assert.NotContains(t, output, "action_index")
	assert.Contains(t, output, "no context")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	ctx := WithAutomationID(context.Background(), "auto-auto")
	ctx = WithRunID(ctx, "run-auto")
	ctx = WithActionIndex(ctx, 3)
	logger.InfoContext(ctx, "auto inject")

	output := buf.String()
	assert.Contains(t, output, `"automation_id":"auto-auto"`)
	assert.Contains(t, output, `"run_id":"run-auto"`)
	assert.Contains(t, output, `"action_index":3`)
	assert.Contains(t, output, "auto inject")
}

func TestCorrelationHandlerEmptyContext(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewCorrelationHandler(inner))

	logger.InfoContext(context.Background(), "bare log")

	output := buf.String()
	assert.NotContains(t, output, "automation_id")
	assert.NotContains(t, output, "run_id")
	assert.NotContains(t, output, "action_index")
	assert.Contains(t, output, "bare log")
}

func TestCorrelationHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := NewCorrelationHandler(inner)
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "engine")}))

	ctx := WithAutomationID(context.Background(), "auto-attr")
	logger.InfoContext(ctx, "with attrs")

	output := buf.String()
	assert.Contains(t, output, `"automation_id":"auto-attr"`)
	assert.Contains(t, output, `"component":"engine"`)
}

func TestCorrelationHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := NewCorrelationHandler(inner)
	logger := slog.New(handler.WithGroup("engine"))

	ctx := WithAutomationID(context.Background(), "auto-grp")
	logger.InfoContext(ctx, "grouped", "key", "val")

	output := buf.String()
	assert.Contains(t, output, "auto-grp")
	assert.Contains(t, output, "grouped")
}
