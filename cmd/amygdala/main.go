package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/actions"
	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/engine"
	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/logging"
	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/scheduler"
	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/store"
	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/validation"
	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/mcp"
	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "amygdala:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore(dbURL(cfg.DBPath))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if cfg.SeedDemo {
		if err := seedDemoRecords(ctx, st); err != nil {
			return fmt.Errorf("seed demo records: %w", err)
		}
	}

	// No agents ship by default; run_agent resolves names against this
	// registry and unknown names fail as NOT_FOUND.
	agents := actions.NewAgentRegistry()

	eng := engine.New(st, actions.Deps{Records: st, Agents: agents, Logger: logger}, engine.Options{
		MaxActionsPerRun: cfg.MaxActionsPerRun,
		EnvTokens:        resolveEnvTokens(cfg.EnvTokens),
		Logger:           logger,
	})

	sched := scheduler.New(st, eng, logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	validator, err := validation.NewSchemaValidator()
	if err != nil {
		return fmt.Errorf("compile automation schema: %w", err)
	}

	srv := mcp.NewAmygdalaServer(mcp.AmygdalaServerDeps{
		Runner:    eng,
		Store:     st,
		Validator: validator,
		Logger:    logger,
	})

	logger.Info("amygdala started",
		slog.String("db_path", cfg.DBPath),
		slog.String("log_level", cfg.LogLevel))

	return srv.Serve(ctx)
}

// newLogger builds the process logger: JSON on stderr (stdout carries the
// MCP transport) with correlation IDs injected from the context.
func newLogger(level string) *slog.Logger {
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// dbURL passes through URLs with an explicit scheme and converts bare
// paths to file: URLs for the libsql driver.
func dbURL(path string) string {
	if strings.Contains(path, "://") || strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path
}

// seedDemoRecords loads a small catalog so triggers and quality checks
// have something to operate on. Seeding is skipped for collections that
// already hold records.
func seedDemoRecords(ctx context.Context, st *store.LibSQLStore) error {
	assets := []map[string]any{
		{"name": "customers_raw", "status": "stale", "owner": "data-eng", "quality_score": 72},
		{"name": "orders_raw", "status": "fresh", "owner": "data-eng", "quality_score": 88},
		{"name": "products_dim", "status": "stale", "owner": "", "quality_score": 55},
	}
	if err := st.SeedRecords(ctx, schema.EntityAsset, assets); err != nil {
		return err
	}
	rules := []map[string]any{
		{"name": "customers_not_null", "table": "customers", "column": "customer_id", "check": "not_null", "enabled": true},
		{"name": "orders_freshness", "table": "orders", "check": "freshness_24h", "enabled": true},
	}
	return st.SeedRecords(ctx, schema.EntityQualityRule, rules)
}
