package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite
// fork). It also serves as the record repository for catalog entities.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Automations ---
//
// The full definition is stored as one JSON column; name, enabled and
// trigger_type are extracted for filtering, and the run-stat columns are
// the source of truth for last_run_at and run_count.

func (s *LibSQLStore) CreateAutomation(ctx context.Context, a *schema.Automation) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = timeOrNow(a.CreatedAt)
	a.UpdatedAt = timeOrNow(a.UpdatedAt)

	def, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO automations (id, name, enabled, trigger_type, definition, last_run_at, run_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, boolInt(a.Enabled), string(a.Trigger.Type), string(def),
		nullTime(a.LastRunAt), a.RunCount, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

func (s *LibSQLStore) GetAutomation(ctx context.Context, id string) (*schema.Automation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT definition, enabled, last_run_at, run_count, created_at, updated_at
		 FROM automations WHERE id = ?`, id,
	)
	a, err := scanAutomation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("automation", id)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *LibSQLStore) UpdateAutomation(ctx context.Context, a *schema.Automation) error {
	if a.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "automation id is empty")
	}
	a.UpdatedAt = time.Now().UTC()

	def, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE automations SET name = ?, enabled = ?, trigger_type = ?, definition = ?, updated_at = ?
		 WHERE id = ?`,
		a.Name, boolInt(a.Enabled), string(a.Trigger.Type), string(def), a.UpdatedAt, a.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "automation", a.ID)
}

func (s *LibSQLStore) ListAutomations(ctx context.Context, filter AutomationFilter) ([]*schema.Automation, error) {
	var where []string
	var args []any

	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolInt(*filter.Enabled))
	}
	if filter.TriggerType != "" {
		where = append(where, "trigger_type = ?")
		args = append(args, string(filter.TriggerType))
	}

	query := `SELECT definition, enabled, last_run_at, run_count, created_at, updated_at FROM automations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var automations []*schema.Automation
	for rows.Next() {
		a, err := scanAutomation(rows.Scan)
		if err != nil {
			return nil, err
		}
		automations = append(automations, a)
	}
	return automations, rows.Err()
}

func (s *LibSQLStore) DeleteAutomation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM automations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "automation", id)
}

func (s *LibSQLStore) RecordRunStats(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE automations SET last_run_at = ?, run_count = run_count + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`, timeOrNow(at), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "automation", id)
}

func scanAutomation(scan func(...any) error) (*schema.Automation, error) {
	var (
		defJSON   string
		enabled   int
		lastRunAt sql.NullTime
		runCount  int
		createdAt time.Time
		updatedAt time.Time
	)
	if err := scan(&defJSON, &enabled, &lastRunAt, &runCount, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	a := &schema.Automation{}
	if err := json.Unmarshal([]byte(defJSON), a); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	a.Enabled = enabled != 0
	a.RunCount = runCount
	a.CreatedAt = createdAt
	a.UpdatedAt = updatedAt
	if lastRunAt.Valid {
		t := lastRunAt.Time
		a.LastRunAt = &t
	} else {
		a.LastRunAt = nil
	}
	return a, nil
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *schema.AutomationRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = schema.RunStatusRunning
	}
	run.StartedAt = timeOrNow(run.StartedAt)

	triggerData, err := nullableMap(run.TriggerData)
	if err != nil {
		return fmt.Errorf("marshal trigger_data: %w", err)
	}
	actions, err := nullableSlice(run.ActionsExecuted)
	if err != nil {
		return fmt.Errorf("marshal actions_executed: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO automation_runs (id, automation_id, trigger_type, trigger_data, status, actions_executed, records_processed, error_message, started_at, completed_at, duration_ms, dry_run)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.AutomationID, string(run.TriggerType), triggerData,
		string(run.Status), actions, run.RecordsProcessed, nullStr(run.ErrorMessage),
		run.StartedAt, nullTime(run.CompletedAt), run.DurationMs, boolInt(run.DryRun),
	)
	return err
}

func (s *LibSQLStore) FinalizeRun(ctx context.Context, id string, update RunUpdate) error {
	if !schema.CanTransitionRun(schema.RunStatusRunning, update.Status) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"run cannot transition from running to %q", update.Status)
	}

	actions, err := nullableSlice(update.ActionsExecuted)
	if err != nil {
		return fmt.Errorf("marshal actions_executed: %w", err)
	}

	// The status guard makes finalization at-most-once under concurrency.
	res, err := s.db.ExecContext(ctx,
		`UPDATE automation_runs
		 SET status = ?, actions_executed = ?, records_processed = ?, error_message = ?, completed_at = ?, duration_ms = ?
		 WHERE id = ? AND status = ?`,
		string(update.Status), actions, update.RecordsProcessed, nullStr(update.ErrorMessage),
		timeOrNow(update.CompletedAt), update.DurationMs, id, string(schema.RunStatusRunning),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, gerr := s.GetRun(ctx, id); gerr != nil {
			return gerr
		}
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "run %q is already finalized", id)
	}
	return nil
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*schema.AutomationRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, automation_id, trigger_type, trigger_data, status, actions_executed, records_processed, error_message, started_at, completed_at, duration_ms, dry_run
		 FROM automation_runs WHERE id = ?`, id,
	)
	run, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.AutomationRun, error) {
	var where []string
	var args []any

	if filter.AutomationID != "" {
		where = append(where, "automation_id = ?")
		args = append(args, filter.AutomationID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, automation_id, trigger_type, trigger_data, status, actions_executed, records_processed, error_message, started_at, completed_at, duration_ms, dry_run FROM automation_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*schema.AutomationRun
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *LibSQLStore) CountRunsSince(ctx context.Context, automationID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM automation_runs
		 WHERE automation_id = ? AND started_at >= ? AND dry_run = 0`,
		automationID, since,
	).Scan(&count)
	return count, err
}

func scanRun(scan func(...any) error) (*schema.AutomationRun, error) {
	run := &schema.AutomationRun{}
	var (
		triggerType            string
		triggerData, actions   sql.NullString
		status                 string
		errMsg                 sql.NullString
		completedAt            sql.NullTime
		dryRun                 int
	)
	if err := scan(&run.ID, &run.AutomationID, &triggerType, &triggerData, &status, &actions,
		&run.RecordsProcessed, &errMsg, &run.StartedAt, &completedAt, &run.DurationMs, &dryRun); err != nil {
		return nil, err
	}
	run.TriggerType = schema.TriggerType(triggerType)
	run.Status = schema.RunStatus(status)
	run.ErrorMessage = errMsg.String
	run.DryRun = dryRun != 0
	if triggerData.Valid && triggerData.String != "" {
		if err := json.Unmarshal([]byte(triggerData.String), &run.TriggerData); err != nil {
			return nil, fmt.Errorf("unmarshal trigger_data: %w", err)
		}
	}
	if actions.Valid && actions.String != "" {
		if err := json.Unmarshal([]byte(actions.String), &run.ActionsExecuted); err != nil {
			return nil, fmt.Errorf("unmarshal actions_executed: %w", err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return run, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableMap(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullableSlice(results []schema.ActionResult) (any, error) {
	if len(results) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(results)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
