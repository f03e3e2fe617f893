package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/actions"
	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/conditions"
	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/logging"
	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/store"
	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/tokens"
	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

const (
	// DefaultMaxActionsPerRun caps how many actions one run may execute,
	// including branch sub-actions.
	DefaultMaxActionsPerRun = 20

	// candidateQueryLimit bounds how many rows a record_matches trigger
	// pulls from the repository before filtering.
	candidateQueryLimit = 100
)

// Options tunes engine behavior beyond its collaborators.
type Options struct {
	// MaxActionsPerRun overrides DefaultMaxActionsPerRun when positive.
	MaxActionsPerRun int

	// EnvTokens is the allow-list of values reachable via {{env.*}}.
	EnvTokens map[string]string

	Logger *slog.Logger
}

// ExecuteOptions modifies a single invocation.
type ExecuteOptions struct {
	// DryRun previews every action without side effects. Dry runs skip
	// rate limits and are never persisted.
	DryRun bool
}

// Engine orchestrates automation runs: it loads definitions, enforces rate
// limits, resolves candidate records, gates them through conditions, drives
// the action executor, and owns the run's status lifecycle.
type Engine struct {
	store      store.Store
	records    actions.RecordRepository
	executor   *actions.Executor
	evaluator  *conditions.Evaluator
	logger     *slog.Logger
	maxActions int
	env        map[string]string

	// now is swapped out in tests.
	now func() time.Time
}

// New builds an Engine. The record repository used for candidate queries is
// the one inside deps, so the executor and the orchestrator always see the
// same data.
func New(st store.Store, deps actions.Deps, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}
	maxActions := opts.MaxActionsPerRun
	if maxActions <= 0 {
		maxActions = DefaultMaxActionsPerRun
	}
	return &Engine{
		store:      st,
		records:    deps.Records,
		executor:   actions.NewExecutor(deps),
		evaluator:  conditions.NewEvaluator(logger),
		logger:     logger,
		maxActions: maxActions,
		env:        opts.EnvTokens,
		now:        time.Now,
	}
}

// Execute runs one automation invocation end to end and returns the run
// record. Definition and rate-limit errors return before any run row
// exists; once a run is created it always finalizes, exactly once.
func (e *Engine) Execute(ctx context.Context, automationID string, triggerData map[string]any, opts ExecuteOptions) (*schema.AutomationRun, error) {
	ctx = logging.WithAutomationID(ctx, automationID)

	a, err := e.store.GetAutomation(ctx, automationID)
	if err != nil {
		return nil, err
	}
	if !a.Enabled && !opts.DryRun {
		return nil, schema.NewErrorf(schema.ErrCodeDisabled, "automation %q is disabled", a.Name)
	}

	startedAt := e.now().UTC()
	if !opts.DryRun {
		if err := e.checkRateLimits(ctx, a, startedAt); err != nil {
			return nil, err
		}
	}

	run := &schema.AutomationRun{
		ID:           uuid.NewString(),
		AutomationID: a.ID,
		TriggerType:  a.Trigger.Type,
		TriggerData:  triggerData,
		Status:       schema.RunStatusRunning,
		StartedAt:    startedAt,
		DryRun:       opts.DryRun,
	}
	if !opts.DryRun {
		if err := e.store.CreateRun(ctx, run); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "create run").WithCause(err)
		}
	}
	ctx = logging.WithRunID(ctx, run.ID)

	logging.LogWith(ctx, e.logger).Info("run started",
		slog.String("trigger_type", string(a.Trigger.Type)),
		slog.Bool("dry_run", opts.DryRun))

	candidates, err := e.resolveCandidates(ctx, a, triggerData)
	if err != nil {
		return e.finalize(ctx, a, run, schema.RunStatusFailed, err.Error())
	}

	if len(candidates) == 0 && a.Trigger.Type.ExpectsRecords() {
		return e.finalize(ctx, a, run, schema.RunStatusSkipped, "")
	}

	e.runRecordLoop(ctx, a, run, candidates, triggerData, opts.DryRun)

	status := schema.RunStatusSuccess
	errMsg := ""
	if failed := run.FailedActions(); len(failed) > 0 {
		status = schema.RunStatusFailed
		errMsg = failed[0].Error
	}
	return e.finalize(ctx, a, run, status, errMsg)
}

func (e *Engine) checkRateLimits(ctx context.Context, a *schema.Automation, now time.Time) error {
	if cd := a.Settings.CooldownMinutes; cd > 0 && a.LastRunAt != nil {
		elapsed := now.Sub(*a.LastRunAt)
		if elapsed < time.Duration(cd)*time.Minute {
			return schema.NewErrorf(schema.ErrCodeRateLimited,
				"automation %q is cooling down for another %s", a.Name,
				(time.Duration(cd)*time.Minute - elapsed).Round(time.Second)).
				WithDetails(map[string]any{"cooldown_minutes": cd})
		}
	}
	if limit := a.Settings.RunLimitPerHour; limit > 0 {
		count, err := e.store.CountRunsSince(ctx, a.ID, now.Add(-time.Hour))
		if err != nil {
			return schema.NewError(schema.ErrCodeStore, "count recent runs").WithCause(err)
		}
		if count >= limit {
			return schema.NewErrorf(schema.ErrCodeRateLimited,
				"automation %q reached its hourly run limit of %d", a.Name, limit).
				WithDetails(map[string]any{"run_limit_per_hour": limit, "runs_last_hour": count})
		}
	}
	return nil
}

// resolveCandidates produces the records the run iterates over: the record
// embedded in triggerData when present, a filtered repository query for
// record_matches triggers, and nothing otherwise.
func (e *Engine) resolveCandidates(ctx context.Context, a *schema.Automation, triggerData map[string]any) ([]map[string]any, error) {
	if triggerData != nil {
		if record, ok := triggerData["record"].(map[string]any); ok {
			return []map[string]any{record}, nil
		}
	}

	if a.Trigger.Type == schema.TriggerRecordMatches {
		if e.records == nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "no record repository configured")
		}
		rows, err := e.records.Select(ctx, a.Trigger.EntityType, candidateQueryLimit)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"query %s records: %s", a.Trigger.EntityType, err.Error()).WithCause(err)
		}
		return e.evaluator.Filter(rows, a.Trigger.Conditions), nil
	}

	return nil, nil
}

// runRecordLoop executes the action sequence per matching candidate, or
// once without a record for record-less triggers. error_handling "stop"
// (the default) aborts the loop after the first record whose sequence
// failed; "continue" and "notify" move on to the next record.
func (e *Engine) runRecordLoop(ctx context.Context, a *schema.Automation, run *schema.AutomationRun, candidates []map[string]any, triggerData map[string]any, dryRun bool) {
	loop := candidates
	if len(loop) == 0 {
		loop = []map[string]any{nil}
	}

	for _, record := range loop {
		evalCtx := &tokens.Context{Record: record}
		if !e.evaluator.EvaluateAll(a.Conditions, evalCtx) {
			continue
		}

		tc := &tokens.Context{
			Record: record,
			Trigger: tokens.TriggerInfo{
				Type:      string(a.Trigger.Type),
				Timestamp: run.StartedAt,
				Data:      triggerData,
			},
			Automation: tokens.AutomationInfo{ID: a.ID, Name: a.Name},
			Env:        e.env,
		}
		ec := actions.NewExecContext(tc, dryRun, a.Trigger.EntityType, e.maxActions)

		results := e.executor.ExecuteSequence(ctx, a.Actions, ec)
		run.ActionsExecuted = append(run.ActionsExecuted, results...)
		if record != nil {
			run.RecordsProcessed++
		}

		if sequenceFailed(results) {
			switch a.Settings.ErrorHandling {
			case schema.ErrorHandlingContinue:
				continue
			case schema.ErrorHandlingNotify:
				logging.LogWith(ctx, e.logger).Warn("record sequence failed, continuing",
					slog.Int("records_processed", run.RecordsProcessed))
				continue
			default:
				return
			}
		}
	}
}

func sequenceFailed(results []schema.ActionResult) bool {
	for _, r := range results {
		if r.Status == schema.ActionStatusFailed {
			return true
		}
	}
	return false
}

// finalize moves the run to its terminal status. Persisted runs transition
// in the store with an at-most-once guard; dry runs only update the
// in-memory record.
func (e *Engine) finalize(ctx context.Context, a *schema.Automation, run *schema.AutomationRun, status schema.RunStatus, errMsg string) (*schema.AutomationRun, error) {
	completedAt := e.now().UTC()
	run.Status = status
	run.ErrorMessage = errMsg
	run.CompletedAt = &completedAt
	run.DurationMs = completedAt.Sub(run.StartedAt).Milliseconds()

	logging.LogWith(ctx, e.logger).Info("run finished",
		slog.String("status", string(status)),
		slog.Int("records_processed", run.RecordsProcessed),
		slog.Int("actions_executed", len(run.ActionsExecuted)),
		slog.Int64("duration_ms", run.DurationMs))

	if run.DryRun {
		return run, nil
	}

	update := store.RunUpdate{
		Status:           status,
		ActionsExecuted:  run.ActionsExecuted,
		RecordsProcessed: run.RecordsProcessed,
		ErrorMessage:     errMsg,
		CompletedAt:      completedAt,
		DurationMs:       run.DurationMs,
	}
	if err := e.store.FinalizeRun(ctx, run.ID, update); err != nil {
		return run, schema.NewError(schema.ErrCodeStore, "finalize run").WithCause(err)
	}
	if err := e.store.RecordRunStats(ctx, a.ID, run.StartedAt); err != nil {
		return run, schema.NewError(schema.ErrCodeStore, "record run stats").WithCause(err)
	}
	return run, nil
}
