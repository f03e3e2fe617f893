package actions

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/conditions"
	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/logging"
	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/tokens"
	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	// MaxDelay is the hard cap on a delay action's suspension.
	MaxDelay = 5 * time.Minute
	// DefaultWebhookRetries is the attempt budget when retry_on_failure is
	// set and no max_retries is configured.
	DefaultWebhookRetries = 3
)

// Deps holds the collaborators an Executor needs. Nil collaborators are
// allowed; actions that need them fail with a configuration error.
type Deps struct {
	Records    RecordRepository
	Agents     AgentInvoker
	AI         TextGenerator
	Quality    QualityScoreSource
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Executor dispatches typed actions to their handlers. Failures are
// captured into ActionResults, never thrown out of Execute.
type Executor struct {
	records   RecordRepository
	agents    AgentInvoker
	ai        TextGenerator
	quality   QualityScoreSource
	evaluator *conditions.Evaluator
	interp    *tokens.Interpolator
	client    *http.Client
	logger    *slog.Logger

	// sleep is swapped out in tests so delay/backoff don't block.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an Executor from its collaborators.
func NewExecutor(deps Deps) *Executor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Executor{
		records:   deps.Records,
		agents:    deps.Agents,
		ai:        deps.AI,
		quality:   deps.Quality,
		evaluator: conditions.NewEvaluator(logger),
		interp:    tokens.NewInterpolator(logger),
		client:    client,
		logger:    logger,
		sleep:     WaitForBackoff,
	}
}

// ExecContext is the per-run-attempt state threaded through a sequence,
// including branch recursion. Never shared across concurrent runs.
type ExecContext struct {
	Tokens *tokens.Context
	DryRun bool

	// DefaultEntity is the trigger's entity collection; record actions
	// without an explicit entity_type fall back to it.
	DefaultEntity string

	// Remaining is the shared max-actions budget for the whole run
	// attempt; branch sub-actions draw from the same budget.
	Remaining *int
}

// NewExecContext builds an ExecContext with a max-actions budget.
func NewExecContext(tc *tokens.Context, dryRun bool, defaultEntity string, maxActions int) *ExecContext {
	budget := maxActions
	return &ExecContext{
		Tokens:        tc,
		DryRun:        dryRun,
		DefaultEntity: defaultEntity,
		Remaining:     &budget,
	}
}

// ExecuteSequence runs actions in order and stops at the first failure,
// returning the partial result log. Before each action it overwrites the
// token context's previous_action with the preceding result.
func (ex *Executor) ExecuteSequence(ctx context.Context, acts []schema.Action, ec *ExecContext) []schema.ActionResult {
	results := make([]schema.ActionResult, 0, len(acts))

	for i, action := range acts {
		if len(results) > 0 {
			prev := results[len(results)-1]
			ec.Tokens.Previous = &tokens.PreviousAction{
				Result: prev.Result,
				Status: string(prev.Status),
			}
		}

		result := ex.Execute(ctx, action, ec, i)
		results = append(results, result)

		if result.Status == schema.ActionStatusFailed {
			break
		}
	}

	return results
}

// Execute runs one action and captures its outcome. It never returns an
// error: failures land in the result with status failed.
func (ex *Executor) Execute(ctx context.Context, action schema.Action, ec *ExecContext, index int) schema.ActionResult {
	ctx = logging.WithActionIndex(ctx, index)
	start := time.Now()

	result := schema.ActionResult{
		ActionType:  action.Type,
		ActionIndex: index,
	}

	payload, err := ex.dispatch(ctx, action, ec, index)
	result.DurationMs = time.Since(start).Milliseconds()
	result.Result = payload

	if err != nil {
		result.Status = schema.ActionStatusFailed
		result.Error = err.Error()
		logging.LogWith(ctx, ex.logger).Warn("action failed",
			slog.String("action_type", string(action.Type)),
			slog.String("error", err.Error()))
		return result
	}

	result.Status = schema.ActionStatusSuccess
	logging.LogWith(ctx, ex.logger).Debug("action completed",
		slog.String("action_type", string(action.Type)),
		slog.Int64("duration_ms", result.DurationMs))
	return result
}

// dispatch routes to the handler for the action's kind. The switch is
// exhaustive over the closed Action union.
func (ex *Executor) dispatch(ctx context.Context, action schema.Action, ec *ExecContext, index int) (payload map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeExecution, "action panicked: %v", r).WithAction(index)
		}
	}()

	if ec.Remaining != nil {
		if *ec.Remaining <= 0 {
			return nil, schema.NewError(schema.ErrCodeExecution, "max actions per run exceeded").WithAction(index)
		}
		*ec.Remaining--
	}

	if action.Config() == nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"action %q is missing its %q config", action.Type, action.Type).WithAction(index)
	}

	switch action.Type {
	case schema.ActionUpdateRecord:
		return ex.updateRecord(ctx, action.UpdateRecord, ec)
	case schema.ActionCreateRecord:
		return ex.createRecord(ctx, action.CreateRecord, ec)
	case schema.ActionSendNotification:
		return ex.sendNotification(ctx, action.SendNotification, ec)
	case schema.ActionRunAgent:
		return ex.runAgent(ctx, action.RunAgent, ec)
	case schema.ActionExecuteWebhook:
		return ex.executeWebhook(ctx, action.ExecuteWebhook, ec)
	case schema.ActionGenerateWithAI:
		return ex.generateWithAI(ctx, action.GenerateWithAI, ec)
	case schema.ActionDelay:
		return ex.delay(ctx, action.Delay, ec)
	case schema.ActionConditionalBranch:
		return ex.conditionalBranch(ctx, action.ConditionalBranch, ec)
	case schema.ActionQualityCheck:
		return ex.qualityCheck(ctx, action.QualityCheck, ec)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown action type %q", action.Type).WithAction(index)
	}
}

// resolveDeepMap interpolates every string leaf of a payload map.
func (ex *Executor) resolveDeepMap(payload map[string]any, ec *ExecContext) map[string]any {
	resolved, ok := ex.interp.ResolveDeep(payload, ec.Tokens).(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return resolved
}
