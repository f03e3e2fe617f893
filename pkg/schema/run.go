package schema

import "time"

// RunStatus is the lifecycle state of an automation run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
	RunStatusSkipped RunStatus = "skipped"
)

// ValidRunTransitions defines the allowed run state transitions.
// A run's status transitions at most once out of running.
var ValidRunTransitions = map[RunStatus][]RunStatus{
	RunStatusRunning: {RunStatusSuccess, RunStatusFailed, RunStatusSkipped},
	RunStatusSuccess: {},
	RunStatusFailed:  {},
	RunStatusSkipped: {},
}

// CanTransitionRun reports whether a run may move from one status to another.
func CanTransitionRun(from, to RunStatus) bool {
	for _, allowed := range ValidRunTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ActionStatus is the outcome of a single executed action.
type ActionStatus string

const (
	ActionStatusSuccess ActionStatus = "success"
	ActionStatusFailed  ActionStatus = "failed"
)

// ActionResult is one entry in a run's ordered execution log. Immutable
// once produced; appended in execution order and never reordered. The
// next action's {{previous_action.*}} tokens read this chain.
type ActionResult struct {
	ActionType  ActionType     `json:"action_type"`
	ActionIndex int            `json:"action_index"`
	Status      ActionStatus   `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
}

// AutomationRun is the persisted audit record of one engine invocation.
// Created in running status at run start and finalized exactly once.
type AutomationRun struct {
	ID               string         `json:"id"`
	AutomationID     string         `json:"automation_id"`
	TriggerType      TriggerType    `json:"trigger_type"`
	TriggerData      map[string]any `json:"trigger_data,omitempty"`
	Status           RunStatus      `json:"status"`
	ActionsExecuted  []ActionResult `json:"actions_executed,omitempty"`
	RecordsProcessed int            `json:"records_processed"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	DurationMs       int64          `json:"duration_ms"`
	DryRun           bool           `json:"dry_run,omitempty"`
}

// FailedActions returns the results with failed status, in log order.
func (r *AutomationRun) FailedActions() []ActionResult {
	var failed []ActionResult
	for _, res := range r.ActionsExecuted {
		if res.Status == ActionStatusFailed {
			failed = append(failed, res)
		}
	}
	return failed
}
