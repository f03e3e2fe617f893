package store

import (
	"time"

	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

// AutomationFilter narrows ListAutomations.
type AutomationFilter struct {
	Enabled     *bool
	TriggerType schema.TriggerType
	Limit       int
	Offset      int
}

// RunFilter narrows ListRuns. Results are newest-first.
type RunFilter struct {
	AutomationID string
	Status       schema.RunStatus
	Since        *time.Time
	Limit        int
}

// RunUpdate carries the terminal state written by FinalizeRun.
type RunUpdate struct {
	Status           schema.RunStatus
	ActionsExecuted  []schema.ActionResult
	RecordsProcessed int
	ErrorMessage     string
	CompletedAt      time.Time
	DurationMs       int64
}
