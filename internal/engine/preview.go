package engine

import (
	"context"
	"time"

	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

const previewSampleSize = 10

// Preview describes what an automation would do if executed now, without
// running anything.
type Preview struct {
	AutomationID      string              `json:"automation_id"`
	Name              string              `json:"name"`
	Enabled           bool                `json:"enabled"`
	TriggerType       schema.TriggerType  `json:"trigger_type"`
	MatchingRecords   int                 `json:"matching_records"`
	SampleRecords     []map[string]any    `json:"sample_records,omitempty"`
	Actions           []schema.ActionType `json:"actions"`
	EstimatedDuration time.Duration       `json:"estimated_duration"`
}

// Preview loads the automation, resolves candidate records, and reports up
// to ten samples that pass the automation's conditions plus a coarse
// duration estimate. Disabled automations can be previewed.
func (e *Engine) Preview(ctx context.Context, automationID string, triggerData map[string]any) (*Preview, error) {
	a, err := e.store.GetAutomation(ctx, automationID)
	if err != nil {
		return nil, err
	}

	candidates, err := e.resolveCandidates(ctx, a, triggerData)
	if err != nil {
		return nil, err
	}
	matching := e.evaluator.Filter(candidates, a.Conditions)

	sample := matching
	if len(sample) > previewSampleSize {
		sample = sample[:previewSampleSize]
	}

	kinds := make([]schema.ActionType, len(a.Actions))
	var perRecord time.Duration
	for i, act := range a.Actions {
		kinds[i] = act.Type
		perRecord += actionCost(act.Type)
	}

	multiplier := len(matching)
	if !a.Trigger.Type.ExpectsRecords() {
		multiplier = 1
	}

	return &Preview{
		AutomationID:      a.ID,
		Name:              a.Name,
		Enabled:           a.Enabled,
		TriggerType:       a.Trigger.Type,
		MatchingRecords:   len(matching),
		SampleRecords:     sample,
		Actions:           kinds,
		EstimatedDuration: perRecord * time.Duration(multiplier),
	}, nil
}

// actionCost is a coarse fixed estimate per action kind, used only for
// preview duration math.
func actionCost(kind schema.ActionType) time.Duration {
	switch kind {
	case schema.ActionRunAgent:
		return 30 * time.Second
	case schema.ActionGenerateWithAI:
		return 3 * time.Second
	default:
		return 500 * time.Millisecond
	}
}
