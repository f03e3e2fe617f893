package actions

import (
	"context"

	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

// conditionalBranch evaluates its conditions against the current token
// context and runs one of two sub-action lists through the same executor.
// Sub-actions share the run's action budget, so a branch cannot be used to
// sidestep the per-run cap. A failed sub-action fails the branch.
func (ex *Executor) conditionalBranch(ctx context.Context, cfg *schema.ConditionalBranchAction, ec *ExecContext) (map[string]any, error) {
	if len(cfg.Conditions) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "conditional_branch requires conditions")
	}

	matched := ex.evaluator.EvaluateAll(cfg.Conditions, ec.Tokens)

	branch := "if_true"
	acts := cfg.IfTrue
	if !matched {
		branch = "if_false"
		acts = cfg.IfFalse
	}

	payload := map[string]any{
		"executed": true,
		"branch":   branch,
		"actions":  len(acts),
	}

	if len(acts) == 0 {
		payload["results"] = []schema.ActionResult{}
		return payload, nil
	}

	// The sub-sequence sees the branch's previous_action chain, then the
	// outer sequence restores its own before the next top-level action.
	savedPrev := ec.Tokens.Previous
	results := ex.ExecuteSequence(ctx, acts, ec)
	ec.Tokens.Previous = savedPrev

	payload["results"] = results

	for _, r := range results {
		if r.Status == schema.ActionStatusFailed {
			return payload, schema.NewErrorf(schema.ErrCodeExecution,
				"branch %s action %d failed: %s", branch, r.ActionIndex, r.Error)
		}
	}
	return payload, nil
}
