package actions

import (
	"context"

	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

// runAgent invokes a named catalog-quality agent with an interpolated
// context payload. An agent that reports failure fails the action even
// though the invocation itself returned cleanly.
func (ex *Executor) runAgent(ctx context.Context, cfg *schema.RunAgentAction, ec *ExecContext) (map[string]any, error) {
	if cfg.AgentName == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "run_agent requires an agent name")
	}

	agentCtx := ex.resolveDeepMap(cfg.Context, ec)

	if ec.DryRun {
		return map[string]any{
			"dry_run":    true,
			"agent_name": cfg.AgentName,
			"context":    agentCtx,
		}, nil
	}

	if ex.agents == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "no agent invoker configured")
	}

	info, err := ex.agents.Invoke(ctx, cfg.AgentName, agentCtx)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"agent %q: %s", cfg.AgentName, err.Error()).WithCause(err)
	}

	payload := map[string]any{
		"agent_name":   cfg.AgentName,
		"agent_run_id": info.RunID,
		"success":      info.Success,
	}
	if info.Stats != nil {
		payload["stats"] = info.Stats
	}

	if !info.Success {
		return payload, schema.NewErrorf(schema.ErrCodeExecution, "agent %q reported failure", cfg.AgentName)
	}
	return payload, nil
}
