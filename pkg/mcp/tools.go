package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/engine"
	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/store"
	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

// handleExecute runs an automation end to end.
func (s *AmygdalaServer) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	automationID, err := req.RequireString("automation_id")
	if err != nil {
		return mcp.NewToolResultError("automation_id is required"), nil
	}
	triggerData := mcp.ParseStringMap(req, "trigger_data", nil)
	dryRun := req.GetBool("dry_run", false)

	run, execErr := s.runner.Execute(ctx, automationID, triggerData, engine.ExecuteOptions{DryRun: dryRun})
	if execErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("execution failed: %v", execErr)), nil
	}

	return marshalResult(run)
}

// handlePreview reports what a run would do without executing anything.
func (s *AmygdalaServer) handlePreview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	automationID, err := req.RequireString("automation_id")
	if err != nil {
		return mcp.NewToolResultError("automation_id is required"), nil
	}
	triggerData := mcp.ParseStringMap(req, "trigger_data", nil)

	preview, prevErr := s.runner.Preview(ctx, automationID, triggerData)
	if prevErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("preview failed: %v", prevErr)), nil
	}

	return marshalResult(preview)
}

// handleDefine validates and stores an automation definition. A definition
// with an id updates the existing automation; without one a new automation
// is created.
func (s *AmygdalaServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	// Round-trip through JSON to get a typed Automation.
	defBytes, marshalErr := json.Marshal(defRaw)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", marshalErr)), nil
	}
	var a schema.Automation
	if unmarshalErr := json.Unmarshal(defBytes, &a); unmarshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", unmarshalErr)), nil
	}

	if s.validator != nil {
		if valErr := s.validator.ValidateAutomation(&a); valErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", valErr)), nil
		}
	}

	created := a.ID == ""
	if created {
		if createErr := s.store.CreateAutomation(ctx, &a); createErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to create automation: %v", createErr)), nil
		}
	} else {
		if updateErr := s.store.UpdateAutomation(ctx, &a); updateErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to update automation: %v", updateErr)), nil
		}
	}

	return marshalResult(map[string]any{
		"id":      a.ID,
		"name":    a.Name,
		"enabled": a.Enabled,
		"created": created,
	})
}

// handleQuery lists automations or runs based on filters.
func (s *AmygdalaServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "automations":
		return s.queryAutomations(ctx, filter)
	case "runs":
		return s.queryRuns(ctx, filter)
	case "run":
		return s.queryRun(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

func (s *AmygdalaServer) queryAutomations(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	af := store.AutomationFilter{
		Limit:  extractInt(filter, "limit", 50),
		Offset: extractInt(filter, "offset", 0),
	}
	if enabled, ok := filter["enabled"].(bool); ok {
		af.Enabled = &enabled
	}
	if triggerType, ok := filter["trigger_type"].(string); ok {
		af.TriggerType = schema.TriggerType(triggerType)
	}

	automations, err := s.store.ListAutomations(ctx, af)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"automations": automations})
}

func (s *AmygdalaServer) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := store.RunFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if automationID, ok := filter["automation_id"].(string); ok {
		rf.AutomationID = automationID
	}
	if status, ok := filter["status"].(string); ok {
		rf.Status = schema.RunStatus(status)
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			rf.Since = &t
		}
	}

	if rf.AutomationID == "" {
		return mcp.NewToolResultError("run query requires 'automation_id' in filter"), nil
	}

	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

func (s *AmygdalaServer) queryRun(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	runID, ok := filter["run_id"].(string)
	if !ok || runID == "" {
		return mcp.NewToolResultError("run lookup requires 'run_id' in filter"), nil
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(run)
}

// --- Internal helpers ---

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return int(n)
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
