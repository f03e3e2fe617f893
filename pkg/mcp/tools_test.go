package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/engine"
	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/store"
	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/validation"
	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

// --- Mock Store ---

type mockStore struct {
	store.Store // embed for unimplemented methods

	automations []*schema.Automation
	runs        []*schema.AutomationRun
	created     []*schema.Automation
	updated     []*schema.Automation
}

func (m *mockStore) CreateAutomation(_ context.Context, a *schema.Automation) error {
	if a.ID == "" {
		a.ID = "auto-new"
	}
	m.created = append(m.created, a)
	m.automations = append(m.automations, a)
	return nil
}

func (m *mockStore) UpdateAutomation(_ context.Context, a *schema.Automation) error {
	for i, existing := range m.automations {
		if existing.ID == a.ID {
			m.automations[i] = a
			m.updated = append(m.updated, a)
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeNotFound, "automation %q not found", a.ID)
}

func (m *mockStore) ListAutomations(_ context.Context, filter store.AutomationFilter) ([]*schema.Automation, error) {
	result := make([]*schema.Automation, 0)
	for _, a := range m.automations {
		if filter.Enabled != nil && a.Enabled != *filter.Enabled {
			continue
		}
		if filter.TriggerType != "" && a.Trigger.Type != filter.TriggerType {
			continue
		}
		result = append(result, a)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *mockStore) GetRun(_ context.Context, id string) (*schema.AutomationRun, error) {
	for _, r := range m.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", id)
}

func (m *mockStore) ListRuns(_ context.Context, filter store.RunFilter) ([]*schema.AutomationRun, error) {
	result := make([]*schema.AutomationRun, 0)
	for _, r := range m.runs {
		if filter.AutomationID != "" && r.AutomationID != filter.AutomationID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		result = append(result, r)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// --- Mock Runner ---

type mockRunner struct {
	run        *schema.AutomationRun
	runErr     error
	preview    *engine.Preview
	previewErr error

	lastID          string
	lastTriggerData map[string]any
	lastOpts        engine.ExecuteOptions
}

func (m *mockRunner) Execute(_ context.Context, automationID string, triggerData map[string]any, opts engine.ExecuteOptions) (*schema.AutomationRun, error) {
	m.lastID = automationID
	m.lastTriggerData = triggerData
	m.lastOpts = opts
	return m.run, m.runErr
}

func (m *mockRunner) Preview(_ context.Context, automationID string, triggerData map[string]any) (*engine.Preview, error) {
	m.lastID = automationID
	m.lastTriggerData = triggerData
	return m.preview, m.previewErr
}

// --- Helpers ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func newTestServer(t *testing.T, runner Runner, st store.Store) *AmygdalaServer {
	t.Helper()
	v, err := validation.NewSchemaValidator()
	require.NoError(t, err)
	return NewAmygdalaServer(AmygdalaServerDeps{
		Runner:    runner,
		Store:     st,
		Validator: v,
	})
}

func validDefinition() map[string]any {
	return map[string]any{
		"name":    "freshness watchdog",
		"enabled": true,
		"trigger": map[string]any{
			"type":        "record_matches",
			"entity_type": "asset",
			"conditions": []any{
				map[string]any{"field": "status", "operator": "equals", "value": "stale"},
			},
		},
		"actions": []any{
			map[string]any{
				"type": "create_record",
				"create_record": map[string]any{
					"entity_type": "issue",
					"data":        map[string]any{"title": "review {{record.name}}"},
				},
			},
		},
	}
}

// --- Tests ---

func TestExecuteTool(t *testing.T) {
	runner := &mockRunner{
		run: &schema.AutomationRun{
			ID:           "run-1",
			AutomationID: "auto-1",
			Status:       schema.RunStatusSuccess,
		},
	}
	s := newTestServer(t, runner, &mockStore{})

	req := buildRequest("automation.execute", map[string]any{
		"automation_id": "auto-1",
		"trigger_data":  map[string]any{"record": map[string]any{"id": "asset-7"}},
	})

	result, err := s.handleExecute(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	assert.Equal(t, "auto-1", runner.lastID)
	assert.False(t, runner.lastOpts.DryRun)
	require.NotNil(t, runner.lastTriggerData)

	text := extractText(t, result)
	assert.Contains(t, text, "run-1")
	assert.Contains(t, text, "success")
}

func TestExecuteToolDryRun(t *testing.T) {
	runner := &mockRunner{
		run: &schema.AutomationRun{ID: "run-1", Status: schema.RunStatusSuccess, DryRun: true},
	}
	s := newTestServer(t, runner, &mockStore{})

	req := buildRequest("automation.execute", map[string]any{
		"automation_id": "auto-1",
		"dry_run":       true,
	})

	result, err := s.handleExecute(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.True(t, runner.lastOpts.DryRun)
}

func TestExecuteToolMissingID(t *testing.T) {
	s := newTestServer(t, &mockRunner{}, &mockStore{})

	req := buildRequest("automation.execute", map[string]any{})
	result, err := s.handleExecute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestExecuteToolError(t *testing.T) {
	runner := &mockRunner{
		runErr: schema.NewError(schema.ErrCodeRateLimited, "cooling down"),
	}
	s := newTestServer(t, runner, &mockStore{})

	req := buildRequest("automation.execute", map[string]any{"automation_id": "auto-1"})
	result, err := s.handleExecute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	text := extractText(t, result)
	assert.Contains(t, text, "cooling down")
}

func TestPreviewTool(t *testing.T) {
	runner := &mockRunner{
		preview: &engine.Preview{
			AutomationID:    "auto-1",
			Name:            "freshness watchdog",
			MatchingRecords: 3,
			Actions:         []schema.ActionType{schema.ActionRunAgent},
		},
	}
	s := newTestServer(t, runner, &mockStore{})

	req := buildRequest("automation.preview", map[string]any{"automation_id": "auto-1"})
	result, err := s.handlePreview(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var preview engine.Preview
	unmarshalResult(t, result, &preview)
	assert.Equal(t, 3, preview.MatchingRecords)
	assert.Equal(t, "freshness watchdog", preview.Name)
}

func TestPreviewToolMissingID(t *testing.T) {
	s := newTestServer(t, &mockRunner{}, &mockStore{})

	req := buildRequest("automation.preview", map[string]any{})
	result, err := s.handlePreview(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDefineToolCreates(t *testing.T) {
	ms := &mockStore{}
	s := newTestServer(t, &mockRunner{}, ms)

	req := buildRequest("automation.define", map[string]any{
		"definition": validDefinition(),
	})

	result, err := s.handleDefine(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	require.Len(t, ms.created, 1)
	assert.Equal(t, "freshness watchdog", ms.created[0].Name)

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, "auto-new", out["id"])
	assert.Equal(t, true, out["created"])
}

func TestDefineToolUpdates(t *testing.T) {
	ms := &mockStore{
		automations: []*schema.Automation{{ID: "auto-1", Name: "old name"}},
	}
	s := newTestServer(t, &mockRunner{}, ms)

	def := validDefinition()
	def["id"] = "auto-1"
	req := buildRequest("automation.define", map[string]any{"definition": def})

	result, err := s.handleDefine(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	require.Len(t, ms.updated, 1)
	assert.Equal(t, "freshness watchdog", ms.updated[0].Name)

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, false, out["created"])
}

func TestDefineToolRejectsInvalid(t *testing.T) {
	ms := &mockStore{}
	s := newTestServer(t, &mockRunner{}, ms)

	def := validDefinition()
	delete(def, "name")
	req := buildRequest("automation.define", map[string]any{"definition": def})

	result, err := s.handleDefine(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Empty(t, ms.created)

	text := extractText(t, result)
	assert.Contains(t, text, "invalid definition")
}

func TestDefineToolMissingDefinition(t *testing.T) {
	s := newTestServer(t, &mockRunner{}, &mockStore{})

	req := buildRequest("automation.define", map[string]any{})
	result, err := s.handleDefine(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestQueryAutomations(t *testing.T) {
	ms := &mockStore{
		automations: []*schema.Automation{
			{ID: "a1", Name: "one", Enabled: true, Trigger: schema.Trigger{Type: schema.TriggerScheduled}},
			{ID: "a2", Name: "two", Enabled: false, Trigger: schema.Trigger{Type: schema.TriggerRecordCreated}},
			{ID: "a3", Name: "three", Enabled: true, Trigger: schema.Trigger{Type: schema.TriggerRecordCreated}},
		},
	}
	s := newTestServer(t, &mockRunner{}, ms)

	// Query all.
	req := buildRequest("automation.query", map[string]any{"resource": "automations"})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out struct {
		Automations []*schema.Automation `json:"automations"`
	}
	unmarshalResult(t, result, &out)
	assert.Len(t, out.Automations, 3)

	// Filter by enabled.
	req = buildRequest("automation.query", map[string]any{
		"resource": "automations",
		"filter":   map[string]any{"enabled": true},
	})
	result, err = s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	unmarshalResult(t, result, &out)
	assert.Len(t, out.Automations, 2)

	// Filter by trigger type.
	req = buildRequest("automation.query", map[string]any{
		"resource": "automations",
		"filter":   map[string]any{"trigger_type": "scheduled"},
	})
	result, err = s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	unmarshalResult(t, result, &out)
	require.Len(t, out.Automations, 1)
	assert.Equal(t, "a1", out.Automations[0].ID)
}

func TestQueryRuns(t *testing.T) {
	now := time.Now().UTC()
	ms := &mockStore{
		runs: []*schema.AutomationRun{
			{ID: "r1", AutomationID: "a1", Status: schema.RunStatusSuccess, StartedAt: now},
			{ID: "r2", AutomationID: "a1", Status: schema.RunStatusFailed, StartedAt: now},
			{ID: "r3", AutomationID: "a2", Status: schema.RunStatusSuccess, StartedAt: now},
		},
	}
	s := newTestServer(t, &mockRunner{}, ms)

	req := buildRequest("automation.query", map[string]any{
		"resource": "runs",
		"filter":   map[string]any{"automation_id": "a1"},
	})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out struct {
		Runs []*schema.AutomationRun `json:"runs"`
	}
	unmarshalResult(t, result, &out)
	assert.Len(t, out.Runs, 2)

	// Status filter narrows further.
	req = buildRequest("automation.query", map[string]any{
		"resource": "runs",
		"filter":   map[string]any{"automation_id": "a1", "status": "failed"},
	})
	result, err = s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	unmarshalResult(t, result, &out)
	require.Len(t, out.Runs, 1)
	assert.Equal(t, "r2", out.Runs[0].ID)
}

func TestQueryRunsRequiresAutomationID(t *testing.T) {
	s := newTestServer(t, &mockRunner{}, &mockStore{})

	req := buildRequest("automation.query", map[string]any{"resource": "runs"})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestQueryRunByID(t *testing.T) {
	ms := &mockStore{
		runs: []*schema.AutomationRun{
			{ID: "r1", AutomationID: "a1", Status: schema.RunStatusSuccess},
		},
	}
	s := newTestServer(t, &mockRunner{}, ms)

	req := buildRequest("automation.query", map[string]any{
		"resource": "run",
		"filter":   map[string]any{"run_id": "r1"},
	})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var run schema.AutomationRun
	unmarshalResult(t, result, &run)
	assert.Equal(t, "r1", run.ID)

	// Missing run_id.
	req = buildRequest("automation.query", map[string]any{"resource": "run"})
	result, err = s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestQueryUnknownResource(t *testing.T) {
	s := newTestServer(t, &mockRunner{}, &mockStore{})

	req := buildRequest("automation.query", map[string]any{"resource": "invalid"})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestExtractInt(t *testing.T) {
	assert.Equal(t, 50, extractInt(nil, "limit", 50))
	assert.Equal(t, 10, extractInt(map[string]any{"limit": float64(10)}, "limit", 50))
	assert.Equal(t, 10, extractInt(map[string]any{"limit": 10}, "limit", 50))
	assert.Equal(t, 50, extractInt(map[string]any{"limit": "ten"}, "limit", 50))
}

// --- Test helpers ---

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}
