package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/actions"
	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/store"
	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

type fakeStore struct {
	mu          sync.Mutex
	automations map[string]*schema.Automation
	runs        map[string]*schema.AutomationRun
	statsCalls  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		automations: make(map[string]*schema.Automation),
		runs:        make(map[string]*schema.AutomationRun),
	}
}

func (f *fakeStore) CreateAutomation(_ context.Context, a *schema.Automation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.automations[a.ID] = a
	return nil
}

func (f *fakeStore) GetAutomation(_ context.Context, id string) (*schema.Automation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.automations[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "automation %q not found", id)
	}
	return a, nil
}

func (f *fakeStore) UpdateAutomation(_ context.Context, a *schema.Automation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.automations[a.ID] = a
	return nil
}

func (f *fakeStore) ListAutomations(_ context.Context, _ store.AutomationFilter) ([]*schema.Automation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*schema.Automation
	for _, a := range f.automations {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeStore) DeleteAutomation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.automations, id)
	return nil
}

func (f *fakeStore) RecordRunStats(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsCalls++
	if a, ok := f.automations[id]; ok {
		a.LastRunAt = &at
		a.RunCount++
	}
	return nil
}

func (f *fakeStore) CreateRun(_ context.Context, run *schema.AutomationRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *run
	f.runs[run.ID] = &copied
	return nil
}

func (f *fakeStore) FinalizeRun(_ context.Context, id string, update store.RunUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", id)
	}
	if run.Status != schema.RunStatusRunning {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "run %q is already finalized", id)
	}
	run.Status = update.Status
	run.ActionsExecuted = update.ActionsExecuted
	run.RecordsProcessed = update.RecordsProcessed
	run.ErrorMessage = update.ErrorMessage
	completedAt := update.CompletedAt
	run.CompletedAt = &completedAt
	run.DurationMs = update.DurationMs
	return nil
}

func (f *fakeStore) GetRun(_ context.Context, id string) (*schema.AutomationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", id)
	}
	return run, nil
}

func (f *fakeStore) ListRuns(_ context.Context, filter store.RunFilter) ([]*schema.AutomationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*schema.AutomationRun
	for _, r := range f.runs {
		if filter.AutomationID != "" && r.AutomationID != filter.AutomationID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeStore) CountRunsSince(_ context.Context, automationID string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, r := range f.runs {
		if r.AutomationID == automationID && !r.DryRun && !r.StartedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) Migrate(context.Context) error { return nil }
func (f *fakeStore) Vacuum(context.Context) error  { return nil }
func (f *fakeStore) Close() error                  { return nil }

type fakeRepo struct {
	mu      sync.Mutex
	rows    map[string][]map[string]any
	nextID  int
	inserts int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[string][]map[string]any)}
}

func (f *fakeRepo) Select(_ context.Context, entityType string, limit int) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.rows[entityType]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (f *fakeRepo) Insert(_ context.Context, entityType string, data map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.inserts++
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["id"] = fmt.Sprintf("%s-%d", entityType, f.nextID)
	f.rows[entityType] = append(f.rows[entityType], out)
	return out, nil
}

func (f *fakeRepo) Update(_ context.Context, _ string, id string, updates map[string]any) (map[string]any, error) {
	out := map[string]any{"id": id}
	for k, v := range updates {
		out[k] = v
	}
	return out, nil
}

func testEngine(st *fakeStore, repo *fakeRepo) *Engine {
	return New(st, actions.Deps{Records: repo}, Options{})
}

func seedAutomation(t *testing.T, st *fakeStore, a *schema.Automation) {
	t.Helper()
	require.NoError(t, st.CreateAutomation(context.Background(), a))
}

func createIssueAction() schema.Action {
	return schema.Action{Type: schema.ActionCreateRecord, CreateRecord: &schema.CreateRecordAction{
		EntityType: schema.EntityIssue,
		Data:       map[string]any{"title": "review {{record.name}}"},
	}}
}

func failingAction() schema.Action {
	return schema.Action{Type: schema.ActionUpdateRecord, UpdateRecord: &schema.UpdateRecordAction{
		Target:  "related",
		Updates: []schema.FieldUpdate{{Field: "status", Value: "x"}},
	}}
}

func TestExecuteUnknownAutomation(t *testing.T) {
	st := newFakeStore()
	e := testEngine(st, newFakeRepo())

	_, err := e.Execute(context.Background(), "ghost", nil, ExecuteOptions{})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	assert.Empty(t, st.runs)
}

func TestExecuteDisabledAutomation(t *testing.T) {
	st := newFakeStore()
	repo := newFakeRepo()
	e := testEngine(st, repo)

	seedAutomation(t, st, &schema.Automation{
		ID:      "a1",
		Name:    "off",
		Enabled: false,
		Trigger: schema.Trigger{Type: schema.TriggerWebhook},
		Actions: []schema.Action{createIssueAction()},
	})

	_, err := e.Execute(context.Background(), "a1", nil, ExecuteOptions{})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeDisabled))

	// Dry runs may preview disabled automations.
	run, err := e.Execute(context.Background(), "a1", nil, ExecuteOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSuccess, run.Status)
	assert.Empty(t, st.runs)
}

func TestCooldownBlocksBeforeRunCreation(t *testing.T) {
	st := newFakeStore()
	e := testEngine(st, newFakeRepo())

	lastRun := time.Now().UTC()
	seedAutomation(t, st, &schema.Automation{
		ID:        "a1",
		Name:      "hot",
		Enabled:   true,
		Trigger:   schema.Trigger{Type: schema.TriggerWebhook},
		Actions:   []schema.Action{createIssueAction()},
		Settings:  schema.Settings{CooldownMinutes: 1},
		LastRunAt: &lastRun,
	})

	_, err := e.Execute(context.Background(), "a1", nil, ExecuteOptions{})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeRateLimited))
	assert.Empty(t, st.runs)
}

func TestHourlyRunLimit(t *testing.T) {
	st := newFakeStore()
	e := testEngine(st, newFakeRepo())

	seedAutomation(t, st, &schema.Automation{
		ID:       "a1",
		Name:     "busy",
		Enabled:  true,
		Trigger:  schema.Trigger{Type: schema.TriggerWebhook},
		Actions:  []schema.Action{createIssueAction()},
		Settings: schema.Settings{RunLimitPerHour: 2},
	})

	now := time.Now().UTC()
	for i := 0; i < 2; i++ {
		require.NoError(t, st.CreateRun(context.Background(), &schema.AutomationRun{
			ID:           fmt.Sprintf("r%d", i),
			AutomationID: "a1",
			Status:       schema.RunStatusSuccess,
			StartedAt:    now.Add(-time.Duration(i+1) * time.Minute),
		}))
	}

	_, err := e.Execute(context.Background(), "a1", nil, ExecuteOptions{})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeRateLimited))
}

func TestRecordMatchesWithNoMatchesSkips(t *testing.T) {
	st := newFakeStore()
	repo := newFakeRepo()
	repo.rows[schema.EntityAsset] = []map[string]any{
		{"id": "x1", "status": "fresh"},
	}
	e := testEngine(st, repo)

	seedAutomation(t, st, &schema.Automation{
		ID:      "a1",
		Name:    "matcher",
		Enabled: true,
		Trigger: schema.Trigger{
			Type:       schema.TriggerRecordMatches,
			EntityType: schema.EntityAsset,
			Conditions: []schema.Condition{
				{Field: "status", Operator: schema.OpEquals, Value: "stale"},
			},
		},
		Actions: []schema.Action{createIssueAction()},
	})

	run, err := e.Execute(context.Background(), "a1", nil, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSkipped, run.Status)
	assert.Equal(t, 0, run.RecordsProcessed)
	assert.Empty(t, run.ActionsExecuted)

	stored, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSkipped, stored.Status)
	assert.Equal(t, 0, repo.inserts)
}

func TestExecuteWithTriggerRecord(t *testing.T) {
	st := newFakeStore()
	repo := newFakeRepo()
	e := testEngine(st, repo)

	seedAutomation(t, st, &schema.Automation{
		ID:      "a1",
		Name:    "watchdog",
		Enabled: true,
		Trigger: schema.Trigger{Type: schema.TriggerRecordUpdated, EntityType: schema.EntityAsset},
		Conditions: []schema.Condition{
			{Field: "status", Operator: schema.OpEquals, Value: "stale"},
		},
		Actions: []schema.Action{createIssueAction()},
	})

	triggerData := map[string]any{
		"record": map[string]any{"id": "asset-9", "name": "orders_raw", "status": "stale"},
	}
	run, err := e.Execute(context.Background(), "a1", triggerData, ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusSuccess, run.Status)
	assert.Equal(t, 1, run.RecordsProcessed)
	require.Len(t, run.ActionsExecuted, 1)
	assert.Equal(t, schema.ActionStatusSuccess, run.ActionsExecuted[0].Status)

	require.Len(t, repo.rows[schema.EntityIssue], 1)
	assert.Equal(t, "review orders_raw", repo.rows[schema.EntityIssue][0]["title"])

	assert.Equal(t, 1, st.statsCalls)
	a, _ := st.GetAutomation(context.Background(), "a1")
	assert.Equal(t, 1, a.RunCount)
}

func TestConditionGateSkipsNonMatchingRecord(t *testing.T) {
	st := newFakeStore()
	repo := newFakeRepo()
	e := testEngine(st, repo)

	seedAutomation(t, st, &schema.Automation{
		ID:      "a1",
		Name:    "gated",
		Enabled: true,
		Trigger: schema.Trigger{Type: schema.TriggerRecordUpdated},
		Conditions: []schema.Condition{
			{Field: "status", Operator: schema.OpEquals, Value: "stale"},
		},
		Actions: []schema.Action{createIssueAction()},
	})

	triggerData := map[string]any{
		"record": map[string]any{"id": "asset-9", "status": "fresh"},
	}
	run, err := e.Execute(context.Background(), "a1", triggerData, ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusSuccess, run.Status)
	assert.Equal(t, 0, run.RecordsProcessed)
	assert.Empty(t, run.ActionsExecuted)
	assert.Equal(t, 0, repo.inserts)
}

func TestErrorHandlingStopAbortsRecordLoop(t *testing.T) {
	st := newFakeStore()
	repo := newFakeRepo()
	repo.rows[schema.EntityAsset] = []map[string]any{
		{"id": "x1", "status": "stale"},
		{"id": "x2", "status": "stale"},
	}
	e := testEngine(st, repo)

	seedAutomation(t, st, &schema.Automation{
		ID:      "a1",
		Name:    "stopper",
		Enabled: true,
		Trigger: schema.Trigger{
			Type:       schema.TriggerRecordMatches,
			EntityType: schema.EntityAsset,
			Conditions: []schema.Condition{
				{Field: "status", Operator: schema.OpEquals, Value: "stale"},
			},
		},
		Actions: []schema.Action{failingAction()},
	})

	run, err := e.Execute(context.Background(), "a1", nil, ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusFailed, run.Status)
	assert.Equal(t, 1, run.RecordsProcessed)
	require.Len(t, run.ActionsExecuted, 1)
	assert.NotEmpty(t, run.ErrorMessage)
}

func TestErrorHandlingContinueProcessesAllRecords(t *testing.T) {
	st := newFakeStore()
	repo := newFakeRepo()
	repo.rows[schema.EntityAsset] = []map[string]any{
		{"id": "x1", "status": "stale"},
		{"id": "x2", "status": "stale"},
	}
	e := testEngine(st, repo)

	seedAutomation(t, st, &schema.Automation{
		ID:      "a1",
		Name:    "persistent",
		Enabled: true,
		Trigger: schema.Trigger{
			Type:       schema.TriggerRecordMatches,
			EntityType: schema.EntityAsset,
			Conditions: []schema.Condition{
				{Field: "status", Operator: schema.OpEquals, Value: "stale"},
			},
		},
		Actions:  []schema.Action{failingAction()},
		Settings: schema.Settings{ErrorHandling: schema.ErrorHandlingContinue},
	})

	run, err := e.Execute(context.Background(), "a1", nil, ExecuteOptions{})
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusFailed, run.Status)
	assert.Equal(t, 2, run.RecordsProcessed)
	assert.Len(t, run.ActionsExecuted, 2)
}

func TestDryRunPersistsNothing(t *testing.T) {
	st := newFakeStore()
	repo := newFakeRepo()
	e := testEngine(st, repo)

	lastRun := time.Now().UTC()
	seedAutomation(t, st, &schema.Automation{
		ID:        "a1",
		Name:      "preview",
		Enabled:   true,
		Trigger:   schema.Trigger{Type: schema.TriggerRecordUpdated},
		Actions:   []schema.Action{createIssueAction()},
		Settings:  schema.Settings{CooldownMinutes: 60},
		LastRunAt: &lastRun,
	})

	triggerData := map[string]any{
		"record": map[string]any{"id": "asset-1", "name": "n", "status": "stale"},
	}
	run, err := e.Execute(context.Background(), "a1", triggerData, ExecuteOptions{DryRun: true})
	require.NoError(t, err)

	assert.True(t, run.DryRun)
	assert.Equal(t, schema.RunStatusSuccess, run.Status)
	require.Len(t, run.ActionsExecuted, 1)
	assert.Equal(t, true, run.ActionsExecuted[0].Result["dry_run"])

	assert.Empty(t, st.runs)
	assert.Equal(t, 0, st.statsCalls)
	assert.Equal(t, 0, repo.inserts)
}

func TestPreviewEstimatesDuration(t *testing.T) {
	st := newFakeStore()
	repo := newFakeRepo()
	repo.rows[schema.EntityAsset] = []map[string]any{
		{"id": "x1", "status": "stale"},
		{"id": "x2", "status": "stale"},
		{"id": "x3", "status": "stale"},
		{"id": "x4", "status": "fresh"},
	}
	e := testEngine(st, repo)

	seedAutomation(t, st, &schema.Automation{
		ID:      "a1",
		Name:    "estimator",
		Enabled: true,
		Trigger: schema.Trigger{
			Type:       schema.TriggerRecordMatches,
			EntityType: schema.EntityAsset,
		},
		Conditions: []schema.Condition{
			{Field: "status", Operator: schema.OpEquals, Value: "stale"},
		},
		Actions: []schema.Action{
			{Type: schema.ActionRunAgent, RunAgent: &schema.RunAgentAction{AgentName: "profiler"}},
			{Type: schema.ActionDelay, Delay: &schema.DelayAction{Duration: 1, Unit: schema.UnitSeconds}},
		},
	})

	preview, err := e.Preview(context.Background(), "a1", nil)
	require.NoError(t, err)

	assert.Equal(t, 3, preview.MatchingRecords)
	assert.Len(t, preview.SampleRecords, 3)
	assert.Equal(t, []schema.ActionType{schema.ActionRunAgent, schema.ActionDelay}, preview.Actions)
	assert.Equal(t, 3*(30*time.Second+500*time.Millisecond), preview.EstimatedDuration)
}
