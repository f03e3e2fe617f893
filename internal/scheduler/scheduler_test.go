package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/engine"
	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/store"
	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

type fakeSource struct {
	automations []*schema.Automation
}

func (f *fakeSource) ListAutomations(_ context.Context, filter store.AutomationFilter) ([]*schema.Automation, error) {
	var out []*schema.Automation
	for _, a := range f.automations {
		if filter.Enabled != nil && a.Enabled != *filter.Enabled {
			continue
		}
		if filter.TriggerType != "" && a.Trigger.Type != filter.TriggerType {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

type fakeRunner struct {
	mu       sync.Mutex
	executed []string
	err      error
}

func (f *fakeRunner) Execute(_ context.Context, automationID string, _ map[string]any, _ engine.ExecuteOptions) (*schema.AutomationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, automationID)
	if f.err != nil {
		return nil, f.err
	}
	return &schema.AutomationRun{ID: "run-" + automationID, Status: schema.RunStatusSuccess}, nil
}

func (f *fakeRunner) executedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

func scheduled(id, cronExpr string, lastRun *time.Time, createdAt time.Time) *schema.Automation {
	return &schema.Automation{
		ID:        id,
		Name:      id,
		Enabled:   true,
		Trigger:   schema.Trigger{Type: schema.TriggerScheduled, Cron: cronExpr},
		LastRunAt: lastRun,
		CreatedAt: createdAt,
	}
}

func TestIsDue(t *testing.T) {
	s := New(&fakeSource{}, &fakeRunner{}, nil)
	now := time.Date(2026, 8, 27, 10, 15, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	tests := []struct {
		name    string
		cron    string
		lastRun *time.Time
		created time.Time
		want    bool
	}{
		{
			name:    "hourly fired since last run",
			cron:    "0 * * * *",
			lastRun: timePtr(now.Add(-30 * time.Minute)), // 09:45, next fire 10:00
			want:    true,
		},
		{
			name:    "hourly already ran this hour",
			cron:    "0 * * * *",
			lastRun: timePtr(now.Add(-10 * time.Minute)), // 10:05, next fire 11:00
			want:    false,
		},
		{
			name:    "never ran, created before last fire",
			cron:    "0 * * * *",
			created: now.Add(-2 * time.Hour),
			want:    true,
		},
		{
			name:    "never ran, created after last fire",
			cron:    "0 * * * *",
			created: now.Add(-5 * time.Minute),
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := scheduled("a1", tt.cron, tt.lastRun, tt.created)
			due, err := s.isDue(a, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, due)
		})
	}
}

func TestIsDueBadCron(t *testing.T) {
	s := New(&fakeSource{}, &fakeRunner{}, nil)

	a := scheduled("a1", "not a cron", nil, time.Now())
	_, err := s.isDue(a, time.Now())
	require.Error(t, err)
}

func TestTickFiresDueAutomations(t *testing.T) {
	now := time.Date(2026, 8, 27, 10, 15, 0, 0, time.UTC)

	src := &fakeSource{automations: []*schema.Automation{
		scheduled("due", "0 * * * *", timePtr(now.Add(-90*time.Minute)), time.Time{}),
		scheduled("not-due", "0 * * * *", timePtr(now.Add(-5*time.Minute)), time.Time{}),
		scheduled("broken", "nope", timePtr(now.Add(-90*time.Minute)), time.Time{}),
	}}
	runner := &fakeRunner{}
	s := New(src, runner, nil)
	s.now = func() time.Time { return now }

	s.tick(context.Background())

	assert.Equal(t, []string{"due"}, runner.executedIDs())
}

func TestTickContinuesAfterRunnerError(t *testing.T) {
	now := time.Date(2026, 8, 27, 10, 15, 0, 0, time.UTC)

	src := &fakeSource{automations: []*schema.Automation{
		scheduled("first", "0 * * * *", timePtr(now.Add(-2*time.Hour)), time.Time{}),
		scheduled("second", "0 * * * *", timePtr(now.Add(-2*time.Hour)), time.Time{}),
	}}
	runner := &fakeRunner{err: schema.NewError(schema.ErrCodeRateLimited, "cooling down")}
	s := New(src, runner, nil)
	s.now = func() time.Time { return now }

	s.tick(context.Background())

	assert.Equal(t, []string{"first", "second"}, runner.executedIDs())
}

func TestInflightDedup(t *testing.T) {
	s := New(&fakeSource{}, &fakeRunner{}, nil)

	assert.True(t, s.tryAcquire("a1"))
	assert.False(t, s.tryAcquire("a1"))
	s.release("a1")
	assert.True(t, s.tryAcquire("a1"))
}

func TestCalculateNextRun(t *testing.T) {
	s := New(&fakeSource{}, &fakeRunner{}, nil)

	from := time.Date(2026, 8, 27, 10, 15, 0, 0, time.UTC)
	next, err := s.CalculateNextRun("0 2 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 28, 2, 0, 0, 0, time.UTC), next)

	_, err = s.CalculateNextRun("bogus", from)
	require.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s := New(&fakeSource{}, &fakeRunner{}, nil)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

func timePtr(t time.Time) *time.Time { return &t }
