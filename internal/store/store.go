package store

import (
	"context"
	"time"

	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Automations
	CreateAutomation(ctx context.Context, a *schema.Automation) error
	GetAutomation(ctx context.Context, id string) (*schema.Automation, error)
	UpdateAutomation(ctx context.Context, a *schema.Automation) error
	ListAutomations(ctx context.Context, filter AutomationFilter) ([]*schema.Automation, error)
	DeleteAutomation(ctx context.Context, id string) error
	// RecordRunStats bumps run_count and sets last_run_at after a non-dry run.
	RecordRunStats(ctx context.Context, id string, at time.Time) error

	// Runs (run history)
	CreateRun(ctx context.Context, run *schema.AutomationRun) error
	// FinalizeRun transitions a running run to a terminal status. It is a
	// no-op returning an invalid-transition error if the run already left
	// the running state, so a run finalizes at most once.
	FinalizeRun(ctx context.Context, id string, update RunUpdate) error
	GetRun(ctx context.Context, id string) (*schema.AutomationRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*schema.AutomationRun, error)
	// CountRunsSince counts non-dry runs of an automation started at or
	// after the given instant. Used for the hourly run limit.
	CountRunsSince(ctx context.Context, automationID string, since time.Time) (int, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
