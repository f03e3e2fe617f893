package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/engine"
	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/store"
	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

// Runner is the interface the scheduler uses to fire automations.
// Satisfied by *engine.Engine.
type Runner interface {
	Execute(ctx context.Context, automationID string, triggerData map[string]any, opts engine.ExecuteOptions) (*schema.AutomationRun, error)
}

// AutomationSource lists automations. Satisfied by the store.
type AutomationSource interface {
	ListAutomations(ctx context.Context, filter store.AutomationFilter) ([]*schema.Automation, error)
}

// Scheduler polls for enabled scheduled automations and fires the due ones.
// The first tick runs immediately on Start, which also catches runs missed
// while the process was down (an automation is due whenever its cron fires
// between its last run and now).
type Scheduler struct {
	source AutomationSource
	runner Runner
	parser cron.Parser
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // automation IDs currently executing (dedup)

	// now is swapped out in tests.
	now func() time.Time
}

// New creates a Scheduler using the standard 5-field cron format.
func New(source AutomationSource, runner Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:   source,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		inflight: make(map[string]struct{}),
		now:      time.Now,
	}
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Initial tick doubles as missed-run recovery.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires every enabled scheduled automation that is due.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	automations, err := s.source.ListAutomations(ctx, store.AutomationFilter{
		Enabled:     &enabled,
		TriggerType: schema.TriggerScheduled,
	})
	if err != nil {
		s.logger.Error("failed to list scheduled automations", slog.String("error", err.Error()))
		return
	}

	now := s.now().UTC()
	for _, a := range automations {
		due, err := s.isDue(a, now)
		if err != nil {
			s.logger.Error("bad cron expression",
				slog.String("automation_id", a.ID),
				slog.String("cron", a.Trigger.Cron),
				slog.String("error", err.Error()))
			continue
		}
		if !due {
			continue
		}
		if !s.tryAcquire(a.ID) {
			continue // still running from a previous tick
		}
		s.fire(ctx, a)
		s.release(a.ID)
	}
}

// isDue reports whether the automation's cron has fired since its last run
// (or since creation if it never ran).
func (s *Scheduler) isDue(a *schema.Automation, now time.Time) (bool, error) {
	schedule, err := s.parser.Parse(a.Trigger.Cron)
	if err != nil {
		return false, err
	}
	ref := a.CreatedAt
	if a.LastRunAt != nil {
		ref = *a.LastRunAt
	}
	next := schedule.Next(ref)
	return !next.After(now), nil
}

func (s *Scheduler) fire(ctx context.Context, a *schema.Automation) {
	s.logger.Info("firing scheduled automation",
		slog.String("automation_id", a.ID),
		slog.String("name", a.Name))

	run, err := s.runner.Execute(ctx, a.ID, nil, engine.ExecuteOptions{})
	if err != nil {
		// Rate limits are expected when schedules overlap with other
		// triggers; everything else is worth an error.
		if schema.IsCode(err, schema.ErrCodeRateLimited) {
			s.logger.Debug("scheduled run rate limited", slog.String("automation_id", a.ID))
			return
		}
		s.logger.Error("scheduled run failed to start",
			slog.String("automation_id", a.ID),
			slog.String("error", err.Error()))
		return
	}

	s.logger.Info("scheduled run finished",
		slog.String("automation_id", a.ID),
		slog.String("run_id", run.ID),
		slog.String("status", string(run.Status)))
}

// tryAcquire marks the automation as in-flight if it is not already.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// CalculateNextRun computes the next fire time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
