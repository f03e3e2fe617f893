package actions

import (
	"context"
	"log/slog"
	"time"

	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/logging"
	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

// delay suspends the run for the configured duration, hard-capped at
// MaxDelay. Dry runs report the computed duration without sleeping.
func (ex *Executor) delay(ctx context.Context, cfg *schema.DelayAction, ec *ExecContext) (map[string]any, error) {
	if cfg.Duration <= 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "delay requires a positive duration")
	}

	var unit time.Duration
	switch cfg.Unit {
	case schema.UnitSeconds, "":
		unit = time.Second
	case schema.UnitMinutes:
		unit = time.Minute
	case schema.UnitHours:
		unit = time.Hour
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown delay unit %q", cfg.Unit)
	}

	requested := time.Duration(cfg.Duration) * unit
	effective := requested
	capped := false
	if effective > MaxDelay {
		effective = MaxDelay
		capped = true
	}

	payload := map[string]any{
		"requested_ms": requested.Milliseconds(),
		"delayed_ms":   effective.Milliseconds(),
		"capped":       capped,
	}

	if ec.DryRun {
		payload["dry_run"] = true
		return payload, nil
	}

	if capped {
		logging.LogWith(ctx, ex.logger).Warn("delay capped",
			slog.Duration("requested", requested),
			slog.Duration("effective", effective))
	}

	if err := ex.sleep(ctx, effective); err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "delay cancelled").WithCause(err)
	}
	return payload, nil
}
