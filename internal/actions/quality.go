package actions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/logging"
	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

// defaultQualityTables are checked when the action names no tables.
var defaultQualityTables = []string{"customers", "orders", "products", "shipments"}

func defaultQualityThresholds() schema.QualityThresholds {
	return schema.QualityThresholds{Excellent: 90, Good: 75, Fair: 60}
}

type tableReport struct {
	Table  string  `json:"table"`
	Score  float64 `json:"score"`
	Bucket string  `json:"bucket"`
	Owner  string  `json:"owner,omitempty"`
}

// qualityCheck resolves table names against the quality-score source,
// buckets each score, and optionally opens an issue record per table
// scoring below fail_below. Tables the source does not know are reported
// as unknown, not failed.
func (ex *Executor) qualityCheck(ctx context.Context, cfg *schema.QualityCheckAction, ec *ExecContext) (map[string]any, error) {
	tables := cfg.Tables
	if len(tables) == 0 {
		tables = defaultQualityTables
	}

	thresholds := defaultQualityThresholds()
	if cfg.Thresholds != nil {
		thresholds = *cfg.Thresholds
	}
	failBelow := cfg.FailBelow
	if failBelow <= 0 {
		failBelow = thresholds.Fair
	}

	if ec.DryRun {
		return map[string]any{
			"dry_run":    true,
			"tables":     tables,
			"fail_below": failBelow,
		}, nil
	}

	if ex.quality == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "no quality score source configured")
	}

	reports := make([]tableReport, 0, len(tables))
	unknown := make([]string, 0)
	failing := make([]tableReport, 0)
	var total float64

	for _, table := range tables {
		name := strings.TrimSpace(ex.interp.Resolve(table, ec.Tokens))
		if name == "" {
			continue
		}

		score, err := ex.quality.Lookup(ctx, name)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"quality lookup %q: %s", name, err.Error()).WithCause(err)
		}
		if score == nil {
			unknown = append(unknown, name)
			continue
		}

		report := tableReport{
			Table:  name,
			Score:  score.Score,
			Bucket: bucketScore(score.Score, thresholds),
			Owner:  score.Owner,
		}
		reports = append(reports, report)
		total += score.Score

		if score.Score < failBelow {
			failing = append(failing, report)
		}
	}

	sort.Slice(reports, func(i, j int) bool { return reports[i].Score < reports[j].Score })

	issues := make([]string, 0, len(failing))
	if cfg.CreateIssues && len(failing) > 0 {
		if ex.records == nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "create_issues requires a record repository")
		}
		for _, f := range failing {
			created, err := ex.records.Insert(ctx, schema.EntityIssue, map[string]any{
				"title":       fmt.Sprintf("Quality below threshold: %s", f.Table),
				"description": fmt.Sprintf("Table %s scored %.1f, below the %.1f threshold.", f.Table, f.Score, failBelow),
				"severity":    severityFor(f.Score, thresholds),
				"table":       f.Table,
				"owner":       f.Owner,
				"status":      "open",
			})
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeExecution,
					"create issue for %q: %s", f.Table, err.Error()).WithCause(err)
			}
			issues = append(issues, fmt.Sprint(created["id"]))
			logging.LogWith(ctx, ex.logger).Info("quality issue created",
				slog.String("table", f.Table),
				slog.Float64("score", f.Score))
		}
	}

	payload := map[string]any{
		"tables_checked": len(reports),
		"reports":        reports,
		"failing":        len(failing),
		"fail_below":     failBelow,
	}
	if len(reports) > 0 {
		payload["average_score"] = total / float64(len(reports))
	}
	if len(unknown) > 0 {
		payload["unknown_tables"] = unknown
	}
	if len(issues) > 0 {
		payload["issues_created"] = issues
	}
	return payload, nil
}

func bucketScore(score float64, t schema.QualityThresholds) string {
	switch {
	case score >= t.Excellent:
		return "excellent"
	case score >= t.Good:
		return "good"
	case score >= t.Fair:
		return "fair"
	default:
		return "poor"
	}
}

func severityFor(score float64, t schema.QualityThresholds) string {
	if score < t.Fair/2 {
		return "critical"
	}
	return "high"
}
