package tokens

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/itchyny/gojq"
)

const defaultTruncateLength = 50

// dateFormatTokens maps template-style date tokens onto Go reference-time
// layout fragments. NewReplacer performs a single pass, so replacements
// cannot cascade into each other.
var dateFormatTokens = strings.NewReplacer(
	"YYYY", "2006",
	"MM", "01",
	"DD", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
)

// applyTransform applies a named transform to a resolved value. Transforms
// are pure value-to-value functions; an unknown name or an inapplicable
// value passes through unchanged.
func (interp *Interpolator) applyTransform(name, arg string, hasArg bool, val any) any {
	switch name {
	case "uppercase":
		return strings.ToUpper(Stringify(val))
	case "lowercase":
		return strings.ToLower(Stringify(val))
	case "truncate":
		return truncate(Stringify(val), arg)
	case "date":
		return formatDate(val, arg)
	case "relative":
		return relativeTime(val)
	case "default":
		return defaultValue(val, arg)
	case "json":
		return toJSON(val)
	case "first":
		if seq, ok := val.([]any); ok {
			if len(seq) == 0 {
				return nil
			}
			return seq[0]
		}
		return val
	case "last":
		if seq, ok := val.([]any); ok {
			if len(seq) == 0 {
				return nil
			}
			return seq[len(seq)-1]
		}
		return val
	case "count":
		if seq, ok := val.([]any); ok {
			return len(seq)
		}
		return 1
	case "jq":
		return interp.applyJQ(val, arg)
	default:
		interp.logger.Warn("unknown token transform", slog.String("transform", name))
		return val
	}
}

// truncate shortens a string to at most n runes of output, ellipsis
// included. Default length is 50.
func truncate(s, arg string) string {
	n := defaultTruncateLength
	if arg != "" {
		if parsed, err := strconv.Atoi(arg); err == nil && parsed > 0 {
			n = parsed
		}
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	keep := n - 3
	if keep < 0 {
		keep = 0
	}
	out := string(runes[:keep]) + "..."
	if outRunes := []rune(out); len(outRunes) > n {
		out = string(outRunes[:n])
	}
	return out
}

// formatDate renders a date value using YYYY/MM/DD/HH/mm/ss tokens.
// A value that does not parse as a date is returned unchanged.
func formatDate(val any, format string) any {
	t, ok := parseDate(val)
	if !ok {
		return val
	}
	if format == "" {
		format = "YYYY-MM-DD"
	}
	return t.Format(dateFormatTokens.Replace(format))
}

// relativeTime renders a human relative time: "just now" under a minute,
// then minutes, hours, days, and past 30 days a plain YYYY-MM-DD date.
func relativeTime(val any) any {
	t, ok := parseDate(val)
	if !ok {
		return val
	}

	elapsed := time.Since(t)
	switch {
	case elapsed < time.Minute:
		return "just now"
	case elapsed < time.Hour:
		return pluralize(int(elapsed.Minutes()), "minute")
	case elapsed < 24*time.Hour:
		return pluralize(int(elapsed.Hours()), "hour")
	case elapsed < 30*24*time.Hour:
		return pluralize(int(elapsed.Hours()/24), "day")
	default:
		return t.Format("2006-01-02")
	}
}

func pluralize(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// defaultValue substitutes the argument only for null/absent values and
// the empty string.
func defaultValue(val any, arg string) any {
	if val == nil {
		return arg
	}
	if s, ok := val.(string); ok && s == "" {
		return arg
	}
	return val
}

func toJSON(val any) any {
	b, err := json.Marshal(val)
	if err != nil {
		return val
	}
	return string(b)
}

// applyJQ runs a gojq query against the value and returns the first
// result. A query that fails to compile or errors at runtime leaves the
// value unchanged, matching the non-fatal policy of unknown transforms.
func (interp *Interpolator) applyJQ(val any, program string) any {
	query, err := gojq.Parse(program)
	if err != nil {
		interp.logger.Warn("jq transform failed to parse",
			slog.String("program", program),
			slog.String("error", err.Error()))
		return val
	}

	input, err := toJQValue(val)
	if err != nil {
		return val
	}

	iter := query.Run(input)
	out, ok := iter.Next()
	if !ok {
		return nil
	}
	if runErr, isErr := out.(error); isErr {
		interp.logger.Warn("jq transform failed",
			slog.String("program", program),
			slog.String("error", runErr.Error()))
		return val
	}
	return out
}

// toJQValue round-trips a value through JSON so gojq sees only the types
// it supports.
func toJQValue(val any) (any, error) {
	switch val.(type) {
	case nil, bool, string, float64, []any, map[string]any:
		return val, nil
	}
	b, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// parseDate coerces a value into a time.Time. Strings try common layouts;
// numbers are unix seconds (or milliseconds when implausibly large).
func parseDate(val any) (time.Time, bool) {
	switch v := val.(type) {
	case time.Time:
		return v, true
	case string:
		for _, layout := range []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02 15:04:05",
			"2006-01-02",
		} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	case float64:
		return fromUnix(int64(v)), true
	case int:
		return fromUnix(int64(v)), true
	case int64:
		return fromUnix(v), true
	default:
		return time.Time{}, false
	}
}

func fromUnix(n int64) time.Time {
	if n > 1e12 { // milliseconds
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}
