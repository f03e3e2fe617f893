package tokens

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Interpolator resolves {{path}} and {{path | transform:arg}} spans in
// templates against a Context. Resolution is total: a malformed span is
// preserved literally and an unresolved path renders as the empty string;
// a bad token never aborts the whole template.
type Interpolator struct {
	logger *slog.Logger
}

// NewInterpolator creates a new Interpolator.
func NewInterpolator(logger *slog.Logger) *Interpolator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpolator{logger: logger}
}

// Resolve interpolates every {{...}} span in the template. Text outside
// spans is copied literally.
func (interp *Interpolator) Resolve(template string, ctx *Context) string {
	if !strings.Contains(template, "{{") {
		return template
	}

	var result strings.Builder
	result.Grow(len(template))

	i := 0
	for i < len(template) {
		idx := strings.Index(template[i:], "{{")
		if idx == -1 {
			result.WriteString(template[i:])
			break
		}

		result.WriteString(template[i : i+idx])
		start := i + idx + 2

		end := strings.Index(template[start:], "}}")
		if end == -1 {
			// Unclosed span: copy the rest literally.
			result.WriteString(template[i+idx:])
			break
		}
		end += start

		span := template[i+idx : end+2]
		expr := strings.TrimSpace(template[start:end])

		resolved, err := interp.resolveSpan(expr, ctx)
		if err != nil {
			// Malformed token: keep the original {{...}} text and move on.
			interp.logger.Debug("token span left unresolved",
				slog.String("span", span),
				slog.String("error", err.Error()))
			result.WriteString(span)
		} else {
			result.WriteString(Stringify(resolved))
		}

		i = end + 2
	}

	return result.String()
}

// ResolveDeep walks arbitrary nested maps and slices, applying Resolve to
// every string leaf. Containers are reconstructed; non-string scalars pass
// through unchanged.
func (interp *Interpolator) ResolveDeep(value any, ctx *Context) any {
	switch v := value.(type) {
	case string:
		return interp.Resolve(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = interp.ResolveDeep(item, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = interp.ResolveDeep(item, ctx)
		}
		return out
	default:
		return value
	}
}

// ExtractPaths returns the unique, ordered list of paths referenced by the
// template's spans, ignoring transform suffixes. Malformed spans are skipped.
func (interp *Interpolator) ExtractPaths(template string) []string {
	var paths []string
	seen := make(map[string]bool)

	forEachSpan(template, func(expr string) {
		path, _, err := splitExpression(expr)
		if err != nil {
			return
		}
		if !seen[path] {
			seen[path] = true
			paths = append(paths, path)
		}
	})

	return paths
}

// ValidationResult is the outcome of preflighting a template.
type ValidationResult struct {
	Valid        bool     `json:"valid"`
	MissingPaths []string `json:"missing_paths,omitempty"`
}

// Validate preflights a template against a context, reporting paths that
// do not resolve. Used before enabling an automation.
func (interp *Interpolator) Validate(template string, ctx *Context) ValidationResult {
	var missing []string
	for _, path := range interp.ExtractPaths(template) {
		if _, ok := ctx.Lookup(path); !ok {
			missing = append(missing, path)
		}
	}
	return ValidationResult{Valid: len(missing) == 0, MissingPaths: missing}
}

// resolveSpan resolves one span expression: path ['|' transform].
// Returns an error only for malformed expressions; an absent path resolves
// to nil.
func (interp *Interpolator) resolveSpan(expr string, ctx *Context) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic resolving span: %v", r)
		}
	}()

	path, transform, err := splitExpression(expr)
	if err != nil {
		return nil, err
	}

	val, _ = ctx.Lookup(path)

	if transform != "" {
		name, arg, hasArg, parseErr := parseTransform(transform)
		if parseErr != nil {
			return nil, parseErr
		}
		val = interp.applyTransform(name, arg, hasArg, val)
	}

	return val, nil
}

// splitExpression separates the path from an optional transform suffix.
func splitExpression(expr string) (path, transform string, err error) {
	if expr == "" {
		return "", "", fmt.Errorf("empty expression")
	}

	if pipe := strings.Index(expr, "|"); pipe != -1 {
		transform = strings.TrimSpace(expr[pipe+1:])
		expr = strings.TrimSpace(expr[:pipe])
		if transform == "" {
			return "", "", fmt.Errorf("empty transform after pipe")
		}
	}

	if expr == "" {
		return "", "", fmt.Errorf("empty path")
	}
	if strings.HasPrefix(expr, ".") || strings.HasSuffix(expr, ".") || strings.Contains(expr, "..") {
		return "", "", fmt.Errorf("malformed path %q", expr)
	}

	return expr, transform, nil
}

// parseTransform splits "name" or "name:arg" where arg may be single- or
// double-quoted (quotes are stripped).
func parseTransform(transform string) (name, arg string, hasArg bool, err error) {
	colon := strings.Index(transform, ":")
	if colon == -1 {
		return transform, "", false, nil
	}

	name = strings.TrimSpace(transform[:colon])
	arg = strings.TrimSpace(transform[colon+1:])
	if name == "" {
		return "", "", false, fmt.Errorf("empty transform name")
	}

	if len(arg) >= 2 {
		if (arg[0] == '\'' && arg[len(arg)-1] == '\'') || (arg[0] == '"' && arg[len(arg)-1] == '"') {
			arg = arg[1 : len(arg)-1]
		}
	}

	return name, arg, true, nil
}

// forEachSpan invokes fn with the trimmed inner expression of each
// well-delimited {{...}} span.
func forEachSpan(template string, fn func(expr string)) {
	i := 0
	for i < len(template) {
		idx := strings.Index(template[i:], "{{")
		if idx == -1 {
			return
		}
		start := i + idx + 2
		end := strings.Index(template[start:], "}}")
		if end == -1 {
			return
		}
		end += start
		fn(strings.TrimSpace(template[start:end]))
		i = end + 2
	}
}

// Stringify renders a resolved value for embedding into template output.
// Absent values render as the empty string; containers are JSON-encoded.
func Stringify(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return v.Format(time.RFC3339)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
