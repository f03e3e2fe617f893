package conditions

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/tokens"
	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

// Evaluator evaluates field/operator/value predicates against a
// record-bearing token context.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator creates a new Evaluator.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger}
}

// Evaluate applies a single condition to the context.
func (e *Evaluator) Evaluate(cond schema.Condition, ctx *tokens.Context) bool {
	if cond.Operator == schema.OpExpression {
		return e.evalExpression(cond, ctx)
	}

	field, _ := e.ResolveField(cond.Field, ctx)

	switch cond.Operator {
	case schema.OpEquals:
		return looseEqual(field, cond.Value)
	case schema.OpNotEquals:
		return !looseEqual(field, cond.Value)
	case schema.OpContains:
		return contains(field, cond.Value)
	case schema.OpNotContains:
		return !contains(field, cond.Value)
	case schema.OpStartsWith:
		s, target, ok := bothStrings(field, cond.Value)
		return ok && strings.HasPrefix(s, target)
	case schema.OpEndsWith:
		s, target, ok := bothStrings(field, cond.Value)
		return ok && strings.HasSuffix(s, target)
	case schema.OpMatches:
		return e.matches(field, cond.Value)
	case schema.OpGreaterThan:
		cmp, ok := compareOrder(field, cond.Value)
		return ok && cmp > 0
	case schema.OpGreaterThanOrEqual:
		cmp, ok := compareOrder(field, cond.Value)
		return ok && cmp >= 0
	case schema.OpLessThan:
		cmp, ok := compareOrder(field, cond.Value)
		return ok && cmp < 0
	case schema.OpLessThanOrEqual:
		cmp, ok := compareOrder(field, cond.Value)
		return ok && cmp <= 0
	case schema.OpIsEmpty:
		return isEmpty(field)
	case schema.OpIsNotEmpty:
		return !isEmpty(field)
	case schema.OpIn:
		return inList(field, cond.Value)
	case schema.OpNotIn:
		return !inList(field, cond.Value)
	default:
		e.logger.Warn("unknown condition operator", slog.String("operator", string(cond.Operator)))
		return false
	}
}

// EvaluateAll folds a condition list left to right. Each condition joins
// the running result using its own logic tag (default "and"); there is no
// grouping or expression tree.
func (e *Evaluator) EvaluateAll(conds []schema.Condition, ctx *tokens.Context) bool {
	if len(conds) == 0 {
		return true
	}

	result := e.Evaluate(conds[0], ctx)
	for _, cond := range conds[1:] {
		next := e.Evaluate(cond, ctx)
		if cond.Logic == schema.LogicOr {
			result = result || next
		} else {
			result = result && next
		}
	}
	return result
}

// Filter returns the records matching all conditions, each wrapped as a
// {record} context. The result is always a subset of the input and
// filtering is idempotent.
func (e *Evaluator) Filter(records []map[string]any, conds []schema.Condition) []map[string]any {
	if len(conds) == 0 {
		return records
	}

	matched := make([]map[string]any, 0, len(records))
	for _, record := range records {
		if e.EvaluateAll(conds, &tokens.Context{Record: record}) {
			matched = append(matched, record)
		}
	}
	return matched
}

// ResolveField resolves a condition's field path with the documented
// two-attempt fallback: the literal path first; then, if the path begins
// with "record.", its remainder directly against the record; and if it
// does not, the whole path against the record. Conditions may therefore
// address fields as "record.status" or bare "status" interchangeably.
func (e *Evaluator) ResolveField(path string, ctx *tokens.Context) (any, bool) {
	if val, ok := ctx.Lookup(path); ok {
		return val, true
	}

	if rest, hasPrefix := strings.CutPrefix(path, "record."); hasPrefix {
		if ctx.Record != nil {
			return tokens.TraversePath(ctx.Record, rest)
		}
		return nil, false
	}

	if ctx.Record != nil {
		return tokens.TraversePath(ctx.Record, path)
	}
	return nil, false
}

// evalExpression runs an expr-lang boolean program against the flattened
// context. Compile or runtime errors evaluate to false.
func (e *Evaluator) evalExpression(cond schema.Condition, ctx *tokens.Context) bool {
	program, ok := cond.Value.(string)
	if !ok || program == "" {
		return false
	}

	out, err := expr.Eval(program, ctx.Root())
	if err != nil {
		e.logger.Warn("condition expression failed",
			slog.String("expression", program),
			slog.String("error", err.Error()))
		return false
	}

	result, ok := out.(bool)
	if !ok {
		e.logger.Warn("condition expression is not boolean",
			slog.String("expression", program))
		return false
	}
	return result
}

func (e *Evaluator) matches(field, pattern any) bool {
	s, ok := field.(string)
	if !ok {
		return false
	}
	p, ok := pattern.(string)
	if !ok {
		return false
	}
	re, err := regexp.Compile("(?i)" + p)
	if err != nil {
		e.logger.Warn("invalid condition regexp", slog.String("pattern", p))
		return false
	}
	return re.MatchString(s)
}

// --- comparison helpers ---

// looseEqual is the engine's equality rule: numeric/string cross-coercion
// ("5" == 5), case-insensitive strings, and element-wise deep equality for
// sequences and maps.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if an, aok := toNumber(a); aok {
		if bn, bok := toNumber(b); bok {
			return an == bn
		}
	}

	if as, aok := toComparableString(a); aok {
		if bs, bok := toComparableString(b); bok {
			return strings.EqualFold(as, bs)
		}
	}

	switch av := a.(type) {
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !looseEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bval, present := bv[k]
			if !present || !looseEqual(v, bval) {
				return false
			}
		}
		return true
	}

	return a == b
}

func contains(field, target any) bool {
	switch v := field.(type) {
	case []any:
		for _, item := range v {
			if looseEqual(item, target) {
				return true
			}
		}
		return false
	case string:
		t, ok := toComparableString(target)
		if !ok {
			return false
		}
		return strings.Contains(strings.ToLower(v), strings.ToLower(t))
	default:
		return false
	}
}

func inList(field, target any) bool {
	list, ok := target.([]any)
	if !ok {
		return false
	}
	for _, item := range list {
		if looseEqual(field, item) {
			return true
		}
	}
	return false
}

// compareOrder returns -1/0/1 comparing numerically when both sides parse
// as numbers, else lexically as strings (which orders ISO date strings
// correctly). Non-comparable values report ok=false.
func compareOrder(a, b any) (int, bool) {
	if an, aok := toNumber(a); aok {
		if bn, bok := toNumber(b); bok {
			switch {
			case an < bn:
				return -1, true
			case an > bn:
				return 1, true
			default:
				return 0, true
			}
		}
	}

	as, aok := toComparableString(a)
	bs, bok := toComparableString(b)
	if !aok || !bok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

// bothStrings lowercases both sides for case-insensitive prefix/suffix checks.
func bothStrings(a, b any) (string, string, bool) {
	as, aok := toComparableString(a)
	bs, bok := toComparableString(b)
	if !aok || !bok {
		return "", "", false
	}
	return strings.ToLower(as), strings.ToLower(bs), true
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// toComparableString accepts strings and scalar values with an obvious
// string form; containers are excluded so they fall through to deep equality.
func toComparableString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case bool:
		return strconv.FormatBool(s), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	default:
		return "", false
	}
}
