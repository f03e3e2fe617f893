package conditions

import (
	"github.com/expr-lang/expr"

	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

// operatorsWithoutValue lists operators that compare a field against nothing.
var operatorsWithoutValue = map[schema.Operator]bool{
	schema.OpIsEmpty:    true,
	schema.OpIsNotEmpty: true,
}

var knownOperators = map[schema.Operator]bool{
	schema.OpEquals:             true,
	schema.OpNotEquals:          true,
	schema.OpContains:           true,
	schema.OpNotContains:        true,
	schema.OpStartsWith:         true,
	schema.OpEndsWith:           true,
	schema.OpMatches:            true,
	schema.OpGreaterThan:        true,
	schema.OpGreaterThanOrEqual: true,
	schema.OpLessThan:           true,
	schema.OpLessThanOrEqual:    true,
	schema.OpIsEmpty:            true,
	schema.OpIsNotEmpty:         true,
	schema.OpIn:                 true,
	schema.OpNotIn:              true,
	schema.OpExpression:         true,
}

// ValidateCondition surfaces definitional problems before a run attempts
// evaluation: a missing field, a value-requiring operator without a value,
// a non-array value on in/not_in, or an expression that does not compile.
func ValidateCondition(cond schema.Condition) error {
	if !knownOperators[cond.Operator] {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"unknown condition operator %q", cond.Operator)
	}

	if cond.Operator == schema.OpExpression {
		program, ok := cond.Value.(string)
		if !ok || program == "" {
			return schema.NewError(schema.ErrCodeValidation,
				"expression condition requires a non-empty string value")
		}
		if _, err := expr.Compile(program); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"expression condition does not compile: %s", err.Error()).WithCause(err)
		}
		return nil
	}

	if cond.Field == "" {
		return schema.NewError(schema.ErrCodeValidation, "condition is missing a field")
	}

	if !operatorsWithoutValue[cond.Operator] && cond.Value == nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"operator %q requires a value", cond.Operator)
	}

	if cond.Operator == schema.OpIn || cond.Operator == schema.OpNotIn {
		if _, ok := cond.Value.([]any); !ok {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"operator %q requires an array value", cond.Operator)
		}
	}

	if cond.Logic != "" && cond.Logic != schema.LogicAnd && cond.Logic != schema.LogicOr {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"unknown condition logic %q", cond.Logic)
	}

	return nil
}

// ValidateConditions validates every condition in a list.
func ValidateConditions(conds []schema.Condition) error {
	for i, cond := range conds {
		if err := ValidateCondition(cond); err != nil {
			structured, ok := err.(*schema.Error)
			if ok {
				return structured.WithDetails(map[string]any{"condition_index": i})
			}
			return err
		}
	}
	return nil
}
