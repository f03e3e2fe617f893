package validation

import "github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"

// Validator checks automation definitions for correctness before they are
// stored or executed. Structural shape is checked with JSON Schema Draft
// 2020-12; everything the schema cannot express is checked semantically.
type Validator interface {
	ValidateAutomation(a *schema.Automation) error
}
