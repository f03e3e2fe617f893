package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

// automationSchemaJSON is the JSON Schema for automation definitions.
// Embedded as a constant to avoid filesystem dependencies. Which config
// object an action carries must match its type; that cross-field rule is
// enforced semantically, not here.
const automationSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://amygdala.dev/schemas/automation.json",
  "type": "object",
  "required": ["name", "trigger", "actions"],
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string", "minLength": 1 },
    "enabled": { "type": "boolean" },
    "trigger": { "$ref": "#/$defs/trigger" },
    "conditions": {
      "type": "array",
      "items": { "$ref": "#/$defs/condition" }
    },
    "actions": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/action" }
    },
    "settings": { "$ref": "#/$defs/settings" },
    "last_run_at": {},
    "run_count": { "type": "integer", "minimum": 0 },
    "created_at": {},
    "updated_at": {}
  },
  "additionalProperties": false,
  "$defs": {
    "trigger": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {
          "type": "string",
          "enum": ["scheduled", "record_created", "record_updated", "record_matches", "agent_completed", "webhook"]
        },
        "entity_type": { "type": "string" },
        "conditions": {
          "type": "array",
          "items": { "$ref": "#/$defs/condition" }
        },
        "cron": { "type": "string" },
        "agent_name": { "type": "string" }
      },
      "additionalProperties": false
    },
    "condition": {
      "type": "object",
      "required": ["operator"],
      "properties": {
        "field": { "type": "string" },
        "operator": {
          "type": "string",
          "enum": ["equals", "not_equals", "contains", "not_contains", "starts_with", "ends_with", "matches", "greater_than", "greater_than_or_equals", "less_than", "less_than_or_equals", "is_empty", "is_not_empty", "in", "not_in", "expression"]
        },
        "value": {},
        "logic": { "type": "string", "enum": ["and", "or"] }
      },
      "additionalProperties": false
    },
    "action": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {
          "type": "string",
          "enum": ["update_record", "create_record", "send_notification", "run_agent", "execute_webhook", "generate_with_ai", "delay", "conditional_branch", "quality_check"]
        },
        "update_record": {
          "type": "object",
          "required": ["updates"],
          "properties": {
            "target": { "type": "string" },
            "entity_type": { "type": "string" },
            "updates": {
              "type": "array",
              "minItems": 1,
              "items": {
                "type": "object",
                "required": ["field"],
                "properties": {
                  "field": { "type": "string", "minLength": 1 },
                  "value": {}
                },
                "additionalProperties": false
              }
            }
          },
          "additionalProperties": false
        },
        "create_record": {
          "type": "object",
          "required": ["entity_type", "data"],
          "properties": {
            "entity_type": { "type": "string", "minLength": 1 },
            "data": { "type": "object", "minProperties": 1 }
          },
          "additionalProperties": false
        },
        "send_notification": {
          "type": "object",
          "required": ["channel", "body"],
          "properties": {
            "channel": { "type": "string", "enum": ["webhook", "slack", "email"] },
            "url": { "type": "string" },
            "subject": { "type": "string" },
            "body": { "type": "string" },
            "slack_channel": { "type": "string" },
            "recipient": { "type": "string" }
          },
          "additionalProperties": false
        },
        "run_agent": {
          "type": "object",
          "required": ["agent_name"],
          "properties": {
            "agent_name": { "type": "string", "minLength": 1 },
            "context": { "type": "object" }
          },
          "additionalProperties": false
        },
        "execute_webhook": {
          "type": "object",
          "required": ["url"],
          "properties": {
            "url": { "type": "string", "minLength": 1 },
            "method": { "type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"] },
            "headers": { "type": "object", "additionalProperties": { "type": "string" } },
            "body": {},
            "retry_on_failure": { "type": "boolean" },
            "max_retries": { "type": "integer", "minimum": 1, "maximum": 10 }
          },
          "additionalProperties": false
        },
        "generate_with_ai": {
          "type": "object",
          "required": ["prompt"],
          "properties": {
            "prompt": { "type": "string", "minLength": 1 },
            "output_type": { "type": "string", "enum": ["text", "classification", "json"] },
            "choices": { "type": "array", "items": { "type": "string" } },
            "max_tokens": { "type": "integer", "minimum": 1 }
          },
          "additionalProperties": false
        },
        "delay": {
          "type": "object",
          "required": ["duration"],
          "properties": {
            "duration": { "type": "integer", "minimum": 1 },
            "unit": { "type": "string", "enum": ["seconds", "minutes", "hours"] }
          },
          "additionalProperties": false
        },
        "conditional_branch": {
          "type": "object",
          "required": ["conditions"],
          "properties": {
            "conditions": {
              "type": "array",
              "minItems": 1,
              "items": { "$ref": "#/$defs/condition" }
            },
            "if_true": { "type": "array", "items": { "$ref": "#/$defs/action" } },
            "if_false": { "type": "array", "items": { "$ref": "#/$defs/action" } }
          },
          "additionalProperties": false
        },
        "quality_check": {
          "type": "object",
          "properties": {
            "tables": { "type": "array", "items": { "type": "string" } },
            "thresholds": {
              "type": "object",
              "required": ["excellent", "good", "fair"],
              "properties": {
                "excellent": { "type": "number" },
                "good": { "type": "number" },
                "fair": { "type": "number" }
              },
              "additionalProperties": false
            },
            "fail_below": { "type": "number" },
            "create_issues": { "type": "boolean" }
          },
          "additionalProperties": false
        }
      },
      "additionalProperties": false
    },
    "settings": {
      "type": "object",
      "properties": {
        "error_handling": { "type": "string", "enum": ["stop", "continue", "notify"] },
        "cooldown_minutes": { "type": "integer", "minimum": 0 },
        "run_limit_per_hour": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    }
  }
}`

// SchemaValidator validates automation definitions: JSON Schema first, then
// the semantic checks. Safe for concurrent use.
type SchemaValidator struct {
	automationSchema *jsonschema.Schema
}

// NewSchemaValidator compiles the embedded automation schema.
func NewSchemaValidator() (*SchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(automationSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal automation schema: %w", err)
	}
	if err := c.AddResource("https://amygdala.dev/schemas/automation.json", doc); err != nil {
		return nil, fmt.Errorf("add automation schema resource: %w", err)
	}

	compiled, err := c.Compile("https://amygdala.dev/schemas/automation.json")
	if err != nil {
		return nil, fmt.Errorf("compile automation schema: %w", err)
	}

	return &SchemaValidator{automationSchema: compiled}, nil
}

// ValidateAutomation validates the full definition.
func (v *SchemaValidator) ValidateAutomation(a *schema.Automation) error {
	if a == nil {
		return schema.NewError(schema.ErrCodeValidation, "automation is nil")
	}

	doc, err := toJSONValue(a)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize automation").WithCause(err)
	}
	if err := v.automationSchema.Validate(doc); err != nil {
		return toValidationError(err)
	}

	return validateSemantics(a)
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toValidationError converts a jsonschema.ValidationError into a structured
// error with one message per leaf violation.
func toValidationError(err error) *schema.Error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
