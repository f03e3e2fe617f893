package schema

import "time"

// Automation is a persisted trigger/condition/action rule over catalog records.
// Created via the configuration surface; the engine only mutates its run stats.
type Automation struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Enabled    bool        `json:"enabled"`
	Trigger    Trigger     `json:"trigger"`
	Conditions []Condition `json:"conditions,omitempty"`
	Actions    []Action    `json:"actions"`
	Settings   Settings    `json:"settings,omitempty"`
	LastRunAt  *time.Time  `json:"last_run_at,omitempty"`
	RunCount   int         `json:"run_count"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// TriggerType enumerates how an automation is fired and how candidate
// records are obtained.
type TriggerType string

const (
	TriggerScheduled      TriggerType = "scheduled"
	TriggerRecordCreated  TriggerType = "record_created"
	TriggerRecordUpdated  TriggerType = "record_updated"
	TriggerRecordMatches  TriggerType = "record_matches"
	TriggerAgentCompleted TriggerType = "agent_completed"
	TriggerWebhook        TriggerType = "webhook"
)

// Trigger is a tagged variant; only the fields for its type are set.
type Trigger struct {
	Type TriggerType `json:"type"`

	// record_matches: entity collection to query and conditions to filter by.
	EntityType string      `json:"entity_type,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`

	// scheduled: standard 5-field cron expression.
	Cron string `json:"cron,omitempty"`

	// agent_completed: name of the agent whose completion fires the automation.
	AgentName string `json:"agent_name,omitempty"`
}

// ExpectsRecords reports whether the trigger type semantically requires
// candidate records. A run with such a trigger and no records is skipped.
func (t TriggerType) ExpectsRecords() bool {
	switch t {
	case TriggerRecordCreated, TriggerRecordUpdated, TriggerRecordMatches:
		return true
	}
	return false
}

// Operator enumerates condition comparison semantics.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "not_equals"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "not_contains"
	OpStartsWith         Operator = "starts_with"
	OpEndsWith           Operator = "ends_with"
	OpMatches            Operator = "matches"
	OpGreaterThan        Operator = "greater_than"
	OpGreaterThanOrEqual Operator = "greater_than_or_equals"
	OpLessThan           Operator = "less_than"
	OpLessThanOrEqual    Operator = "less_than_or_equals"
	OpIsEmpty            Operator = "is_empty"
	OpIsNotEmpty         Operator = "is_not_empty"
	OpIn                 Operator = "in"
	OpNotIn              Operator = "not_in"

	// OpExpression evaluates its value as an expr-lang boolean program
	// against the full evaluation context.
	OpExpression Operator = "expression"
)

// LogicOp joins a condition with the running result of the conditions
// before it. Lists of conditions fold left to right; there is no grouping.
type LogicOp string

const (
	LogicAnd LogicOp = "and"
	LogicOr  LogicOp = "or"
)

// Condition is a single field/operator/value predicate.
type Condition struct {
	Field    string   `json:"field,omitempty"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
	Logic    LogicOp  `json:"logic,omitempty"` // default "and"
}

// ErrorHandling governs whether the record loop continues after a failed action.
type ErrorHandling string

const (
	ErrorHandlingStop     ErrorHandling = "stop"
	ErrorHandlingContinue ErrorHandling = "continue"
	ErrorHandlingNotify   ErrorHandling = "notify"
)

// Settings holds per-automation execution policy.
type Settings struct {
	ErrorHandling   ErrorHandling `json:"error_handling,omitempty"`
	CooldownMinutes int           `json:"cooldown_minutes,omitempty"`
	RunLimitPerHour int           `json:"run_limit_per_hour,omitempty"`
}
