package schema

// ActionType enumerates the nine action kinds.
type ActionType string

const (
	ActionUpdateRecord      ActionType = "update_record"
	ActionCreateRecord      ActionType = "create_record"
	ActionSendNotification  ActionType = "send_notification"
	ActionRunAgent          ActionType = "run_agent"
	ActionExecuteWebhook    ActionType = "execute_webhook"
	ActionGenerateWithAI    ActionType = "generate_with_ai"
	ActionDelay             ActionType = "delay"
	ActionConditionalBranch ActionType = "conditional_branch"
	ActionQualityCheck      ActionType = "quality_check"
)

// Action is a closed tagged union: exactly one config pointer matching Type
// is set. New kinds are added by extending the union and the executor's
// dispatch, never by duck-typing on optional fields.
type Action struct {
	Type ActionType `json:"type"`

	UpdateRecord      *UpdateRecordAction      `json:"update_record,omitempty"`
	CreateRecord      *CreateRecordAction      `json:"create_record,omitempty"`
	SendNotification  *SendNotificationAction  `json:"send_notification,omitempty"`
	RunAgent          *RunAgentAction          `json:"run_agent,omitempty"`
	ExecuteWebhook    *ExecuteWebhookAction    `json:"execute_webhook,omitempty"`
	GenerateWithAI    *GenerateWithAIAction    `json:"generate_with_ai,omitempty"`
	Delay             *DelayAction             `json:"delay,omitempty"`
	ConditionalBranch *ConditionalBranchAction `json:"conditional_branch,omitempty"`
	QualityCheck      *QualityCheckAction      `json:"quality_check,omitempty"`
}

// FieldUpdate assigns an interpolated value to a dot-path field.
type FieldUpdate struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// UpdateRecordAction mutates a record through the record repository.
// Target "trigger_record" (or empty) resolves the id from the triggering
// record; "related" is reserved for related-record queries and fails
// explicitly until implemented; anything else is taken as a literal id.
type UpdateRecordAction struct {
	Target     string        `json:"target,omitempty"`
	EntityType string        `json:"entity_type,omitempty"`
	Updates    []FieldUpdate `json:"updates"`
}

// CreateRecordAction inserts a new record into an entity collection.
type CreateRecordAction struct {
	EntityType string         `json:"entity_type"`
	Data       map[string]any `json:"data"`
}

// NotificationChannel enumerates outbound notification transports.
type NotificationChannel string

const (
	ChannelWebhook NotificationChannel = "webhook"
	ChannelSlack   NotificationChannel = "slack"
	ChannelEmail   NotificationChannel = "email"
)

// SendNotificationAction dispatches an interpolated subject/body.
// Email is accepted but only validated and logged; no mail transport is
// wired, and the result carries a delivery marker saying so.
type SendNotificationAction struct {
	Channel NotificationChannel `json:"channel"`
	URL     string              `json:"url,omitempty"`
	Subject string              `json:"subject,omitempty"`
	Body    string              `json:"body"`

	// slack only
	SlackChannel string `json:"slack_channel,omitempty"`

	// email only
	Recipient string `json:"recipient,omitempty"`
}

// RunAgentAction invokes a named catalog-quality agent.
type RunAgentAction struct {
	AgentName string         `json:"agent_name"`
	Context   map[string]any `json:"context,omitempty"`
}

// ExecuteWebhookAction calls an arbitrary HTTP endpoint. A body is only
// attached for POST/PUT/PATCH. With RetryOnFailure set, failed attempts
// retry up to MaxRetries (default 3) with 2^attempt seconds of backoff.
type ExecuteWebhookAction struct {
	URL            string            `json:"url"`
	Method         string            `json:"method,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           any               `json:"body,omitempty"`
	RetryOnFailure bool              `json:"retry_on_failure,omitempty"`
	MaxRetries     int               `json:"max_retries,omitempty"`
}

// AIOutputType constrains how a generated response is parsed.
type AIOutputType string

const (
	AIOutputText           AIOutputType = "text"
	AIOutputClassification AIOutputType = "classification"
	AIOutputJSON           AIOutputType = "json"
)

// GenerateWithAIAction calls the external text-generation service.
type GenerateWithAIAction struct {
	Prompt     string       `json:"prompt"`
	OutputType AIOutputType `json:"output_type,omitempty"`
	Choices    []string     `json:"choices,omitempty"` // classification only
	MaxTokens  int          `json:"max_tokens,omitempty"`
}

// DelayUnit is the unit of a delay action's duration.
type DelayUnit string

const (
	UnitSeconds DelayUnit = "seconds"
	UnitMinutes DelayUnit = "minutes"
	UnitHours   DelayUnit = "hours"
)

// DelayAction suspends the current run, hard-capped at five minutes.
type DelayAction struct {
	Duration int       `json:"duration"`
	Unit     DelayUnit `json:"unit"`
}

// ConditionalBranchAction evaluates its conditions and recursively executes
// one of two sub-action lists. An empty branch is a no-op success.
type ConditionalBranchAction struct {
	Conditions []Condition `json:"conditions"`
	IfTrue     []Action    `json:"if_true,omitempty"`
	IfFalse    []Action    `json:"if_false,omitempty"`
}

// QualityThresholds buckets a table's quality score.
// A score >= Excellent is excellent, >= Good is good, >= Fair is fair,
// anything below is poor.
type QualityThresholds struct {
	Excellent float64 `json:"excellent"`
	Good      float64 `json:"good"`
	Fair      float64 `json:"fair"`
}

// QualityCheckAction resolves named tables against the quality-score
// source, buckets them, and optionally opens issue records for tables
// scoring below FailBelow.
type QualityCheckAction struct {
	Tables       []string           `json:"tables,omitempty"`
	Thresholds   *QualityThresholds `json:"thresholds,omitempty"`
	FailBelow    float64            `json:"fail_below,omitempty"`
	CreateIssues bool               `json:"create_issues,omitempty"`
}

// Config returns the kind-specific config as an untyped pointer, or nil if
// the config matching Type is unset. Used by validation to reject
// half-built actions before a run attempts them.
func (a Action) Config() any {
	switch a.Type {
	case ActionUpdateRecord:
		if a.UpdateRecord != nil {
			return a.UpdateRecord
		}
	case ActionCreateRecord:
		if a.CreateRecord != nil {
			return a.CreateRecord
		}
	case ActionSendNotification:
		if a.SendNotification != nil {
			return a.SendNotification
		}
	case ActionRunAgent:
		if a.RunAgent != nil {
			return a.RunAgent
		}
	case ActionExecuteWebhook:
		if a.ExecuteWebhook != nil {
			return a.ExecuteWebhook
		}
	case ActionGenerateWithAI:
		if a.GenerateWithAI != nil {
			return a.GenerateWithAI
		}
	case ActionDelay:
		if a.Delay != nil {
			return a.Delay
		}
	case ActionConditionalBranch:
		if a.ConditionalBranch != nil {
			return a.ConditionalBranch
		}
	case ActionQualityCheck:
		if a.QualityCheck != nil {
			return a.QualityCheck
		}
	}
	return nil
}
