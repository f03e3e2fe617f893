package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/conditions"
	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/tokens"
	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

var tokenInterp = tokens.NewInterpolator(nil)

// tokenNamespaces are the roots a template path may address at run time.
var tokenNamespaces = map[string]bool{
	"record":          true,
	"trigger":         true,
	"automation":      true,
	"previous_action": true,
	"env":             true,
}

// validateSemantics covers what the JSON Schema cannot: cross-field rules,
// trigger-type requirements, expression compilation, and branch recursion.
func validateSemantics(a *schema.Automation) error {
	if err := validateTrigger(&a.Trigger); err != nil {
		return err
	}
	if err := conditions.ValidateConditions(a.Conditions); err != nil {
		return err
	}
	return validateActions(a.Actions, "")
}

func validateTrigger(t *schema.Trigger) error {
	switch t.Type {
	case schema.TriggerScheduled:
		if t.Cron == "" {
			return schema.NewError(schema.ErrCodeValidation, "scheduled trigger requires a cron expression")
		}
		if _, err := cronParser.Parse(t.Cron); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"invalid cron expression %q: %s", t.Cron, err.Error()).WithCause(err)
		}
	case schema.TriggerRecordMatches:
		if t.EntityType == "" {
			return schema.NewError(schema.ErrCodeValidation, "record_matches trigger requires an entity type")
		}
		if len(t.Conditions) == 0 {
			return schema.NewError(schema.ErrCodeValidation, "record_matches trigger requires conditions")
		}
	case schema.TriggerAgentCompleted:
		if t.AgentName == "" {
			return schema.NewError(schema.ErrCodeValidation, "agent_completed trigger requires an agent name")
		}
	}
	if t.EntityType != "" && !schema.IsKnownEntityType(t.EntityType) {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown entity type %q", t.EntityType)
	}
	return conditions.ValidateConditions(t.Conditions)
}

func validateActions(acts []schema.Action, path string) error {
	for i, act := range acts {
		if err := validateAction(act, fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func validateAction(act schema.Action, path string) error {
	cfg := act.Config()
	if cfg == nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"action %s of type %q is missing its %q config", path, act.Type, act.Type)
	}

	switch c := cfg.(type) {
	case *schema.SendNotificationAction:
		switch c.Channel {
		case schema.ChannelWebhook, schema.ChannelSlack:
			if c.URL == "" {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"action %s: %s notification requires a url", path, c.Channel)
			}
		case schema.ChannelEmail:
			if c.Recipient == "" {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"action %s: email notification requires a recipient", path)
			}
		}
	case *schema.GenerateWithAIAction:
		if c.OutputType == schema.AIOutputClassification && len(c.Choices) == 0 {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"action %s: classification output requires choices", path)
		}
	case *schema.QualityCheckAction:
		if t := c.Thresholds; t != nil {
			if t.Excellent < t.Good || t.Good < t.Fair {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"action %s: thresholds must be ordered excellent >= good >= fair", path)
			}
		}
	case *schema.ConditionalBranchAction:
		if err := conditions.ValidateConditions(c.Conditions); err != nil {
			return err
		}
		if err := validateActions(c.IfTrue, path+".if_true"); err != nil {
			return err
		}
		if err := validateActions(c.IfFalse, path+".if_false"); err != nil {
			return err
		}
	}

	return validateTemplates(cfg, path)
}

// validateTemplates walks every string leaf of an action config and checks
// that each {{...}} span addresses a known namespace. A typo like
// {{recrod.name}} would otherwise surface only at run time, as an empty
// string in the side effect.
func validateTemplates(cfg any, path string) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"action %s: config is not serializable", path).WithCause(err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"action %s: config is not serializable", path).WithCause(err)
	}
	return walkTemplates(doc, path)
}

func walkTemplates(doc any, path string) error {
	switch v := doc.(type) {
	case string:
		for _, tokenPath := range tokenInterp.ExtractPaths(v) {
			root, _, _ := strings.Cut(tokenPath, ".")
			if !tokenNamespaces[root] {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"action %s: template references unknown namespace %q in {{%s}}", path, root, tokenPath)
			}
		}
	case map[string]any:
		for _, child := range v {
			if err := walkTemplates(child, path); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range v {
			if err := walkTemplates(child, path); err != nil {
				return err
			}
		}
	}
	return nil
}
