package tokens

import "time"

// TriggerInfo describes the firing trigger inside a token context.
type TriggerInfo struct {
	Type      string
	Timestamp time.Time
	Data      map[string]any
}

// AutomationInfo identifies the owning automation inside a token context.
type AutomationInfo struct {
	ID   string
	Name string
}

// PreviousAction carries the immediately preceding action's outcome,
// overwritten before each action executes. Absent for the first action.
type PreviousAction struct {
	Result map[string]any
	Status string
}

// Context holds all data available for token resolution during one
// execution attempt. It is owned exclusively by that attempt and never
// shared across concurrent runs.
type Context struct {
	Record     map[string]any
	Trigger    TriggerInfo
	Automation AutomationInfo
	Previous   *PreviousAction

	// Env is a restricted allow-list of environment values (webhook URLs
	// and the like); only keys placed here resolve via {{env.*}}.
	Env map[string]string
}

// Root materializes the context as a nested map for path traversal.
func (c *Context) Root() map[string]any {
	root := map[string]any{
		"trigger": map[string]any{
			"type":      c.Trigger.Type,
			"timestamp": c.Trigger.Timestamp,
			"data":      c.Trigger.Data,
		},
		"automation": map[string]any{
			"id":   c.Automation.ID,
			"name": c.Automation.Name,
		},
	}
	if c.Record != nil {
		root["record"] = c.Record
	}
	if c.Previous != nil {
		root["previous_action"] = map[string]any{
			"result": c.Previous.Result,
			"status": c.Previous.Status,
		}
	}
	if c.Env != nil {
		env := make(map[string]any, len(c.Env))
		for k, v := range c.Env {
			env[k] = v
		}
		root["env"] = env
	}
	return root
}

// Lookup walks a dot-separated path depth-first through the context.
// It never errors: an absent segment or an attempt to index into a
// non-container yields (nil, false).
func (c *Context) Lookup(path string) (any, bool) {
	return TraversePath(c.Root(), path)
}

// TraversePath walks a dot path against an arbitrary root value.
func TraversePath(root any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	current := root
	start := 0
	for start <= len(path) {
		end := indexDot(path, start)
		seg := path[start:end]
		if seg == "" {
			return nil, false
		}
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = val
		case map[string]string:
			val, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = val
		default:
			return nil, false
		}
		if end == len(path) {
			return current, true
		}
		start = end + 1
	}
	return nil, false
}

func indexDot(s string, from int) int {
	for i := from; i < len(s); i++ {
		if s[i] == '.' {
			return i
		}
	}
	return len(s)
}
