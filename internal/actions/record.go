package actions

import (
	"context"
	"strings"

	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/tokens"
	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

// updateRecord mutates a record through the repository. The target id
// comes from the triggering record ("trigger_record" or empty), a literal
// id, or a related-record query; the latter is not implemented and fails
// explicitly rather than silently no-opping.
func (ex *Executor) updateRecord(ctx context.Context, cfg *schema.UpdateRecordAction, ec *ExecContext) (map[string]any, error) {
	if len(cfg.Updates) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "update_record has no updates")
	}

	entity := cfg.EntityType
	if entity == "" {
		entity = ec.DefaultEntity
	}
	if entity == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "update_record requires an entity type")
	}

	target := strings.TrimSpace(ex.interp.Resolve(cfg.Target, ec.Tokens))
	id, err := ex.resolveTargetID(target, ec)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]any, len(cfg.Updates))
	for _, fu := range cfg.Updates {
		setPath(updates, fu.Field, ex.interp.ResolveDeep(fu.Value, ec.Tokens))
	}

	if ec.DryRun {
		return map[string]any{
			"dry_run":     true,
			"entity_type": entity,
			"target":      id,
			"updates":     updates,
		}, nil
	}

	if ex.records == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "no record repository configured")
	}

	updated, err := ex.records.Update(ctx, entity, id, updates)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"update %s %q: %s", entity, id, err.Error()).WithCause(err)
	}

	return map[string]any{
		"id":          id,
		"entity_type": entity,
		"updated":     true,
		"record":      updated,
	}, nil
}

func (ex *Executor) resolveTargetID(target string, ec *ExecContext) (string, error) {
	switch target {
	case "", "trigger_record":
		if ec.Tokens.Record == nil {
			return "", schema.NewError(schema.ErrCodeValidation,
				"update_record has no triggering record to target")
		}
		id := tokens.Stringify(ec.Tokens.Record["id"])
		if id == "" {
			return "", schema.NewError(schema.ErrCodeValidation,
				"triggering record has no id")
		}
		return id, nil
	case "related":
		// Related-record targeting needs a query the repository does not
		// expose yet; failing loudly beats updating the wrong row.
		return "", schema.NewError(schema.ErrCodeValidation,
			"related-record targeting is not implemented")
	default:
		return target, nil
	}
}

// createRecord inserts an interpolated payload into an entity collection.
func (ex *Executor) createRecord(ctx context.Context, cfg *schema.CreateRecordAction, ec *ExecContext) (map[string]any, error) {
	if cfg.EntityType == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "create_record requires an entity type")
	}
	if len(cfg.Data) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "create_record has no data")
	}

	data := ex.resolveDeepMap(cfg.Data, ec)

	if ec.DryRun {
		return map[string]any{
			"dry_run":     true,
			"entity_type": cfg.EntityType,
			"data":        data,
		}, nil
	}

	if ex.records == nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "no record repository configured")
	}

	created, err := ex.records.Insert(ctx, cfg.EntityType, data)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"insert into %s: %s", cfg.EntityType, err.Error()).WithCause(err)
	}

	return map[string]any{
		"id":          tokens.Stringify(created["id"]),
		"entity_type": cfg.EntityType,
		"created":     true,
		"record":      created,
	}, nil
}

// setPath assigns a value into a nested map along a dot-separated field path.
func setPath(m map[string]any, path string, value any) {
	segments := strings.Split(path, ".")
	for _, seg := range segments[:len(segments)-1] {
		next, ok := m[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[seg] = next
		}
		m = next
	}
	m[segments[len(segments)-1]] = value
}
