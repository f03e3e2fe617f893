package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

// Record repository over the records table. Each row is one catalog entity
// keyed by (entity_type, id) with its fields in a JSON document. Satisfies
// the executor's RecordRepository interface.

func (s *LibSQLStore) Select(ctx context.Context, entityType string, limit int) ([]map[string]any, error) {
	query := `SELECT data FROM records WHERE entity_type = ? ORDER BY updated_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, entityType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []map[string]any
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *LibSQLStore) Insert(ctx context.Context, entityType string, data map[string]any) (map[string]any, error) {
	record := make(map[string]any, len(data)+1)
	for k, v := range data {
		record[k] = v
	}
	id, _ := record["id"].(string)
	if id == "" {
		id = uuid.NewString()
		record["id"] = id
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (entity_type, id, data, created_at, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		entityType, id, string(raw),
	)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *LibSQLStore) Update(ctx context.Context, entityType, id string, updates map[string]any) (map[string]any, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE entity_type = ? AND id = ?`, entityType, id,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("record", entityType+"/"+id)
	}
	if err != nil {
		return nil, err
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	mergeInto(record, updates)
	record["id"] = id

	merged, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET data = ?, updated_at = CURRENT_TIMESTAMP WHERE entity_type = ? AND id = ?`,
		string(merged), entityType, id,
	)
	if err != nil {
		return nil, err
	}
	if err := checkRowsAffected(res, "record", entityType+"/"+id); err != nil {
		return nil, err
	}
	return record, nil
}

// DeleteRecord removes one entity row.
func (s *LibSQLStore) DeleteRecord(ctx context.Context, entityType, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE entity_type = ? AND id = ?`, entityType, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "record", entityType+"/"+id)
}

// SeedRecords inserts records only if the entity collection is empty.
// Used by the CLI to provision demo catalog data on first start.
func (s *LibSQLStore) SeedRecords(ctx context.Context, entityType string, records []map[string]any) error {
	if !schema.IsKnownEntityType(entityType) {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown entity type %q", entityType)
	}
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE entity_type = ?`, entityType,
	).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	for _, r := range records {
		if _, err := s.Insert(ctx, entityType, r); err != nil {
			return err
		}
	}
	return nil
}

// mergeInto merges src into dst recursively; nested maps merge key-wise,
// everything else overwrites.
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				mergeInto(existing, sub)
				continue
			}
		}
		dst[k] = v
	}
}
