// Package audit appends one immutable log row per mutating operation.
// Entries are written inside the caller's transaction so the recorded
// "after" state always matches what was persisted.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Entry struct {
	ID         string          `json:"id"`
	Actor      string          `json:"actor"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Record inserts an audit row using the given transaction. before/after
// are marshalled snapshots of the entity; nil is stored as SQL NULL.
func Record(ctx context.Context, tx *sql.Tx, actor, action, entityType, entityID string, before, after any) error {
	b, err := marshalNullable(before)
	if err != nil {
		return fmt.Errorf("audit: marshal before: %w", err)
	}
	a, err := marshalNullable(after)
	if err != nil {
		return fmt.Errorf("audit: marshal after: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO audit_log (id, actor, action, entity_type, entity_id, before, after, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
`, uuid.NewString(), actor, action, entityType, entityID, b, a)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// Timeline reads the audit entries for one entity in insertion order.
func Timeline(ctx context.Context, db *sql.DB, entityType, entityID string, limit, offset int) ([]Entry, error) {
	rows, err := db.QueryContext(ctx, `
SELECT id, actor, action, entity_type, entity_id, COALESCE(before, 'null'), COALESCE(after, 'null'), created_at
FROM audit_log
WHERE entity_type = $1 AND entity_id = $2
ORDER BY created_at ASC
LIMIT $3 OFFSET $4
`, entityType, entityID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.EntityType, &e.EntityID, &e.Before, &e.After, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalNullable(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
