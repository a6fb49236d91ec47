package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"orgcore.io/internal/ids"
	"orgcore.io/internal/rbac"
)

func (s *Store) AppendAudit(ctx context.Context, entry *rbac.AuditEntry) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	metaJSON := []byte("{}")
	if len(entry.Meta) > 0 {
		raw, err := json.Marshal(entry.Meta)
		if err != nil {
			return fmt.Errorf("marshal meta: %w", err)
		}
		metaJSON = raw
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log (id, actor_user_id, action, entity, entity_id, meta, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, nullIfEmpty(entry.ActorUserID), entry.Action, entry.Entity, entry.EntityID, metaJSON, entry.OccurredAt)
	return err
}
