package dbschema

import (
	"time"

	"github.com/recallstack/recall-server/internal/domain/audit"
)

type AuditEvent struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Kind      string    `db:"kind"`
	ItemID    string    `db:"item_id"`
	RelatedID string    `db:"related_id"`
	Detail    string    `db:"detail"`
	CreatedAt time.Time `db:"created_at"`
}

func NewSchemaAuditEvent(d *audit.Event) *AuditEvent {
	if d == nil {
		return nil
	}

	return &AuditEvent{
		ID:        d.ID,
		UserID:    d.UserID,
		Kind:      string(d.Kind),
		ItemID:    d.ItemID,
		RelatedID: d.RelatedID,
		Detail:    d.Detail,
		CreatedAt: d.CreatedAt,
	}
}

func (s *AuditEvent) EtoD() *audit.Event {
	if s == nil {
		return nil
	}

	return &audit.Event{
		ID:        s.ID,
		UserID:    s.UserID,
		Kind:      audit.Kind(s.Kind),
		ItemID:    s.ItemID,
		RelatedID: s.RelatedID,
		Detail:    s.Detail,
		CreatedAt: s.CreatedAt,
	}
}
