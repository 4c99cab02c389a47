package auditrepo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/recallstack/recall-server/internal/domain/audit"
	"github.com/recallstack/recall-server/internal/infrastructure/database/dbschema"
)

// Repository persists the memory audit trail.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Record stores one audit event. Recording is best-effort: a failed insert is
// logged and never propagated to the operation that produced the event.
func (r *Repository) Record(ctx context.Context, event audit.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	schema := dbschema.NewSchemaAuditEvent(&event)
	if err := r.db.WithContext(ctx).
		Table("memory_audit_events").
		Create(map[string]any{
			"id":         schema.ID,
			"user_id":    schema.UserID,
			"kind":       schema.Kind,
			"item_id":    schema.ItemID,
			"related_id": schema.RelatedID,
			"detail":     schema.Detail,
			"created_at": schema.CreatedAt,
		}).Error; err != nil {
		log.Error().Err(err).
			Str("kind", string(event.Kind)).
			Str("item_id", event.ItemID).
			Msg("failed to record audit event")
	}
}

// RecentByUser returns a user's newest audit events, most recent first.
func (r *Repository) RecentByUser(ctx context.Context, userID string, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []dbschema.AuditEvent
	if err := r.db.WithContext(ctx).
		Table("memory_audit_events").
		Select("id, user_id, kind, item_id, related_id, detail, created_at").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}

	events := make([]audit.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, *row.EtoD())
	}
	return events, nil
}

var _ audit.Recorder = (*Repository)(nil)
