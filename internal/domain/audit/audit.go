package audit

import (
	"context"
	"time"
)

// Kind labels what happened to a memory item.
type Kind string

const (
	KindMerge     Kind = "merge"
	KindSupersede Kind = "supersede"
	KindEviction  Kind = "eviction"
	KindPromotion Kind = "promotion"
)

// Event is one entry in the memory audit trail. Merge and supersede decisions
// must never lose information silently, so both item ids are recorded.
type Event struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Kind      Kind      `json:"kind"`
	ItemID    string    `json:"item_id"`
	RelatedID string    `json:"related_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Recorder persists audit events. Recording is best-effort: implementations
// log failures but never fail the operation that produced the event.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// NopRecorder discards events.
type NopRecorder struct{}

func (NopRecorder) Record(ctx context.Context, event Event) {}
