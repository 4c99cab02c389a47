package memory

import (
	"errors"
	"time"

	"github.com/recallstack/recall-server/internal/domain/classifier"
)

// Tier is the lifecycle stage of a memory item.
type Tier string

const (
	TierWorking   Tier = "working"
	TierShortTerm Tier = "short_term"
	TierLongTerm  Tier = "long_term"
)

// NextTier returns the promotion target, or the same tier for long_term.
func NextTier(t Tier) Tier {
	switch t {
	case TierWorking:
		return TierShortTerm
	case TierShortTerm:
		return TierLongTerm
	default:
		return TierLongTerm
	}
}

// ErrNotFound is returned by repository lookups for missing or deleted items.
var ErrNotFound = errors.New("memory item not found")

// Item is a single stored memory: a caption, OCR fragment, transcript line,
// conversation turn or user-dictated fact.
type Item struct {
	ID        string              `json:"id"`
	UserID    string              `json:"user_id"`
	Content   string              `json:"content"`
	Category  classifier.Category `json:"category"`
	Tier      Tier                `json:"tier"`
	Embedding []float32           `json:"-"`
	Metadata  map[string]string   `json:"metadata,omitempty"`

	AccessCount int       `json:"access_count"`
	WindowStart time.Time `json:"-"`
	WindowCount int       `json:"-"`

	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	IsDeleted      bool      `json:"-"`

	// Computed at query time, not persisted.
	Similarity float32 `json:"similarity,omitempty"`
}

// MetadataSupersedes is the metadata key recording the id of an item this one
// replaced during conflict resolution.
const MetadataSupersedes = "supersedes"

// Partition identifies one (user, category, tier) slice of the store together
// with its item count.
type Partition struct {
	UserID   string
	Category classifier.Category
	Tier     Tier
	Count    int
}

// Statistics reports per-category and per-tier counts for one user.
type Statistics struct {
	UserID     string         `json:"user_id"`
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"by_category"`
	ByTier     map[string]int `json:"by_tier"`
}
