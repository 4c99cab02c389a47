package memory

import (
	"context"
	"time"

	"github.com/recallstack/recall-server/internal/domain/classifier"
)

// Repository is the persistent item storage collaborator. Implementations
// partition items by (user_id, category) and keep the per-partition counters
// used for capacity checks atomic with the writes that change them.
type Repository interface {
	// Upsert inserts the item, or updates it when the id already exists.
	// Category changes are atomic with respect to partitioning: an item is
	// never visible under two categories.
	Upsert(ctx context.Context, item *Item) (string, error)

	// Get returns one item by id, ErrNotFound when missing or deleted.
	Get(ctx context.Context, id string) (*Item, error)

	// Delete soft-deletes an item and decrements its partition counter.
	Delete(ctx context.Context, id string) error

	// Scan returns a user's items restricted to the given categories without
	// touching other partitions. Nil categories means all; tier narrows
	// further when non-nil.
	Scan(ctx context.Context, userID string, categories []classifier.Category, tier *Tier) ([]Item, error)

	// SearchVector runs similarity search over the given partitions against
	// the query embedding, most similar first.
	SearchVector(ctx context.Context, userID string, categories []classifier.Category, embedding []float32, limit int, minSimilarity float32) ([]Item, error)

	// SearchLexical returns items whose content matches any of the terms,
	// restricted to the given partitions.
	SearchLexical(ctx context.Context, userID string, categories []classifier.Category, terms []string, limit int) ([]Item, error)

	// Touch records a retrieval hit: access_count and the sliding promotion
	// window advance in a single update. Returns the updated item.
	Touch(ctx context.Context, id string, window time.Duration) (*Item, error)

	// SetTier moves an item to a tier, adjusting both partition counters.
	SetTier(ctx context.Context, id string, tier Tier) error

	// CountTier returns the live item count for one (user, category, tier).
	CountTier(ctx context.Context, userID string, category classifier.Category, tier Tier) (int, error)

	// OldestInTier returns up to limit least-recently-accessed items of a
	// tier partition, eviction candidates first.
	OldestInTier(ctx context.Context, userID string, category classifier.Category, tier Tier, limit int) ([]Item, error)

	// Partitions lists every non-empty (user, category, tier) partition.
	Partitions(ctx context.Context) ([]Partition, error)

	// MissingEmbeddings returns items stored without an embedding during
	// degraded operation, oldest first.
	MissingEmbeddings(ctx context.Context, limit int) ([]Item, error)

	// SetEmbedding backfills the embedding of one item.
	SetEmbedding(ctx context.Context, id string, embedding []float32) error

	// Stats returns per-category and per-tier counts for a user.
	Stats(ctx context.Context, userID string) (*Statistics, error)
}
