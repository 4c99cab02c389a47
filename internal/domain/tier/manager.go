package tier

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/recallstack/recall-server/internal/domain/audit"
	"github.com/recallstack/recall-server/internal/domain/classifier"
	"github.com/recallstack/recall-server/internal/domain/memory"
	"github.com/recallstack/recall-server/internal/metrics"
)

// Store is the slice of the repository the tier manager needs.
type Store interface {
	Touch(ctx context.Context, id string, window time.Duration) (*memory.Item, error)
	SetTier(ctx context.Context, id string, tier memory.Tier) error
	Delete(ctx context.Context, id string) error
	CountTier(ctx context.Context, userID string, category classifier.Category, tier memory.Tier) (int, error)
	OldestInTier(ctx context.Context, userID string, category classifier.Category, tier memory.Tier, limit int) ([]memory.Item, error)
	Partitions(ctx context.Context) ([]memory.Partition, error)
}

// Config holds the promotion and eviction policy.
type Config struct {
	// PromotionWindow is the sliding recency window for promotion counting.
	PromotionWindow time.Duration
	// WorkingPromoteAfter is the in-window access count that promotes a
	// working item to short_term. It is lower than ShortTermPromoteAfter:
	// frequently reused facts are worth retaining longer.
	WorkingPromoteAfter int
	// ShortTermPromoteAfter promotes short_term to long_term.
	ShortTermPromoteAfter int
	// WorkingCapacity and ShortTermCapacity cap items per (user, category).
	// long_term has no ceiling: long-term memory must not silently
	// disappear, it goes away only by explicit deletion.
	WorkingCapacity   int
	ShortTermCapacity int
	// WorkingMaxAge evicts working items not accessed for this long.
	WorkingMaxAge time.Duration
	// SweepBatch bounds how many candidates one sweep inspects per partition.
	SweepBatch int
}

// DefaultConfig returns the calibrated defaults.
func DefaultConfig() Config {
	return Config{
		PromotionWindow:       72 * time.Hour,
		WorkingPromoteAfter:   3,
		ShortTermPromoteAfter: 10,
		WorkingCapacity:       200,
		ShortTermCapacity:     1000,
		WorkingMaxAge:         14 * 24 * time.Hour,
		SweepBatch:            100,
	}
}

// Manager moves items through the working → short_term → long_term lifecycle.
// Promotion never skips a tier and items never regress; eviction removes an
// item from its tier outright.
type Manager struct {
	store   Store
	cfg     Config
	auditor audit.Recorder
	now     func() time.Time
}

func NewManager(store Store, cfg Config, auditor audit.Recorder) *Manager {
	if cfg.PromotionWindow == 0 {
		cfg = DefaultConfig()
	}
	if auditor == nil {
		auditor = audit.NopRecorder{}
	}
	return &Manager{store: store, cfg: cfg, auditor: auditor, now: time.Now}
}

// OnAccess records a retrieval hit and promotes the item when its in-window
// access count clears the tier threshold. The passed item is refreshed with
// the updated lifecycle fields.
func (m *Manager) OnAccess(ctx context.Context, item *memory.Item) error {
	updated, err := m.store.Touch(ctx, item.ID, m.cfg.PromotionWindow)
	if err != nil {
		return fmt.Errorf("touch item: %w", err)
	}

	item.AccessCount = updated.AccessCount
	item.LastAccessedAt = updated.LastAccessedAt
	item.WindowStart = updated.WindowStart
	item.WindowCount = updated.WindowCount
	item.Tier = updated.Tier

	threshold, promotable := m.promoteThreshold(updated.Tier)
	if !promotable || updated.WindowCount < threshold {
		return nil
	}

	next := memory.NextTier(updated.Tier)
	if err := m.store.SetTier(ctx, item.ID, next); err != nil {
		return fmt.Errorf("promote item: %w", err)
	}
	item.Tier = next

	metrics.RecordPromotion(string(next))
	m.auditor.Record(ctx, audit.Event{
		UserID: item.UserID,
		Kind:   audit.KindPromotion,
		ItemID: item.ID,
		Detail: fmt.Sprintf("%s -> %s", updated.Tier, next),
	})
	log.Debug().
		Str("item_id", item.ID).
		Str("tier", string(next)).
		Int("window_count", updated.WindowCount).
		Msg("item promoted")
	return nil
}

func (m *Manager) promoteThreshold(t memory.Tier) (int, bool) {
	switch t {
	case memory.TierWorking:
		return m.cfg.WorkingPromoteAfter, true
	case memory.TierShortTerm:
		return m.cfg.ShortTermPromoteAfter, true
	default:
		return 0, false
	}
}

// Tick is the periodic sweep: it evicts the least-recently-accessed items of
// partitions over capacity and working items idle past WorkingMaxAge. With
// nothing pending it is a no-op, and it holds no locks across items, so it is
// safe to run on an interval concurrently with inserts.
func (m *Manager) Tick(ctx context.Context) error {
	partitions, err := m.store.Partitions(ctx)
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}

	evicted := 0
	for _, p := range partitions {
		n, err := m.sweepPartition(ctx, p)
		if err != nil {
			log.Warn().Err(err).
				Str("user_id", p.UserID).
				Str("category", string(p.Category)).
				Str("tier", string(p.Tier)).
				Msg("partition sweep failed")
			continue
		}
		evicted += n
	}

	if evicted > 0 {
		log.Info().Int("evicted", evicted).Msg("tier sweep completed")
	}
	return nil
}

func (m *Manager) sweepPartition(ctx context.Context, p memory.Partition) (int, error) {
	capacity := 0
	switch p.Tier {
	case memory.TierWorking:
		capacity = m.cfg.WorkingCapacity
	case memory.TierShortTerm:
		capacity = m.cfg.ShortTermCapacity
	default:
		return 0, nil // long_term is uncapped
	}

	// The partition listing is a snapshot; items deleted since it was taken
	// would otherwise be double-counted, so recheck the live count before
	// picking victims.
	count, err := m.store.CountTier(ctx, p.UserID, p.Category, p.Tier)
	if err != nil {
		return 0, err
	}

	overflow := count - capacity
	evicted := 0

	if overflow > 0 {
		victims, err := m.store.OldestInTier(ctx, p.UserID, p.Category, p.Tier, overflow)
		if err != nil {
			return 0, err
		}
		for _, v := range victims {
			if err := m.evict(ctx, &v, "capacity exceeded"); err != nil {
				return evicted, err
			}
			evicted++
		}
	}

	if p.Tier == memory.TierWorking && m.cfg.WorkingMaxAge > 0 {
		cutoff := m.now().Add(-m.cfg.WorkingMaxAge)
		candidates, err := m.store.OldestInTier(ctx, p.UserID, p.Category, p.Tier, m.cfg.SweepBatch)
		if err != nil {
			return evicted, err
		}
		for _, c := range candidates {
			if !c.LastAccessedAt.Before(cutoff) {
				break // candidates are LRU-ordered
			}
			if err := m.evict(ctx, &c, "idle past max age"); err != nil {
				return evicted, err
			}
			evicted++
		}
	}

	return evicted, nil
}

func (m *Manager) evict(ctx context.Context, item *memory.Item, reason string) error {
	if err := m.store.Delete(ctx, item.ID); err != nil {
		return fmt.Errorf("evict item %s: %w", item.ID, err)
	}
	metrics.RecordEviction(string(item.Tier))
	m.auditor.Record(ctx, audit.Event{
		UserID: item.UserID,
		Kind:   audit.KindEviction,
		ItemID: item.ID,
		Detail: reason,
	})
	log.Debug().
		Str("item_id", item.ID).
		Str("tier", string(item.Tier)).
		Str("reason", reason).
		Msg("item evicted")
	return nil
}
