package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/recallstack/recall-server/internal/domain/audit"
	"github.com/recallstack/recall-server/internal/domain/classifier"
	"github.com/recallstack/recall-server/internal/domain/conflict"
	"github.com/recallstack/recall-server/internal/domain/memory"
	"github.com/recallstack/recall-server/internal/domain/retrieval"
	"github.com/recallstack/recall-server/internal/metrics"
	"github.com/recallstack/recall-server/internal/telemetry"
)

var (
	ErrEmptyContent = errors.New("content must not be empty")
	ErrEmptyUserID  = errors.New("user id must not be empty")
)

// Locker serializes writes to one (user, category) partition. Distributed
// deployments back this with redis, single instances with in-process mutexes.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func() error) error
}

// Embedder produces content vectors.
type Embedder interface {
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
}

// Sweeper runs the periodic tier maintenance pass.
type Sweeper interface {
	Tick(ctx context.Context) error
}

// Retriever answers search queries.
type Retriever interface {
	Retrieve(ctx context.Context, userID, query string, k int) (*retrieval.Result, error)
}

// Config holds engine tuning.
type Config struct {
	// EmbedTimeout bounds the synchronous embedding attempt during Add.
	// Items whose embedding misses the window are stored without one and
	// backfilled later.
	EmbedTimeout time.Duration
	// CandidateLimit bounds how many same-partition items conflict
	// resolution inspects.
	CandidateLimit int
	// BackfillBatch is the per-run item budget of BackfillEmbeddings.
	BackfillBatch int
}

func DefaultConfig() Config {
	return Config{
		EmbedTimeout:   3 * time.Second,
		CandidateLimit: 10,
		BackfillBatch:  50,
	}
}

// Engine is the single entry point for memory writes and reads: it owns
// classification, conflict resolution, tier bookkeeping and retrieval.
type Engine struct {
	repo       memory.Repository
	classifier *classifier.Classifier
	embedder   Embedder
	resolver   *conflict.Resolver
	sweeper    Sweeper
	retriever  Retriever
	auditor    audit.Recorder
	locker     Locker
	sanitizer  *telemetry.Sanitizer
	cfg        Config
}

func New(
	repo memory.Repository,
	cls *classifier.Classifier,
	embedder Embedder,
	resolver *conflict.Resolver,
	sweeper Sweeper,
	retriever Retriever,
	auditor audit.Recorder,
	locker Locker,
	sanitizer *telemetry.Sanitizer,
	cfg Config,
) *Engine {
	if cfg.EmbedTimeout == 0 {
		cfg = DefaultConfig()
	}
	if auditor == nil {
		auditor = audit.NopRecorder{}
	}
	if sanitizer == nil {
		sanitizer = telemetry.NewSanitizer(telemetry.PIILevelHashed, "")
	}
	return &Engine{
		repo:       repo,
		classifier: cls,
		embedder:   embedder,
		resolver:   resolver,
		sweeper:    sweeper,
		retriever:  retriever,
		auditor:    auditor,
		locker:     locker,
		sanitizer:  sanitizer,
		cfg:        cfg,
	}
}

// AddResult reports what happened to one ingested input.
type AddResult struct {
	Item       *memory.Item        `json:"item"`
	Action     conflict.Action     `json:"action"`
	Category   classifier.Category `json:"category"`
	Confidence float64             `json:"confidence"`
}

// Add classifies the content, resolves it against its (user, category)
// partition under the partition lock, and stores the outcome. A failing
// embedding service never fails the add: the item is stored without a vector
// and picked up by BackfillEmbeddings.
func (e *Engine) Add(ctx context.Context, userID, content string, metadata map[string]string) (*AddResult, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	if content == "" {
		metrics.RecordAdd("invalid")
		return nil, ErrEmptyContent
	}

	category, confidence, source := e.classifier.Classify(ctx, content)
	metrics.RecordClassification(string(category), string(source))

	item := &memory.Item{
		ID:       uuid.NewString(),
		UserID:   userID,
		Content:  content,
		Category: category,
		Tier:     memory.TierWorking,
		Metadata: metadata,
	}
	now := time.Now()
	item.CreatedAt = now
	item.UpdatedAt = now
	item.LastAccessedAt = now
	item.WindowStart = now

	embedCtx, cancel := context.WithTimeout(ctx, e.cfg.EmbedTimeout)
	vec, err := e.embedder.EmbedSingle(embedCtx, content)
	cancel()
	if err != nil {
		log.Warn().Err(err).
			Str("item_id", item.ID).
			Msg("embedding unavailable, storing item without vector")
	} else {
		item.Embedding = vec
	}

	result := &AddResult{Item: item, Category: category, Confidence: confidence}

	lockKey := fmt.Sprintf("lock:memory:%s:%s", userID, category)
	err = e.locker.WithLock(ctx, lockKey, func() error {
		candidates, err := e.gatherCandidates(ctx, item)
		if err != nil {
			return fmt.Errorf("gather candidates: %w", err)
		}

		decision := e.resolver.Resolve(item, candidates)
		metrics.RecordConflictAction(string(decision.Action))
		result.Action = decision.Action

		switch decision.Action {
		case conflict.ActionMergeInto:
			merged := conflict.Merge(decision.Target, item)
			merged.UpdatedAt = time.Now()
			if _, err := e.repo.Upsert(ctx, merged); err != nil {
				return fmt.Errorf("store merged item: %w", err)
			}
			result.Item = merged
			e.auditor.Record(ctx, audit.Event{
				UserID:    userID,
				Kind:      audit.KindMerge,
				ItemID:    merged.ID,
				RelatedID: item.ID,
				Detail:    decision.Reason,
			})

		case conflict.ActionSupersede:
			conflict.Supersede(item, decision.Target)
			if _, err := e.repo.Upsert(ctx, item); err != nil {
				return fmt.Errorf("store superseding item: %w", err)
			}
			if err := e.repo.Delete(ctx, decision.Target.ID); err != nil {
				return fmt.Errorf("remove superseded item: %w", err)
			}
			e.auditor.Record(ctx, audit.Event{
				UserID:    userID,
				Kind:      audit.KindSupersede,
				ItemID:    item.ID,
				RelatedID: decision.Target.ID,
				Detail:    decision.Reason,
			})

		default:
			if _, err := e.repo.Upsert(ctx, item); err != nil {
				return fmt.Errorf("store item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		metrics.RecordAdd("error")
		return nil, err
	}

	metrics.RecordAdd("success")
	log.Info().
		Str("user_id", e.sanitizer.SanitizeUserID(userID)).
		Str("item_id", result.Item.ID).
		Str("category", string(category)).
		Str("action", string(result.Action)).
		Str("content", e.sanitizer.SanitizeContent(snippet(content))).
		Interface("metadata", e.sanitizer.SanitizeMetadata(metadata)).
		Msg("memory added")
	return result, nil
}

// gatherCandidates collects same-partition items for conflict resolution,
// most similar first. Without an embedding it falls back to a partition scan.
func (e *Engine) gatherCandidates(ctx context.Context, item *memory.Item) ([]memory.Item, error) {
	cats := []classifier.Category{item.Category}

	if item.Embedding != nil {
		return e.repo.SearchVector(ctx, item.UserID, cats, item.Embedding, e.cfg.CandidateLimit, e.resolver.Config().CandidateSimilarity)
	}

	items, err := e.repo.Scan(ctx, item.UserID, cats, nil)
	if err != nil {
		return nil, err
	}
	if len(items) > e.cfg.CandidateLimit {
		items = items[:e.cfg.CandidateLimit]
	}
	return items, nil
}

// Retrieve answers a query through the retrieval pipeline.
func (e *Engine) Retrieve(ctx context.Context, userID, query string, k int) (*retrieval.Result, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	if query == "" {
		return nil, errors.New("query must not be empty")
	}
	return e.retriever.Retrieve(ctx, userID, query, k)
}

// GetByCategory lists a user's items of one category, optionally narrowed to
// a tier.
func (e *Engine) GetByCategory(ctx context.Context, userID, category string, tier string) ([]memory.Item, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	cat, ok := classifier.ParseCategory(category)
	if !ok {
		return nil, fmt.Errorf("unknown category: %s", category)
	}

	var tierFilter *memory.Tier
	if tier != "" {
		t := memory.Tier(tier)
		switch t {
		case memory.TierWorking, memory.TierShortTerm, memory.TierLongTerm:
			tierFilter = &t
		default:
			return nil, fmt.Errorf("unknown tier: %s", tier)
		}
	}

	return e.repo.Scan(ctx, userID, []classifier.Category{cat}, tierFilter)
}

// Statistics reports per-category and per-tier counts for a user.
func (e *Engine) Statistics(ctx context.Context, userID string) (*memory.Statistics, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	return e.repo.Stats(ctx, userID)
}

// Delete removes one item. Ownership is checked: deleting another user's item
// reports not found.
func (e *Engine) Delete(ctx context.Context, userID, id string) error {
	item, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if item.UserID != userID {
		return memory.ErrNotFound
	}
	return e.repo.Delete(ctx, id)
}

// Sweep runs one tier maintenance pass.
func (e *Engine) Sweep(ctx context.Context) error {
	return e.sweeper.Tick(ctx)
}

// BackfillEmbeddings embeds items stored without a vector during degraded
// operation. Items are embedded concurrently so a batching embedder coalesces
// the run into few upstream requests; each item retries with exponential
// backoff and failures leave the item for the next run.
func (e *Engine) BackfillEmbeddings(ctx context.Context) error {
	items, err := e.repo.MissingEmbeddings(ctx, e.cfg.BackfillBatch)
	if err != nil {
		return fmt.Errorf("list items missing embeddings: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	vecs := make([][]float32, len(items))
	var g errgroup.Group
	for i := range items {
		i := i
		g.Go(func() error {
			operation := func() error {
				v, err := e.embedder.EmbedSingle(ctx, items[i].Content)
				if err != nil {
					return err
				}
				vecs[i] = v
				return nil
			}

			policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
			if err := backoff.Retry(operation, policy); err != nil {
				log.Warn().Err(err).Str("item_id", items[i].ID).Msg("embedding backfill failed, leaving item for next run")
			}
			return nil
		})
	}
	_ = g.Wait()

	filled := 0
	for i := range items {
		if vecs[i] == nil {
			continue
		}
		if err := e.repo.SetEmbedding(ctx, items[i].ID, vecs[i]); err != nil {
			return fmt.Errorf("set embedding for %s: %w", items[i].ID, err)
		}
		filled++
	}

	if filled > 0 {
		log.Info().Int("filled", filled).Int("pending", len(items)-filled).Msg("embedding backfill completed")
	}
	return nil
}

// snippet truncates log content on a rune boundary so multi-byte input never
// produces invalid UTF-8 in the log stream.
func snippet(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
