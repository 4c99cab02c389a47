package retrieval

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/recallstack/recall-server/internal/domain/classifier"
	"github.com/recallstack/recall-server/internal/domain/memory"
	"github.com/recallstack/recall-server/internal/metrics"
)

// Searcher is the slice of the repository the retriever needs.
type Searcher interface {
	SearchVector(ctx context.Context, userID string, categories []classifier.Category, embedding []float32, limit int, minSimilarity float32) ([]memory.Item, error)
	SearchLexical(ctx context.Context, userID string, categories []classifier.Category, terms []string, limit int) ([]memory.Item, error)
}

// Embedder produces the query vector.
type Embedder interface {
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
}

// AccessTracker is notified for every item a retrieval returns.
type AccessTracker interface {
	OnAccess(ctx context.Context, item *memory.Item) error
}

// Config holds retrieval tuning.
type Config struct {
	// TopK is the default result count when the caller passes none.
	TopK int
	// CandidateLimit bounds each channel's result list before fusion.
	CandidateLimit int
	// EmbedTimeout bounds how long a retrieval waits for the query vector
	// before falling back to lexical-only results.
	EmbedTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		TopK:           10,
		CandidateLimit: 50,
		EmbedTimeout:   2 * time.Second,
	}
}

// Result is one retrieval outcome. Degraded marks lexical-only results served
// while the embedding channel was unavailable.
type Result struct {
	Items      []memory.Item
	Intent     classifier.Intent
	Confidence float64
	Categories []classifier.Category
	Degraded   bool
}

// Retriever answers queries by classifying intent, searching the routed
// categories over both lexical and vector channels, and fusing the ranked
// lists.
type Retriever struct {
	classifier *classifier.Classifier
	embedder   Embedder
	store      Searcher
	tiers      AccessTracker
	cfg        Config
}

func NewRetriever(cls *classifier.Classifier, embedder Embedder, store Searcher, tiers AccessTracker, cfg Config) *Retriever {
	if cfg.TopK == 0 {
		cfg = DefaultConfig()
	}
	return &Retriever{
		classifier: cls,
		embedder:   embedder,
		store:      store,
		tiers:      tiers,
		cfg:        cfg,
	}
}

// Retrieve runs the full pipeline for one query. A failing or slow embedding
// service degrades the result to lexical-only; it never fails the retrieval.
func (r *Retriever) Retrieve(ctx context.Context, userID, query string, k int) (*Result, error) {
	start := time.Now()
	if k <= 0 {
		k = r.cfg.TopK
	}

	intent, confidence := r.classifier.ClassifyIntent(ctx, query)
	categories := classifier.RouteIntent(intent)

	result := &Result{
		Intent:     intent,
		Confidence: confidence,
		Categories: categories,
	}

	items, degraded, err := r.search(ctx, userID, query, categories, k)
	if err != nil {
		metrics.RecordRetrieve("error", time.Since(start).Seconds())
		return nil, err
	}
	result.Degraded = degraded

	// Too few hits inside the routed categories: widen to all of them
	// rather than answer thin.
	if len(items) < k && categories != nil {
		widened, widenedDegraded, err := r.search(ctx, userID, query, nil, k)
		if err == nil {
			items = fuse(items, widened)
			result.Degraded = result.Degraded || widenedDegraded
		} else {
			log.Warn().Err(err).Str("user_id", userID).Msg("widened search failed")
		}
	}

	if len(items) > k {
		items = items[:k]
	}
	result.Items = items

	for i := range result.Items {
		if err := r.tiers.OnAccess(ctx, &result.Items[i]); err != nil {
			log.Warn().Err(err).Str("item_id", result.Items[i].ID).Msg("access tracking failed")
		}
	}

	if result.Degraded {
		metrics.RecordDegradedRetrieval()
	}
	metrics.RecordRetrieve("success", time.Since(start).Seconds())

	log.Debug().
		Str("user_id", userID).
		Str("intent", string(intent)).
		Int("results", len(result.Items)).
		Bool("degraded", result.Degraded).
		Msg("retrieval completed")
	return result, nil
}

// search runs the lexical and vector channels in parallel and fuses them.
func (r *Retriever) search(ctx context.Context, userID, query string, categories []classifier.Category, k int) ([]memory.Item, bool, error) {
	limit := r.cfg.CandidateLimit
	if limit < k {
		limit = k
	}

	var lexical, vector []memory.Item
	var degraded bool

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		terms := ExtractTerms(query)
		if len(terms) == 0 {
			return nil
		}
		items, err := r.store.SearchLexical(gctx, userID, categories, terms, limit)
		if err != nil {
			return err
		}
		lexical = items
		return nil
	})

	g.Go(func() error {
		embedCtx, cancel := context.WithTimeout(gctx, r.cfg.EmbedTimeout)
		defer cancel()

		vec, err := r.embedder.EmbedSingle(embedCtx, query)
		if err != nil {
			log.Warn().Err(err).Msg("query embedding unavailable, serving lexical only")
			degraded = true
			return nil
		}

		start := time.Now()
		items, err := r.store.SearchVector(gctx, userID, categories, vec, limit, 0)
		if err != nil {
			return err
		}
		metrics.RecordVectorSearch(time.Since(start).Seconds())
		vector = items
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, degraded, err
	}

	return fuse(vector, lexical), degraded, nil
}
