package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallstack/recall-server/internal/domain/classifier"
	"github.com/recallstack/recall-server/internal/domain/conflict"
	"github.com/recallstack/recall-server/internal/domain/memory"
	"github.com/recallstack/recall-server/internal/domain/retrieval"
)

// fakeRepo is an in-memory memory.Repository.
type fakeRepo struct {
	items map[string]*memory.Item
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{items: make(map[string]*memory.Item)}
}

func (f *fakeRepo) Upsert(ctx context.Context, item *memory.Item) (string, error) {
	copied := *item
	f.items[item.ID] = &copied
	return item.ID, nil
}

func (f *fakeRepo) Get(ctx context.Context, id string) (*memory.Item, error) {
	it, ok := f.items[id]
	if !ok || it.IsDeleted {
		return nil, memory.ErrNotFound
	}
	copied := *it
	return &copied, nil
}

func (f *fakeRepo) Delete(ctx context.Context, id string) error {
	it, ok := f.items[id]
	if !ok || it.IsDeleted {
		return memory.ErrNotFound
	}
	it.IsDeleted = true
	return nil
}

func (f *fakeRepo) Scan(ctx context.Context, userID string, cats []classifier.Category, tier *memory.Tier) ([]memory.Item, error) {
	var out []memory.Item
	for _, it := range f.items {
		if it.IsDeleted || it.UserID != userID {
			continue
		}
		if cats != nil && !containsCat(cats, it.Category) {
			continue
		}
		if tier != nil && it.Tier != *tier {
			continue
		}
		out = append(out, *it)
	}
	return out, nil
}

func (f *fakeRepo) SearchVector(ctx context.Context, userID string, cats []classifier.Category, embedding []float32, limit int, minSimilarity float32) ([]memory.Item, error) {
	// Similarity is not modeled: every partition member is a candidate.
	return f.Scan(ctx, userID, cats, nil)
}

func (f *fakeRepo) SearchLexical(ctx context.Context, userID string, cats []classifier.Category, terms []string, limit int) ([]memory.Item, error) {
	return f.Scan(ctx, userID, cats, nil)
}

func (f *fakeRepo) Touch(ctx context.Context, id string, window time.Duration) (*memory.Item, error) {
	it, ok := f.items[id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	it.AccessCount++
	it.WindowCount++
	copied := *it
	return &copied, nil
}

func (f *fakeRepo) SetTier(ctx context.Context, id string, tier memory.Tier) error {
	it, ok := f.items[id]
	if !ok {
		return memory.ErrNotFound
	}
	it.Tier = tier
	return nil
}

func (f *fakeRepo) CountTier(ctx context.Context, userID string, cat classifier.Category, tier memory.Tier) (int, error) {
	n := 0
	for _, it := range f.items {
		if !it.IsDeleted && it.UserID == userID && it.Category == cat && it.Tier == tier {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) OldestInTier(ctx context.Context, userID string, cat classifier.Category, tier memory.Tier, limit int) ([]memory.Item, error) {
	return nil, nil
}

func (f *fakeRepo) Partitions(ctx context.Context) ([]memory.Partition, error) {
	return nil, nil
}

func (f *fakeRepo) MissingEmbeddings(ctx context.Context, limit int) ([]memory.Item, error) {
	var out []memory.Item
	for _, it := range f.items {
		if !it.IsDeleted && it.Embedding == nil {
			out = append(out, *it)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) SetEmbedding(ctx context.Context, id string, embedding []float32) error {
	it, ok := f.items[id]
	if !ok {
		return memory.ErrNotFound
	}
	it.Embedding = embedding
	return nil
}

func (f *fakeRepo) Stats(ctx context.Context, userID string) (*memory.Statistics, error) {
	stats := &memory.Statistics{
		UserID:     userID,
		ByCategory: make(map[string]int),
		ByTier:     make(map[string]int),
	}
	for _, it := range f.items {
		if it.IsDeleted || it.UserID != userID {
			continue
		}
		stats.Total++
		stats.ByCategory[string(it.Category)]++
		stats.ByTier[string(it.Tier)]++
	}
	return stats, nil
}

func containsCat(cats []classifier.Category, c classifier.Category) bool {
	for _, cat := range cats {
		if cat == c {
			return true
		}
	}
	return false
}

type stubEmbedder struct {
	fail bool
}

func (s *stubEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if s.fail {
		return nil, errors.New("embedding server unavailable")
	}
	return make([]float32, 8), nil
}

type localLocker struct{}

func (localLocker) WithLock(ctx context.Context, key string, fn func() error) error {
	return fn()
}

type nopSweeper struct{}

func (nopSweeper) Tick(ctx context.Context) error { return nil }

type nopRetriever struct{}

func (nopRetriever) Retrieve(ctx context.Context, userID, query string, k int) (*retrieval.Result, error) {
	return &retrieval.Result{}, nil
}

func newTestEngine(repo *fakeRepo, embedder *stubEmbedder) *Engine {
	cls := classifier.New(classifier.DefaultConfig(), nil)
	resolver := conflict.NewResolver(conflict.DefaultConfig())
	return New(repo, cls, embedder, resolver, nopSweeper{}, nopRetriever{}, nil, localLocker{}, nil, DefaultConfig())
}

func TestAddClassifiesAndStores(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(repo, &stubEmbedder{})

	result, err := e.Add(context.Background(), "u1", "Remember to submit the quarterly report by Friday", nil)
	require.NoError(t, err)

	assert.Equal(t, classifier.CategoryTask, result.Category)
	assert.Equal(t, conflict.ActionInsertNew, result.Action)
	assert.Equal(t, memory.TierWorking, result.Item.Tier)

	stored, err := repo.Get(context.Background(), result.Item.ID)
	require.NoError(t, err)
	assert.Equal(t, classifier.CategoryTask, stored.Category)
	assert.NotNil(t, stored.Embedding)
}

func TestAddRejectsEmptyInput(t *testing.T) {
	e := newTestEngine(newFakeRepo(), &stubEmbedder{})

	_, err := e.Add(context.Background(), "u1", "", nil)
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = e.Add(context.Background(), "", "something", nil)
	assert.ErrorIs(t, err, ErrEmptyUserID)
}

func TestAddMergesDuplicate(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(repo, &stubEmbedder{})
	ctx := context.Background()

	first, err := e.Add(ctx, "u1", "meeting moved to 3pm", nil)
	require.NoError(t, err)
	require.Equal(t, conflict.ActionInsertNew, first.Action)

	second, err := e.Add(ctx, "u1", "meeting moved to 3:00 PM", nil)
	require.NoError(t, err)

	assert.Equal(t, conflict.ActionMergeInto, second.Action)
	assert.Equal(t, first.Item.ID, second.Item.ID)

	stored, err := repo.Get(ctx, first.Item.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.Content, "3pm")
}

func TestAddSupersedesContradiction(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(repo, &stubEmbedder{})
	ctx := context.Background()

	first, err := e.Add(ctx, "u1", "meeting moved to 3pm", nil)
	require.NoError(t, err)

	second, err := e.Add(ctx, "u1", "meeting moved to 4pm", nil)
	require.NoError(t, err)

	assert.Equal(t, conflict.ActionSupersede, second.Action)
	assert.Equal(t, first.Item.ID, second.Item.Metadata[memory.MetadataSupersedes])

	_, err = repo.Get(ctx, first.Item.ID)
	assert.ErrorIs(t, err, memory.ErrNotFound)

	stored, err := repo.Get(ctx, second.Item.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.Content, "4pm")
}

func TestAddUsersAreIsolated(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(repo, &stubEmbedder{})
	ctx := context.Background()

	first, err := e.Add(ctx, "u1", "meeting moved to 3pm", nil)
	require.NoError(t, err)

	// Identical content from another user must not merge across users.
	second, err := e.Add(ctx, "u2", "meeting moved to 3pm", nil)
	require.NoError(t, err)
	assert.Equal(t, conflict.ActionInsertNew, second.Action)
	assert.NotEqual(t, first.Item.ID, second.Item.ID)
}

func TestAddStoresWithoutVectorWhenEmbeddingFails(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(repo, &stubEmbedder{fail: true})

	result, err := e.Add(context.Background(), "u1", "meeting moved to 3pm", nil)
	require.NoError(t, err, "embedding failure must not fail the add")

	stored, err := repo.Get(context.Background(), result.Item.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Embedding)
}

func TestBackfillEmbeddings(t *testing.T) {
	repo := newFakeRepo()
	embedder := &stubEmbedder{fail: true}
	e := newTestEngine(repo, embedder)
	ctx := context.Background()

	result, err := e.Add(ctx, "u1", "meeting moved to 3pm", nil)
	require.NoError(t, err)

	// Service recovers, the next backfill run fills the vector.
	embedder.fail = false
	require.NoError(t, e.BackfillEmbeddings(ctx))

	stored, err := repo.Get(ctx, result.Item.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.Embedding)
}

func TestGetByCategory(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(repo, &stubEmbedder{})
	ctx := context.Background()

	_, err := e.Add(ctx, "u1", "meeting moved to 3pm", nil)
	require.NoError(t, err)
	_, err = e.Add(ctx, "u1", "I prefer dark roast coffee", nil)
	require.NoError(t, err)

	schedules, err := e.GetByCategory(ctx, "u1", "schedule", "")
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	assert.Contains(t, schedules[0].Content, "meeting")

	_, err = e.GetByCategory(ctx, "u1", "nonsense", "")
	assert.Error(t, err)

	_, err = e.GetByCategory(ctx, "u1", "schedule", "bogus_tier")
	assert.Error(t, err)
}

func TestDeleteChecksOwnership(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(repo, &stubEmbedder{})
	ctx := context.Background()

	result, err := e.Add(ctx, "u1", "meeting moved to 3pm", nil)
	require.NoError(t, err)

	err = e.Delete(ctx, "u2", result.Item.ID)
	assert.ErrorIs(t, err, memory.ErrNotFound)

	require.NoError(t, e.Delete(ctx, "u1", result.Item.ID))
	_, err = repo.Get(ctx, result.Item.ID)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestStatistics(t *testing.T) {
	repo := newFakeRepo()
	e := newTestEngine(repo, &stubEmbedder{})
	ctx := context.Background()

	_, err := e.Add(ctx, "u1", "meeting moved to 3pm", nil)
	require.NoError(t, err)
	_, err = e.Add(ctx, "u1", "I prefer dark roast coffee", nil)
	require.NoError(t, err)
	_, err = e.Add(ctx, "u2", "someone else's note that the sky is blue", nil)
	require.NoError(t, err)

	stats, err := e.Statistics(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByCategory["schedule"])
	assert.Equal(t, 1, stats.ByCategory["preference"])
	assert.Equal(t, 2, stats.ByTier["working"])
}

func TestSnippetKeepsRunesIntact(t *testing.T) {
	short := "meeting moved to 3pm"
	assert.Equal(t, short, snippet(short))

	// Three bytes per rune: byte 80 lands mid-rune, so the cut must back up
	// to a rune boundary instead of emitting a broken sequence.
	long := strings.Repeat("记", 40)
	got := snippet(long)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len(got), 83)
}

func TestBackfillLeavesFailingItemsForNextRun(t *testing.T) {
	repo := newFakeRepo()
	embedder := &stubEmbedder{fail: true}
	e := newTestEngine(repo, embedder)
	ctx := context.Background()

	_, err := e.Add(ctx, "u1", "meeting moved to 3pm", nil)
	require.NoError(t, err)
	_, err = e.Add(ctx, "u1", "I prefer dark roast coffee", nil)
	require.NoError(t, err)

	// Service still down: the run completes without error and both items
	// stay queued for the next pass.
	require.NoError(t, e.BackfillEmbeddings(ctx))

	missing, err := repo.MissingEmbeddings(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, missing, 2)
}
