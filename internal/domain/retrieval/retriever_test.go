package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallstack/recall-server/internal/domain/classifier"
	"github.com/recallstack/recall-server/internal/domain/memory"
)

type fakeSearcher struct {
	lexical    []memory.Item
	vector     []memory.Item
	wide       []memory.Item
	catsCalls  [][]classifier.Category
	lexicalErr error
}

func (f *fakeSearcher) SearchLexical(ctx context.Context, userID string, cats []classifier.Category, terms []string, limit int) ([]memory.Item, error) {
	f.catsCalls = append(f.catsCalls, cats)
	if f.lexicalErr != nil {
		return nil, f.lexicalErr
	}
	if cats == nil {
		return f.wide, nil
	}
	return f.lexical, nil
}

func (f *fakeSearcher) SearchVector(ctx context.Context, userID string, cats []classifier.Category, embedding []float32, limit int, minSimilarity float32) ([]memory.Item, error) {
	if cats == nil {
		return f.wide, nil
	}
	return f.vector, nil
}

type fakeEmbedder struct {
	fail  bool
	calls int
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("embedding server unavailable")
	}
	return make([]float32, 8), nil
}

type fakeTracker struct {
	accessed []string
}

func (f *fakeTracker) OnAccess(ctx context.Context, item *memory.Item) error {
	f.accessed = append(f.accessed, item.ID)
	return nil
}

func items(ids ...string) []memory.Item {
	out := make([]memory.Item, len(ids))
	for i, id := range ids {
		out[i] = memory.Item{ID: id, UserID: "u1", Content: "content " + id}
	}
	return out
}

func newTestRetriever(store *fakeSearcher, embedder *fakeEmbedder, tracker *fakeTracker) *Retriever {
	cls := classifier.New(classifier.DefaultConfig(), nil)
	cfg := DefaultConfig()
	cfg.EmbedTimeout = 100 * time.Millisecond
	return NewRetriever(cls, embedder, store, tracker, cfg)
}

func TestRetrieveRoutesIntentToCategories(t *testing.T) {
	store := &fakeSearcher{lexical: items("m1")}
	r := newTestRetriever(store, &fakeEmbedder{}, &fakeTracker{})

	result, err := r.Retrieve(context.Background(), "u1", "where is the retry helper function", 5)
	require.NoError(t, err)

	assert.Equal(t, classifier.IntentLocateCode, result.Intent)
	require.NotNil(t, result.Categories)
	assert.Contains(t, result.Categories, classifier.CategoryCode)
	require.NotEmpty(t, store.catsCalls)
	assert.Contains(t, store.catsCalls[0], classifier.CategoryCode)
}

func TestRetrieveFusesBothChannels(t *testing.T) {
	store := &fakeSearcher{
		lexical: items("a", "b"),
		vector:  items("b", "c"),
	}
	tracker := &fakeTracker{}
	r := newTestRetriever(store, &fakeEmbedder{}, tracker)

	result, err := r.Retrieve(context.Background(), "u1", "what do i need to do before the standup", 5)
	require.NoError(t, err)
	require.Len(t, result.Items, 3)

	// b appears in both lists, so fusion ranks it first.
	assert.Equal(t, "b", result.Items[0].ID)
	assert.False(t, result.Degraded)
	assert.Len(t, tracker.accessed, 3)
}

func TestRetrieveDegradesWhenEmbeddingFails(t *testing.T) {
	store := &fakeSearcher{lexical: items("m1", "m2")}
	r := newTestRetriever(store, &fakeEmbedder{fail: true}, &fakeTracker{})

	result, err := r.Retrieve(context.Background(), "u1", "find the quarterly report document from tuesday", 5)
	require.NoError(t, err, "embedding failure must not fail the retrieval")

	assert.True(t, result.Degraded)
	assert.Len(t, result.Items, 2)
}

func TestRetrieveWidensThinResults(t *testing.T) {
	store := &fakeSearcher{
		lexical: nil,
		vector:  nil,
		wide:    items("w1", "w2"),
	}
	r := newTestRetriever(store, &fakeEmbedder{}, &fakeTracker{})

	result, err := r.Retrieve(context.Background(), "u1", "where is the config loader function", 5)
	require.NoError(t, err)

	assert.Len(t, result.Items, 2)
	assert.Equal(t, classifier.IntentLocateCode, result.Intent)
}

func TestRetrieveTruncatesToK(t *testing.T) {
	store := &fakeSearcher{lexical: items("a", "b", "c", "d", "e")}
	r := newTestRetriever(store, &fakeEmbedder{}, &fakeTracker{})

	result, err := r.Retrieve(context.Background(), "u1", "what do i need to do for the grocery run", 2)
	require.NoError(t, err)
	assert.Len(t, result.Items, 2)
}

func TestRetrieveGeneralSearchHitsAllCategories(t *testing.T) {
	store := &fakeSearcher{wide: items("w1")}
	r := newTestRetriever(store, &fakeEmbedder{}, &fakeTracker{})

	result, err := r.Retrieve(context.Background(), "u1", "hmm", 5)
	require.NoError(t, err)
	assert.Equal(t, classifier.IntentGeneralSearch, result.Intent)
	assert.Nil(t, result.Categories)
}

func TestExtractTerms(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"where did I put the auth middleware", []string{"put", "auth", "middleware"}},
		{"What was the wifi password?", []string{"wifi", "password"}},
		{"会议 改到 下午", []string{"会议", "改到", "下午"}},
		{"标准 standup notes", []string{"标准", "standup", "notes"}},
		{"", nil},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractTerms(tt.query), "query: %s", tt.query)
	}
}

func TestFuseDeduplicates(t *testing.T) {
	a := items("x", "y")
	b := items("y", "z")

	fused := fuse(a, b)
	require.Len(t, fused, 3)
	assert.Equal(t, "y", fused[0].ID)
}

func TestFusePrefersSimilarityCopy(t *testing.T) {
	lex := items("x")
	vec := items("x")
	vec[0].Similarity = 0.93

	fused := fuse(vec, lex)
	require.Len(t, fused, 1)
	assert.InDelta(t, 0.93, fused[0].Similarity, 1e-6)
}
