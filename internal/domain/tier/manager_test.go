package tier

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallstack/recall-server/internal/domain/classifier"
	"github.com/recallstack/recall-server/internal/domain/memory"
)

type fakeStore struct {
	items map[string]*memory.Item
	now   time.Time

	// stale, when set, is what Partitions reports instead of live counts.
	stale []memory.Partition
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items: make(map[string]*memory.Item),
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) add(id string, tier memory.Tier, lastAccess time.Time) *memory.Item {
	it := &memory.Item{
		ID:             id,
		UserID:         "u1",
		Category:       classifier.CategoryFact,
		Tier:           tier,
		LastAccessedAt: lastAccess,
		WindowStart:    lastAccess,
	}
	f.items[id] = it
	return it
}

func (f *fakeStore) Touch(ctx context.Context, id string, window time.Duration) (*memory.Item, error) {
	it, ok := f.items[id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	if f.now.Sub(it.WindowStart) > window {
		it.WindowStart = f.now
		it.WindowCount = 0
	}
	it.WindowCount++
	it.AccessCount++
	it.LastAccessedAt = f.now
	copied := *it
	return &copied, nil
}

func (f *fakeStore) SetTier(ctx context.Context, id string, tier memory.Tier) error {
	it, ok := f.items[id]
	if !ok {
		return memory.ErrNotFound
	}
	it.Tier = tier
	it.WindowStart = f.now
	it.WindowCount = 0
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	if _, ok := f.items[id]; !ok {
		return memory.ErrNotFound
	}
	delete(f.items, id)
	return nil
}

func (f *fakeStore) CountTier(ctx context.Context, userID string, category classifier.Category, tier memory.Tier) (int, error) {
	n := 0
	for _, it := range f.items {
		if it.UserID == userID && it.Category == category && it.Tier == tier {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) OldestInTier(ctx context.Context, userID string, category classifier.Category, tier memory.Tier, limit int) ([]memory.Item, error) {
	var out []memory.Item
	for _, it := range f.items {
		if it.UserID == userID && it.Category == category && it.Tier == tier {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastAccessedAt.Before(out[j].LastAccessedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) Partitions(ctx context.Context) ([]memory.Partition, error) {
	if f.stale != nil {
		return f.stale, nil
	}
	counts := make(map[memory.Partition]int)
	for _, it := range f.items {
		key := memory.Partition{UserID: it.UserID, Category: it.Category, Tier: it.Tier}
		counts[key]++
	}
	var out []memory.Partition
	for key, n := range counts {
		key.Count = n
		out = append(out, key)
	}
	return out, nil
}

func testManager(store *fakeStore, cfg Config) *Manager {
	m := NewManager(store, cfg, nil)
	m.now = func() time.Time { return store.now }
	return m
}

func TestOnAccessPromotesAfterThreshold(t *testing.T) {
	store := newFakeStore()
	it := store.add("m1", memory.TierWorking, store.now)
	m := testManager(store, DefaultConfig())

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		require.NoError(t, m.OnAccess(ctx, it))
		assert.Equal(t, memory.TierWorking, it.Tier)
	}

	require.NoError(t, m.OnAccess(ctx, it))
	assert.Equal(t, memory.TierShortTerm, it.Tier)
	assert.Equal(t, memory.TierShortTerm, store.items["m1"].Tier)
}

func TestOnAccessNeverSkipsTiers(t *testing.T) {
	store := newFakeStore()
	it := store.add("m1", memory.TierWorking, store.now)
	cfg := DefaultConfig()
	cfg.WorkingPromoteAfter = 1
	cfg.ShortTermPromoteAfter = 2
	m := testManager(store, cfg)

	ctx := context.Background()
	require.NoError(t, m.OnAccess(ctx, it))
	assert.Equal(t, memory.TierShortTerm, it.Tier)

	// Promotion resets the window, so the next access starts a new count.
	require.NoError(t, m.OnAccess(ctx, it))
	assert.Equal(t, memory.TierShortTerm, it.Tier)

	require.NoError(t, m.OnAccess(ctx, it))
	assert.Equal(t, memory.TierLongTerm, it.Tier)
}

func TestOnAccessWindowExpiryResetsCount(t *testing.T) {
	store := newFakeStore()
	it := store.add("m1", memory.TierWorking, store.now)
	m := testManager(store, DefaultConfig())

	ctx := context.Background()
	require.NoError(t, m.OnAccess(ctx, it))
	require.NoError(t, m.OnAccess(ctx, it))

	// Two accesses, then a gap longer than the window: the stale count must
	// not carry over.
	store.now = store.now.Add(73 * time.Hour)
	require.NoError(t, m.OnAccess(ctx, it))
	assert.Equal(t, memory.TierWorking, it.Tier)
	assert.Equal(t, 1, it.WindowCount)
}

func TestOnAccessLongTermStaysPut(t *testing.T) {
	store := newFakeStore()
	it := store.add("m1", memory.TierLongTerm, store.now)
	m := testManager(store, DefaultConfig())

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, m.OnAccess(ctx, it))
	}
	assert.Equal(t, memory.TierLongTerm, it.Tier)
}

func TestTickEvictsLRUOverCapacity(t *testing.T) {
	store := newFakeStore()
	cfg := DefaultConfig()
	cfg.WorkingCapacity = 3
	m := testManager(store, cfg)

	for i := 0; i < 5; i++ {
		store.add(fmt.Sprintf("m%d", i), memory.TierWorking, store.now.Add(time.Duration(i)*time.Minute))
	}

	require.NoError(t, m.Tick(context.Background()))

	assert.Len(t, store.items, 3)
	assert.NotContains(t, store.items, "m0")
	assert.NotContains(t, store.items, "m1")
	assert.Contains(t, store.items, "m4")
}

func TestTickRechecksLiveCountBeforeEvicting(t *testing.T) {
	store := newFakeStore()
	cfg := DefaultConfig()
	cfg.WorkingCapacity = 3
	m := testManager(store, cfg)

	for i := 0; i < 3; i++ {
		store.add(fmt.Sprintf("m%d", i), memory.TierWorking, store.now.Add(time.Duration(i)*time.Minute))
	}
	// The listing claims five items, as if two were deleted after the
	// snapshot was taken. The live count is at capacity, so nothing may go.
	store.stale = []memory.Partition{{
		UserID:   "u1",
		Category: classifier.CategoryFact,
		Tier:     memory.TierWorking,
		Count:    5,
	}}

	require.NoError(t, m.Tick(context.Background()))
	assert.Len(t, store.items, 3)
}

func TestTickEvictsStaleWorkingItems(t *testing.T) {
	store := newFakeStore()
	m := testManager(store, DefaultConfig())

	store.add("stale", memory.TierWorking, store.now.Add(-15*24*time.Hour))
	store.add("fresh", memory.TierWorking, store.now.Add(-time.Hour))

	require.NoError(t, m.Tick(context.Background()))

	assert.NotContains(t, store.items, "stale")
	assert.Contains(t, store.items, "fresh")
}

func TestTickLeavesLongTermUncapped(t *testing.T) {
	store := newFakeStore()
	cfg := DefaultConfig()
	cfg.WorkingCapacity = 1
	cfg.ShortTermCapacity = 1
	m := testManager(store, cfg)

	for i := 0; i < 10; i++ {
		store.add(fmt.Sprintf("m%d", i), memory.TierLongTerm, store.now.Add(-30*24*time.Hour))
	}

	require.NoError(t, m.Tick(context.Background()))
	assert.Len(t, store.items, 10)
}

func TestTickEmptyStoreIsNoOp(t *testing.T) {
	store := newFakeStore()
	m := testManager(store, DefaultConfig())
	require.NoError(t, m.Tick(context.Background()))
	assert.Empty(t, store.items)
}
