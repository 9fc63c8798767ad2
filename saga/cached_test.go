package saga

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tsukikage7/transit-checkout/cache"
)

// countingStore 记录 Get 调用次数.
type countingStore struct {
	Store
	gets int
}

func (c *countingStore) Get(ctx context.Context, id string) (*Saga, error) {
	c.gets++
	return c.Store.Get(ctx, id)
}

func TestCachedStore_ReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{Store: NewMemoryStore()}
	c := cache.NewMemoryCache(nil, nil)
	defer c.Close()
	store := NewCachedStore(inner, c, WithCacheTTL(time.Minute), WithCachePrefix("test:"))

	_, err := store.Create(ctx, New("s-1", "u-1", "c-1", validRequest(), time.Now(), time.Minute))
	require.NoError(t, err)

	first, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	second, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.gets)
	assert.Equal(t, first.Status, second.Status)
	assert.Len(t, second.Data.Request.Items, 2)

	exists, err := c.Exists(ctx, "test:s-1")
	require.NoError(t, err)
	assert.True(t, exists)

	first.Status = StatusInProgress
	first.UpdatedAt = time.Now()
	_, err = store.Update(ctx, first, first.Version)
	require.NoError(t, err)

	exists, err = c.Exists(ctx, "test:s-1")
	require.NoError(t, err)
	assert.False(t, exists)

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 2, inner.gets)
}

func TestCachedStore_CorruptEntryFallsBack(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(nil, nil)
	defer c.Close()
	store := NewCachedStore(NewMemoryStore(), c)

	_, err := store.Create(ctx, New("s-1", "u-1", "c-1", nil, time.Now(), time.Minute))
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "saga:s-1", "{broken", time.Minute))

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", got.ID)
}

func TestDurable_UnwrapsCache(t *testing.T) {
	c := cache.NewMemoryCache(nil, nil)
	defer c.Close()
	inner := NewMemoryStore()

	assert.Same(t, inner, Durable(NewCachedStore(inner, c)).(*MemoryStore))
	assert.Same(t, inner, Durable(inner).(*MemoryStore))
}
