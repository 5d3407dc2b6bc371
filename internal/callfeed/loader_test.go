package callfeed

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"voiceai-dashboard/internal/callcache"
	"voiceai-dashboard/internal/calls"
	"voiceai-dashboard/internal/callstore"
	"voiceai-dashboard/internal/pager"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingAll struct {
	PageFetcher
	count   atomic.Int32
	release chan struct{}
}

func (b *blockingAll) FetchAll(ctx context.Context, tenantID string, pageSize, limit int) (pager.Page, error) {
	b.count.Add(1)
	<-b.release
	return b.PageFetcher.FetchAll(ctx, tenantID, pageSize, limit)
}

func TestLoader_ConcurrentCallersShareOneFetch(t *testing.T) {
	store := callstore.NewMemoryStore()
	seed(store, "t1", 0, 3)
	b := &blockingAll{PageFetcher: pager.New(pager.Config{Store: store}), release: make(chan struct{})}
	l := NewLoader(LoaderConfig{Fetcher: b, Cache: callcache.NewMemoryCache(callcache.MemoryConfig{})})

	var wg sync.WaitGroup
	results := make([][]calls.Record, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			recs, err := l.Recent(context.Background(), "t1", true)
			assert.NoError(t, err)
			results[i] = recs
		}(i)
	}

	require.Eventually(t, func() bool { return b.count.Load() == 1 }, time.Second, time.Millisecond)
	// give the remaining callers time to join the in-flight fetch
	time.Sleep(50 * time.Millisecond)
	close(b.release)
	wg.Wait()

	assert.Equal(t, int32(1), b.count.Load())
	for _, r := range results {
		assert.Len(t, r, 3)
	}
}

func TestLoader_UsesCacheUnlessFresh(t *testing.T) {
	store := callstore.NewMemoryStore()
	seed(store, "t1", 0, 2)
	cache := callcache.NewMemoryCache(callcache.MemoryConfig{})
	l := NewLoader(LoaderConfig{Fetcher: pager.New(pager.Config{Store: store}), Cache: cache})
	ctx := context.Background()

	recs, err := l.Recent(ctx, "t1", false)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	seed(store, "t1", 2, 1)
	recs, err = l.Recent(ctx, "t1", false)
	require.NoError(t, err)
	assert.Len(t, recs, 2, "served from cache")

	recs, err = l.Recent(ctx, "t1", true)
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	require.NoError(t, l.Invalidate(ctx, "t1"))
	_, ok, err := cache.Get(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoader_PartialFeedEntryIsAMiss(t *testing.T) {
	store := callstore.NewMemoryStore()
	seed(store, "t1", 0, 10)
	cache := callcache.NewMemoryCache(callcache.MemoryConfig{})
	fetcher := pager.New(pager.Config{Store: store})
	ctx := context.Background()

	f := New(fetcher, store, cache, Options{TenantID: "t1", PageSize: 3})
	t.Cleanup(f.Close)
	require.NoError(t, f.Start(ctx))
	_, err := f.WaitReady(ctx)
	require.NoError(t, err)
	f.Close()

	entry, ok, err := cache.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, entry.Records, 3)

	l := NewLoader(LoaderConfig{Fetcher: fetcher, Cache: cache, MaxRecords: 500})
	recs, err := l.Recent(ctx, "t1", false)
	require.NoError(t, err)
	assert.Len(t, recs, 10, "a first page must not stand in for the full read")

	entry, _, err = cache.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, entry.Records, 10)
	assert.Empty(t, entry.NextCursor)

	// a capped but complete-for-the-limit entry is served
	small := NewLoader(LoaderConfig{Fetcher: fetcher, Cache: cache, MaxRecords: 4})
	recs, err = small.Recent(ctx, "t1", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"c09", "c08", "c07", "c06"}, ids(recs))
}

func TestLoader_PropagatesStoreErrors(t *testing.T) {
	store := callstore.NewMemoryStore()
	store.SetUnavailable(true)
	l := NewLoader(LoaderConfig{Fetcher: pager.New(pager.Config{Store: store}), Cache: callcache.NewMemoryCache(callcache.MemoryConfig{})})

	_, err := l.Recent(context.Background(), "t1", false)
	assert.ErrorIs(t, err, callstore.ErrUnavailable)
}
