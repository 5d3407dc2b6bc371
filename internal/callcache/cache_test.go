package callcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"voiceai-dashboard/internal/calls"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func rec(id string) calls.Record {
	return calls.Record{
		ID:        id,
		Status:    calls.StatusEnded,
		Direction: calls.DirectionInbound,
		CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		StartTime: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2026, 3, 1, 0, 2, 0, 0, time.UTC),
	}
}

// backends runs the shared contract against both implementations.
func backends(t *testing.T, clock *fakeClock) map[string]Cache {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	rc, err := NewRedisCache(RedisConfig{Client: rdb, TTL: DefaultTTL, Clock: clock.Now})
	require.NoError(t, err)

	return map[string]Cache{
		"memory": NewMemoryCache(MemoryConfig{TTL: DefaultTTL, Clock: clock.Now}),
		"redis":  rc,
	}
}

func TestCache_SetGetWithinTTLThenExpire(t *testing.T) {
	for name := range backends(t, newClock()) {
		t.Run(name, func(t *testing.T) {
			clock := newClock()
			c := backends(t, clock)[name]
			ctx := context.Background()

			want := Entry{Records: []calls.Record{rec("r1"), rec("r2")}}
			require.NoError(t, c.Set(ctx, "t1", want))

			clock.Advance(4 * time.Minute)
			got, ok, err := c.Get(ctx, "t1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []string{"r1", "r2"}, idsOf(got.Records))

			clock.Advance(2 * time.Minute)
			_, ok, err = c.Get(ctx, "t1")
			require.NoError(t, err)
			assert.False(t, ok)

			// expired entries are cleared, not merely hidden
			clock.Advance(-2 * time.Minute)
			_, ok, err = c.Get(ctx, "t1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestCache_OtherTenantMisses(t *testing.T) {
	for name, c := range backends(t, newClock()) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, c.Set(ctx, "t1", Entry{Records: []calls.Record{rec("r1")}}))

			_, ok, err := c.Get(ctx, "t2")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestCache_Staleness(t *testing.T) {
	for name := range backends(t, newClock()) {
		t.Run(name, func(t *testing.T) {
			clock := newClock()
			c := backends(t, clock)[name]
			ctx := context.Background()

			stale, err := c.IsStale(ctx, "t1")
			require.NoError(t, err)
			assert.True(t, stale, "missing entry is stale")

			require.NoError(t, c.Set(ctx, "t1", Entry{Records: []calls.Record{rec("r1")}}))
			stale, err = c.IsStale(ctx, "t1")
			require.NoError(t, err)
			assert.False(t, stale)

			clock.Advance(DefaultTTL/2 + time.Second)
			stale, err = c.IsStale(ctx, "t1")
			require.NoError(t, err)
			assert.True(t, stale)

			_, ok, err := c.Get(ctx, "t1")
			require.NoError(t, err)
			assert.True(t, ok, "stale entries are still served")
		})
	}
}

func TestCache_SetAtRejectsOlderFetch(t *testing.T) {
	for name := range backends(t, newClock()) {
		t.Run(name, func(t *testing.T) {
			clock := newClock()
			c := backends(t, clock)[name]
			ctx := context.Background()

			newer := clock.Now()
			older := newer.Add(-10 * time.Second)

			applied, err := c.SetAt(ctx, "t1", Entry{Records: []calls.Record{rec("new")}}, newer)
			require.NoError(t, err)
			assert.True(t, applied)

			applied, err = c.SetAt(ctx, "t1", Entry{Records: []calls.Record{rec("old")}}, older)
			require.NoError(t, err)
			assert.False(t, applied)

			got, ok, err := c.Get(ctx, "t1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []string{"new"}, idsOf(got.Records))
		})
	}
}

func TestCache_KeepsNextCursor(t *testing.T) {
	for name, c := range backends(t, newClock()) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			partial := Entry{Records: []calls.Record{rec("r1")}, NextCursor: "after-r1"}
			applied, err := c.SetAt(ctx, "t1", partial, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
			require.NoError(t, err)
			require.True(t, applied)

			got, ok, err := c.Get(ctx, "t1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "after-r1", got.NextCursor)
			assert.False(t, got.Covers(5))
			assert.True(t, got.Covers(1))

			require.NoError(t, c.Set(ctx, "t1", Entry{Records: []calls.Record{rec("r1")}}))
			got, _, err = c.Get(ctx, "t1")
			require.NoError(t, err)
			assert.Empty(t, got.NextCursor)
			assert.True(t, got.Covers(500), "an exhausted read covers any limit")
		})
	}
}

func TestCache_Invalidate(t *testing.T) {
	for name, c := range backends(t, newClock()) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, c.Set(ctx, "t1", Entry{Records: []calls.Record{rec("r1")}}))
			require.NoError(t, c.Invalidate(ctx, "t1"))

			_, ok, err := c.Get(ctx, "t1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestMemoryCache_SingleSlotEvicts(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{MaxTenants: 1})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", Entry{Records: []calls.Record{rec("r1")}}))
	require.NoError(t, c.Set(ctx, "b", Entry{Records: []calls.Record{rec("r2")}}))

	_, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	got, ok, err := c.Get(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"r2"}, idsOf(got.Records))
}

func TestMemoryCache_ReturnsCopies(t *testing.T) {
	c := NewMemoryCache(MemoryConfig{})
	ctx := context.Background()
	in := []calls.Record{rec("r1")}
	require.NoError(t, c.Set(ctx, "t", Entry{Records: in}))
	in[0].ID = "mutated"

	got, _, err := c.Get(ctx, "t")
	require.NoError(t, err)
	got.Records[0].ID = "mutated-again"

	again, _, err := c.Get(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, "r1", again.Records[0].ID)
}

func TestCache_RequiresTenant(t *testing.T) {
	for name, c := range backends(t, newClock()) {
		t.Run(name, func(t *testing.T) {
			_, _, err := c.Get(context.Background(), "")
			assert.ErrorIs(t, err, ErrTenantRequired)
		})
	}
}

func idsOf(rs []calls.Record) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}
