package callcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"voiceai-dashboard/internal/calls"
	"voiceai-dashboard/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Client    redis.UniversalClient
	TTL       time.Duration
	KeyPrefix string
	Clock     func() time.Time
	Metrics   *metrics.Metrics
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.TTL <= 0 {
		out.TTL = DefaultTTL
	}
	if out.KeyPrefix == "" {
		out.KeyPrefix = "voiceai:calls:"
	}
	if out.Clock == nil {
		out.Clock = time.Now
	}
	return out
}

// RedisCache stores one hash per tenant: fetched_at (unix ms), records (JSON)
// and next_cursor.
// Redis expiry only reclaims memory; validity is decided against Clock.
type RedisCache struct {
	cfg RedisConfig
}

func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	if cfg.Client == nil {
		return nil, errors.New("callcache: redis client is nil")
	}
	return &RedisCache{cfg: cfg.withDefaults()}, nil
}

const (
	fieldFetchedAt  = "fetched_at"
	fieldRecords    = "records"
	fieldNextCursor = "next_cursor"
)

var setIfNewerScript = redis.NewScript(`
-- KEYS[1] = entry key
-- ARGV[1] = fetched_at (unix ms)
-- ARGV[2] = records JSON
-- ARGV[3] = ttl_ms
-- ARGV[4] = next cursor
local cur = redis.call('HGET', KEYS[1], 'fetched_at')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'fetched_at', ARGV[1], 'records', ARGV[2], 'next_cursor', ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

func (c *RedisCache) key(tenantID string) string {
	return c.cfg.KeyPrefix + tenantID
}

func (c *RedisCache) Get(ctx context.Context, tenantID string) (Entry, bool, error) {
	if tenantID == "" {
		return Entry{}, false, ErrTenantRequired
	}
	vals, err := c.cfg.Client.HGetAll(ctx, c.key(tenantID)).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("callcache: get: %w", err)
	}
	fetchedAt, ok := parseMillis(vals[fieldFetchedAt])
	if !ok {
		c.cfg.Metrics.CacheLookup("redis", resultMiss)
		return Entry{}, false, nil
	}

	valid, stale := classify(c.cfg.Clock().Sub(fetchedAt), c.cfg.TTL)
	if !valid {
		c.cfg.Metrics.CacheLookup("redis", resultMiss)
		if err := c.cfg.Client.Del(ctx, c.key(tenantID)).Err(); err != nil {
			return Entry{}, false, fmt.Errorf("callcache: clear expired: %w", err)
		}
		return Entry{}, false, nil
	}

	var records []calls.Record
	if err := json.Unmarshal([]byte(vals[fieldRecords]), &records); err != nil {
		// A corrupt entry behaves like a miss.
		c.cfg.Metrics.CacheLookup("redis", resultMiss)
		_ = c.cfg.Client.Del(ctx, c.key(tenantID)).Err()
		return Entry{}, false, nil
	}
	if stale {
		c.cfg.Metrics.CacheLookup("redis", resultStale)
	} else {
		c.cfg.Metrics.CacheLookup("redis", resultHit)
	}
	return Entry{Records: records, NextCursor: vals[fieldNextCursor]}, true, nil
}

func (c *RedisCache) Set(ctx context.Context, tenantID string, e Entry) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	raw, err := encode(e.Records)
	if err != nil {
		return err
	}
	key := c.key(tenantID)
	_, err = c.cfg.Client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, fieldFetchedAt, c.cfg.Clock().UnixMilli(), fieldRecords, raw, fieldNextCursor, e.NextCursor)
		p.PExpire(ctx, key, c.cfg.TTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("callcache: set: %w", err)
	}
	return nil
}

func (c *RedisCache) SetAt(ctx context.Context, tenantID string, e Entry, fetchedAt time.Time) (bool, error) {
	if tenantID == "" {
		return false, ErrTenantRequired
	}
	raw, err := encode(e.Records)
	if err != nil {
		return false, err
	}
	res, err := setIfNewerScript.Run(ctx, c.cfg.Client, []string{c.key(tenantID)},
		fetchedAt.UnixMilli(), raw, c.cfg.TTL.Milliseconds(), e.NextCursor).Int()
	if err != nil {
		return false, fmt.Errorf("callcache: set: %w", err)
	}
	return res == 1, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, tenantID string) error {
	if err := c.cfg.Client.Del(ctx, c.key(tenantID)).Err(); err != nil {
		return fmt.Errorf("callcache: invalidate: %w", err)
	}
	return nil
}

func (c *RedisCache) IsStale(ctx context.Context, tenantID string) (bool, error) {
	v, err := c.cfg.Client.HGet(ctx, c.key(tenantID), fieldFetchedAt).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("callcache: stale check: %w", err)
	}
	fetchedAt, ok := parseMillis(v)
	if !ok {
		return true, nil
	}
	_, stale := classify(c.cfg.Clock().Sub(fetchedAt), c.cfg.TTL)
	return stale, nil
}

func encode(records []calls.Record) (string, error) {
	if records == nil {
		records = []calls.Record{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("callcache: encode: %w", err)
	}
	return string(raw), nil
}

func parseMillis(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
