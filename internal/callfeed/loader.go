package callfeed

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"voiceai-dashboard/internal/callcache"
	"voiceai-dashboard/internal/calls"
	"voiceai-dashboard/pkg/logger"

	"golang.org/x/sync/singleflight"
)

type LoaderConfig struct {
	Fetcher    PageFetcher
	Cache      callcache.Cache
	PageSize   int
	MaxRecords int
	// FetchTimeout bounds a shared fetch; it is detached from any single
	// caller so one cancelled request does not fail the others.
	FetchTimeout time.Duration
	Clock        func() time.Time
	Logger       *slog.Logger
}

// Loader serves "the tenant's recent calls" to request handlers: cached when
// possible, otherwise read from the store with concurrent callers for the
// same tenant sharing one fetch.
type Loader struct {
	cfg   LoaderConfig
	log   *slog.Logger
	group singleflight.Group
}

func NewLoader(cfg LoaderConfig) *Loader {
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = 500
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Loader{cfg: cfg, log: logger.OrDefault(cfg.Logger)}
}

// Recent returns up to MaxRecords of the tenant's newest records. With
// fresh=false a cached entry is returned as is, and a stale one triggers a
// background refresh. An entry holding fewer records than MaxRecords while
// the store had more, such as a feed's first page, is treated as a miss.
func (l *Loader) Recent(ctx context.Context, tenantID string, fresh bool) ([]calls.Record, error) {
	if !fresh {
		entry, ok, err := l.cfg.Cache.Get(ctx, tenantID)
		if err != nil {
			l.log.Warn("calls cache read failed", "tenant_id", tenantID, "err", err)
		}
		if ok && entry.Covers(l.cfg.MaxRecords) {
			if stale, err := l.cfg.Cache.IsStale(ctx, tenantID); err == nil && stale {
				l.group.DoChan(tenantID, func() (any, error) {
					return l.load(ctx, tenantID)
				})
			}
			if len(entry.Records) > l.cfg.MaxRecords {
				entry.Records = entry.Records[:l.cfg.MaxRecords]
			}
			return entry.Records, nil
		}
	}

	ch := l.group.DoChan(tenantID, func() (any, error) {
		return l.load(ctx, tenantID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]calls.Record)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops the tenant's cached records.
func (l *Loader) Invalidate(ctx context.Context, tenantID string) error {
	return l.cfg.Cache.Invalidate(ctx, tenantID)
}

func (l *Loader) load(ctx context.Context, tenantID string) ([]calls.Record, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.FetchTimeout)
	defer cancel()

	fetchedAt := l.cfg.Clock()
	page, err := l.cfg.Fetcher.FetchAll(ctx, tenantID, l.cfg.PageSize, l.cfg.MaxRecords)
	if err != nil {
		l.log.Error("calls fetch failed", "tenant_id", tenantID, "err", err)
		return nil, err
	}
	entry := callcache.Entry{Records: page.Records, NextCursor: page.NextCursor}
	if _, err := l.cfg.Cache.SetAt(ctx, tenantID, entry, fetchedAt); err != nil {
		l.log.Warn("calls cache write failed", "tenant_id", tenantID, "err", err)
	}
	return page.Records, nil
}
