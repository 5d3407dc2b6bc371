// Package pager reads a tenant's call records page by page in
// (created_at DESC, id DESC) order using opaque keyset cursors.
//
// Each page is requested with one extra row so HasMore is exact: a
// collection whose size is a multiple of the page size does not cost an
// extra empty round-trip. Pages fetched with advancing cursors never overlap;
// there is no snapshot across pages, so a record written between two page
// fetches may be missed at the boundary.
package pager

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"voiceai-dashboard/internal/calls"
	"voiceai-dashboard/internal/callstore"
	"voiceai-dashboard/pkg/metrics"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 500
)

var ErrInvalidCursor = errors.New("pager: invalid cursor")

type Page struct {
	Records    []calls.Record `json:"records"`
	NextCursor string         `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
}

type Config struct {
	Store   callstore.Store
	Clock   func() time.Time
	Metrics *metrics.Metrics
}

type Fetcher struct {
	store   callstore.Store
	clock   func() time.Time
	metrics *metrics.Metrics
}

func New(cfg Config) *Fetcher {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Fetcher{store: cfg.Store, clock: clock, metrics: cfg.Metrics}
}

// FetchPage returns up to pageSize records after cursor ("" starts at the
// newest record). pageSize is clamped to [1, MaxPageSize]; 0 means default.
func (f *Fetcher) FetchPage(ctx context.Context, tenantID, cursor string, pageSize int) (Page, error) {
	if tenantID == "" {
		return Page{}, callstore.ErrTenantRequired
	}
	pageSize = ClampPageSize(pageSize)

	q := callstore.Query{TenantID: tenantID, Limit: pageSize + 1}
	if cursor != "" {
		c, err := DecodeCursor(cursor)
		if err != nil {
			return Page{}, err
		}
		q.After = &c
	}

	start := time.Now()
	docs, err := f.store.Query(ctx, q)
	f.metrics.StoreQuery(start, err)
	if err != nil {
		return Page{}, fmt.Errorf("pager: fetch page: %w", err)
	}

	hasMore := len(docs) > pageSize
	if hasMore {
		docs = docs[:pageSize]
	}

	now := f.clock()
	page := Page{Records: make([]calls.Record, 0, len(docs)), HasMore: hasMore}
	for _, d := range docs {
		page.Records = append(page.Records, calls.MapDocument(d, now))
	}
	if hasMore {
		page.NextCursor = EncodeCursor(callstore.CursorOf(docs[len(docs)-1]))
	}
	return page, nil
}

// FetchAll pages through the tenant's records until the collection is
// exhausted or limit records were read. limit <= 0 means no cap. The
// returned page holds every record read; its cursor continues after them.
func (f *Fetcher) FetchAll(ctx context.Context, tenantID string, pageSize, limit int) (Page, error) {
	out := Page{Records: make([]calls.Record, 0)}
	cursor := ""
	for {
		size := ClampPageSize(pageSize)
		if limit > 0 && limit-len(out.Records) < size {
			size = limit - len(out.Records)
		}
		page, err := f.FetchPage(ctx, tenantID, cursor, size)
		if err != nil {
			return Page{}, err
		}
		out.Records = append(out.Records, page.Records...)
		out.HasMore = page.HasMore && len(page.Records) > 0
		out.NextCursor = ""
		if out.HasMore {
			out.NextCursor = page.NextCursor
		}
		if !out.HasMore || (limit > 0 && len(out.Records) >= limit) {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

func ClampPageSize(n int) int {
	switch {
	case n <= 0:
		return DefaultPageSize
	case n > MaxPageSize:
		return MaxPageSize
	}
	return n
}

// EncodeCursor renders c as an opaque URL-safe token.
func EncodeCursor(c callstore.Cursor) string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(s string) (callstore.Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return callstore.Cursor{}, ErrInvalidCursor
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return callstore.Cursor{}, ErrInvalidCursor
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return callstore.Cursor{}, ErrInvalidCursor
	}
	return callstore.Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}
