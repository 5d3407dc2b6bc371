package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"voiceai-dashboard/internal/audit"
	"voiceai-dashboard/internal/callfeed"
	"voiceai-dashboard/internal/calls"
	"voiceai-dashboard/internal/pager"
	"voiceai-dashboard/pkg/logger"
	"voiceai-dashboard/pkg/utils"

	"github.com/gin-gonic/gin"
)

// ListCalls returns the tenant's calls, newest first, through a paged feed.
// Without a cursor it returns the loaded records: the cached ones when
// present, otherwise the first page. A cursor continues with the next page;
// when it is where the cached records end, the page is merged into the cache.
// Query: cursor, page_size, fresh.
func (h Handlers) ListCalls(c *gin.Context) {
	if h.Pager == nil || h.Store == nil || h.Cache == nil {
		fail(c, ErrNotConfigured)
		return
	}
	id, ok := identity(c)
	if !ok {
		return
	}
	size := 0
	if s := c.Query("page_size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid page_size"})
			return
		}
		size = n
	}
	cursor := c.Query("cursor")
	if cursor != "" {
		if _, err := pager.DecodeCursor(cursor); err != nil {
			fail(c, err)
			return
		}
	}

	ctx := c.Request.Context()
	feed := h.feed(c, id.TenantID, callfeed.ModePaged, size, cursor == "" && boolQuery(c, "fresh"))
	defer feed.Close()
	if err := feed.Start(ctx); err != nil {
		fail(c, err)
		return
	}
	snap, err := feed.WaitReady(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	if cursor == "" {
		c.JSON(http.StatusOK, pager.Page{Records: snap.Records, NextCursor: snap.NextCursor, HasMore: snap.NextCursor != ""})
		return
	}

	page, err := feed.LoadMoreAfter(ctx, cursor)
	if errors.Is(err, callfeed.ErrCursorMoved) {
		page, err = h.Pager.FetchPage(ctx, id.TenantID, cursor, size)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// feed builds a request-scoped feed; the caller closes it.
func (h Handlers) feed(c *gin.Context, tenantID string, mode callfeed.Mode, pageSize int, skipCache bool) *callfeed.Feed {
	if pageSize <= 0 {
		pageSize = h.Streams.PageSize
	}
	return callfeed.New(h.Pager, h.Store, h.Cache, callfeed.Options{
		TenantID:   tenantID,
		Mode:       mode,
		PageSize:   pageSize,
		MaxRecords: h.Streams.MaxRecords,
		SkipCache:  skipCache,
		Logger:     logger.FromGin(c),
		Metrics:    h.Metrics,
		Clock:      h.Clock,
	})
}

// GetCall returns one call. Another tenant's call is reported as not found.
func (h Handlers) GetCall(c *gin.Context) {
	if h.Store == nil {
		fail(c, ErrNotConfigured)
		return
	}
	id, ok := identity(c)
	if !ok {
		return
	}
	doc, err := h.Store.Get(c.Request.Context(), id.TenantID, c.Param("call_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, calls.MapDocument(doc, h.now()))
}

type searchResult struct {
	CallID    string                  `json:"call_id"`
	AgentName string                  `json:"agent_name,omitempty"`
	StartTime time.Time               `json:"start_time"`
	Matches   []calls.TranscriptMatch `json:"matches"`
}

// SearchCalls finds transcript lines containing q. With call_id only that
// call is searched; otherwise the tenant's recent calls are.
func (h Handlers) SearchCalls(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}

	if callID := c.Query("call_id"); callID != "" {
		if h.Store == nil {
			fail(c, ErrNotConfigured)
			return
		}
		doc, err := h.Store.Get(c.Request.Context(), id.TenantID, callID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"matches": calls.SearchTranscript(calls.MapDocument(doc, h.now()), q)})
		return
	}

	if h.Loader == nil {
		fail(c, ErrNotConfigured)
		return
	}
	records, err := h.Loader.Recent(c.Request.Context(), id.TenantID, boolQuery(c, "fresh"))
	if err != nil {
		fail(c, err)
		return
	}
	results := make([]searchResult, 0)
	for _, r := range records {
		m := calls.SearchTranscript(r, q)
		if len(m) == 0 {
			continue
		}
		results = append(results, searchResult{CallID: r.ID, AgentName: r.AgentName, StartTime: r.StartTime, Matches: m})
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// InvalidateCache drops the tenant's cached calls so the next read goes to
// the store. With reload=true the first page is read again right away and
// becomes the new cache entry.
func (h Handlers) InvalidateCache(c *gin.Context) {
	if h.Loader == nil {
		fail(c, ErrNotConfigured)
		return
	}
	id, ok := identity(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	reload := boolQuery(c, "reload")

	body := gin.H{"status": "invalidated"}
	if reload {
		if h.Pager == nil || h.Store == nil || h.Cache == nil {
			fail(c, ErrNotConfigured)
			return
		}
		feed := h.feed(c, id.TenantID, callfeed.ModePaged, 0, false)
		defer feed.Close()
		if err := feed.Refetch(ctx); err != nil {
			fail(c, err)
			return
		}
		snap := feed.Snapshot()
		body = gin.H{"status": "reloaded", "total_loaded": snap.TotalLoaded, "has_more": snap.HasMore}
	} else if err := h.Loader.Invalidate(ctx, id.TenantID); err != nil {
		fail(c, err)
		return
	}

	if h.Audit != nil {
		actor := audit.Actor{UserID: id.UserID, Role: id.Role, IP: c.ClientIP()}
		if err := h.Audit.LogCacheInvalidated(ctx, id.TenantID, actor); err != nil {
			logger.FromGin(c).Warn("audit append failed", "type", audit.EventCallsCacheInvalidated, "err", err)
		}
	}
	c.JSON(http.StatusOK, body)
}

const streamSlotPrefix = "voiceai:streams:"

// StreamCalls pushes feed snapshots as server-sent events until the client
// disconnects. mode=live follows every store change; mode=poll (default)
// refreshes the first page every PollInterval.
func (h Handlers) StreamCalls(c *gin.Context) {
	if h.Pager == nil || h.Store == nil || h.Cache == nil {
		fail(c, ErrNotConfigured)
		return
	}
	id, ok := identity(c)
	if !ok {
		return
	}
	mode := callfeed.ModePaged
	switch c.DefaultQuery("mode", "poll") {
	case "live":
		mode = callfeed.ModeLive
	case "poll":
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "mode must be 'live' or 'poll'"})
		return
	}

	ctx := c.Request.Context()
	log := logger.FromGin(c)

	if h.Streams.Slots != nil && h.Streams.MaxPerTenant > 0 {
		key := streamSlotPrefix + id.TenantID
		ttl := h.Streams.SlotTTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		got, err := utils.AcquireSlot(ctx, h.Streams.Slots, key, h.Streams.MaxPerTenant, ttl)
		if err != nil {
			log.Warn("stream slot acquire failed", "tenant_id", id.TenantID, "err", err)
		} else if !got {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many open streams"})
			return
		} else {
			defer func() {
				if err := utils.ReleaseSlot(context.WithoutCancel(ctx), h.Streams.Slots, key); err != nil {
					log.Warn("stream slot release failed", "tenant_id", id.TenantID, "err", err)
				}
			}()
		}
	}

	feed := h.feed(c, id.TenantID, mode, 0, boolQuery(c, "fresh"))
	defer feed.Close()
	if err := feed.Start(ctx); err != nil {
		fail(c, err)
		return
	}
	if mode == callfeed.ModePaged && h.Streams.PollInterval > 0 {
		go func() { _ = feed.Poll(ctx, h.Streams.PollInterval) }()
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	for {
		changed := feed.Changes()
		c.SSEvent("snapshot", feed.Snapshot())
		c.Writer.Flush()
		select {
		case <-ctx.Done():
			return
		case <-feed.Done():
			return
		case <-h.Streams.Shutdown:
			return
		case <-changed:
		}
	}
}
