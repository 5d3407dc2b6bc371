package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"voiceai-dashboard/internal/apikeys"
	"voiceai-dashboard/internal/audit"
	"voiceai-dashboard/internal/auth"
	"voiceai-dashboard/internal/billing"
	"voiceai-dashboard/internal/callcache"
	"voiceai-dashboard/internal/callfeed"
	"voiceai-dashboard/internal/callstore"
	"voiceai-dashboard/internal/pager"
	"voiceai-dashboard/internal/reporting"
	"voiceai-dashboard/internal/users"
	"voiceai-dashboard/internal/verification"
	"voiceai-dashboard/pkg/logger"
	"voiceai-dashboard/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// ErrNotConfigured is reported when a handler's dependency was not wired.
var ErrNotConfigured = errors.New("httpapi: dependency not configured")

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Store  callstore.Store
	Cache  callcache.Cache
	Pager  *pager.Fetcher
	Loader *callfeed.Loader

	Reporting    *reporting.Service
	Billing      *billing.Service
	Keys         *apikeys.Service
	Validator    *apikeys.Validator
	Verification *verification.Service
	Users        *users.Service
	Audit        *audit.Service

	Streams StreamConfig
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

// StreamConfig bounds the feeds served over HTTP: call listings and live
// call streams.
type StreamConfig struct {
	PageSize     int
	MaxRecords   int
	PollInterval time.Duration

	// Slots limits concurrent streams per tenant when set.
	Slots        redis.Scripter
	MaxPerTenant int
	SlotTTL      time.Duration

	// Shutdown ends every open stream when closed.
	Shutdown <-chan struct{}
}

func (h Handlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

// --- Identity ---

func identity(c *gin.Context) (auth.Identity, bool) {
	id, err := auth.FromContext(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return auth.Identity{}, false
	}
	return id, true
}

// Health reports ok when check passes; a nil check always passes.
func Health(check func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check != nil {
			if err := check(c.Request.Context()); err != nil {
				logger.FromGin(c).Warn("health check failed", "err", err)
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// Me echoes the verified caller.
func (h Handlers) Me(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":   id.UserID,
		"tenant_id": id.TenantID,
		"email":     id.Email,
		"role":      id.Role,
	})
}

// --- Errors ---

var badRequest = []error{
	pager.ErrInvalidCursor,
	reporting.ErrInvalidRequest,
	billing.ErrInvalidRequest,
	apikeys.ErrInvalidService,
	apikeys.ErrInvalidKey,
	apikeys.ErrInvalidOwner,
	users.ErrInvalidProfile,
	verification.ErrInvalidRequest,
	verification.ErrExpired,
	verification.ErrMismatch,
	callstore.ErrTenantRequired,
	callcache.ErrTenantRequired,
}

var notFound = []error{
	callstore.ErrNotFound,
	apikeys.ErrNotFound,
	users.ErrNotFound,
	verification.ErrNoCode,
}

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// fail maps service errors onto the API's error taxonomy.
func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, callstore.ErrUnavailable), errors.Is(err, ErrNotConfigured):
		logger.FromGin(c).Warn("dependency unavailable", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
	case isAny(err, notFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, verification.ErrTooManyAttempts):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case isAny(err, badRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to write
		c.Abort()
	default:
		logger.FromGin(c).Error("request failed", "err", err)
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "fetch failed, retry"})
	}
}

// --- Query parsing ---

func boolQuery(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}

const dateLayout = "2006-01-02"

// parseDate accepts YYYY-MM-DD or RFC 3339. A bare end date covers the
// whole day.
func parseDate(s string, end bool) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		if end {
			t = t.Add(24 * time.Hour)
		}
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func analyticsRequest(c *gin.Context, tenantID string) (reporting.Request, bool) {
	req := reporting.Request{
		TenantID: tenantID,
		AgentID:  c.Query("agent_id"),
		Fresh:    boolQuery(c, "fresh"),
	}
	if s := c.Query("start_date"); s != "" {
		t, err := parseDate(s, false)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid start_date"})
			return reporting.Request{}, false
		}
		req.Range.From = t.UTC()
	}
	if s := c.Query("end_date"); s != "" {
		t, err := parseDate(s, true)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid end_date"})
			return reporting.Request{}, false
		}
		req.Range.To = t.UTC()
	}
	return req, true
}
