package httpapi

import (
	"net/http"
	"strconv"

	"voiceai-dashboard/internal/reporting"

	"github.com/gin-gonic/gin"
)

// --- Dashboard ---

func (h Handlers) Agents(c *gin.Context) {
	if h.Reporting == nil {
		fail(c, ErrNotConfigured)
		return
	}
	id, ok := identity(c)
	if !ok {
		return
	}
	agents, err := h.Reporting.Agents(c.Request.Context(), id.TenantID, boolQuery(c, "fresh"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

func (h Handlers) Overview(c *gin.Context) {
	if h.Reporting == nil {
		fail(c, ErrNotConfigured)
		return
	}
	id, ok := identity(c)
	if !ok {
		return
	}
	ov, err := h.Reporting.Overview(c.Request.Context(), id.TenantID, boolQuery(c, "fresh"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ov)
}

// --- Analytics ---
// Query: start_date, end_date (YYYY-MM-DD or RFC 3339), agent_id, fresh.

// analytics runs fn for the caller's tenant and writes its result.
func analytics[T any](h Handlers, c *gin.Context, fn func(reporting.Request) (T, error)) {
	if h.Reporting == nil {
		fail(c, ErrNotConfigured)
		return
	}
	id, ok := identity(c)
	if !ok {
		return
	}
	req, ok := analyticsRequest(c, id.TenantID)
	if !ok {
		return
	}
	out, err := fn(req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) Volume(c *gin.Context) {
	analytics(h, c, func(req reporting.Request) (reporting.VolumeSeries, error) {
		return h.Reporting.Volume(c.Request.Context(), req)
	})
}

func (h Handlers) Sentiment(c *gin.Context) {
	analytics(h, c, func(req reporting.Request) (reporting.SentimentBreakdown, error) {
		return h.Reporting.Sentiment(c.Request.Context(), req)
	})
}

func (h Handlers) Outcomes(c *gin.Context) {
	analytics(h, c, func(req reporting.Request) (reporting.OutcomeCounts, error) {
		return h.Reporting.Outcomes(c.Request.Context(), req)
	})
}

func (h Handlers) CallMetrics(c *gin.Context) {
	analytics(h, c, func(req reporting.Request) (reporting.MetricsReport, error) {
		return h.Reporting.Metrics(c.Request.Context(), req)
	})
}

// AgentStats returns per-agent stats plus the overall row.
func (h Handlers) AgentStats(c *gin.Context) {
	analytics(h, c, func(req reporting.Request) (gin.H, error) {
		agents, err := h.Reporting.AgentStats(c.Request.Context(), req)
		if err != nil {
			return nil, err
		}
		overall, err := h.Reporting.Overall(c.Request.Context(), req)
		if err != nil {
			return nil, err
		}
		return gin.H{"agents": agents, "overall": overall}, nil
	})
}

// Trends accepts window (buckets) and granularity (daily|weekly, default auto).
func (h Handlers) Trends(c *gin.Context) {
	opts := reporting.TrendOptions{}
	if s := c.Query("window"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid window"})
			return
		}
		opts.Window = n
	}
	switch g := reporting.Granularity(c.Query("granularity")); g {
	case reporting.GranularityAuto, reporting.GranularityDaily, reporting.GranularityWeekly:
		opts.Granularity = g
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "granularity must be 'daily' or 'weekly'"})
		return
	}
	analytics(h, c, func(req reporting.Request) (reporting.TrendSeries, error) {
		return h.Reporting.Trends(c.Request.Context(), req, opts)
	})
}

// --- Billing ---

func (h Handlers) CurrentCycle(c *gin.Context) {
	if h.Billing == nil {
		fail(c, ErrNotConfigured)
		return
	}
	id, ok := identity(c)
	if !ok {
		return
	}
	cycle, err := h.Billing.CurrentCycle(c.Request.Context(), id.TenantID, boolQuery(c, "fresh"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cycle)
}

func (h Handlers) Invoices(c *gin.Context) {
	if h.Billing == nil {
		fail(c, ErrNotConfigured)
		return
	}
	id, ok := identity(c)
	if !ok {
		return
	}
	invoices, err := h.Billing.Invoices(c.Request.Context(), id.TenantID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}
