package main

import (
	"context"

	"voiceai-dashboard/internal/httpapi"
	"voiceai-dashboard/internal/rbac"
	"voiceai-dashboard/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, m *metrics.Metrics, authMW gin.HandlerFunc, health func(context.Context) error) {
	// public
	r.GET("/healthz", httpapi.Health(health))
	r.GET("/metrics", gin.WrapH(m.Handler()))

	// protected API group; every route below is tenant scoped
	v1 := r.Group("/v1")
	v1.Use(authMW, rbac.RequireTenant(), rbac.RequireAnyRole(rbac.RoleUser))
	{
		v1.GET("/me", h.Me)
		v1.GET("/profile", h.Profile)
		v1.PATCH("/profile", h.UpdateProfile)

		calls := v1.Group("/calls")
		{
			calls.GET("", h.ListCalls)
			calls.GET("/stream", h.StreamCalls)
			calls.GET("/search", h.SearchCalls)
			calls.GET("/:call_id", h.GetCall)
			calls.POST("/cache/invalidate", h.InvalidateCache)
		}

		v1.GET("/agents", h.Agents)
		v1.GET("/dashboard/overview", h.Overview)

		analytics := v1.Group("/analytics")
		{
			analytics.GET("/volume", h.Volume)
			analytics.GET("/sentiment", h.Sentiment)
			analytics.GET("/outcomes", h.Outcomes)
			analytics.GET("/metrics", h.CallMetrics)
			analytics.GET("/agents", h.AgentStats)
			analytics.GET("/trends", h.Trends)
		}

		billing := v1.Group("/billing")
		{
			billing.GET("/current-cycle", h.CurrentCycle)
			billing.GET("/invoices", h.Invoices)
		}

		keys := v1.Group("/keys")
		{
			keys.POST("/validate", h.ValidateKeys)
			keys.POST("", h.StoreKey)
			keys.GET("/:service", h.KeyStatus)
			keys.DELETE("/:service", h.DisconnectKey)
			keys.POST("/:service/validate", h.RevalidateKey)
		}

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/send-verification", h.SendVerification)
			authGroup.POST("/verify-email", h.VerifyEmail)
		}
	}
}
