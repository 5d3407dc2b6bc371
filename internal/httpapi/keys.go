package httpapi

import (
	"net/http"
	"strings"

	"voiceai-dashboard/internal/apikeys"
	"voiceai-dashboard/internal/auth"

	"github.com/gin-gonic/gin"
)

func owner(c *gin.Context, id auth.Identity) apikeys.Owner {
	return apikeys.Owner{UserID: id.UserID, TenantID: id.TenantID, Role: id.Role, IP: c.ClientIP()}
}

// ValidateKeys probes the submitted provider keys without storing them.
// Provider failures are reported per provider with HTTP 200.
func (h Handlers) ValidateKeys(c *gin.Context) {
	if h.Validator == nil {
		fail(c, ErrNotConfigured)
		return
	}
	if _, ok := identity(c); !ok {
		return
	}
	var req apikeys.ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.RetellKey) == "" && strings.TrimSpace(req.OpenRouterKey) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "retell_key or openrouter_key required"})
		return
	}
	c.JSON(http.StatusOK, h.Validator.Validate(c.Request.Context(), req))
}

type storeKeyRequest struct {
	Service string `json:"service"`
	APIKey  string `json:"api_key"`
	// SkipValidation stores the key without probing the provider first.
	SkipValidation bool `json:"skip_validation,omitempty"`
}

// StoreKey validates the key with its provider, then seals and stores it.
func (h Handlers) StoreKey(c *gin.Context) {
	if h.Keys == nil {
		fail(c, ErrNotConfigured)
		return
	}
	id, ok := identity(c)
	if !ok {
		return
	}
	var req storeKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Service == "" || strings.TrimSpace(req.APIKey) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "service and api_key are required"})
		return
	}
	p := apikeys.Provider(req.Service)
	if !p.Valid() {
		fail(c, apikeys.ErrInvalidService)
		return
	}

	if h.Validator != nil && !req.SkipValidation {
		res := h.Validator.ValidateKey(c.Request.Context(), p, strings.TrimSpace(req.APIKey))
		if !res.Valid {
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "api key rejected by provider", "validation": res})
			return
		}
	}

	status, err := h.Keys.Store(c.Request.Context(), owner(c, id), p, req.APIKey)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": req.Service + " API key stored successfully",
		"status":  status,
	})
}

func (h Handlers) KeyStatus(c *gin.Context) {
	if h.Keys == nil {
		fail(c, ErrNotConfigured)
		return
	}
	id, ok := identity(c)
	if !ok {
		return
	}
	status, err := h.Keys.Status(c.Request.Context(), id.UserID, apikeys.Provider(c.Param("service")))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h Handlers) DisconnectKey(c *gin.Context) {
	if h.Keys == nil {
		fail(c, ErrNotConfigured)
		return
	}
	id, ok := identity(c)
	if !ok {
		return
	}
	service := c.Param("service")
	if err := h.Keys.Disconnect(c.Request.Context(), owner(c, id), apikeys.Provider(service)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": service + " API key disconnected"})
}

// RevalidateKey probes the stored key again.
func (h Handlers) RevalidateKey(c *gin.Context) {
	if h.Keys == nil || h.Validator == nil {
		fail(c, ErrNotConfigured)
		return
	}
	id, ok := identity(c)
	if !ok {
		return
	}
	res, err := h.Keys.Revalidate(c.Request.Context(), owner(c, id), apikeys.Provider(c.Param("service")))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
