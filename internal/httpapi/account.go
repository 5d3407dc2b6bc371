package httpapi

import (
	"net/http"

	"voiceai-dashboard/internal/users"

	"github.com/gin-gonic/gin"
)

// --- Email verification ---

type sendVerificationRequest struct {
	Email string `json:"email"`
}

// SendVerification mails a fresh code. The email defaults to the one on the
// caller's token.
func (h Handlers) SendVerification(c *gin.Context) {
	if h.Verification == nil {
		fail(c, ErrNotConfigured)
		return
	}
	id, ok := identity(c)
	if !ok {
		return
	}
	var req sendVerificationRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	email := req.Email
	if email == "" {
		email = id.Email
	}
	if email == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}
	res, err := h.Verification.Send(c.Request.Context(), id.UserID, email)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type verifyEmailRequest struct {
	Code string `json:"code"`
}

func (h Handlers) VerifyEmail(c *gin.Context) {
	if h.Verification == nil {
		fail(c, ErrNotConfigured)
		return
	}
	id, ok := identity(c)
	if !ok {
		return
	}
	var req verifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}
	if err := h.Verification.Verify(c.Request.Context(), id.TenantID, id.UserID, req.Code); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Email verified successfully"})
}

// --- Profile ---

func (h Handlers) Profile(c *gin.Context) {
	if h.Users == nil {
		fail(c, ErrNotConfigured)
		return
	}
	id, ok := identity(c)
	if !ok {
		return
	}
	p, err := h.Users.Profile(c.Request.Context(), id.UserID, id.Email)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// UpdateProfile applies the fields present in the body and returns the
// resulting profile.
func (h Handlers) UpdateProfile(c *gin.Context) {
	if h.Users == nil {
		fail(c, ErrNotConfigured)
		return
	}
	id, ok := identity(c)
	if !ok {
		return
	}
	var u users.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ctx := c.Request.Context()
	if err := h.Users.Update(ctx, id.UserID, u); err != nil {
		fail(c, err)
		return
	}
	p, err := h.Users.Profile(ctx, id.UserID, id.Email)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
