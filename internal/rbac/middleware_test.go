package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"voiceai-dashboard/internal/auth"

	"github.com/gin-gonic/gin"
)

func withIdentity(id auth.Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

func serve(t *testing.T, id auth.Identity, chain ...gin.HandlerFunc) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	handlers := append([]gin.HandlerFunc{withIdentity(id)}, chain...)
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/x", handlers...)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_AdminBypasses(t *testing.T) {
	code := serve(t, auth.Identity{UserID: "u", TenantID: "t", Role: RoleAdmin}, RequireTenant(), RequireAnyRole())
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_UnknownRoleForbidden(t *testing.T) {
	code := serve(t, auth.Identity{UserID: "u", TenantID: "t", Role: "guest"}, RequireTenant(), RequireAnyRole(RoleUser))
	if code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRole_UserAllowed(t *testing.T) {
	code := serve(t, auth.Identity{UserID: "u", TenantID: "t", Role: RoleUser}, RequireTenant(), RequireAnyRole(RoleUser))
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireTenant_Required(t *testing.T) {
	code := serve(t, auth.Identity{UserID: "u", Role: RoleUser}, RequireTenant(), RequireAnyRole(RoleUser))
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}
