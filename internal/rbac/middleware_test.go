package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"crm-voice/internal/auth"

	"github.com/gin-gonic/gin"
)

func withIdentity(userID, tenantID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), auth.Identity{UserID: userID, TenantID: tenantID, Role: role})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func serve(r *gin.Engine) int {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireAnyRole_AdminAllowed(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", withIdentity("u", "t", RoleAdmin), RequireTenant(), RequireAnyRole(RoleAdmin), func(c *gin.Context) {
		c.Status(200)
	})
	if code := serve(r); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_CustomerForbidden(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", withIdentity("u", "t", RoleCustomer), RequireTenant(), RequireAnyRole(RoleAdmin), func(c *gin.Context) {
		c.Status(200)
	})
	if code := serve(r); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireTenant_Missing(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", withIdentity("u", "", RoleAdmin), RequireTenant(), RequireAnyRole(RoleAdmin), func(c *gin.Context) {
		c.Status(200)
	})
	if code := serve(r); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestRolePredicates(t *testing.T) {
	if !CanAnswerCalls(RoleAdmin) || CanAnswerCalls(RoleStaff) || CanAnswerCalls(RoleCustomer) {
		t.Fatalf("only admins answer calls")
	}
	if CanPlaceCalls(RoleAdmin) || !CanPlaceCalls(RoleCustomer) {
		t.Fatalf("customers place calls, admins do not")
	}
	if IsValidRole("owner") {
		t.Fatalf("unexpected role accepted")
	}
}
