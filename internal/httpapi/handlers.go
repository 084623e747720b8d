package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"crm-voice/internal/audit"
	"crm-voice/internal/auth"
	"crm-voice/internal/calls"
	"crm-voice/internal/rbac"
	"crm-voice/internal/reporting"
	"crm-voice/pkg/logger"
	"crm-voice/pkg/protocol"

	"github.com/gin-gonic/gin"
)

// Live is the read side of the signaling hub.
type Live interface {
	OnlineAdmins(ctx context.Context, tenantID string, withIdentities bool) (protocol.OnlineAdmins, error)
	ActiveCalls(ctx context.Context, tenantID string) ([]calls.Session, error)
}

// ClusterPresence counts online users across every signaling process.
type ClusterPresence interface {
	Count(ctx context.Context, tenantID, role string) (int64, error)
}

type TokenIssuer interface {
	IssuePair(now time.Time, id auth.Identity) (auth.TokenPair, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Tokens  TokenIssuer
	Live    Live
	Reports *reporting.Service
	// Cluster is optional; without it counts cover this process only.
	Cluster ClusterPresence
	Audit   *audit.Service
	Now     func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// --- Auth ---

type issueTokenRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	Name     string `json:"name"`
}

// IssueToken mints a token pair without checking credentials.
//
// NOTE: development only. Production tokens come from the CRM REST layer and
// the route is not registered there.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Tokens == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.TenantID = strings.TrimSpace(req.TenantID)
	if req.UserID == "" || req.TenantID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, tenant_id, role required"})
		return
	}
	if !rbac.IsValidRole(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	pair, err := h.Tokens.IssuePair(h.now(), auth.Identity{
		UserID:   req.UserID,
		TenantID: req.TenantID,
		Role:     req.Role,
		Name:     strings.TrimSpace(req.Name),
	})
	if err != nil {
		logger.FromGin(c).Error("token issuance failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	h.Audit.LogTokenIssued(c.Request.Context(),
		audit.Actor{UserID: req.UserID, TenantID: req.TenantID, Role: req.Role},
		audit.Actor{IP: c.ClientIP()})
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Me(c *gin.Context) {
	id, ok := auth.IdentityFrom(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id.UserID, "tenant_id": id.TenantID, "role": id.Role, "name": id.Name})
}

// --- Presence ---

// OnlineAdmins returns the tenant's online agents. Only admins see identities.
func (h Handlers) OnlineAdmins(c *gin.Context) {
	id, _ := auth.IdentityFrom(c.Request.Context())
	snap, err := h.Live.OnlineAdmins(c.Request.Context(), id.TenantID, rbac.IsAdmin(id.Role))
	if err != nil {
		h.liveError(c, err)
		return
	}

	resp := gin.H{"tenant_id": snap.TenantID, "count": snap.Count}
	if snap.Admins != nil {
		resp["admins"] = snap.Admins
	}
	if h.Cluster != nil {
		n, err := h.Cluster.Count(c.Request.Context(), id.TenantID, rbac.RoleAdmin)
		if err != nil {
			// the local count is still correct for this process
			logger.FromGin(c).Warn("cluster presence count failed", "err", err)
		} else {
			resp["cluster_count"] = n
		}
	}
	c.JSON(http.StatusOK, resp)
}

// --- Calls ---

func (h Handlers) ActiveCalls(c *gin.Context) {
	tenantID, _ := auth.TenantID(c.Request.Context())
	sessions, err := h.Live.ActiveCalls(c.Request.Context(), tenantID)
	if err != nil {
		h.liveError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenantID, "calls": sessions})
}

// CallsSummary aggregates calls ended in [from, to). Both default to the last 24h.
func (h Handlers) CallsSummary(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	tenantID, _ := auth.TenantID(c.Request.Context())

	to := h.now().UTC()
	from := to.Add(-24 * time.Hour)
	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
	}

	sum, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		TenantID:   tenantID,
		Range:      reporting.TimeRange{From: from, To: to},
		ReceiverID: c.Query("receiver_id"),
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid time range"})
			return
		}
		logger.FromGin(c).Error("calls summary failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h Handlers) liveError(c *gin.Context, err error) {
	logger.FromGin(c).Warn("hub query failed", "err", err)
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "signaling unavailable"})
}

// --- Health ---

// Check is one readiness probe, e.g. a database ping.
type Check func(ctx context.Context) error

// Ready reports 503 naming the first failing dependency.
func Ready(checks map[string]Check) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.FromGin(c).Warn("readiness check failed", "check", name, "err", err)
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failing": name})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// Convenience middleware bundles.

func RequireTenantAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireTenant(), rbac.RequireAnyRole(roles...)}
}
