package main

import (
	"context"
	"database/sql"
	"time"

	"crm-voice/internal/audit"
	"crm-voice/internal/auth"
	"crm-voice/internal/config"
	"crm-voice/internal/httpapi"
	"crm-voice/internal/observability"
	"crm-voice/internal/rbac"
	"crm-voice/internal/realtime"
	"crm-voice/internal/reporting"
	"crm-voice/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	cfg     config.Config
	auth    *auth.Manager
	hub     *realtime.Hub
	reports *reporting.Service
	metrics *observability.Metrics
	cluster httpapi.ClusterPresence
	audit   *audit.Service
	db      *sql.DB
	rdb     *redis.Client
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := httpapi.Handlers{
		Tokens:  d.auth,
		Live:    d.hub,
		Reports: d.reports,
		Cluster: d.cluster,
		Audit:   d.audit,
	}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/readyz", httpapi.Ready(readinessChecks(d)))
	r.GET("/metrics", gin.WrapH(d.metrics.Handler()))

	// The websocket authenticates itself before upgrading.
	r.GET("/ws", d.hub.Handler(d.auth, realtime.WSOptions{
		MaxMessageBytes: d.cfg.WS.MaxMessageBytes,
		PingInterval:    d.cfg.WS.PingInterval,
		SendQueue:       d.cfg.WS.SendQueue,
		RatePerSec:      d.cfg.WS.RatePerSec,
		RateBurst:       d.cfg.WS.RateBurst,
		AllowedOrigins:  d.cfg.WS.AllowedOrigins,
	}))

	v1 := r.Group("/v1")

	// Token issuance without credentials exists for local development only.
	if !d.cfg.IsProduction() {
		v1.POST("/auth/token", h.IssueToken)
	}

	// protected API group
	protected := v1.Group("")
	protected.Use(auth.RequireAccessToken(d.auth))
	protected.Use(rbac.RequireTenant())
	{
		protected.GET("/me", h.Me)
		protected.GET("/presence/online-admins", h.OnlineAdmins)

		calls := protected.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			calls.GET("/active", h.ActiveCalls)
			calls.GET("/summary", h.CallsSummary)
		}
	}
}

func readinessChecks(d routeDeps) map[string]httpapi.Check {
	checks := map[string]httpapi.Check{
		"hub": func(ctx context.Context) error {
			_, err := d.hub.Stats(ctx)
			return err
		},
	}
	if d.db != nil {
		checks["postgres"] = func(ctx context.Context) error {
			return utils.PingPostgres(ctx, d.db, time.Second)
		}
	}
	if d.rdb != nil {
		checks["redis"] = func(ctx context.Context) error {
			return d.rdb.Ping(ctx).Err()
		}
	}
	return checks
}
