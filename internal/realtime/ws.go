package realtime

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"crm-voice/internal/auth"
	"crm-voice/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type WSOptions struct {
	MaxMessageBytes int64
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	SendQueue       int
	RatePerSec      float64
	RateBurst       int
	// AllowedOrigins empty means same-origin only; "*" allows any origin.
	AllowedOrigins []string
}

func (o WSOptions) withDefaults() WSOptions {
	out := o
	if out.MaxMessageBytes <= 0 {
		out.MaxMessageBytes = 64 << 10
	}
	if out.PingInterval <= 0 {
		out.PingInterval = 25 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 10 * time.Second
	}
	if out.SendQueue <= 0 {
		out.SendQueue = 64
	}
	if out.RatePerSec <= 0 {
		out.RatePerSec = 20
	}
	if out.RateBurst <= 0 {
		out.RateBurst = 40
	}
	return out
}

// TokenVerifier checks access tokens. *auth.Manager satisfies it.
type TokenVerifier interface {
	Verify(token string, expected auth.TokenType, now time.Time) (auth.Claims, error)
}

// Handler authenticates before upgrading: a connection without a valid
// access token never becomes a websocket.
func (h *Hub) Handler(tokens TokenVerifier, opts WSOptions) gin.HandlerFunc {
	opts = opts.withDefaults()
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}

	return func(c *gin.Context) {
		tok := auth.BearerToken(c.Request)
		if tok == "" {
			h.audit.LogAuthRejected(c.Request.Context(), c.ClientIP(), "missing bearer token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := tokens.Verify(tok, auth.TokenTypeAccess, time.Now())
		if err != nil {
			h.audit.LogAuthRejected(c.Request.Context(), c.ClientIP(), "invalid token: "+err.Error())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// the upgrader already wrote the HTTP error
			logger.FromGin(c).Debug("websocket upgrade failed", "err", err)
			return
		}

		id := uuid.NewString()
		identity := claims.Identity()
		cl := newClient(id, identity, c.ClientIP(), ws, opts, h.metrics, logger.Conn(logger.FromGin(c), id, identity.UserID, identity.TenantID))

		if !h.Submit(func() { h.clients[id] = cl }) {
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			_ = ws.Close()
			return
		}
		cl.log.Info("websocket connected", "role", identity.Role)

		go cl.writePump()
		cl.readPump(h)
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if slices.Contains(allowed, "*") {
			return true
		}
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			// Non-browser clients often omit Origin. Allow them.
			return true
		}
		if len(allowed) > 0 {
			return slices.ContainsFunc(allowed, func(a string) bool { return strings.EqualFold(a, origin) })
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}
