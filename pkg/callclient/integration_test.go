package callclient

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"crm-voice/internal/auth"
	"crm-voice/internal/config"
	"crm-voice/internal/realtime"
	"crm-voice/pkg/logger"
	"crm-voice/pkg/protocol"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Two controllers talk through a real signaling hub. Peers are fakes, so the
// test covers signaling and lifecycle, not media.
func TestControllersThroughHub(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens, err := auth.NewManager(config.AuthConfig{JWTSecret: "s", AccessTokenTTL: time.Hour, RefreshTokenTTL: 2 * time.Hour})
	require.NoError(t, err)

	hub := realtime.NewHub(realtime.HubOptions{RingTimeout: time.Minute, Logger: logger.Discard()})
	r := gin.New()
	r.GET("/ws", hub.Handler(tokens, realtime.WSOptions{}))
	srv := httptest.NewServer(r)
	defer srv.Close()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Stop(ctx)
	}()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type endpoint struct {
		c     *Controller
		peers *fakeFactory
		mu    sync.Mutex
		ended []string
	}
	join := func(userID, role string, autoAccept bool) *endpoint {
		pair, err := tokens.IssuePair(time.Now(), auth.Identity{UserID: userID, TenantID: "t1", Role: role})
		require.NoError(t, err)
		tr, err := Dial(ctx, url, pair.AccessToken)
		require.NoError(t, err)

		ep := &endpoint{peers: &fakeFactory{}}
		registered := make(chan struct{})
		ep.c, err = New(Options{
			Transport: tr,
			Peers:     ep.peers,
			Media:     &fakeMedia{},
			Logger:    logger.Discard(),
			Handlers: Handlers{
				OnRegistered: func(protocol.Registered) { close(registered) },
				OnIncoming: func(protocol.IncomingCall) {
					if autoAccept {
						go func() { _ = ep.c.Accept(ctx) }()
					}
				},
				OnEnded: func(_ string, reason string) {
					ep.mu.Lock()
					defer ep.mu.Unlock()
					ep.ended = append(ep.ended, reason)
				},
			},
		})
		require.NoError(t, err)
		go func() { _ = ep.c.Run(ctx) }()
		require.NoError(t, ep.c.Register(ctx, userID))
		select {
		case <-registered:
		case <-ctx.Done():
			t.Fatal("not registered")
		}
		return ep
	}

	agent := join("agent", "admin", true)
	defer agent.c.Close()
	cust := join("cust", "customer", false)
	defer cust.c.Close()

	require.NoError(t, cust.c.Call(ctx))

	// Agent offers, customer answers, both reach connecting with a peer.
	require.Eventually(t, func() bool {
		return agent.c.State() == StateConnecting && cust.c.State() == StateConnecting
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, cust.c.ConnectionID(), agent.c.Current().PeerConnectionID)
	assert.Equal(t, agent.c.ConnectionID(), cust.c.Current().PeerConnectionID)

	require.Eventually(t, func() bool {
		cust.peers.mu.Lock()
		defer cust.peers.mu.Unlock()
		if len(cust.peers.peers) == 0 {
			return false
		}
		p := cust.peers.peers[0]
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.remote) == 1
	}, 5*time.Second, 10*time.Millisecond, "customer never received the offer")

	require.NoError(t, cust.c.Hangup(ctx))
	require.Eventually(t, func() bool {
		agent.mu.Lock()
		defer agent.mu.Unlock()
		return len(agent.ended) == 1 && agent.ended[0] == protocol.ReasonHangup
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateIdle, agent.c.State())
}
