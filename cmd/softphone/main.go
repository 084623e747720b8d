// Command softphone is a headless call client for smoke testing a signaling
// deployment. As an agent it answers the first call it is offered; as a
// customer it places one call and hangs up after -hold.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"crm-voice/pkg/callclient"
	"crm-voice/pkg/logger"
	"crm-voice/pkg/protocol"
)

func main() {
	var (
		server = flag.String("server", "http://localhost:8080", "signaling server base url")
		token  = flag.String("token", "", "access token; when empty one is requested from the dev token endpoint")
		user   = flag.String("user", "softphone", "user id for the dev token")
		tenant = flag.String("tenant", "", "tenant id for the dev token")
		role   = flag.String("role", "customer", "admin (answers) or customer (calls)")
		name   = flag.String("name", "", "display name")
		hold   = flag.Duration("hold", 10*time.Second, "customer: hang up after connected for this long")
		stun   = flag.String("stun", "", "comma separated STUN/TURN urls")
		env    = flag.String("env", "local", "local or dev enables debug logs")
	)
	flag.Parse()

	log := logger.New(*env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, options{
		server: strings.TrimRight(*server, "/"),
		token:  *token,
		user:   *user,
		tenant: *tenant,
		role:   *role,
		name:   *name,
		hold:   *hold,
		stun:   splitURLs(*stun),
	}); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("softphone failed", "err", err)
		os.Exit(1)
	}
}

type options struct {
	server, token, user, tenant, role, name string
	hold                                    time.Duration
	stun                                    []string
}

func run(ctx context.Context, log *slog.Logger, o options) error {
	if o.token == "" {
		if o.tenant == "" {
			return errors.New("-tenant is required without -token")
		}
		tok, err := devToken(ctx, o)
		if err != nil {
			return err
		}
		o.token = tok
	}

	wsURL := "ws" + strings.TrimPrefix(o.server, "http") + "/ws"
	tr, err := callclient.Dial(ctx, wsURL, o.token)
	if err != nil {
		return err
	}

	peers, err := callclient.NewPionFactory(o.stun...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var c *callclient.Controller
	c, err = callclient.New(callclient.Options{
		Transport: tr,
		Peers:     peers,
		Media:     callclient.SilenceSource{},
		Logger:    log,
		Handlers: callclient.Handlers{
			OnRegistered: func(r protocol.Registered) {
				log.Info("registered", "conn_id", r.ConnectionID, "role", r.Role, "tenant_id", r.TenantID)
				if r.Role == "admin" {
					return
				}
				go func() {
					if err := c.Call(ctx); err != nil {
						log.Error("call request failed", "err", err)
						cancel()
					}
				}()
			},
			OnState: func(s callclient.State) { log.Info("state", "state", s) },
			OnIncoming: func(in protocol.IncomingCall) {
				log.Info("incoming call", "session_id", in.SessionID, "caller", in.CallerName)
				go func() { _ = c.Accept(ctx) }()
			},
			OnConnectionState: func(s string) { log.Debug("peer connection", "state", s) },
			OnDuration: func(d time.Duration) {
				log.Debug("in call", "elapsed", d)
				if o.role != "admin" && d >= o.hold {
					go func() { _ = c.Hangup(ctx) }()
				}
			},
			OnEnded: func(sessionID, reason string) {
				log.Info("call ended", "session_id", sessionID, "reason", reason)
				if o.role != "admin" {
					cancel()
				}
			},
			OnError: func(ce protocol.CallError) {
				log.Warn("call error", "code", ce.Code, "message", ce.Message, "session_id", ce.SessionID)
			},
		},
	})
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Register(ctx, o.name); err != nil {
		return err
	}
	return c.Run(ctx)
}

// devToken asks a non-production server for a token pair.
func devToken(ctx context.Context, o options) (string, error) {
	body, _ := json.Marshal(map[string]string{"user_id": o.user, "tenant_id": o.tenant, "role": o.role, "name": o.name})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.server+"/v1/auth/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request: status %d", resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("token response: %w", err)
	}
	return out.AccessToken, nil
}

func splitURLs(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
