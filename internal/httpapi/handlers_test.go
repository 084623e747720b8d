package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crm-voice/internal/audit"
	"crm-voice/internal/auth"
	"crm-voice/internal/calls"
	"crm-voice/internal/config"
	"crm-voice/internal/history"
	"crm-voice/internal/rbac"
	"crm-voice/internal/reporting"
	"crm-voice/pkg/protocol"

	"github.com/gin-gonic/gin"
)

type fakeLive struct {
	admins   []protocol.Presence
	sessions []calls.Session
	err      error
	gotTen   string
}

func (f *fakeLive) OnlineAdmins(_ context.Context, tenantID string, withIdentities bool) (protocol.OnlineAdmins, error) {
	f.gotTen = tenantID
	out := protocol.OnlineAdmins{TenantID: tenantID, Count: len(f.admins)}
	if withIdentities {
		out.Admins = f.admins
	}
	return out, f.err
}

func (f *fakeLive) ActiveCalls(_ context.Context, tenantID string) ([]calls.Session, error) {
	f.gotTen = tenantID
	return f.sessions, f.err
}

type fakeCluster struct{ n int64 }

func (f fakeCluster) Count(context.Context, string, string) (int64, error) { return f.n, nil }

func withIdentity(id auth.Identity) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

func serve(t *testing.T, r *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestOnlineAdmins_IdentitiesOnlyForAdmins(t *testing.T) {
	gin.SetMode(gin.TestMode)
	live := &fakeLive{admins: []protocol.Presence{{UserID: "a1", DisplayName: "Ann", Role: "admin"}}}
	h := Handlers{Live: live, Cluster: fakeCluster{n: 3}}

	for _, tc := range []struct {
		role       string
		wantAdmins bool
	}{
		{rbac.RoleCustomer, false},
		{rbac.RoleAdmin, true},
	} {
		r := gin.New()
		r.GET("/presence", withIdentity(auth.Identity{UserID: "u", TenantID: "t1", Role: tc.role}), h.OnlineAdmins)

		w := serve(t, r, http.MethodGet, "/presence", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.role, w.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["count"].(float64) != 1 || body["cluster_count"].(float64) != 3 {
			t.Fatalf("%s: unexpected counts %v", tc.role, body)
		}
		if _, has := body["admins"]; has != tc.wantAdmins {
			t.Fatalf("%s: admins present=%v want %v", tc.role, has, tc.wantAdmins)
		}
		if live.gotTen != "t1" {
			t.Fatalf("tenant should come from the token, got %q", live.gotTen)
		}
	}
}

func TestActiveCalls_AdminOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	live := &fakeLive{sessions: []calls.Session{{ID: "s1", TenantID: "t1", Status: calls.StatusRinging}}}
	h := Handlers{Live: live}

	build := func(role string) *gin.Engine {
		r := gin.New()
		chain := append([]gin.HandlerFunc{withIdentity(auth.Identity{UserID: "u", TenantID: "t1", Role: role})},
			RequireTenantAndAnyRole(rbac.RoleAdmin)...)
		r.GET("/calls/active", append(chain, h.ActiveCalls)...)
		return r
	}

	if w := serve(t, build(rbac.RoleCustomer), http.MethodGet, "/calls/active", nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer, got %d", w.Code)
	}

	w := serve(t, build(rbac.RoleAdmin), http.MethodGet, "/calls/active", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Calls []calls.Session `json:"calls"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Calls) != 1 || body.Calls[0].ID != "s1" {
		t.Fatalf("unexpected calls: %+v", body.Calls)
	}
}

func TestActiveCalls_HubStopped(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := Handlers{Live: &fakeLive{err: errors.New("stopped")}}
	r := gin.New()
	r.GET("/calls/active", withIdentity(auth.Identity{UserID: "u", TenantID: "t1", Role: "admin"}), h.ActiveCalls)

	if w := serve(t, r, http.MethodGet, "/calls/active", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestCallsSummary(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := history.NewMemoryRepo(10)
	connected := now.Add(-time.Hour)
	_ = repo.Append(context.Background(), history.Record{SessionID: "s1", TenantID: "t1", EndReason: protocol.ReasonHangup, ConnectedAt: &connected, EndedAt: now.Add(-50 * time.Minute), DurationSeconds: 600})
	_ = repo.Append(context.Background(), history.Record{SessionID: "s2", TenantID: "t1", EndReason: protocol.ReasonNoAnswer, EndedAt: now.Add(-time.Minute)})
	_ = repo.Append(context.Background(), history.Record{SessionID: "s3", TenantID: "t2", EndReason: protocol.ReasonNoAnswer, EndedAt: now.Add(-time.Minute)})

	h := Handlers{Reports: reporting.NewService(repo), Now: func() time.Time { return now }}
	r := gin.New()
	r.GET("/calls/summary", withIdentity(auth.Identity{UserID: "a", TenantID: "t1", Role: "admin"}), h.CallsSummary)

	w := serve(t, r, http.MethodGet, "/calls/summary", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var sum reporting.CallsSummary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.TotalCalls != 2 || sum.ConnectedCalls != 1 || sum.NoAnswerCalls != 1 || sum.TotalDurationSeconds != 600 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	if w := serve(t, r, http.MethodGet, "/calls/summary?from=yesterday", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad from, got %d", w.Code)
	}
	bad := "/calls/summary?from=2026-03-02T00:00:00Z&to=2026-03-01T00:00:00Z"
	if w := serve(t, r, http.MethodGet, bad, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted range, got %d", w.Code)
	}
}

func TestIssueToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "s", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	trail := audit.NewMemoryRepo()
	h := Handlers{Tokens: m, Audit: audit.NewService(trail, nil)}
	r := gin.New()
	r.POST("/auth/token", h.IssueToken)

	if w := serve(t, r, http.MethodPost, "/auth/token", []byte(`{"user_id":"u1","tenant_id":"t1","role":"root"}`)); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", w.Code)
	}
	if w := serve(t, r, http.MethodPost, "/auth/token", []byte(`{"user_id":"u1"}`)); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", w.Code)
	}

	w := serve(t, r, http.MethodPost, "/auth/token", []byte(`{"user_id":"u1","tenant_id":"t1","role":"admin","name":"Ann"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		AccessToken string `json:"access_token"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	claims, err := m.Verify(body.AccessToken, auth.TokenTypeAccess, time.Now())
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.TenantID != "t1" || claims.Role != "admin" || claims.Name != "Ann" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if evs := trail.Events(); len(evs) != 1 || evs[0].Type != audit.EventTokenIssued || evs[0].TenantID != "t1" {
		t.Fatalf("expected issuance to be audited, got %+v", evs)
	}
}

func TestReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ok", Ready(map[string]Check{"db": func(context.Context) error { return nil }}))
	r.GET("/down", Ready(map[string]Check{"redis": func(context.Context) error { return errors.New("refused") }}))

	if w := serve(t, r, http.MethodGet, "/ok", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w := serve(t, r, http.MethodGet, "/down", nil)
	if w.Code != http.StatusServiceUnavailable || !bytes.Contains(w.Body.Bytes(), []byte("redis")) {
		t.Fatalf("expected 503 naming redis, got %d %s", w.Code, w.Body.String())
	}
}
