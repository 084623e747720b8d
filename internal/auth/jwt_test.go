package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"crm-voice/internal/config"
)

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m, err := NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "issuer",
		JWTAudience:     "aud",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	pair, err := m.IssuePair(now, Identity{UserID: "user-1", TenantID: "t-1", Role: "admin", Name: "Ada"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected token strings")
	}

	claims, err := m.Verify(pair.AccessToken, TokenTypeAccess, now.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.TenantID != "t-1" || claims.Role != "admin" || claims.Name != "Ada" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsWrongTokenType(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	p, err := m.IssuePair(time.Now(), Identity{UserID: "u", TenantID: "t", Role: "customer"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(p.RefreshToken, TokenTypeAccess, time.Now()); err == nil {
		t.Fatalf("expected token_type mismatch")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	now := time.Unix(1700000000, 0).UTC()
	p, err := m.IssuePair(now, Identity{UserID: "u", TenantID: "t", Role: "customer"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(p.AccessToken, TokenTypeAccess, now.Add(10*time.Minute)); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestBearerToken_HeaderThenQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws?token=from-query", nil)
	if got := BearerToken(req); got != "from-query" {
		t.Fatalf("expected query token, got %q", got)
	}
	req.Header.Set("Authorization", "Bearer from-header")
	if got := BearerToken(req); got != "from-header" {
		t.Fatalf("expected header token, got %q", got)
	}
}

func TestVerifyRejectsForeignIssuerOrAudience(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	issuer, _ := NewManager(config.AuthConfig{JWTSecret: "secret", JWTIssuer: "crm", JWTAudience: "voice", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	p, err := issuer.IssuePair(now, Identity{UserID: "u", TenantID: "t", Role: "customer"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	for _, cfg := range []config.AuthConfig{
		{JWTSecret: "secret", JWTIssuer: "other", JWTAudience: "voice", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour},
		{JWTSecret: "secret", JWTIssuer: "crm", JWTAudience: "billing", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour},
	} {
		verifier, _ := NewManager(cfg)
		if _, err := verifier.Verify(p.AccessToken, TokenTypeAccess, now); err == nil {
			t.Fatalf("expected rejection for issuer=%s audience=%s", cfg.JWTIssuer, cfg.JWTAudience)
		}
	}

	// Clock skew within the leeway is tolerated.
	if _, err := issuer.Verify(p.AccessToken, TokenTypeAccess, now.Add(time.Minute+10*time.Second)); err != nil {
		t.Fatalf("expected leeway to accept a slightly expired token: %v", err)
	}
}
