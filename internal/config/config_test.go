package config

import (
	"strings"
	"testing"
	"time"
)

func validBase() Config {
	return Config{
		App:  AppConfig{Env: "local", Port: 8080},
		Auth: AuthConfig{JWTSecret: "secret"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "APP_ENV") || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("expected aggregated report, got %v", err)
	}
}

func TestValidate_AppliesDefaults(t *testing.T) {
	c := validBase()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Calls.RingTimeout != 60*time.Second {
		t.Fatalf("expected 60s ring timeout, got %v", c.Calls.RingTimeout)
	}
	if c.History.Export != "none" || c.History.Retain <= 0 {
		t.Fatalf("expected history defaults, got %+v", c.History)
	}
	if c.WS.SendQueue <= 0 || c.WS.RatePerSec <= 0 || c.WS.MaxMessageBytes <= 0 {
		t.Fatalf("expected ws defaults, got %+v", c.WS)
	}
	if c.RedisEnabled() {
		t.Fatalf("redis should be disabled without REDIS_HOST")
	}
}

func TestValidate_PostgresExportRequiresDB(t *testing.T) {
	c := validBase()
	c.History.Export = "postgres"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for postgres history without DB settings")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validBase()
	c.History.Export = "postgres"
	c.DB = DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "crm"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	pg := c.Postgres()
	if pg.Host != "localhost" || pg.Name != "crm" || pg.SSLMode != "disable" || pg.Password != "x" {
		t.Fatalf("unexpected postgres options: host=%s name=%s sslmode=%s", pg.Host, pg.Name, pg.SSLMode)
	}
}

func TestValidate_ProductionRequiresSSLModeAndIssuer(t *testing.T) {
	c := validBase()
	c.App.Env = "production"
	c.History.Export = "postgres"
	c.DB = DBConfig{Host: "db", Port: 5432, User: "postgres", Name: "crm"}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected production errors")
	}
	for _, want := range []string{"DB_SSLMODE", "JWT_ISSUER", "JWT_AUDIENCE"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}

func TestValidate_CallCapNeedsRedis(t *testing.T) {
	c := validBase()
	c.Calls.MaxPerTenant = 5
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for call cap without redis")
	}
	c.Redis.Host = "localhost"
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if addr := c.RedisOptions().Addr(); addr != "localhost:6379" {
		t.Fatalf("unexpected redis addr %q", addr)
	}
}

func TestValidate_RedisExportRequiresRedis(t *testing.T) {
	c := validBase()
	c.History.Export = "redis"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for redis export without REDIS_HOST")
	}
}

func TestLoad_ReadsEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9000")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("CALL_RING_TIMEOUT", "5s")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.App.Port != 9000 || c.Calls.RingTimeout != 5*time.Second {
		t.Fatalf("unexpected config: %+v", c)
	}
	if len(c.WS.AllowedOrigins) != 2 || c.WS.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", c.WS.AllowedOrigins)
	}
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9000")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("CALL_RING_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}
