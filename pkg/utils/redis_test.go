package utils

import (
	"context"
	"testing"
	"time"
)

func TestRedisConfigDefaults(t *testing.T) {
	c := RedisConfig{Host: "cache"}.withDefaults()
	if c.Port != 6379 || c.PoolSize != 20 || c.ReadTimeout != time.Second {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.Addr() != "cache:6379" {
		t.Fatalf("unexpected addr %q", c.Addr())
	}
	if got := (RedisConfig{Host: "::1", Port: 7000}).Addr(); got != "[::1]:7000" {
		t.Fatalf("ipv6 host should be bracketed, got %q", got)
	}
}

func TestOpenRedis_RequiresHost(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty host")
	}
}
