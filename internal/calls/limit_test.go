package calls

import (
	"context"
	"os"
	"testing"
	"time"

	"crm-voice/pkg/utils"
)

func TestRedisLimiter_NoClient(t *testing.T) {
	l := NewRedisLimiter(nil, 2, 0)
	if l.ttl != 4*time.Hour {
		t.Fatalf("expected default ttl, got %s", l.ttl)
	}
	if _, err := l.Acquire(context.Background(), "t1"); err == nil {
		t.Fatalf("expected error without a client")
	}
	if liveCallsKey("t1") != "crm-voice:calls:live:t1" {
		t.Fatalf("unexpected key %q", liveCallsKey("t1"))
	}
}

// Runs only against a real Redis: TEST_REDIS_HOST=localhost
func TestRedisLimiter_CapsPerTenant(t *testing.T) {
	host := os.Getenv("TEST_REDIS_HOST")
	if host == "" {
		t.Skip("TEST_REDIS_HOST not set")
	}
	ctx := context.Background()
	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Host: host})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rdb.Close()

	tenant := "it-" + time.Now().Format("150405.000000")
	defer rdb.Del(ctx, liveCallsKey(tenant))
	l := NewRedisLimiter(rdb, 2, time.Minute)

	for i := 0; i < 2; i++ {
		if ok, err := l.Acquire(ctx, tenant); err != nil || !ok {
			t.Fatalf("acquire %d: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := l.Acquire(ctx, tenant); ok {
		t.Fatalf("third live call should be refused")
	}
	if ok, _ := l.Acquire(ctx, "other-"+tenant); !ok {
		t.Fatalf("other tenants are not affected")
	}
	defer rdb.Del(ctx, liveCallsKey("other-"+tenant))

	if err := l.Release(ctx, tenant); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := l.Acquire(ctx, tenant); !ok {
		t.Fatalf("released slot should be reusable")
	}

	for i := 0; i < 5; i++ {
		_ = l.Release(ctx, tenant)
	}
	if n, _ := rdb.Exists(ctx, liveCallsKey(tenant)).Result(); n != 0 {
		t.Fatalf("idle tenant should have no counter")
	}
}
