package history

import (
	"context"
	"os"
	"testing"
	"time"

	"crm-voice/pkg/utils"
)

// These run only against real backends:
//   TEST_POSTGRES_HOST=localhost (user/password/db from TEST_POSTGRES_USER,
//   TEST_POSTGRES_PASSWORD, TEST_POSTGRES_DB; defaults postgres/postgres/crm)
//   TEST_REDIS_HOST=localhost

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestPostgresOutbox_AppendIsIdempotent(t *testing.T) {
	host := os.Getenv("TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("TEST_POSTGRES_HOST not set")
	}
	ctx := context.Background()
	db, err := utils.OpenPostgres(ctx, utils.PostgresConfig{
		Host:     host,
		User:     envOr("TEST_POSTGRES_USER", "postgres"),
		Password: envOr("TEST_POSTGRES_PASSWORD", "postgres"),
		Name:     envOr("TEST_POSTGRES_DB", "crm"),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	outbox := NewPostgresOutbox(db)
	for i := 0; i < 2; i++ {
		if err := outbox.EnsureSchema(ctx); err != nil {
			t.Fatalf("schema run %d: %v", i, err)
		}
	}
	rec := FromSession(endedSession("it-"+time.Now().Format("150405.000000"), "t1", 3*time.Second))
	for i := 0; i < 2; i++ {
		if err := outbox.Append(ctx, rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM call_history_outbox WHERE session_id = $1`, rec.SessionID).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one row, got %d", n)
	}
}

func TestRedisStream_Append(t *testing.T) {
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

	stream := "test:calls:ended:" + time.Now().Format("150405.000000")
	defer rdb.Del(ctx, stream)

	if err := NewRedisStream(rdb, stream, 10).Append(ctx, FromSession(endedSession("s1", "t1", 0))); err != nil {
		t.Fatalf("append: %v", err)
	}
	if n, err := rdb.XLen(ctx, stream).Result(); err != nil || n != 1 {
		t.Fatalf("expected one entry, got %d (%v)", n, err)
	}
}
