package history

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// RedisStream publishes records to a capped stream for CRM consumers.
type RedisStream struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

func NewRedisStream(rdb *redis.Client, stream string, maxLen int64) *RedisStream {
	if stream == "" {
		stream = "calls:ended"
	}
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &RedisStream{rdb: rdb, stream: stream, maxLen: maxLen}
}

func (s *RedisStream) Append(ctx context.Context, r Record) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"session_id": r.SessionID,
			"tenant_id":  r.TenantID,
			"record":     body,
		},
	}).Err()
}
