package calls

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter caps concurrent live calls per tenant. Implementations may do I/O,
// so they are called off the hub goroutine.
type Limiter interface {
	Acquire(ctx context.Context, tenantID string) (bool, error)
	Release(ctx context.Context, tenantID string) error
}

// RedisLimiter shares the cap across every signaling process of a deployment.
// Each tenant has one counter of live calls.
type RedisLimiter struct {
	rdb *redis.Client
	max int
	ttl time.Duration
}

// NewRedisLimiter allows max live calls per tenant. ttl bounds slots leaked by
// a crashed process; it is refreshed on every acquire and should exceed the
// longest expected call.
func NewRedisLimiter(rdb *redis.Client, max int, ttl time.Duration) *RedisLimiter {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &RedisLimiter{rdb: rdb, max: max, ttl: ttl}
}

func liveCallsKey(tenantID string) string { return "crm-voice:calls:live:" + tenantID }

// KEYS[1] tenant counter, ARGV[1] cap, ARGV[2] ttl in ms.
// Returns the new count, or -1 when the tenant is at its cap.
var acquireCallSlot = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n > tonumber(ARGV[1]) then
  redis.call('DECR', KEYS[1])
  return -1
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return n
`)

// KEYS[1] tenant counter. Never goes below zero; an idle tenant has no key.
var releaseCallSlot = redis.NewScript(`
local n = redis.call('DECR', KEYS[1])
if n <= 0 then
  redis.call('DEL', KEYS[1])
  return 0
end
return n
`)

var errNoRedis = errors.New("calls: redis limiter has no client")

func (l *RedisLimiter) Acquire(ctx context.Context, tenantID string) (bool, error) {
	if l.rdb == nil {
		return false, errNoRedis
	}
	if l.max <= 0 {
		return true, nil
	}
	n, err := acquireCallSlot.Run(ctx, l.rdb, []string{liveCallsKey(tenantID)}, l.max, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *RedisLimiter) Release(ctx context.Context, tenantID string) error {
	if l.rdb == nil {
		return errNoRedis
	}
	if l.max <= 0 {
		return nil
	}
	return releaseCallSlot.Run(ctx, l.rdb, []string{liveCallsKey(tenantID)}).Err()
}
