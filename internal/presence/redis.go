package presence

import (
	"context"
	"time"

	"crm-voice/internal/registry"

	"github.com/redis/go-redis/v9"
)

// RedisMirror keeps one set of online user ids per tenant and role.
type RedisMirror struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisMirror(rdb *redis.Client) *RedisMirror {
	return &RedisMirror{rdb: rdb, ttl: 24 * time.Hour}
}

func Key(tenantID, role string) string {
	return "presence:" + tenantID + ":" + role
}

func (m *RedisMirror) SetOnline(ctx context.Context, c registry.Connection) error {
	key := Key(c.TenantID, c.Role)
	pipe := m.rdb.TxPipeline()
	pipe.SAdd(ctx, key, c.UserID)
	// a crashed process cannot clean up; bound the damage
	pipe.Expire(ctx, key, m.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (m *RedisMirror) SetOffline(ctx context.Context, c registry.Connection) error {
	return m.rdb.SRem(ctx, Key(c.TenantID, c.Role), c.UserID).Err()
}

// Count is the number of users of role online in a tenant across all processes.
func (m *RedisMirror) Count(ctx context.Context, tenantID, role string) (int64, error) {
	return m.rdb.SCard(ctx, Key(tenantID, role)).Result()
}
