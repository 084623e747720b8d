// Package presence tells a tenant's admins who is online.
//
// Deltas are edge-triggered per user: a second browser tab does not announce
// the user again, and closing one of two tabs does not take them offline.
package presence

import (
	"context"
	"log/slog"
	"time"

	"crm-voice/internal/registry"
	"crm-voice/pkg/protocol"
)

// Mirror receives the same deltas for readers outside this process.
// Calls are made from a background worker, never from the hub goroutine.
type Mirror interface {
	SetOnline(ctx context.Context, c registry.Connection) error
	SetOffline(ctx context.Context, c registry.Connection) error
}

type Broadcaster struct {
	reg    *registry.Registry
	mirror Mirror
	log    *slog.Logger

	mirrorTimeout time.Duration
	ops           chan mirrorOp
	done          chan struct{}
}

type mirrorOp struct {
	conn   registry.Connection
	online bool
}

func NewBroadcaster(reg *registry.Registry, mirror Mirror, log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	b := &Broadcaster{reg: reg, mirror: mirror, log: log, mirrorTimeout: 2 * time.Second}
	if mirror != nil {
		// one worker keeps online/offline for a user in order
		b.ops = make(chan mirrorOp, 256)
		b.done = make(chan struct{})
		go b.runMirror()
	}
	return b
}

// Close drains pending mirror writes. The broadcaster must not be used afterwards.
func (b *Broadcaster) Close() {
	if b.ops == nil {
		return
	}
	close(b.ops)
	<-b.done
}

// Online announces c to the tenant-admin group when first is set.
func (b *Broadcaster) Online(c registry.Connection, first bool) {
	if !first {
		return
	}
	b.reg.SendToGroup(registry.AdminGroup(c.TenantID), protocol.New(protocol.TypeUserOnline, toPresence(c)), c.ConnectionID)
	b.mirrorAsync(c, true)
}

// Offline announces c's departure when last is set.
func (b *Broadcaster) Offline(c registry.Connection, last bool) {
	if !last {
		return
	}
	b.reg.SendToGroup(registry.AdminGroup(c.TenantID), protocol.New(protocol.TypeUserOffline, toPresence(c)))
	b.mirrorAsync(c, false)
}

// Snapshot counts the distinct admins online in a tenant. Identities are only
// included when the asker is an admin.
func (b *Broadcaster) Snapshot(tenantID string, withIdentities bool) protocol.OnlineAdmins {
	users := b.reg.Users(registry.AdminGroup(tenantID))
	out := protocol.OnlineAdmins{TenantID: tenantID, Count: len(users)}
	if withIdentities {
		out.Admins = make([]protocol.Presence, 0, len(users))
		for _, u := range users {
			out.Admins = append(out.Admins, toPresence(u))
		}
	}
	return out
}

// Reply answers a get-online-admins request from connID.
func (b *Broadcaster) Reply(connID string) bool {
	c, ok := b.reg.Resolve(connID)
	if !ok {
		return false
	}
	return b.reg.SendTo(connID, protocol.New(protocol.TypeOnlineAdmins, b.Snapshot(c.TenantID, c.IsAdmin())))
}

func (b *Broadcaster) mirrorAsync(c registry.Connection, online bool) {
	if b.ops == nil {
		return
	}
	select {
	case b.ops <- mirrorOp{conn: c, online: online}:
	default:
		b.log.Warn("presence mirror queue full", "user_id", c.UserID, "tenant_id", c.TenantID)
	}
}

func (b *Broadcaster) runMirror() {
	defer close(b.done)
	for op := range b.ops {
		ctx, cancel := context.WithTimeout(context.Background(), b.mirrorTimeout)
		var err error
		if op.online {
			err = b.mirror.SetOnline(ctx, op.conn)
		} else {
			err = b.mirror.SetOffline(ctx, op.conn)
		}
		cancel()
		if err != nil {
			b.log.Warn("presence mirror failed", "user_id", op.conn.UserID, "tenant_id", op.conn.TenantID, "online", op.online, "err", err)
		}
	}
}

func toPresence(c registry.Connection) protocol.Presence {
	return protocol.Presence{UserID: c.UserID, DisplayName: c.DisplayName, Role: c.Role}
}
