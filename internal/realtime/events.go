package realtime

import (
	"context"
	"time"

	"crm-voice/internal/audit"
	"crm-voice/internal/registry"
	"crm-voice/pkg/protocol"
)

var (
	errAlreadyRegistered = protocol.NewError(protocol.CodeValidation, "connection already registered")
	errIdentityMismatch  = protocol.NewError(protocol.CodePermission, "register fields do not match the token")
	errCallLimit         = protocol.NewError(protocol.CodeCallLimit, "tenant has reached its concurrent call limit")
)

// dispatch runs on the client's reader goroutine. Anything that may block on
// I/O happens here; state changes are submitted to the hub.
func (h *Hub) dispatch(c *client, in protocol.Inbound) {
	switch in.Type {
	case protocol.TypeRegister:
		p := in.Payload.(protocol.Register)
		h.Submit(func() { h.register(c, p) })

	case protocol.TypeCallRequest:
		p := in.Payload.(protocol.CallRequest)
		held, ok := h.acquireSlot(c)
		if !ok {
			return
		}
		if !h.Submit(func() { h.requestCall(c, p, held) }) && held {
			// the hub is gone; nothing will end a session for this slot
			h.releaseSlotNow(c.identity.TenantID)
		}

	case protocol.TypeCallAccept, protocol.TypeCallReject, protocol.TypeCallCancel, protocol.TypeCallEnd:
		ref := in.Payload.(protocol.SessionRef)
		h.Submit(func() { h.sessionOp(c, in.Type, ref.SessionID) })

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		sig := in.Payload.(protocol.Signal)
		h.Submit(func() {
			if err := h.relay.Relay(in.Type, c.id, sig); err != nil {
				if protocol.CodeOf(err) == protocol.CodePermission {
					h.violation(c, sig.SessionID, "signaling refused: "+err.Error())
				}
				h.reply(c, err, sig.SessionID)
			}
		})

	case protocol.TypeGetOnlineAdmins:
		h.Submit(func() {
			if !h.presence.Reply(c.id) {
				h.reply(c, protocol.NewError(protocol.CodeValidation, "connection is not registered"), "")
			}
		})
	}
}

func (h *Hub) register(c *client, p protocol.Register) {
	if c.registered {
		h.reply(c, errAlreadyRegistered, "")
		return
	}
	id := c.identity
	// The token is authoritative; register may only echo it.
	if (p.UserID != "" && p.UserID != id.UserID) ||
		(p.Role != "" && p.Role != id.Role) ||
		(p.TenantID != "" && p.TenantID != id.TenantID) {
		h.violation(c, "", "register fields do not match the token")
		h.reply(c, errIdentityMismatch, "")
		return
	}
	name := p.DisplayName
	if name == "" {
		name = id.Name
	}
	if name == "" {
		name = id.UserID
	}

	conn, first, err := h.reg.Register(registry.Connection{
		ConnectionID: c.id,
		UserID:       id.UserID,
		DisplayName:  name,
		Role:         id.Role,
		TenantID:     id.TenantID,
	}, c)
	if err != nil {
		h.reply(c, err, "")
		return
	}
	c.registered = true
	c.log.Info("connection registered", "role", conn.Role, "first_for_user", first)

	c.Send(protocol.New(protocol.TypeRegistered, protocol.Registered{
		ConnectionID: conn.ConnectionID,
		UserID:       conn.UserID,
		DisplayName:  conn.DisplayName,
		Role:         conn.Role,
		TenantID:     conn.TenantID,
	}))
	h.presence.Online(conn, first)
}

func (h *Hub) requestCall(c *client, p protocol.CallRequest, held bool) {
	s, err := h.calls.RequestCall(c.id, p.TenantID)
	if err != nil {
		if held {
			h.releaseSlot(c.identity.TenantID)
		}
		h.reply(c, err, "")
		return
	}
	if held {
		h.slots[s.ID] = s.TenantID
	}
}

func (h *Hub) sessionOp(c *client, t protocol.Type, sessionID string) {
	var err error
	switch t {
	case protocol.TypeCallAccept:
		_, err = h.calls.AcceptCall(c.id, sessionID)
	case protocol.TypeCallReject:
		err = h.calls.RejectCall(c.id, sessionID)
	case protocol.TypeCallCancel:
		_, err = h.calls.CancelCall(c.id, sessionID)
	case protocol.TypeCallEnd:
		_, err = h.calls.EndCall(sessionID, c.id)
	}
	if err != nil {
		h.reply(c, err, sessionID)
	}
}

// disconnect cleans up after a socket closed. Disconnect is cleanup, never an error.
func (h *Hub) disconnect(c *client) {
	h.Submit(func() {
		delete(h.clients, c.id)
		if conn, last, ok := h.reg.Unregister(c.id); ok {
			h.presence.Offline(conn, last)
		}
		h.calls.OnDisconnect(c.id)
		c.log.Info("connection closed")
	})
}

// acquireSlot takes a tenant call slot before the request reaches the hub.
// held reports whether a slot must be released later; ok is false when the
// request was refused and already answered.
func (h *Hub) acquireSlot(c *client) (held, ok bool) {
	if h.limiter == nil {
		return false, true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := h.limiter.Acquire(ctx, c.identity.TenantID)
	if err != nil {
		// fail open: a Redis outage must not stop customers from calling
		c.log.Warn("call slot acquire failed", "err", err)
		return false, true
	}
	if !got {
		h.Submit(func() { h.reply(c, errCallLimit, "") })
		return false, false
	}
	return true, true
}

func (h *Hub) violation(c *client, sessionID, msg string) {
	h.audit.LogViolation(context.Background(), audit.Actor{
		UserID:   c.identity.UserID,
		TenantID: c.identity.TenantID,
		Role:     c.identity.Role,
		IP:       c.ip,
	}, c.id, sessionID, msg)
}
