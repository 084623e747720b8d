// Package signaling forwards WebRTC negotiation messages between the two ends
// of a call. Payloads are never parsed.
package signaling

import (
	"fmt"

	"crm-voice/internal/registry"
	"crm-voice/pkg/protocol"
)

var (
	ErrTargetUnavailable = protocol.NewError(protocol.CodeTargetUnavailable, "target connection is not available")
	ErrSenderUnknown     = protocol.NewError(protocol.CodeValidation, "sender is not registered")
	ErrCrossTenant       = protocol.NewError(protocol.CodePermission, "target belongs to another tenant")
)

type Directory interface {
	Resolve(connID string) (registry.Connection, bool)
	SendTo(connID string, msg protocol.Message) bool
}

// SessionGuard decides whether a session currently routes from one connection
// to another. *calls.Manager satisfies it.
type SessionGuard interface {
	CheckRoute(sessionID, fromConnID, toConnID string) error
}

type Relay struct {
	dir   Directory
	guard SessionGuard
}

// NewRelay returns a relay over dir. A nil guard forwards on address alone.
func NewRelay(dir Directory, guard SessionGuard) *Relay {
	return &Relay{dir: dir, guard: guard}
}

func (r *Relay) RelayOffer(senderConnID string, sig protocol.Signal) error {
	return r.forward(protocol.TypeOffer, senderConnID, sig)
}

func (r *Relay) RelayAnswer(senderConnID string, sig protocol.Signal) error {
	return r.forward(protocol.TypeAnswer, senderConnID, sig)
}

func (r *Relay) RelayICECandidate(senderConnID string, sig protocol.Signal) error {
	return r.forward(protocol.TypeICECandidate, senderConnID, sig)
}

// Relay dispatches on the negotiation message type.
func (r *Relay) Relay(t protocol.Type, senderConnID string, sig protocol.Signal) error {
	switch t {
	case protocol.TypeOffer:
		return r.RelayOffer(senderConnID, sig)
	case protocol.TypeAnswer:
		return r.RelayAnswer(senderConnID, sig)
	case protocol.TypeICECandidate:
		return r.RelayICECandidate(senderConnID, sig)
	default:
		return fmt.Errorf("%w: %q is not a negotiation message", protocol.ErrUnsupportedType, t)
	}
}

func (r *Relay) forward(t protocol.Type, senderConnID string, sig protocol.Signal) error {
	from, ok := r.dir.Resolve(senderConnID)
	if !ok {
		return ErrSenderUnknown
	}
	to, ok := r.dir.Resolve(sig.TargetConnectionID)
	if !ok {
		return ErrTargetUnavailable
	}
	if from.TenantID != to.TenantID {
		return ErrCrossTenant
	}
	if r.guard != nil {
		if err := r.guard.CheckRoute(sig.SessionID, senderConnID, sig.TargetConnectionID); err != nil {
			return err
		}
	}

	sig.FromConnectionID = senderConnID
	if !r.dir.SendTo(sig.TargetConnectionID, protocol.New(t, sig)) {
		return ErrTargetUnavailable
	}
	return nil
}
