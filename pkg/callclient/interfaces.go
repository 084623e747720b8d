// Package callclient is the client half of a browser-style voice call: it
// speaks the signaling protocol over a Transport and owns the peer connection,
// the local audio track and the duration ticker for the current call.
package callclient

import (
	"context"
	"encoding/json"

	"crm-voice/pkg/protocol"

	"github.com/pion/webrtc/v4"
)

// Transport carries protocol frames to and from the signaling server.
// Send must be safe for concurrent use; Receive is called from one goroutine.
type Transport interface {
	Send(ctx context.Context, msg protocol.Message) error
	Receive() (protocol.Envelope, error)
	Close() error
}

// LocalTrack is an outbound audio track.
type LocalTrack interface {
	// TrackLocal is what gets attached to the peer connection. Fakes may return nil.
	TrackLocal() webrtc.TrackLocal
	SetEnabled(enabled bool)
	Stop() error
}

// MediaSource acquires the local audio track. It is only called once a call
// starts connecting.
type MediaSource interface {
	Open() (LocalTrack, error)
}

// PeerEvents are raised from the peer's own goroutines.
type PeerEvents struct {
	OnICECandidate    func(candidate json.RawMessage)
	OnConnectionState func(state string)
	OnRemoteTrack     func(kind string)
}

// Peer is one peer connection. Descriptions and candidates are exchanged in
// their browser JSON forms so they pass through the relay untouched.
type Peer interface {
	CreateOffer() (json.RawMessage, error)
	AcceptOffer(offer json.RawMessage) (json.RawMessage, error)
	AcceptAnswer(answer json.RawMessage) error
	AddICECandidate(candidate json.RawMessage) error
	Close() error
}

type PeerFactory interface {
	NewPeer(track LocalTrack, ev PeerEvents) (Peer, error)
}
