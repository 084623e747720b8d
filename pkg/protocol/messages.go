package protocol

import (
	"encoding/json"
	"time"
)

// Type identifies a signaling message on the websocket.
type Type string

// Client -> server.
const (
	TypeRegister        Type = "register"
	TypeCallRequest     Type = "call-request"
	TypeCallAccept      Type = "call-accept"
	TypeCallReject      Type = "call-reject"
	TypeCallCancel      Type = "call-cancel"
	TypeCallEnd         Type = "call-end"
	TypeGetOnlineAdmins Type = "get-online-admins"
)

// Server -> client.
const (
	TypeRegistered      Type = "registered"
	TypeCallRinging     Type = "call-ringing"
	TypeIncomingCall    Type = "incoming-call"
	TypeCallConnected   Type = "call-connected"
	TypeCallAccepted    Type = "call-accepted"
	TypeCallTaken       Type = "call-taken"
	TypeCallRejectedAck Type = "call-rejected-ack"
	TypeCallCancelled   Type = "call-cancelled"
	TypeCallEnded       Type = "call-ended"
	TypeOnlineAdmins    Type = "online-admins"
	TypeUserOnline      Type = "user-online"
	TypeUserOffline     Type = "user-offline"
	TypeCallError       Type = "call-error"
)

// Relayed in both directions.
const (
	TypeOffer        Type = "webrtc-offer"
	TypeAnswer       Type = "webrtc-answer"
	TypeICECandidate Type = "webrtc-ice-candidate"
)

// NegotiationRole is the fixed SDP role of a call participant.
// The accepting agent always offers; the customer always answers.
type NegotiationRole string

const (
	RoleOfferer  NegotiationRole = "offerer"
	RoleAnswerer NegotiationRole = "answerer"
)

// End and cancel reasons.
const (
	ReasonHangup       = "hangup"
	ReasonNoAnswer     = "no-answer"
	ReasonCancelled    = "cancelled"
	ReasonDisconnected = "disconnected"
	ReasonShutdown     = "shutdown"
)

// Envelope is the raw inbound frame: {"type": "...", "data": {...}}.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Message is an outbound frame. Data is marshalled as-is.
type Message struct {
	Type Type `json:"type"`
	Data any  `json:"data,omitempty"`
}

func New(t Type, data any) Message { return Message{Type: t, Data: data} }

type Register struct {
	DisplayName string `json:"displayName,omitempty"`
	// Optional echoes of the token identity. When present they must match.
	UserID   string `json:"userId,omitempty"`
	Role     string `json:"role,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
}

type Registered struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	DisplayName  string `json:"displayName"`
	Role         string `json:"role"`
	TenantID     string `json:"tenantId"`
}

type CallRequest struct {
	TenantID string `json:"tenantId,omitempty"`
}

// SessionRef is the payload of accept, reject, cancel and end.
type SessionRef struct {
	SessionID string `json:"sessionId"`
}

type CallRinging struct {
	SessionID      string `json:"sessionId"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type IncomingCall struct {
	SessionID          string    `json:"sessionId"`
	CallerID           string    `json:"callerId"`
	CallerName         string    `json:"callerName"`
	CallerConnectionID string    `json:"callerConnectionId"`
	StartedAt          time.Time `json:"startedAt"`
}

// CallConnected goes to the winning agent.
type CallConnected struct {
	SessionID        string          `json:"sessionId"`
	PeerID           string          `json:"peerId"`
	PeerName         string          `json:"peerName"`
	PeerConnectionID string          `json:"peerConnectionId"`
	Role             NegotiationRole `json:"role"`
}

// CallAccepted goes to the caller.
type CallAccepted struct {
	SessionID        string          `json:"sessionId"`
	By               string          `json:"by"`
	ByName           string          `json:"byName"`
	PeerConnectionID string          `json:"peerConnectionId"`
	Role             NegotiationRole `json:"role"`
}

// CallTaken tells losing agents to drop their popup.
type CallTaken struct {
	SessionID string `json:"sessionId"`
	By        string `json:"by"`
}

type CallCancelled struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

type CallEnded struct {
	SessionID       string `json:"sessionId"`
	Reason          string `json:"reason"`
	DurationSeconds int    `json:"duration"`
	EndedBy         string `json:"endedBy,omitempty"`
}

// Signal carries an opaque negotiation payload between two connections.
type Signal struct {
	SessionID          string          `json:"sessionId"`
	TargetConnectionID string          `json:"targetConnectionId"`
	FromConnectionID   string          `json:"fromConnectionId,omitempty"`
	Payload            json.RawMessage `json:"payload"`
}

type Presence struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

type OnlineAdmins struct {
	TenantID string     `json:"tenantId"`
	Count    int        `json:"count"`
	Admins   []Presence `json:"admins,omitempty"`
}

type CallError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	SessionID string    `json:"sessionId,omitempty"`
}
