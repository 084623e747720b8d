package calls

import "time"

// Session is one call attempt between a caller and a tenant's support pool.
//
// Invariants:
// - At most one session that is not ended exists per CallerID.
// - Once connected, the receiver fields never change.
// - Transitions are ringing->connected, ringing->ended and connected->ended only.
//
// Sessions live in memory only and die with the process.
type Session struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	CallerID           string `json:"callerId"`
	CallerName         string `json:"callerName"`
	CallerConnectionID string `json:"callerConnectionId"`

	ReceiverID           string `json:"receiverId,omitempty"`
	ReceiverName         string `json:"receiverName,omitempty"`
	ReceiverConnectionID string `json:"receiverConnectionId,omitempty"`

	Status Status `json:"status"`

	StartedAt   time.Time  `json:"startedAt"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`

	EndReason string `json:"endReason,omitempty"`
	// EndedBy is the connection that ended the call, empty for system endings.
	EndedBy string `json:"endedBy,omitempty"`
}

type Status string

const (
	StatusRinging   Status = "ringing"
	StatusConnected Status = "connected"
	StatusEnded     Status = "ended"
)

// Duration is EndedAt - ConnectedAt truncated to whole seconds, zero if the
// call never connected.
func (s Session) Duration() time.Duration {
	if s.ConnectedAt == nil || s.EndedAt == nil {
		return 0
	}
	d := s.EndedAt.Sub(*s.ConnectedAt)
	if d < 0 {
		return 0
	}
	return d.Truncate(time.Second)
}

// IsParticipant reports whether connID is the caller or the receiver.
func (s Session) IsParticipant(connID string) bool {
	return connID != "" && (connID == s.CallerConnectionID || connID == s.ReceiverConnectionID)
}

// Counterpart returns the other end of the call, empty when there is none yet.
func (s Session) Counterpart(connID string) string {
	switch connID {
	case s.CallerConnectionID:
		return s.ReceiverConnectionID
	case s.ReceiverConnectionID:
		return s.CallerConnectionID
	}
	return ""
}

func (s Session) clone() Session {
	out := s
	if s.ConnectedAt != nil {
		t := *s.ConnectedAt
		out.ConnectedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	return out
}
