package history

import (
	"time"

	"crm-voice/internal/calls"
)

// Record is the immutable summary of one ended call. The signaling service
// emits these; the CRM decides how long to keep them.
//
// Invariants:
// - Records are never updated; SessionID is unique.
// - TenantID is required for tenancy isolation.
type Record struct {
	SessionID string `json:"session_id"`
	TenantID  string `json:"tenant_id"`

	CallerID     string `json:"caller_id"`
	CallerName   string `json:"caller_name"`
	ReceiverID   string `json:"receiver_id,omitempty"`
	ReceiverName string `json:"receiver_name,omitempty"`

	EndReason string `json:"end_reason"`
	EndedBy   string `json:"ended_by,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	EndedAt     time.Time  `json:"ended_at"`

	DurationSeconds int `json:"duration"`
}

func (r Record) Connected() bool { return r.ConnectedAt != nil }

// FromSession converts an ended session.
func FromSession(s calls.Session) Record {
	r := Record{
		SessionID:       s.ID,
		TenantID:        s.TenantID,
		CallerID:        s.CallerID,
		CallerName:      s.CallerName,
		ReceiverID:      s.ReceiverID,
		ReceiverName:    s.ReceiverName,
		EndReason:       s.EndReason,
		EndedBy:         s.EndedBy,
		StartedAt:       s.StartedAt,
		DurationSeconds: int(s.Duration() / time.Second),
	}
	if s.ConnectedAt != nil {
		t := *s.ConnectedAt
		r.ConnectedAt = &t
	}
	if s.EndedAt != nil {
		r.EndedAt = *s.EndedAt
	}
	return r
}
