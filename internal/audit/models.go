package audit

import "time"

// Event is an immutable, append-only security audit record.
//
// Invariants:
// - Events are never updated or deleted.
// - TenantID is required except for rejected authentication, where no tenant is known yet.
// - Actor and ip capture are best-effort; never block signaling on audit failures.
type Event struct {
	ID       string    `json:"id"`
	TenantID string    `json:"tenant_id,omitempty"`
	Type     EventType `json:"type"`

	ActorUserID string `json:"actor_user_id,omitempty"`
	ActorRole   string `json:"actor_role,omitempty"`

	// IPAddress is the client ip as resolved by gin (trusted proxies apply).
	IPAddress string `json:"ip_address,omitempty"`

	ConnectionID string `json:"connection_id,omitempty"`
	SessionID    string `json:"session_id,omitempty"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type EventType string

const (
	// EventTokenIssued records the development token endpoint minting a token.
	EventTokenIssued EventType = "token_issued"
	// EventAuthRejected records a websocket refused before upgrade.
	EventAuthRejected EventType = "auth_rejected"
	// EventPolicyViolation records an authenticated client attempting
	// something its identity does not allow (identity spoofing, cross-tenant relay).
	EventPolicyViolation EventType = "policy_violation"
)
