package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records security-relevant events.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to tenant users.
// - Logging is best-effort: helpers swallow repository errors after logging them.
// - A nil *Service is valid and records nothing.
type Service struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, log: log, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.TenantID == "" && e.Type != EventAuthRejected {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Actor identifies who caused an event.
type Actor struct {
	UserID   string
	TenantID string
	Role     string
	IP       string
}

// LogTokenIssued records a token minted without credentials.
func (s *Service) LogTokenIssued(ctx context.Context, issuedTo, by Actor) {
	s.record(ctx, Event{
		TenantID:    issuedTo.TenantID,
		Type:        EventTokenIssued,
		ActorUserID: issuedTo.UserID,
		ActorRole:   issuedTo.Role,
		IPAddress:   by.IP,
		Message:     "development token issued",
	})
}

// LogAuthRejected records a websocket refused before upgrade.
func (s *Service) LogAuthRejected(ctx context.Context, ip, reason string) {
	s.record(ctx, Event{
		Type:      EventAuthRejected,
		IPAddress: ip,
		Message:   reason,
	})
}

// LogViolation records an authenticated client overstepping its identity.
func (s *Service) LogViolation(ctx context.Context, actor Actor, connID, sessionID, message string) {
	s.record(ctx, Event{
		TenantID:     actor.TenantID,
		Type:         EventPolicyViolation,
		ActorUserID:  actor.UserID,
		ActorRole:    actor.Role,
		IPAddress:    actor.IP,
		ConnectionID: connID,
		SessionID:    sessionID,
		Message:      message,
	})
}

func (s *Service) record(ctx context.Context, e Event) {
	if s == nil {
		return
	}
	if err := s.Append(ctx, e); err != nil {
		s.log.Error("audit append failed", "type", e.Type, "err", err)
	}
}
