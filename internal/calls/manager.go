package calls

import (
	"log/slog"
	"sort"
	"time"

	"crm-voice/internal/rbac"
	"crm-voice/internal/registry"
	"crm-voice/pkg/protocol"

	"github.com/google/uuid"
)

// DefaultRingTimeout is how long a call rings before it ends with no-answer.
const DefaultRingTimeout = 60 * time.Second

// Directory resolves connections and delivers notifications. *registry.Registry
// satisfies it.
type Directory interface {
	Resolve(connID string) (registry.Connection, bool)
	SendTo(connID string, msg protocol.Message) bool
	SendToGroup(group string, msg protocol.Message, except ...string) int
}

type Timer interface {
	Stop() bool
}

// Scheduler runs f after d. The callback must reach the manager on the same
// goroutine as every other call; the realtime hub wraps it accordingly.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemScheduler struct{}

func (systemScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Event is a lifecycle transition reported to observers.
type Event string

const (
	EventStarted   Event = "started"
	EventConnected Event = "connected"
	EventEnded     Event = "ended"
)

// Observer is told about every transition after it happened. Observers run on
// the manager's goroutine and must not block.
type Observer interface {
	ObserveSession(ev Event, s Session)
}

type Options struct {
	RingTimeout time.Duration
	Scheduler   Scheduler
	Observers   []Observer
	Logger      *slog.Logger
	Now         func() time.Time
	NewID       func() string
}

// Manager owns the live sessions. It is not safe for concurrent use; the
// realtime hub serializes every call, which is what makes the status check in
// AcceptCall a compare-and-set.
type Manager struct {
	dir         Directory
	ringTimeout time.Duration
	sched       Scheduler
	observers   []Observer
	log         *slog.Logger
	now         func() time.Time
	newID       func() string

	sessions map[string]*Session
	byCaller map[string]string // caller user id -> session id
	timers   map[string]Timer
}

func NewManager(dir Directory, opts Options) *Manager {
	m := &Manager{
		dir:         dir,
		ringTimeout: opts.RingTimeout,
		sched:       opts.Scheduler,
		observers:   opts.Observers,
		log:         opts.Logger,
		now:         opts.Now,
		newID:       opts.NewID,
		sessions:    make(map[string]*Session),
		byCaller:    make(map[string]string),
		timers:      make(map[string]Timer),
	}
	if m.ringTimeout <= 0 {
		m.ringTimeout = DefaultRingTimeout
	}
	if m.sched == nil {
		m.sched = systemScheduler{}
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	return m
}

// AddObserver registers o for future transitions.
func (m *Manager) AddObserver(o Observer) {
	m.observers = append(m.observers, o)
}

// RingTimeout is the no-answer window applied to new sessions.
func (m *Manager) RingTimeout() time.Duration { return m.ringTimeout }

// RequestCall rings the tenant's admins on behalf of callerConnID. An empty
// tenantID means the caller's own tenant.
func (m *Manager) RequestCall(callerConnID, tenantID string) (Session, error) {
	c, ok := m.dir.Resolve(callerConnID)
	if !ok {
		return Session{}, ErrNotRegistered
	}
	if tenantID == "" {
		tenantID = c.TenantID
	}
	if tenantID != c.TenantID {
		return Session{}, permission("cannot call another tenant")
	}
	if !rbac.CanPlaceCalls(c.Role) {
		return Session{}, permission("role cannot place calls")
	}
	if existing, busy := m.byCaller[c.UserID]; busy {
		return Session{}, protocol.NewError(protocol.CodeAlreadyInCall, "caller already has call "+existing)
	}

	s := &Session{
		ID:                 m.newID(),
		TenantID:           tenantID,
		CallerID:           c.UserID,
		CallerName:         c.DisplayName,
		CallerConnectionID: c.ConnectionID,
		Status:             StatusRinging,
		StartedAt:          m.now().UTC(),
	}
	m.sessions[s.ID] = s
	m.byCaller[c.UserID] = s.ID

	m.dir.SendToGroup(registry.AdminGroup(tenantID), protocol.New(protocol.TypeIncomingCall, protocol.IncomingCall{
		SessionID:          s.ID,
		CallerID:           s.CallerID,
		CallerName:         s.CallerName,
		CallerConnectionID: s.CallerConnectionID,
		StartedAt:          s.StartedAt,
	}))
	m.dir.SendTo(callerConnID, protocol.New(protocol.TypeCallRinging, protocol.CallRinging{
		SessionID:      s.ID,
		TimeoutSeconds: int(m.ringTimeout / time.Second),
	}))

	id := s.ID
	m.timers[id] = m.sched.AfterFunc(m.ringTimeout, func() { m.expire(id) })

	m.log.Info("call requested", "session_id", s.ID, "tenant_id", tenantID, "caller_id", s.CallerID)
	m.observe(EventStarted, s)
	return s.clone(), nil
}

// AcceptCall connects the first admin to accept. Later accepts get
// ErrNoLongerAvailable. An admin takes one call at a time across all of
// their tabs; accepting while already connected gets ErrAlreadyInCall.
func (m *Manager) AcceptCall(adminConnID, sessionID string) (Session, error) {
	a, ok := m.dir.Resolve(adminConnID)
	if !ok {
		return Session{}, ErrNotRegistered
	}
	if !rbac.CanAnswerCalls(a.Role) {
		return Session{}, permission("only admins can accept calls")
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.TenantID != a.TenantID {
		return Session{}, permission("session belongs to another tenant")
	}
	if s.Status != StatusRinging {
		return Session{}, ErrNoLongerAvailable
	}
	if m.receiving(a.TenantID, a.UserID) {
		return Session{}, ErrAlreadyInCall
	}

	m.stopTimer(s.ID)
	now := m.now().UTC()
	s.Status = StatusConnected
	s.ReceiverID = a.UserID
	s.ReceiverName = a.DisplayName
	s.ReceiverConnectionID = a.ConnectionID
	s.ConnectedAt = &now

	m.dir.SendToGroup(registry.AdminGroup(s.TenantID), protocol.New(protocol.TypeCallTaken, protocol.CallTaken{
		SessionID: s.ID,
		By:        a.UserID,
	}), adminConnID)
	m.dir.SendTo(s.CallerConnectionID, protocol.New(protocol.TypeCallAccepted, protocol.CallAccepted{
		SessionID:        s.ID,
		By:               a.UserID,
		ByName:           a.DisplayName,
		PeerConnectionID: a.ConnectionID,
		Role:             protocol.RoleAnswerer,
	}))
	m.dir.SendTo(adminConnID, protocol.New(protocol.TypeCallConnected, protocol.CallConnected{
		SessionID:        s.ID,
		PeerID:           s.CallerID,
		PeerName:         s.CallerName,
		PeerConnectionID: s.CallerConnectionID,
		Role:             protocol.RoleOfferer,
	}))

	m.log.Info("call accepted", "session_id", s.ID, "tenant_id", s.TenantID, "receiver_id", a.UserID)
	m.observe(EventConnected, s)
	return s.clone(), nil
}

// RejectCall acknowledges a decline. The session keeps ringing for everyone else.
func (m *Manager) RejectCall(adminConnID, sessionID string) error {
	a, ok := m.dir.Resolve(adminConnID)
	if !ok {
		return ErrNotRegistered
	}
	if !rbac.CanAnswerCalls(a.Role) {
		return permission("only admins can reject calls")
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.TenantID != a.TenantID {
		return permission("session belongs to another tenant")
	}
	m.dir.SendTo(adminConnID, protocol.New(protocol.TypeCallRejectedAck, protocol.SessionRef{SessionID: s.ID}))
	return nil
}

// CancelCall ends a ringing call on behalf of the connection that placed it.
func (m *Manager) CancelCall(callerConnID, sessionID string) (Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.CallerConnectionID != callerConnID {
		return Session{}, permission("only the caller can cancel")
	}
	if s.Status != StatusRinging {
		return Session{}, ErrNoLongerAvailable
	}
	return m.end(s, protocol.ReasonCancelled, callerConnID), nil
}

// EndCall hangs up a ringing or connected call. Only participants may end it.
func (m *Manager) EndCall(sessionID, byConnID string) (Session, error) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	if !s.IsParticipant(byConnID) {
		return Session{}, permission("only participants can end a call")
	}
	return m.end(s, protocol.ReasonHangup, byConnID), nil
}

// OnDisconnect ends every live session connID takes part in.
func (m *Manager) OnDisconnect(connID string) []Session {
	var ids []string
	for id, s := range m.sessions {
		if s.IsParticipant(connID) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.end(m.sessions[id], protocol.ReasonDisconnected, connID))
	}
	return out
}

// Shutdown ends every live session with reason shutdown.
func (m *Manager) Shutdown() []Session {
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.end(m.sessions[id], protocol.ReasonShutdown, ""))
	}
	return out
}

// Get returns a copy of a live session.
func (m *Manager) Get(sessionID string) (Session, bool) {
	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return s.clone(), true
}

// Active lists a tenant's live sessions, oldest first.
func (m *Manager) Active(tenantID string) []Session {
	out := make([]Session, 0)
	for _, s := range m.sessions {
		if s.TenantID == tenantID {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// ActiveCount is the number of live sessions across all tenants.
func (m *Manager) ActiveCount() int { return len(m.sessions) }

// CheckRoute allows a negotiation message from one end of a connected call to
// the other.
func (m *Manager) CheckRoute(sessionID, fromConnID, toConnID string) error {
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.Status != StatusConnected {
		return ErrNotConnected
	}
	if !s.IsParticipant(fromConnID) || s.Counterpart(fromConnID) != toConnID {
		return permission("target is not the other participant")
	}
	return nil
}

// expire runs when the ring timer fires. A timer that lost a race with accept
// or cancel finds the session gone or connected and does nothing.
func (m *Manager) expire(sessionID string) {
	s, ok := m.sessions[sessionID]
	if !ok || s.Status != StatusRinging {
		return
	}
	delete(m.timers, sessionID)
	m.end(s, protocol.ReasonNoAnswer, "")
}

func (m *Manager) end(s *Session, reason, by string) Session {
	wasRinging := s.Status == StatusRinging
	m.stopTimer(s.ID)

	now := m.now().UTC()
	s.Status = StatusEnded
	s.EndedAt = &now
	s.EndReason = reason
	s.EndedBy = by

	delete(m.sessions, s.ID)
	if m.byCaller[s.CallerID] == s.ID {
		delete(m.byCaller, s.CallerID)
	}

	if wasRinging {
		m.dir.SendToGroup(registry.AdminGroup(s.TenantID), protocol.New(protocol.TypeCallCancelled, protocol.CallCancelled{
			SessionID: s.ID,
			Reason:    retractReason(reason),
		}))
	}

	ended := protocol.New(protocol.TypeCallEnded, protocol.CallEnded{
		SessionID:       s.ID,
		Reason:          reason,
		DurationSeconds: int(s.Duration() / time.Second),
		EndedBy:         by,
	})
	switch {
	case reason == protocol.ReasonCancelled:
		m.dir.SendTo(s.CallerConnectionID, protocol.New(protocol.TypeCallCancelled, protocol.CallCancelled{
			SessionID: s.ID,
			Reason:    reason,
		}))
	default:
		m.dir.SendTo(s.CallerConnectionID, ended)
		if s.ReceiverConnectionID != "" {
			m.dir.SendTo(s.ReceiverConnectionID, ended)
		}
	}

	m.log.Info("call ended",
		"session_id", s.ID,
		"tenant_id", s.TenantID,
		"reason", reason,
		"duration_s", int(s.Duration()/time.Second),
	)
	m.observe(EventEnded, s)
	return s.clone()
}

// retractReason is what admins see when a ringing call goes away.
func retractReason(reason string) string {
	if reason == protocol.ReasonHangup {
		return protocol.ReasonCancelled
	}
	return reason
}

func (m *Manager) stopTimer(sessionID string) {
	if t, ok := m.timers[sessionID]; ok {
		t.Stop()
		delete(m.timers, sessionID)
	}
}

func (m *Manager) receiving(tenantID, userID string) bool {
	for _, s := range m.sessions {
		if s.Status == StatusConnected && s.TenantID == tenantID && s.ReceiverID == userID {
			return true
		}
	}
	return false
}

func (m *Manager) observe(ev Event, s *Session) {
	if len(m.observers) == 0 {
		return
	}
	snap := s.clone()
	for _, o := range m.observers {
		o.ObserveSession(ev, snap)
	}
}
