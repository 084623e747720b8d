// Package registry maps live websocket connections to the identity they
// registered with and to the tenant groups they belong to.
//
// A Registry is not safe for concurrent use. The realtime hub owns it and
// touches it from a single goroutine.
package registry

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"crm-voice/internal/rbac"
	"crm-voice/pkg/protocol"
)

var (
	ErrInvalidIdentity   = protocol.NewError(protocol.CodeValidation, "invalid connection identity")
	ErrAlreadyRegistered = protocol.NewError(protocol.CodeValidation, "connection already registered")
)

// Sender delivers one outbound message to a connection. It must not block;
// it reports false when the message was dropped.
type Sender interface {
	Send(msg protocol.Message) bool
}

// Connection is the identity a live connection registered with.
type Connection struct {
	ConnectionID string    `json:"connectionId"`
	UserID       string    `json:"userId"`
	DisplayName  string    `json:"displayName"`
	Role         string    `json:"role"`
	TenantID     string    `json:"tenantId"`
	RegisteredAt time.Time `json:"registeredAt"`
}

func (c Connection) IsAdmin() bool { return rbac.IsAdmin(c.Role) }

// TenantGroup holds every connection of a tenant.
func TenantGroup(tenantID string) string { return "tenant:" + tenantID }

// AdminGroup holds the admin connections of a tenant.
func AdminGroup(tenantID string) string { return "tenant-admins:" + tenantID }

type entry struct {
	conn   Connection
	sender Sender
	seq    uint64
	groups []string
}

type Registry struct {
	conns  map[string]*entry
	byUser map[string]map[string]struct{}
	groups map[string]map[string]struct{}
	seq    uint64
	now    func() time.Time
}

func New() *Registry {
	return &Registry{
		conns:  make(map[string]*entry),
		byUser: make(map[string]map[string]struct{}),
		groups: make(map[string]map[string]struct{}),
		now:    time.Now,
	}
}

// Register stores c and joins its groups. first reports whether this is the
// user's only live connection, which is the presence online edge.
func (r *Registry) Register(c Connection, s Sender) (conn Connection, first bool, err error) {
	c.DisplayName = strings.TrimSpace(c.DisplayName)
	if err := validate(c); err != nil {
		return Connection{}, false, err
	}
	if s == nil {
		return Connection{}, false, fmt.Errorf("%w: nil sender", ErrInvalidIdentity)
	}
	if _, exists := r.conns[c.ConnectionID]; exists {
		return Connection{}, false, ErrAlreadyRegistered
	}
	if c.RegisteredAt.IsZero() {
		c.RegisteredAt = r.now().UTC()
	}

	r.seq++
	e := &entry{conn: c, sender: s, seq: r.seq}
	e.groups = append(e.groups, TenantGroup(c.TenantID))
	if c.IsAdmin() {
		e.groups = append(e.groups, AdminGroup(c.TenantID))
	}
	for _, g := range e.groups {
		join(r.groups, g, c.ConnectionID)
	}

	first = len(r.byUser[c.UserID]) == 0
	join(r.byUser, c.UserID, c.ConnectionID)
	r.conns[c.ConnectionID] = e
	return c, first, nil
}

// Unregister removes a connection. last reports whether the user has no other
// live connection left, which is the presence offline edge.
func (r *Registry) Unregister(connID string) (conn Connection, last bool, ok bool) {
	e, ok := r.conns[connID]
	if !ok {
		return Connection{}, false, false
	}
	delete(r.conns, connID)
	for _, g := range e.groups {
		leave(r.groups, g, connID)
	}
	leave(r.byUser, e.conn.UserID, connID)
	return e.conn, len(r.byUser[e.conn.UserID]) == 0, true
}

func (r *Registry) Resolve(connID string) (Connection, bool) {
	e, ok := r.conns[connID]
	if !ok {
		return Connection{}, false
	}
	return e.conn, true
}

// ResolveByUser returns the user's most recently registered connection.
func (r *Registry) ResolveByUser(userID string) (Connection, bool) {
	var best *entry
	for id := range r.byUser[userID] {
		if e := r.conns[id]; e != nil && (best == nil || e.seq > best.seq) {
			best = e
		}
	}
	if best == nil {
		return Connection{}, false
	}
	return best.conn, true
}

// Members lists a group's connections ordered by connection id.
func (r *Registry) Members(group string) []Connection {
	ids := r.groups[group]
	out := make([]Connection, 0, len(ids))
	for id := range ids {
		out = append(out, r.conns[id].conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}

// Users returns one connection per distinct user in a group, the most recent tab.
func (r *Registry) Users(group string) []Connection {
	latest := make(map[string]*entry)
	for id := range r.groups[group] {
		e := r.conns[id]
		if cur, ok := latest[e.conn.UserID]; !ok || e.seq > cur.seq {
			latest[e.conn.UserID] = e
		}
	}
	out := make([]Connection, 0, len(latest))
	for _, e := range latest {
		out = append(out, e.conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *Registry) Count() int { return len(r.conns) }

// SendTo delivers msg to one connection. False when the connection is unknown
// or its queue is full.
func (r *Registry) SendTo(connID string, msg protocol.Message) bool {
	e, ok := r.conns[connID]
	if !ok {
		return false
	}
	return e.sender.Send(msg)
}

// SendToGroup delivers msg to every member of group except the listed
// connections and returns how many sends were accepted.
func (r *Registry) SendToGroup(group string, msg protocol.Message, except ...string) int {
	n := 0
	for id := range r.groups[group] {
		if slices.Contains(except, id) {
			continue
		}
		if r.conns[id].sender.Send(msg) {
			n++
		}
	}
	return n
}

func validate(c Connection) error {
	switch {
	case strings.TrimSpace(c.ConnectionID) == "":
		return fmt.Errorf("%w: connection id is required", ErrInvalidIdentity)
	case strings.TrimSpace(c.UserID) == "":
		return fmt.Errorf("%w: user id is required", ErrInvalidIdentity)
	case strings.TrimSpace(c.TenantID) == "":
		return fmt.Errorf("%w: tenant id is required", ErrInvalidIdentity)
	case c.DisplayName == "":
		return fmt.Errorf("%w: display name is required", ErrInvalidIdentity)
	case !rbac.IsValidRole(c.Role):
		return fmt.Errorf("%w: unknown role %q", ErrInvalidIdentity, c.Role)
	}
	return nil
}

func join(m map[string]map[string]struct{}, key, id string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[id] = struct{}{}
}

func leave(m map[string]map[string]struct{}, key, id string) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m, key)
	}
}
