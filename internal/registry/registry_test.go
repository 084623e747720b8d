package registry

import (
	"errors"
	"testing"

	"crm-voice/pkg/protocol"
)

type recorder struct {
	msgs []protocol.Message
	full bool
}

func (r *recorder) Send(m protocol.Message) bool {
	if r.full {
		return false
	}
	r.msgs = append(r.msgs, m)
	return true
}

func conn(id, user, role, tenant string) Connection {
	return Connection{ConnectionID: id, UserID: user, DisplayName: user, Role: role, TenantID: tenant}
}

func TestRegister_ValidatesIdentity(t *testing.T) {
	r := New()
	cases := []Connection{
		conn("", "u", "admin", "t"),
		conn("c", "", "admin", "t"),
		conn("c", "u", "admin", ""),
		conn("c", "u", "owner", "t"),
		{ConnectionID: "c", UserID: "u", Role: "admin", TenantID: "t", DisplayName: "  "},
	}
	for _, c := range cases {
		if _, _, err := r.Register(c, &recorder{}); !errors.Is(err, ErrInvalidIdentity) {
			t.Fatalf("expected ErrInvalidIdentity for %+v, got %v", c, err)
		}
	}
	if r.Count() != 0 {
		t.Fatalf("nothing should be stored")
	}
}

func TestRegister_RejectsDuplicateConnection(t *testing.T) {
	r := New()
	if _, _, err := r.Register(conn("c1", "u1", "customer", "t1"), &recorder{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := r.Register(conn("c1", "u1", "customer", "t1"), &recorder{}); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegister_JoinsGroupsByRole(t *testing.T) {
	r := New()
	_, _, _ = r.Register(conn("a1", "admin1", "admin", "t1"), &recorder{})
	_, _, _ = r.Register(conn("c1", "cust1", "customer", "t1"), &recorder{})
	_, _, _ = r.Register(conn("a2", "admin2", "admin", "t2"), &recorder{})

	if got := r.Members(TenantGroup("t1")); len(got) != 2 {
		t.Fatalf("expected 2 tenant members, got %d", len(got))
	}
	admins := r.Members(AdminGroup("t1"))
	if len(admins) != 1 || admins[0].ConnectionID != "a1" {
		t.Fatalf("unexpected admin group: %+v", admins)
	}
}

func TestPresenceEdgesAcrossTabs(t *testing.T) {
	r := New()
	_, first, _ := r.Register(conn("tab1", "u1", "admin", "t1"), &recorder{})
	if !first {
		t.Fatalf("first tab should be the online edge")
	}
	_, first, _ = r.Register(conn("tab2", "u1", "admin", "t1"), &recorder{})
	if first {
		t.Fatalf("second tab must not be an online edge")
	}

	if c, ok := r.ResolveByUser("u1"); !ok || c.ConnectionID != "tab2" {
		t.Fatalf("expected most recent tab, got %+v ok=%v", c, ok)
	}

	_, last, ok := r.Unregister("tab2")
	if !ok || last {
		t.Fatalf("closing one of two tabs is not the offline edge")
	}
	if c, _ := r.ResolveByUser("u1"); c.ConnectionID != "tab1" {
		t.Fatalf("expected remaining tab, got %+v", c)
	}
	_, last, _ = r.Unregister("tab1")
	if !last {
		t.Fatalf("closing the last tab is the offline edge")
	}
	if _, _, ok := r.Unregister("tab1"); ok {
		t.Fatalf("double unregister must report not found")
	}
	if _, ok := r.ResolveByUser("u1"); ok {
		t.Fatalf("user should be gone")
	}
	if len(r.Members(AdminGroup("t1"))) != 0 {
		t.Fatalf("admin group should be empty")
	}
}

func TestSendToGroup_ExceptAndDrops(t *testing.T) {
	r := New()
	a1, a2, a3 := &recorder{}, &recorder{}, &recorder{full: true}
	_, _, _ = r.Register(conn("a1", "u1", "admin", "t1"), a1)
	_, _, _ = r.Register(conn("a2", "u2", "admin", "t1"), a2)
	_, _, _ = r.Register(conn("a3", "u3", "admin", "t1"), a3)

	n := r.SendToGroup(AdminGroup("t1"), protocol.New(protocol.TypeCallTaken, nil), "a1")
	if n != 1 {
		t.Fatalf("expected one accepted send, got %d", n)
	}
	if len(a1.msgs) != 0 || len(a2.msgs) != 1 {
		t.Fatalf("unexpected delivery a1=%d a2=%d", len(a1.msgs), len(a2.msgs))
	}
	if r.SendTo("missing", protocol.New(protocol.TypeCallTaken, nil)) {
		t.Fatalf("send to unknown connection must report false")
	}
}

func TestUsers_DedupesTabs(t *testing.T) {
	r := New()
	_, _, _ = r.Register(conn("x1", "u1", "admin", "t1"), &recorder{})
	_, _, _ = r.Register(conn("x2", "u1", "admin", "t1"), &recorder{})
	_, _, _ = r.Register(conn("x3", "u2", "admin", "t1"), &recorder{})

	users := r.Users(AdminGroup("t1"))
	if len(users) != 2 || users[0].ConnectionID != "x2" {
		t.Fatalf("unexpected users: %+v", users)
	}
}
