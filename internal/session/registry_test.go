package session

import (
	"context"
	"testing"

	"github.com/coder/websocket"
)

func newRegistrySession(t *testing.T) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	s := NewSession(context.Background(), Params{
		UserID: "u1",
		Conn:   conn,
		Relay:  &fakeRelayer{},
		Runner: &fakeRunner{},
		Log:    quietLogger(),
	})
	return s, conn
}

func TestRegistryTakeover(t *testing.T) {
	r := NewRegistry()
	first, firstConn := newRegistrySession(t)
	second, _ := newRegistrySession(t)

	r.Register("u1", first)
	r.Register("u1", second)

	calls, code, reason := firstConn.closed()
	if calls != 1 {
		t.Fatalf("first connection Close called %d times, want 1", calls)
	}
	if code != websocket.StatusNormalClosure || reason != "session replaced" {
		t.Errorf("first connection closed with (%d, %q), want session replaced", code, reason)
	}
	if first.ctx.Err() == nil {
		t.Error("evicted session context not canceled")
	}

	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	if got := r.Lookup("u1"); got != second {
		t.Errorf("Lookup returned %p, want the replacement session %p", got, second)
	}
}

func TestRegistryReregisterSameSession(t *testing.T) {
	r := NewRegistry()
	s, conn := newRegistrySession(t)

	r.Register("u1", s)
	r.Register("u1", s)

	if calls, _, _ := conn.closed(); calls != 0 {
		t.Errorf("re-registering the same session closed it %d times", calls)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistryStaleUnregister(t *testing.T) {
	r := NewRegistry()
	first, _ := newRegistrySession(t)
	second, _ := newRegistrySession(t)

	r.Register("u1", first)
	r.Register("u1", second)

	// The evicted session's deferred unregister must not remove its
	// replacement.
	r.Unregister("u1", first)
	if got := r.Lookup("u1"); got != second {
		t.Errorf("stale unregister removed the live session")
	}

	r.Unregister("u1", second)
	if r.Lookup("u1") != nil {
		t.Error("Lookup() != nil after unregister")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistryLookupUnknownUser(t *testing.T) {
	r := NewRegistry()
	if r.Lookup("nobody") != nil {
		t.Error("Lookup of unknown user != nil")
	}
}

func TestRegistryCloseAll(t *testing.T) {
	r := NewRegistry()
	first, firstConn := newRegistrySession(t)
	r.Register("u1", first)

	secondConn := newFakeConn()
	second := NewSession(context.Background(), Params{
		UserID: "u2",
		Conn:   secondConn,
		Relay:  &fakeRelayer{},
		Runner: &fakeRunner{},
		Log:    quietLogger(),
	})
	r.Register("u2", second)

	r.CloseAll()

	if r.Len() != 0 {
		t.Errorf("Len() = %d after CloseAll, want 0", r.Len())
	}
	for name, conn := range map[string]*fakeConn{"first": firstConn, "second": secondConn} {
		if calls, _, _ := conn.closed(); calls != 1 {
			t.Errorf("%s connection Close called %d times, want 1", name, calls)
		}
	}
}
