package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeConn is a minimal in-memory Connection for tests.
type fakeConn struct {
	id string

	mu   sync.Mutex
	sent [][]byte
	fail bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("send failed")
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// listPrincipal exposes only the GetPermissions capability.
type listPrincipal struct{ perms []string }

func (p *listPrincipal) GetPermissions() []string { return p.perms }

// checkPrincipal exposes only the CheckPermission capability.
type checkPrincipal struct{ allow string }

func (p *checkPrincipal) CheckPermission(name string) bool { return name == p.allow }

func newTestSession(t *testing.T) (*Store, *Session) {
	t.Helper()
	store := NewStore()
	t.Cleanup(store.Close)
	return store, store.CreateSession()
}

func TestPermissionMutationIsIdempotent(t *testing.T) {
	_, sess := newTestSession(t)

	if !sess.AddPermission("stats.read") {
		t.Fatal("first add should report a change")
	}
	if sess.AddPermission("stats.read") {
		t.Fatal("second identical add should report no change")
	}
	if !sess.RemovePermission("stats.read") {
		t.Fatal("first remove should report a change")
	}
	if sess.RemovePermission("stats.read") {
		t.Fatal("second identical remove should report no change")
	}
}

func TestCanAccessIsExactMatch(t *testing.T) {
	_, sess := newTestSession(t)
	sess.AddPermission("stats")

	if !sess.CanAccess("stats") {
		t.Fatal("exact grant should authorize")
	}
	if sess.CanAccess("stats.read") {
		t.Fatal("grant must not authorize by prefix")
	}
}

func TestCanAccessCombinesPrincipalCapabilities(t *testing.T) {
	_, sess := newTestSession(t)

	if sess.CanAccess("reports.run") {
		t.Fatal("no grant, no principal: must deny")
	}

	sess.SetPrincipal(&listPrincipal{perms: []string{"reports.run"}})
	if !sess.CanAccess("reports.run") {
		t.Fatal("lister capability should authorize")
	}

	sess.SetPrincipal(&checkPrincipal{allow: "reports.run"})
	if !sess.CanAccess("reports.run") {
		t.Fatal("checker capability should authorize")
	}

	// a principal with no permission capabilities is not an error
	sess.SetPrincipal(struct{}{})
	if sess.CanAccess("reports.run") {
		t.Fatal("capability-less principal must deny")
	}

	sess.SetPrincipal(nil)
	if sess.CanAccess("reports.run") {
		t.Fatal("detached principal must deny")
	}
}

func TestSubscriptionRequiresBoundConnection(t *testing.T) {
	_, sess := newTestSession(t)

	if err := sess.Subscribe("t", "nope"); err == nil {
		t.Fatal("subscribe on unbound connection must fail")
	}

	conn := newFakeConn("c1")
	sess.BindConnection(conn)
	if err := sess.Subscribe("t", "c1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if got := sess.Subscriptions("c1"); len(got) != 1 || got[0] != "t" {
		t.Fatalf("unexpected subscriptions: %v", got)
	}
}

func TestPushDeliversOnlyToSubscribedConnections(t *testing.T) {
	_, sess := newTestSession(t)

	a := newFakeConn("a")
	b := newFakeConn("b")
	sess.BindConnection(a)
	sess.BindConnection(b)
	if err := sess.Subscribe("t", "a"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	delivered := sess.Push(context.Background(), "t", map[string]any{"n": 1})
	if delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}
	if len(a.received()) != 1 {
		t.Fatalf("connection a should have received the push, got %d", len(a.received()))
	}
	if len(b.received()) != 0 {
		t.Fatal("connection b must not receive the push")
	}

	var env struct {
		PushMessage bool            `json:"pushMessage"`
		Topic       string          `json:"topic"`
		Message     json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(a.received()[0], &env); err != nil {
		t.Fatalf("decode push: %v", err)
	}
	if !env.PushMessage || env.Topic != "t" {
		t.Fatalf("unexpected push envelope: %s", a.received()[0])
	}
}

func TestPushFailureDoesNotBlockOtherConnections(t *testing.T) {
	_, sess := newTestSession(t)

	bad := newFakeConn("bad")
	bad.fail = true
	good := newFakeConn("good")
	sess.BindConnection(bad)
	sess.BindConnection(good)
	if err := sess.Subscribe("t", "bad"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sess.Subscribe("t", "good"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	delivered := sess.Push(context.Background(), "t", "msg")
	if delivered != 1 {
		t.Fatalf("expected 1 successful delivery, got %d", delivered)
	}
	if len(good.received()) != 1 {
		t.Fatal("healthy connection must still receive the push")
	}
}

func TestDropConnectionKeepsSession(t *testing.T) {
	store, sess := newTestSession(t)

	conn := newFakeConn("c1")
	store.BindConnection(sess, conn)
	if err := sess.Subscribe("t", "c1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	store.ConnectionClosed("c1")

	if got := sess.Connections(); len(got) != 0 {
		t.Fatalf("connection table should be empty, got %v", got)
	}
	if delivered := sess.Push(context.Background(), "t", "x"); delivered != 0 {
		t.Fatalf("no deliveries expected after close, got %d", delivered)
	}
	if _, ok := store.Get(sess.ID()); !ok {
		t.Fatal("session must survive connection closure")
	}
}

func TestTouchRefreshesLastUsed(t *testing.T) {
	_, sess := newTestSession(t)
	before := sess.LastUsedAt()
	time.Sleep(5 * time.Millisecond)
	sess.Touch()
	if !sess.LastUsedAt().After(before) {
		t.Fatal("Touch should advance lastUsedAt")
	}
}
