package pushrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/pushrpc/pushrpc/jsonrpc"
)

func TestPing(t *testing.T) {
	srv := newTestServer(t)
	resp := call(t, srv, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, nil, "")
	if resp.Error != nil || resp.Result != "pong" {
		t.Fatalf("expected pong, got %+v", resp)
	}
}

func TestUsageExposesSchemaMetadataOnly(t *testing.T) {
	srv := newTestServer(t, WithIdentity("test-server"))
	registerEcho(t, srv)

	resp := call(t, srv, `{"jsonrpc":"2.0","id":1,"method":"usage"}`, nil, "")
	if resp.Error != nil {
		t.Fatalf("usage failed: %+v", resp.Error)
	}

	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal usage result: %v", err)
	}

	var usage struct {
		Identity string `json:"identity"`
		Methods  map[string]struct {
			ParameterSchema []json.RawMessage `json:"parameterSchema"`
			ResultSchema    json.RawMessage   `json:"resultSchema"`
			Public          bool              `json:"public"`
		} `json:"methods"`
	}
	if err := json.Unmarshal(data, &usage); err != nil {
		t.Fatalf("decode usage result: %v", err)
	}

	if usage.Identity != "test-server" {
		t.Fatalf("expected identity test-server, got %q", usage.Identity)
	}

	echo, ok := usage.Methods["echo"]
	if !ok {
		t.Fatalf("echo missing from usage: %v", usage.Methods)
	}
	if !echo.Public {
		t.Fatal("echo should be reported public")
	}
	if len(echo.ParameterSchema) != 1 || string(echo.ParameterSchema[0]) != `"string"` {
		t.Fatalf("unexpected parameter schema: %v", echo.ParameterSchema)
	}
	if string(echo.ResultSchema) != `"string"` {
		t.Fatalf("unexpected result schema: %s", echo.ResultSchema)
	}

	for _, name := range []string{"ping", "usage", "session.create", "subscribe"} {
		if _, ok := usage.Methods[name]; !ok {
			t.Fatalf("built-in %s missing from usage", name)
		}
	}
}

func TestSessionLifecycleMethods(t *testing.T) {
	srv := newTestServer(t)

	resp := call(t, srv, `{"jsonrpc":"2.0","id":1,"method":"session.create"}`, nil, "")
	if resp.Error != nil {
		t.Fatalf("session.create failed: %+v", resp.Error)
	}
	token, _ := resp.Result.(map[string]any)["token"].(string)
	if token == "" {
		t.Fatalf("expected token in result, got %v", resp.Result)
	}
	if _, ok := srv.Store().Get(token); !ok {
		t.Fatal("created session must resolve in the store")
	}

	// self-destroy without a session
	resp = call(t, srv, `{"jsonrpc":"2.0","id":2,"method":"session.destroy"}`, nil, "")
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeInvalidToken {
		t.Fatalf("expected -32001 for destroy without session, got %+v", resp.Error)
	}

	// self-destroy
	resp = call(t, srv, `{"jsonrpc":"2.0","id":3,"method":"session.destroy"}`, nil, token)
	if resp.Error != nil {
		t.Fatalf("session.destroy failed: %+v", resp.Error)
	}
	if _, ok := srv.Store().Get(token); ok {
		t.Fatal("destroyed session must not resolve")
	}
}

func TestSessionDestroyByIDIsPermissionGated(t *testing.T) {
	srv := newTestServer(t)

	victim := srv.Store().CreateSession()
	admin := srv.Store().CreateSession()

	raw := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"session.destroyById","params":{"token":%q}}`, victim.ID())

	resp := call(t, srv, raw, nil, admin.ID())
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeAccessDenied {
		t.Fatalf("expected -32000 without grant, got %+v", resp.Error)
	}

	admin.AddPermission("session.destroyById")
	resp = call(t, srv, raw, nil, admin.ID())
	if resp.Error != nil {
		t.Fatalf("destroyById failed: %+v", resp.Error)
	}
	if destroyed, _ := resp.Result.(map[string]any)["destroyed"].(bool); !destroyed {
		t.Fatalf("expected destroyed=true, got %v", resp.Result)
	}
	if _, ok := srv.Store().Get(victim.ID()); ok {
		t.Fatal("victim session must be gone")
	}
}

func TestSubscribeAndPushDelivery(t *testing.T) {
	srv := newTestServer(t)

	sess := srv.Store().CreateSession()
	sess.AddPermission("ticker")

	connA := &testConn{id: "A"}
	connB := &testConn{id: "B"}

	resp := call(t, srv, `{"jsonrpc":"2.0","id":1,"method":"subscribe","params":{"topic":"ticker"}}`, connA, sess.ID())
	if resp.Error != nil {
		t.Fatalf("subscribe failed: %+v", resp.Error)
	}
	// B binds to the session but does not subscribe
	call(t, srv, `{"jsonrpc":"2.0","id":2,"method":"ping"}`, connB, sess.ID())

	delivered := sess.Push(context.Background(), "ticker", map[string]any{"price": 10})
	if delivered != 1 {
		t.Fatalf("expected exactly one delivery, got %d", delivered)
	}
	if len(connA.received()) != 1 {
		t.Fatalf("connection A should hold one push, got %d", len(connA.received()))
	}
	if len(connB.received()) != 0 {
		t.Fatal("connection B must not receive the push")
	}

	var push struct {
		PushMessage bool   `json:"pushMessage"`
		Topic       string `json:"topic"`
	}
	if err := json.Unmarshal(connA.received()[0], &push); err != nil {
		t.Fatalf("decode push: %v", err)
	}
	if !push.PushMessage || push.Topic != "ticker" {
		t.Fatalf("unexpected push envelope: %s", connA.received()[0])
	}
}

func TestSubscribeIsTopicPermissionGated(t *testing.T) {
	srv := newTestServer(t)
	sess := srv.Store().CreateSession()
	conn := &testConn{id: "A"}

	resp := call(t, srv, `{"jsonrpc":"2.0","id":1,"method":"subscribe","params":{"topic":"ticker"}}`, conn, sess.ID())
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeAccessDenied {
		t.Fatalf("expected -32000 without topic grant, got %+v", resp.Error)
	}

	// no session at all
	resp = call(t, srv, `{"jsonrpc":"2.0","id":2,"method":"subscribe","params":{"topic":"ticker"}}`, conn, "")
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeAccessDenied {
		t.Fatalf("expected -32000 without session, got %+v", resp.Error)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	srv := newTestServer(t)
	sess := srv.Store().CreateSession()
	sess.AddPermission("ticker")
	conn := &testConn{id: "A"}

	call(t, srv, `{"jsonrpc":"2.0","id":1,"method":"subscribe","params":{"topic":"ticker"}}`, conn, sess.ID())
	resp := call(t, srv, `{"jsonrpc":"2.0","id":2,"method":"unsubscribe","params":{"topic":"ticker"}}`, conn, sess.ID())
	if resp.Error != nil {
		t.Fatalf("unsubscribe failed: %+v", resp.Error)
	}

	if delivered := sess.Push(context.Background(), "ticker", "x"); delivered != 0 {
		t.Fatalf("expected no deliveries after unsubscribe, got %d", delivered)
	}
}
