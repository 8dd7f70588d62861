package wsrpc

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pushrpc/pushrpc"
	"github.com/pushrpc/pushrpc/schema"
	"github.com/pushrpc/pushrpc/sessions"
)

func dialTestServer(t *testing.T, h *Handler) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return out
}

func newTestServer(t *testing.T) *pushrpc.Server {
	t.Helper()
	store := sessions.NewStore()
	t.Cleanup(store.Close)
	return pushrpc.New(store)
}

func TestRequestResponseRoundtrip(t *testing.T) {
	server := newTestServer(t)
	server.AddMethod("echo", func(ctx context.Context, params any, sess *sessions.Session, conn sessions.Connection) (any, error) {
		return params, nil
	}, pushrpc.WithParams(schema.String()), pushrpc.Public())

	ws := dialTestServer(t, New(server))

	req := `{"jsonrpc":"2.0","id":1,"method":"echo","params":"hello"}`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(req)); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp := readJSON(t, ws)
	if resp["result"] != "hello" {
		t.Fatalf("result = %v, want hello", resp["result"])
	}
	if resp["error"] != nil {
		t.Fatalf("error = %v, want nil", resp["error"])
	}
}

func TestSubscribeReceivesPush(t *testing.T) {
	server := newTestServer(t)
	server.Store().SetDefaultPermissions([]string{"news"})

	ws := dialTestServer(t, New(server))

	write := func(msg string) {
		t.Helper()
		if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	write(`{"jsonrpc":"2.0","id":1,"method":"session.create"}`)
	created := readJSON(t, ws)
	result, ok := created["result"].(map[string]any)
	if !ok {
		t.Fatalf("session.create result = %v", created)
	}
	token := result["token"].(string)

	write(`{"jsonrpc":"2.0","id":2,"method":"subscribe","params":{"topic":"news"},"token":"` + token + `"}`)
	if resp := readJSON(t, ws); resp["error"] != nil {
		t.Fatalf("subscribe error: %v", resp["error"])
	}

	sess, ok := server.Store().Get(token)
	if !ok {
		t.Fatal("session not found after create")
	}
	if n := sess.Push(context.Background(), "news", map[string]any{"headline": "go"}); n != 1 {
		t.Fatalf("push delivered to %d connections, want 1", n)
	}

	push := readJSON(t, ws)
	if push["pushMessage"] != true {
		t.Fatalf("pushMessage = %v, want true", push["pushMessage"])
	}
	if push["topic"] != "news" {
		t.Fatalf("topic = %v, want news", push["topic"])
	}
}

func TestTransportTokenFromQuery(t *testing.T) {
	server := newTestServer(t)

	sess := server.Store().CreateSession()
	sess.AddPermission("secret")
	server.AddMethod("secret", func(ctx context.Context, params any, s *sessions.Session, conn sessions.Connection) (any, error) {
		return "granted", nil
	})

	srv := httptest.NewServer(New(server))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + sess.ID()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":9,"method":"secret"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp := readJSON(t, ws)
	if resp["result"] != "granted" {
		t.Fatalf("result = %v, want granted (error: %v)", resp["result"], resp["error"])
	}
}

func TestCloseReportsToStore(t *testing.T) {
	server := newTestServer(t)

	ws := dialTestServer(t, New(server))

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":1,"method":"session.create"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	created := readJSON(t, ws)
	token := created["result"].(map[string]any)["token"].(string)

	ws.Close()

	// The session itself survives connection teardown.
	deadline := time.Now().Add(2 * time.Second)
	for {
		sess, ok := server.Store().Get(token)
		if !ok {
			t.Fatal("session evicted on disconnect")
		}
		if len(sess.Connections()) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("connection still bound after close: %v", sess.Connections())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
