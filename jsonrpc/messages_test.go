package jsonrpc

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRequestIDStringOrNumber(t *testing.T) {
	var id RequestID
	if err := json.Unmarshal([]byte(`42`), &id); err != nil {
		t.Fatalf("failed to unmarshal numeric id: %v", err)
	}
	if got := id.Value(); got != int64(42) {
		t.Fatalf("expected int64(42), got %T(%v)", got, got)
	}

	if err := json.Unmarshal([]byte(`"abc"`), &id); err != nil {
		t.Fatalf("failed to unmarshal string id: %v", err)
	}
	if id.String() != "abc" {
		t.Fatalf("expected abc, got %q", id.String())
	}

	if err := json.Unmarshal([]byte(`{"k":1}`), &id); err == nil {
		t.Fatal("expected error for object id")
	}
}

func TestRequestIDPresence(t *testing.T) {
	var req Request
	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"m"}`), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.IDPresent() {
		t.Fatal("id reported present on envelope without id")
	}

	if err := json.Unmarshal([]byte(`{"jsonrpc":"2.0","method":"m","id":null}`), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !req.IDPresent() {
		t.Fatal("explicit null id should count as present")
	}
	if req.ID != nil {
		t.Fatal("explicit null id should decode to nil ID")
	}
}

func TestResponseAlwaysCarriesResultAndError(t *testing.T) {
	resp := NewResultResponse(NewRequestID(1), "hi")
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"result":"hi"`) || !strings.Contains(s, `"error":null`) {
		t.Fatalf("unexpected result response shape: %s", s)
	}

	resp = NewErrorResponse(nil, ErrorCodeMethodNotFound, "method not found", nil)
	b, err = json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s = string(b)
	if !strings.Contains(s, `"id":null`) || !strings.Contains(s, `"result":null`) {
		t.Fatalf("unexpected error response shape: %s", s)
	}
	if !strings.Contains(s, `"code":-32601`) {
		t.Fatalf("missing error code: %s", s)
	}
}

func TestPushEnvelopeShape(t *testing.T) {
	b, err := json.Marshal(NewPush("alerts", map[string]any{"level": "warn"}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, `"pushMessage":true`) || !strings.Contains(s, `"topic":"alerts"`) {
		t.Fatalf("unexpected push shape: %s", s)
	}
}
