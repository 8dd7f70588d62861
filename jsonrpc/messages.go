package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the supported JSON-RPC protocol version.
const ProtocolVersion = "2.0"

// Request represents a JSON-RPC request envelope. The token field is a
// protocol extension: an opaque bearer credential resolving to a server-side
// session. It takes precedence over any transport-supplied token.
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
	Token          string          `json:"token,omitempty"`

	idPresent bool
}

// IDPresent reports whether the decoded envelope carried an id field at all,
// including an explicit null. Needed for the strict-id policy: an absent id
// is an envelope violation, an explicit null is not distinguishable on the
// wire from "respond with null id".
func (r *Request) IDPresent() bool { return r.idPresent }

// UnmarshalJSON decodes a request envelope, tracking id-field presence.
func (r *Request) UnmarshalJSON(data []byte) error {
	type raw struct {
		JSONRPCVersion string          `json:"jsonrpc"`
		Method         string          `json:"method"`
		Params         json.RawMessage `json:"params"`
		ID             json.RawMessage `json:"id"`
		Token          string          `json:"token"`
	}

	var rr raw
	if err := json.Unmarshal(data, &rr); err != nil {
		return fmt.Errorf("invalid request envelope: %w", err)
	}

	r.JSONRPCVersion = rr.JSONRPCVersion
	r.Method = rr.Method
	r.Params = rr.Params
	r.Token = rr.Token
	r.ID = nil
	r.idPresent = len(rr.ID) > 0

	if r.idPresent {
		var id RequestID
		if err := id.UnmarshalJSON(rr.ID); err != nil {
			return fmt.Errorf("invalid request id: %w", err)
		}
		if !id.IsNil() {
			r.ID = &id
		}
	}

	return nil
}

// Response represents a JSON-RPC response envelope. Exactly one of Result
// and Error is non-null; both fields are always emitted so clients can rely
// on their presence.
type Response struct {
	JSONRPCVersion string     `json:"jsonrpc"`
	ID             *RequestID `json:"id"`
	Result         any        `json:"result"`
	Error          *Error     `json:"error"`
}

// NewResultResponse builds a successful JSON-RPC response envelope.
func NewResultResponse(id *RequestID, result any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		ID:             id,
		Result:         result,
	}
}

// NewErrorResponse builds an error JSON-RPC response envelope. A fresh
// Error value is constructed per call; error objects are never shared or
// merged between responses.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		ID:             id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// Push is a server-initiated envelope addressed to a subscribed connection.
// It carries no id: pushes are not correlated with any request.
type Push struct {
	PushMessage bool   `json:"pushMessage"`
	Topic       string `json:"topic"`
	Message     any    `json:"message"`
}

// NewPush builds a push envelope for the given topic.
func NewPush(topic string, message any) *Push {
	return &Push{PushMessage: true, Topic: topic, Message: message}
}
