package jsonrpc

import "fmt"

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError indicates invalid JSON was received by the server.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound indicates the method does not exist / is not available.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams indicates invalid method parameters.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError indicates an internal JSON-RPC error.
	ErrorCodeInternalError ErrorCode = -32603

	// ErrorCodeAccessDenied indicates the caller lacks permission for the
	// method or topic.
	ErrorCodeAccessDenied ErrorCode = -32000
	// ErrorCodeInvalidToken indicates the supplied bearer token did not
	// resolve to a live session.
	ErrorCodeInvalidToken ErrorCode = -32001
	// ErrorCodeUserError carries a plain-text failure raised by a handler.
	ErrorCodeUserError ErrorCode = -32002
	// ErrorCodeHandlerError carries a structured failure raised by a handler.
	ErrorCodeHandlerError ErrorCode = -32003
	// ErrorCodeCustomError passes an opaque handler failure through verbatim.
	ErrorCodeCustomError ErrorCode = -32004
)

// Error is a JSON-RPC error object. It implements the error interface so
// handlers may return one directly to control the wire code.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError builds an Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}
