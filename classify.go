package pushrpc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pushrpc/pushrpc/jsonrpc"
)

// HandlerError is a structured failure raised by a method handler. It maps
// to the HandlerError wire code, except that a message of "access denied"
// is remapped to AccessDenied even when raised from inside a handler.
type HandlerError struct {
	Message string
	Data    any
}

func (e *HandlerError) Error() string { return e.Message }

// CustomError is an opaque handler failure whose fields are passed through
// to the wire error verbatim.
type CustomError struct {
	Fields map[string]any
}

func (e *CustomError) Error() string {
	if msg, ok := e.Fields["message"].(string); ok {
		return msg
	}
	return "custom error"
}

// panicError wraps a recovered handler panic for classification.
type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("handler panic: %v", e.value) }

// classifyError maps a handler failure onto the wire error taxonomy. A
// fresh response is constructed per call; error objects are never shared.
func (s *Server) classifyError(id *jsonrpc.RequestID, err error) *jsonrpc.Response {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return jsonrpc.NewErrorResponse(id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	}

	var he *HandlerError
	if errors.As(err, &he) {
		code := jsonrpc.ErrorCodeHandlerError
		if isAccessDeniedMessage(he.Message) {
			code = jsonrpc.ErrorCodeAccessDenied
		}
		return jsonrpc.NewErrorResponse(id, code, he.Message, he.Data)
	}

	var ce *CustomError
	if errors.As(err, &ce) {
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeCustomError, ce.Error(), ce.Fields)
	}

	var pe *panicError
	if errors.As(err, &pe) {
		var detail any
		if s.verbose {
			detail = fmt.Sprintf("%v", pe.value)
		}
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "internal error", detail)
	}

	// a plain error is a user-level, plain-text failure
	return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeUserError, err.Error(), nil)
}

func isAccessDeniedMessage(msg string) bool {
	return strings.EqualFold(strings.TrimSpace(msg), "access denied")
}
