package pushrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/pushrpc/pushrpc/internal/logctx"
	"github.com/pushrpc/pushrpc/jsonrpc"
	"github.com/pushrpc/pushrpc/schema"
	"github.com/pushrpc/pushrpc/sessions"
)

// Handle is the transport entry point. raw is the request text: a single
// envelope object or a batch array. Malformed JSON yields a single
// top-level ParseError response with no further processing. A batch yields
// an array of responses in input order; each member is processed
// independently, so one member's latency or failure never affects its
// siblings. A bare object yields a bare object response.
//
// conn may be nil for transports that cannot receive pushes. token is the
// transport-level bearer token; an envelope-level token field overrides it.
func (s *Server) Handle(ctx context.Context, raw []byte, conn sessions.Connection, token string) []byte {
	trimmed := bytes.TrimSpace(raw)

	if !json.Valid(trimmed) {
		return s.marshalResponse(ctx, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "parse error", nil))
	}

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return s.marshalResponse(ctx, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "parse error", nil))
		}

		responses := make([]*jsonrpc.Response, len(elems))
		var wg sync.WaitGroup
		for i, elem := range elems {
			wg.Add(1)
			go func(i int, elem json.RawMessage) {
				defer wg.Done()
				responses[i] = s.dispatch(ctx, elem, conn, token)
			}(i, elem)
		}
		wg.Wait()

		data, err := json.Marshal(responses)
		if err != nil {
			s.log.ErrorContext(ctx, "failed to marshal batch response", slog.String("err", err.Error()))
			return s.marshalResponse(ctx, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInternalError, "internal error", nil))
		}
		return data
	}

	return s.marshalResponse(ctx, s.dispatch(ctx, trimmed, conn, token))
}

// dispatch runs the per-request pipeline for one envelope, short-circuiting
// at the first failure.
func (s *Server) dispatch(ctx context.Context, raw json.RawMessage, conn sessions.Connection, token string) *jsonrpc.Response {
	var req jsonrpc.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return s.observe("", jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, "invalid request", nil))
	}
	id := req.ID

	// 1. envelope validation
	if req.JSONRPCVersion != jsonrpc.ProtocolVersion {
		return s.observe(req.Method, jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidRequest, "unsupported protocol version", nil))
	}
	if req.Method == "" {
		return s.observe("", jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidRequest, "method must be a non-empty string", nil))
	}
	if !req.IDPresent() && !s.lenientIDs {
		return s.observe(req.Method, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, "id is required", nil))
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: id.String()})

	// 2. session resolution; the envelope token wins over the transport's
	tok := req.Token
	if tok == "" {
		tok = token
	}
	var sess *sessions.Session
	if tok != "" {
		var ok bool
		sess, ok = s.store.Get(tok)
		if !ok {
			return s.observe(req.Method, jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidToken, "invalid token", nil))
		}
		sess.Touch()
		if conn != nil {
			s.store.BindConnection(sess, conn)
		}
		ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID()})
	}

	// 3. method lookup and permission gate
	m, ok := s.lookup(req.Method)
	if !ok {
		return s.observe(req.Method, jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeMethodNotFound, "method not found", nil))
	}
	if !m.public {
		if sess == nil || !sess.CanAccess(m.name) {
			return s.observe(req.Method, jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeAccessDenied, "access denied", nil))
		}
	}

	// 4. parameter validation; absent params are null
	var params any
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return s.observe(req.Method, jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidRequest, "invalid request", nil))
		}
	}
	if len(m.params) > 0 {
		if ok, diag := validateAlternatives(params, m.params); !ok {
			return s.observe(req.Method, jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidParams, "invalid params", diag))
		}
	}

	// 5. invocation and 6. result mapping
	result, err := s.invoke(ctx, m, params, sess, conn)
	if err != nil {
		return s.observe(req.Method, s.classifyError(id, err))
	}
	return s.observe(req.Method, jsonrpc.NewResultResponse(id, result))
}

// validateAlternatives accepts params satisfying at least one constraint;
// on total failure it reports the diagnostic of the last alternative tried.
func validateAlternatives(params any, alts []*schema.Constraint) (bool, string) {
	var last string
	for _, alt := range alts {
		ok, diag := schema.Validate(params, alt)
		if ok {
			return true, ""
		}
		last = diag
	}
	return false, last
}

// invoke calls the handler inside a tracing span, converting panics into a
// classifiable error.
func (s *Server) invoke(ctx context.Context, m *method, params any, sess *sessions.Session, conn sessions.Connection) (result any, err error) {
	ctx, span := s.tracer.Start(ctx, "rpc."+m.name)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorContext(ctx, "handler panicked", slog.Any("panic", r))
			err = &panicError{value: r}
		}
	}()

	return m.handler(ctx, params, sess, conn)
}

func (s *Server) marshalResponse(ctx context.Context, resp *jsonrpc.Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		// the handler produced an unserializable result
		s.log.ErrorContext(ctx, "failed to marshal response", slog.String("err", err.Error()))
		data, _ = json.Marshal(jsonrpc.NewErrorResponse(resp.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil))
	}
	return data
}

// observe records the response outcome in the request metrics before
// returning it unchanged.
func (s *Server) observe(methodName string, resp *jsonrpc.Response) *jsonrpc.Response {
	s.metrics.observe(methodName, resp)
	return resp
}
