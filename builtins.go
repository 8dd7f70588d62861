package pushrpc

import (
	"context"

	"github.com/pushrpc/pushrpc/jsonrpc"
	"github.com/pushrpc/pushrpc/schema"
	"github.com/pushrpc/pushrpc/sessions"
)

// usageMethod is the per-method entry served by the usage built-in. Only
// schema metadata is exposed, never handler internals.
type usageMethod struct {
	ParameterSchema []*schema.Constraint `json:"parameterSchema"`
	ResultSchema    *schema.Constraint   `json:"resultSchema"`
	Public          bool                 `json:"public"`
}

type usageResult struct {
	Identity string                 `json:"identity"`
	Methods  map[string]usageMethod `json:"methods"`
}

func (s *Server) registerBuiltins() {
	topicParams := WithParams(schema.Object(map[string]*schema.Constraint{
		"topic": schema.String(),
	}, nil))

	// always public, for application-level liveness independent of
	// transport keep-alives
	_ = s.AddMethod("ping", s.handlePing, Public(), WithResult(schema.String()))
	_ = s.AddMethod("usage", s.handleUsage, Public())

	_ = s.AddMethod("session.create", s.handleSessionCreate, Public(),
		WithParams(schema.OneOf(schema.Null(), schema.Object(nil, nil))),
		WithResult(schema.Object(map[string]*schema.Constraint{"token": schema.String()}, nil)))
	_ = s.AddMethod("session.destroy", s.handleSessionDestroy, Public())
	_ = s.AddMethod("session.destroyById", s.handleSessionDestroyByID,
		WithParams(schema.Object(map[string]*schema.Constraint{"token": schema.String()}, nil)))

	_ = s.AddMethod("subscribe", s.handleSubscribe, Public(), topicParams)
	_ = s.AddMethod("unsubscribe", s.handleUnsubscribe, Public(), topicParams)
}

func (s *Server) handlePing(ctx context.Context, params any, sess *sessions.Session, conn sessions.Connection) (any, error) {
	return "pong", nil
}

func (s *Server) handleUsage(ctx context.Context, params any, sess *sessions.Session, conn sessions.Connection) (any, error) {
	out := usageResult{
		Identity: s.identity,
		Methods:  make(map[string]usageMethod),
	}
	for _, name := range s.methodNames() {
		m, ok := s.lookup(name)
		if !ok {
			continue
		}
		out.Methods[name] = usageMethod{
			ParameterSchema: m.params,
			ResultSchema:    m.result,
			Public:          m.public,
		}
	}
	return out, nil
}

func (s *Server) handleSessionCreate(ctx context.Context, params any, sess *sessions.Session, conn sessions.Connection) (any, error) {
	created := s.store.CreateSession()
	if conn != nil {
		s.store.BindConnection(created, conn)
	}
	return map[string]any{"token": created.ID()}, nil
}

// handleSessionDestroy destroys the caller's own session, matching by
// reference.
func (s *Server) handleSessionDestroy(ctx context.Context, params any, sess *sessions.Session, conn sessions.Connection) (any, error) {
	if sess == nil {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidToken, "no session to destroy")
	}
	return map[string]any{"destroyed": s.store.Destroy(sess)}, nil
}

// handleSessionDestroyById is an administrative, permission-gated destroy
// of an arbitrary session by identifier.
func (s *Server) handleSessionDestroyByID(ctx context.Context, params any, sess *sessions.Session, conn sessions.Connection) (any, error) {
	target := params.(map[string]any)["token"].(string)
	return map[string]any{"destroyed": s.store.DestroyByID(target)}, nil
}

// handleSubscribe gates on the topic name with the same authorization
// predicate as RPC methods: topics and method names share one permission
// namespace.
func (s *Server) handleSubscribe(ctx context.Context, params any, sess *sessions.Session, conn sessions.Connection) (any, error) {
	topic := params.(map[string]any)["topic"].(string)
	if sess == nil || !sess.CanAccess(topic) {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeAccessDenied, "access denied")
	}
	if conn == nil {
		return nil, &HandlerError{Message: "subscriptions require a push-capable connection"}
	}
	s.store.BindConnection(sess, conn)
	if err := sess.Subscribe(topic, conn.ID()); err != nil {
		return nil, err
	}
	return map[string]any{"subscribed": topic}, nil
}

func (s *Server) handleUnsubscribe(ctx context.Context, params any, sess *sessions.Session, conn sessions.Connection) (any, error) {
	topic := params.(map[string]any)["topic"].(string)
	if sess == nil || !sess.CanAccess(topic) {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeAccessDenied, "access denied")
	}
	if conn == nil {
		return nil, &HandlerError{Message: "subscriptions require a push-capable connection"}
	}
	if err := sess.Unsubscribe(topic, conn.ID()); err != nil {
		return nil, err
	}
	return map[string]any{"unsubscribed": topic}, nil
}
