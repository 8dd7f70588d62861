// Package logctx enriches slog records with request, RPC and session
// attributes carried in the context.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps a slog.Handler and appends contextual groups to every
// record.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if cd, ok := ctx.Value(connDataKey{}).(*ConnData); ok {
		r.AddAttrs(slog.Group("conn",
			slog.String("id", cd.ConnID),
			slog.String("transport", cd.Transport),
			slog.String("remote_addr", cd.RemoteAddr),
		))
	}

	if msg, ok := ctx.Value(rpcMsgKey{}).(*RPCMessage); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID),
		))
	}

	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("id", sd.SessionID),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type connDataKey struct{}

// ConnData describes the transport connection a request arrived on.
type ConnData struct {
	ConnID     string
	Transport  string
	RemoteAddr string
}

func WithConnData(ctx context.Context, data *ConnData) context.Context {
	return context.WithValue(ctx, connDataKey{}, data)
}

type rpcMsgKey struct{}

// RPCMessage describes the envelope currently being dispatched.
type RPCMessage struct {
	Method string
	ID     string
}

func WithRPCMessage(ctx context.Context, msg *RPCMessage) context.Context {
	return context.WithValue(ctx, rpcMsgKey{}, msg)
}

type sessionDataKey struct{}

// SessionData identifies the session resolved for the request.
type SessionData struct {
	SessionID string
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}
