// Package wsrpc is the WebSocket transport for a pushrpc server. It owns
// connection lifecycle end to end: upgrade, identifier allocation, the read
// loop feeding the dispatcher, a serialized write pump carrying both
// responses and pushes, and close-hook reporting to the session store.
package wsrpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pushrpc/pushrpc"
	"github.com/pushrpc/pushrpc/internal/logctx"
)

const (
	defaultWriteTimeout  = 10 * time.Second
	defaultPongTimeout   = 60 * time.Second
	defaultPingInterval  = 30 * time.Second
	defaultReadLimit     = 1 << 20 // 1 MiB per request message
	defaultOutboundDepth = 64
)

// Handler upgrades HTTP requests to WebSocket connections and bridges them
// to a pushrpc.Server.
type Handler struct {
	server   *pushrpc.Server
	upgrader websocket.Upgrader
	log      *slog.Logger

	writeTimeout  time.Duration
	pongTimeout   time.Duration
	pingInterval  time.Duration
	readLimit     int64
	outboundDepth int
}

var _ http.Handler = (*Handler)(nil)

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the slog handler used by the transport.
func WithLogger(h slog.Handler) Option {
	return func(ws *Handler) {
		if h != nil {
			ws.log = slog.New(logctx.Handler{Handler: h})
		}
	}
}

// WithCheckOrigin overrides the upgrader's origin policy.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(ws *Handler) { ws.upgrader.CheckOrigin = fn }
}

// WithPingInterval sets the keepalive ping cadence. The pong timeout is
// kept at twice the interval.
func WithPingInterval(d time.Duration) Option {
	return func(ws *Handler) {
		ws.pingInterval = d
		ws.pongTimeout = 2 * d
	}
}

// WithReadLimit caps the size of a single inbound message.
func WithReadLimit(n int64) Option {
	return func(ws *Handler) { ws.readLimit = n }
}

// New creates a WebSocket transport for server.
func New(server *pushrpc.Server, opts ...Option) *Handler {
	h := &Handler{
		server:        server,
		log:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		writeTimeout:  defaultWriteTimeout,
		pongTimeout:   defaultPongTimeout,
		pingInterval:  defaultPingInterval,
		readLimit:     defaultReadLimit,
		outboundDepth: defaultOutboundDepth,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and runs the connection until the peer
// goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.log.Warn("websocket upgrade failed", slog.String("err", err.Error()))
		return
	}

	c := &conn{
		id:       uuid.NewString(),
		ws:       ws,
		outbound: make(chan []byte, h.outboundDepth),
		closed:   make(chan struct{}),
	}

	ctx := logctx.WithConnData(r.Context(), &logctx.ConnData{
		ConnID:     c.id,
		Transport:  "websocket",
		RemoteAddr: r.RemoteAddr,
	})

	h.log.InfoContext(ctx, "websocket connection established")
	go h.writePump(ctx, c)
	h.readLoop(ctx, c, token)
}

// bearerToken extracts the transport-level token: an Authorization Bearer
// header or a token query parameter. Envelope-level tokens override it in
// the dispatcher.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return rest
		}
	}
	return r.URL.Query().Get("token")
}

// readLoop reads request messages and dispatches each on its own goroutine
// so a slow handler never stalls the connection's reads.
func (h *Handler) readLoop(ctx context.Context, c *conn, token string) {
	defer func() {
		c.close()
		h.server.Store().ConnectionClosed(c.id)
		h.log.InfoContext(ctx, "websocket connection closed")
	}()

	c.ws.SetReadLimit(h.readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(h.pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.pongTimeout))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				h.log.ErrorContext(ctx, "websocket read error", slog.String("err", err.Error()))
			}
			return
		}

		go func(msg []byte) {
			resp := h.server.Handle(ctx, msg, c, token)
			if err := c.Send(ctx, resp); err != nil {
				h.log.WarnContext(ctx, "failed to queue response", slog.String("err", err.Error()))
			}
		}(msg)
	}
}

// writePump is the single writer for the connection; gorilla/websocket
// permits at most one concurrent writer.
func (h *Handler) writePump(ctx context.Context, c *conn) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.outbound:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.WarnContext(ctx, "websocket write failed", slog.String("err", err.Error()))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// conn implements sessions.Connection over one WebSocket. Sends enqueue
// into the outbound buffer; the write pump serializes the actual writes.
type conn struct {
	id       string
	ws       *websocket.Conn
	outbound chan []byte
	closed   chan struct{}
}

func (c *conn) ID() string { return c.id }

func (c *conn) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("wsrpc: connection closed")
	case <-ctx.Done():
		return ctx.Err()
	case c.outbound <- data:
		return nil
	default:
		return errors.New("wsrpc: outbound buffer full")
	}
}

func (c *conn) close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
}
