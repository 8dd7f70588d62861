// Package pushrpc implements a JSON-RPC 2.0 request dispatch core with an
// attached session, permission and subscription layer. Transports deliver
// raw request bytes, a connection handle and an optional bearer token to
// Server.Handle and send back the serialized response; server-initiated
// pushes flow through the sessions package to subscribed connections.
package pushrpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/pushrpc/pushrpc/internal/logctx"
	"github.com/pushrpc/pushrpc/schema"
	"github.com/pushrpc/pushrpc/sessions"
)

// Handler is the fixed-arity contract of a registered method. params is the
// decoded JSON value of the request's params field (nil when absent); sess
// is the resolved session or nil for public methods called without a token;
// conn is the transport connection handle or nil for connectionless
// transports.
type Handler func(ctx context.Context, params any, sess *sessions.Session, conn sessions.Connection) (any, error)

// method is one registry entry. The result schema is served by the usage
// built-in as documentation and never enforced at call time.
type method struct {
	name    string
	handler Handler
	params  []*schema.Constraint
	result  *schema.Constraint
	public  bool
}

// Server owns the method registry and orchestrates the per-request
// pipeline: envelope validation, session resolution, permission gate,
// parameter validation, handler invocation and error classification.
type Server struct {
	mu      sync.RWMutex
	methods map[string]*method

	store *sessions.Store

	identity   string
	lenientIDs bool
	verbose    bool

	log     *slog.Logger
	metrics *serverMetrics
	tracer  trace.Tracer
}

// Option configures a Server.
type Option func(*Server)

// WithIdentity sets the identity string reported by the usage built-in.
func WithIdentity(identity string) Option {
	return func(s *Server) { s.identity = identity }
}

// WithLenientIDs permits request envelopes without an id field. By default
// a missing id is an envelope violation.
func WithLenientIDs() Option {
	return func(s *Server) { s.lenientIDs = true }
}

// WithVerboseErrors includes panic detail in InternalError responses.
// Intended for development; detail is elided by default.
func WithVerboseErrors() Option {
	return func(s *Server) { s.verbose = true }
}

// WithLogger sets the slog handler used by the server. A nil handler
// discards logs.
func WithLogger(h slog.Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.log = slog.New(logctx.Handler{Handler: h})
		}
	}
}

// New creates a Server bound to the given session store and registers the
// built-in methods.
func New(store *sessions.Store, opts ...Option) *Server {
	s := &Server{
		methods:  make(map[string]*method),
		store:    store,
		identity: "pushrpc",
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:   otel.Tracer("github.com/pushrpc/pushrpc"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerBuiltins()
	return s
}

// Store returns the session store the server dispatches against.
func (s *Server) Store() *sessions.Store { return s.store }

// MethodOption configures a method registration.
type MethodOption func(*method)

// WithParams sets the parameter schema as a list of alternative
// constraints; params are accepted when they satisfy at least one. Methods
// registered without WithParams accept any params.
func WithParams(alternatives ...*schema.Constraint) MethodOption {
	return func(m *method) { m.params = alternatives }
}

// WithResult attaches a result schema. It is documentation served by the
// usage built-in, never enforced.
func WithResult(c *schema.Constraint) MethodOption {
	return func(m *method) { m.result = c }
}

// Public marks the method as callable without a session or permission.
func Public() MethodOption {
	return func(m *method) { m.public = true }
}

// AddMethod registers a callable under name. The name must be non-empty;
// re-registration under the same name overwrites the prior entry.
func (s *Server) AddMethod(name string, h Handler, opts ...MethodOption) error {
	if name == "" {
		return errors.New("pushrpc: method name must be non-empty")
	}
	if h == nil {
		return errors.New("pushrpc: method handler must be non-nil")
	}

	m := &method{name: name, handler: h}
	for _, opt := range opts {
		opt(m)
	}

	s.mu.Lock()
	s.methods[name] = m
	s.mu.Unlock()
	return nil
}

// DeleteMethod removes the registry entry for name, reporting whether it
// existed.
func (s *Server) DeleteMethod(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.methods[name]; !ok {
		return false
	}
	delete(s.methods, name)
	return true
}

func (s *Server) lookup(name string) (*method, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.methods[name]
	return m, ok
}

func (s *Server) methodNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
