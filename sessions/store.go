package sessions

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pushrpc/pushrpc/broker"
)

// broadcastChannel is the broker channel carrying store-wide broadcasts.
const broadcastChannel = "broadcast"

// Store owns every live session: creation, token lookup, destruction, idle
// eviction and broadcast push. All methods are safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session // token -> session
	byConn   map[string]*Session // connection id -> bound session
	defaults []string

	idleTimeout time.Duration
	sweepEvery  time.Duration

	br     broker.Broker
	nodeID string

	log *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	cancelSub context.CancelFunc
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithIdleTimeout enables idle eviction: sessions untouched for longer than
// d are removed by the periodic sweep. A zero timeout disables eviction
// entirely.
func WithIdleTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.idleTimeout = d }
}

// WithSweepInterval sets the fixed interval of the idle sweep. Sweep
// granularity is deliberately coarser than per-request accounting.
// Non-positive intervals are ignored and the default interval kept.
func WithSweepInterval(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.sweepEvery = d
		}
	}
}

// WithDefaultPermissions sets the permission list snapshotted into each new
// session at creation time.
func WithDefaultPermissions(perms ...string) StoreOption {
	return func(s *Store) { s.defaults = append([]string(nil), perms...) }
}

// WithBroker attaches a broker so Broadcast reaches sessions on other
// nodes.
func WithBroker(b broker.Broker) StoreOption {
	return func(s *Store) { s.br = b }
}

// WithLogger sets the slog handler used by the store and its sessions. A
// nil handler discards logs.
func WithLogger(h slog.Handler) StoreOption {
	return func(s *Store) {
		if h != nil {
			s.log = slog.New(h)
		}
	}
}

// NewStore creates a session store and starts its idle sweep (when an idle
// timeout is configured) and broker subscription (when a broker is
// configured). Call Close to stop both.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		sessions:   make(map[string]*Session),
		byConn:     make(map[string]*Session),
		sweepEvery: 30 * time.Second,
		nodeID:     uuid.NewString(),
		log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.idleTimeout > 0 {
		go s.sweepLoop()
	}
	if s.br != nil {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancelSub = cancel
		if err := s.br.Subscribe(ctx, broadcastChannel, s.handleRemoteBroadcast); err != nil {
			s.log.Error("broker subscription failed", slog.String("err", err.Error()))
		}
	}

	return s
}

// Close stops the idle sweep and the broker subscription. Live sessions
// are left in place; only eviction and cross-node broadcast stop.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.cancelSub != nil {
			s.cancelSub()
		}
	})
}

// CreateSession allocates a session with a fresh identifier from a
// cryptographically strong random source (UUIDv4 via crypto/rand) and the
// store's current default permissions, copied at creation so later changes
// to the defaults do not leak into existing sessions.
func (s *Store) CreateSession() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := newSession(uuid.NewString(), time.Now(), s.defaults, s.log)
	s.sessions[sess.ID()] = sess
	return sess
}

// Get resolves a bearer token to its session. The token is a unique key:
// at most one session ever matches.
func (s *Store) Get(token string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	return sess, ok
}

// SetDefaultPermissions replaces the default permission list applied to
// sessions created from now on. Existing sessions are unaffected.
func (s *Store) SetDefaultPermissions(perms []string) {
	s.mu.Lock()
	s.defaults = append([]string(nil), perms...)
	s.mu.Unlock()
}

// Destroy removes sess from the store, matching by reference. It reports
// whether the session was present. No other store state is pruned: bound
// connections simply fail to resolve on their next lookup.
func (s *Store) Destroy(sess *Session) bool {
	if sess == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[sess.ID()]
	if !ok || current != sess {
		return false
	}
	delete(s.sessions, sess.ID())
	return true
}

// DestroyByID removes the session with the given identifier, reporting
// whether one existed.
func (s *Store) DestroyByID(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sessions returns a snapshot of all live sessions.
func (s *Store) Sessions() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// BindConnection binds conn to sess for push addressing and registers the
// close-hook routing entry. A connection is bound to at most one session:
// re-binding removes the connection, and its subscriptions, from the prior
// session. Idempotent per (session, connection) pair.
func (s *Store) BindConnection(sess *Session, conn Connection) {
	s.mu.Lock()
	prev, rebind := s.byConn[conn.ID()]
	s.byConn[conn.ID()] = sess
	s.mu.Unlock()
	if rebind && prev != sess {
		prev.DropConnection(conn.ID())
	}
	sess.BindConnection(conn)
}

// ConnectionClosed is the transport close hook: it tears down the
// connection's subscriptions and connection-table entry. The session itself
// survives.
func (s *Store) ConnectionClosed(connID string) {
	s.mu.Lock()
	sess, ok := s.byConn[connID]
	delete(s.byConn, connID)
	s.mu.Unlock()
	if ok {
		sess.DropConnection(connID)
	}
}

// broadcastEnvelope is the broker payload for store-wide pushes. Origin
// suppresses re-delivery of a node's own broadcasts.
type broadcastEnvelope struct {
	Origin  string          `json:"origin"`
	Topic   string          `json:"topic"`
	Message json.RawMessage `json:"message"`
}

// Broadcast delivers a push for topic to every subscribed connection of
// every live session, and, when a broker is configured, to every other
// node sharing it. It returns the number of local deliveries.
func (s *Store) Broadcast(ctx context.Context, topic string, message any) int {
	delivered := s.pushLocal(ctx, topic, message)

	if s.br != nil {
		msg, err := json.Marshal(message)
		if err != nil {
			s.log.ErrorContext(ctx, "failed to marshal broadcast message", slog.String("err", err.Error()))
			return delivered
		}
		data, err := json.Marshal(broadcastEnvelope{Origin: s.nodeID, Topic: topic, Message: msg})
		if err != nil {
			s.log.ErrorContext(ctx, "failed to marshal broadcast envelope", slog.String("err", err.Error()))
			return delivered
		}
		if err := s.br.Publish(ctx, broadcastChannel, data); err != nil {
			s.log.WarnContext(ctx, "broadcast publish failed", slog.String("err", err.Error()))
		}
	}

	return delivered
}

func (s *Store) pushLocal(ctx context.Context, topic string, message any) int {
	delivered := 0
	for _, sess := range s.Sessions() {
		delivered += sess.Push(ctx, topic, message)
	}
	return delivered
}

func (s *Store) handleRemoteBroadcast(ctx context.Context, data []byte) error {
	var env broadcastEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.WarnContext(ctx, "malformed broadcast envelope", slog.String("err", err.Error()))
		return nil
	}
	if env.Origin == s.nodeID {
		return nil
	}
	s.pushLocal(ctx, env.Topic, env.Message)
	return nil
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep evicts sessions idle for longer than the configured timeout. A
// session touched at least once within the window always survives.
func (s *Store) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, sess := range s.sessions {
		if now.Sub(sess.LastUsedAt()) > s.idleTimeout {
			delete(s.sessions, token)
			s.log.Info("session evicted after idle timeout", slog.String("session_id", sess.ID()))
		}
	}
}
