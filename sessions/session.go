package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pushrpc/pushrpc/jsonrpc"
)

// Session is a principal-agnostic, bearer-token-addressed state container.
// The identifier doubles as the bearer credential and is immutable for the
// session's lifetime.
type Session struct {
	id        string
	createdAt time.Time

	mu        sync.Mutex
	lastUsed  time.Time
	perms     map[string]struct{}
	principal Principal
	conns     map[string]Connection          // connection id -> transport handle
	subs      map[string]map[string]struct{} // connection id -> subscribed topics

	log *slog.Logger
}

func newSession(id string, now time.Time, defaults []string, log *slog.Logger) *Session {
	perms := make(map[string]struct{}, len(defaults))
	for _, p := range defaults {
		perms[p] = struct{}{}
	}
	return &Session{
		id:        id,
		createdAt: now,
		lastUsed:  now,
		perms:     perms,
		conns:     make(map[string]Connection),
		subs:      make(map[string]map[string]struct{}),
		log:       log,
	}
}

// ID returns the session's bearer identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastUsedAt returns the time of the last Touch.
func (s *Session) LastUsedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Touch refreshes the idle-eviction clock.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

// AddPermission grants name to the session. It is idempotent and reports
// whether membership changed.
func (s *Session) AddPermission(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[name]; ok {
		return false
	}
	s.perms[name] = struct{}{}
	return true
}

// RemovePermission revokes name from the session. It is idempotent and
// reports whether membership changed.
func (s *Session) RemovePermission(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[name]; !ok {
		return false
	}
	delete(s.perms, name)
	return true
}

// Permissions returns the session's own permission list, sorted. Principal
// permissions are not included; see CanAccess.
func (s *Session) Permissions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.perms))
	for p := range s.perms {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// SetPrincipal attaches (or with nil, detaches) an externally owned
// principal.
func (s *Session) SetPrincipal(p Principal) {
	s.mu.Lock()
	s.principal = p
	s.mu.Unlock()
}

// Principal returns the attached principal, if any.
func (s *Session) Principal() Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principal
}

// CanAccess reports whether the session may invoke the named method or
// subscribe to the named topic. Matching is exact: a grant authorizes only
// the identical name. Methods and topics share one permission namespace, so
// operators grant push topics exactly like RPC methods. The session's own
// permissions and the principal's (when the capability is present) are
// combined.
func (s *Session) CanAccess(name string) bool {
	s.mu.Lock()
	_, ok := s.perms[name]
	p := s.principal
	s.mu.Unlock()
	if ok {
		return true
	}
	// principal capabilities are external code; probe outside the lock
	return principalGrants(p, name)
}

// BindConnection registers conn in the session's connection table and
// initializes its subscription set. Binding is idempotent per connection
// identifier.
func (s *Session) BindConnection(conn Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := conn.ID()
	if _, ok := s.conns[id]; ok {
		return
	}
	s.conns[id] = conn
	s.subs[id] = make(map[string]struct{})
}

// DropConnection tears down the connection's subscriptions and table entry.
// The session itself survives. Called via the store's close hook when the
// transport reports closure.
func (s *Session) DropConnection(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, connID)
	delete(s.subs, connID)
}

// Connections returns the identifiers of currently bound connections.
func (s *Session) Connections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.conns))
	for id := range s.conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Subscribe adds topic to the subscription set of the given bound
// connection. Subscription membership is scoped to the (session,
// connection) pair.
func (s *Session) Subscribe(topic, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.subs[connID]
	if !ok {
		return fmt.Errorf("sessions: connection %q is not bound to session", connID)
	}
	set[topic] = struct{}{}
	return nil
}

// Unsubscribe removes topic from the connection's subscription set.
func (s *Session) Unsubscribe(topic, connID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.subs[connID]
	if !ok {
		return fmt.Errorf("sessions: connection %q is not bound to session", connID)
	}
	delete(set, topic)
	return nil
}

// Subscriptions returns the topics the given connection is subscribed to.
func (s *Session) Subscriptions(connID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs[connID]))
	for topic := range s.subs[connID] {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// Push delivers a push envelope to every bound connection subscribed to
// topic and returns the number of successful deliveries. Delivery is
// independent per connection: one connection's send failure is logged and
// does not block or abort delivery to others.
func (s *Session) Push(ctx context.Context, topic string, message any) int {
	data, err := json.Marshal(jsonrpc.NewPush(topic, message))
	if err != nil {
		s.log.ErrorContext(ctx, "failed to marshal push envelope", slog.String("topic", topic), slog.String("err", err.Error()))
		return 0
	}

	s.mu.Lock()
	targets := make([]Connection, 0, len(s.conns))
	for connID, topics := range s.subs {
		if _, ok := topics[topic]; !ok {
			continue
		}
		if conn, ok := s.conns[connID]; ok {
			targets = append(targets, conn)
		}
	}
	s.mu.Unlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(ctx, data); err != nil {
			s.log.WarnContext(ctx, "push delivery failed",
				slog.String("topic", topic),
				slog.String("conn_id", conn.ID()),
				slog.String("err", err.Error()))
			continue
		}
		delivered++
	}
	return delivered
}

// Describe returns an administrative snapshot of the session. Principal
// detail is included only when the principal supports the Describer
// capability.
func (s *Session) Describe() map[string]any {
	s.mu.Lock()
	p := s.principal
	created := s.createdAt
	lastUsed := s.lastUsed
	s.mu.Unlock()

	out := map[string]any{
		"id":          s.id,
		"createdAt":   created,
		"lastUsedAt":  lastUsed,
		"permissions": s.Permissions(),
		"connections": s.Connections(),
	}
	if d, ok := p.(Describer); ok {
		out["principal"] = d.Describe()
	}
	return out
}
