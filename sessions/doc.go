// Package sessions implements bearer-token sessions for the pushrpc
// dispatcher: lifecycle and idle eviction, permission sets, optional
// externally-owned principals, per-connection subscription bookkeeping and
// push fan-out.
//
// The Store owns all sessions and is the only process-wide collection; it
// is passed by reference, never held as a singleton. Connections are owned
// by the transport; sessions keep only non-owning references for push
// addressing and never control connection lifetime.
package sessions
