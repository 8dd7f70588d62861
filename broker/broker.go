// Package broker defines the fan-out contract used by the session store to
// propagate broadcast pushes between processes. A single-process deployment
// uses the in-memory implementation; horizontally scaled deployments share
// a Redis-backed one.
package broker

import "context"

// Handler consumes one published payload. Returning an error does not stop
// the subscription; errors are a per-message concern.
type Handler func(ctx context.Context, data []byte) error

// Broker is a minimal fire-and-forget publish/subscribe transport. Delivery
// is at-most-once and unordered across channels; broadcast pushes carry no
// resume cursor.
type Broker interface {
	// Publish delivers data to every live subscriber of channel.
	Publish(ctx context.Context, channel string, data []byte) error

	// Subscribe invokes handler for each message published to channel until
	// ctx is cancelled or the broker is closed. It does not block; the
	// subscription runs on its own goroutine.
	Subscribe(ctx context.Context, channel string, handler Handler) error

	// Close releases all broker resources and terminates subscriptions.
	Close() error
}
