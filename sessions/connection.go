package sessions

import "context"

// Connection is a transport-level channel capable of receiving push
// envelopes. The transport allocates the identifier when the connection is
// established and reports closure to Store.ConnectionClosed; the session
// layer treats the identifier as an opaque key and never closes the
// underlying channel.
type Connection interface {
	// ID returns the transport-assigned connection identifier. It must be
	// stable for the lifetime of the connection and unique within the
	// process.
	ID() string

	// Send writes one serialized envelope to the peer. Implementations must
	// be safe for concurrent use: pushes and responses may interleave.
	Send(ctx context.Context, data []byte) error
}
