// Package transport bridges raw byte streams to typed protocol messages and
// isolates the rest of the server from network I/O.
package transport

import (
	"errors"

	"github.com/google/uuid"

	"github.com/cory-johannsen/rps/internal/protocol"
)

// ErrClosed is returned by Send and Receive once either side has closed the
// stream or an I/O error has been observed. Callers treat it as "peer gone".
var ErrClosed = errors.New("connection closed")

// Endpoint is one client connection as seen by the game layer.
//
// Send is safe for concurrent use and writes messages in call order.
// Receive must only be called from the connection's own read loop.
type Endpoint interface {
	// ID returns a unique identifier for log correlation.
	ID() string
	// Send serializes and writes one message.
	Send(msg protocol.Message) error
	// Receive blocks until the next complete inbound message.
	Receive() (protocol.Message, error)
	// IsAlive reports whether neither side has observed a close or error.
	IsAlive() bool
	// Done is closed when the endpoint stops being alive.
	Done() <-chan struct{}
	// Close closes the stream and unblocks any pending Receive. Safe to call repeatedly.
	Close() error
	// RemoteAddr returns the peer address.
	RemoteAddr() string
}

func newConnID() string {
	return uuid.NewString()
}
