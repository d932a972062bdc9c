package transport

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/rps/internal/observability"
	"github.com/cory-johannsen/rps/internal/protocol"
)

// Conn wraps a TCP connection with length-prefixed message framing.
type Conn struct {
	id     string
	raw    net.Conn
	reader *bufio.Reader
	logger *zap.Logger
	mu     sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration

	alive     atomic.Bool
	done      chan struct{}
	closeOnce sync.Once

	sendSeq atomic.Uint64
	recvSeq atomic.Uint64
}

// NewConn wraps a raw network connection.
//
// Precondition: raw must be a valid, open network connection; logger must be non-nil.
// Postcondition: Returns a live Conn ready for reading and writing.
func NewConn(raw net.Conn, readTimeout, writeTimeout time.Duration, logger *zap.Logger) *Conn {
	id := newConnID()
	c := &Conn{
		id:           id,
		raw:          raw,
		reader:       bufio.NewReaderSize(raw, 4096),
		logger:       observability.ConnLogger(logger, id, raw.RemoteAddr().String(), observability.TransportTCP),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

// ID returns the connection identifier.
func (c *Conn) ID() string { return c.id }

// Send writes one framed message.
//
// Postcondition: Returns nil once the frame is handed to the kernel, or an error
// wrapping ErrClosed if the connection is gone.
func (c *Conn) Send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.alive.Load() {
		return fmt.Errorf("sending %s: %w", msg.Type(), ErrClosed)
	}
	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := protocol.WriteFrame(c.raw, msg); err != nil {
		c.Close()
		return fmt.Errorf("sending %s: %w: %w", msg.Type(), ErrClosed, err)
	}
	c.logger.Debug("message sent",
		zap.Uint64("seq", c.sendSeq.Add(1)),
		zap.String("dir", "send"),
		zap.String("type", string(msg.Type())),
	)
	return nil
}

// Receive reads the next message.
//
// Postcondition: Returns a message; an error wrapping protocol.ErrProtocol if the
// frame could not be decoded; or an error wrapping ErrClosed if the stream ended.
func (c *Conn) Receive() (protocol.Message, error) {
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	msg, err := protocol.ReadFrame(c.reader)
	if err != nil {
		if errors.Is(err, protocol.ErrProtocol) {
			c.logger.Warn("undecodable frame", zap.Error(err))
			return nil, err
		}
		c.Close()
		return nil, fmt.Errorf("receiving: %w: %w", ErrClosed, err)
	}
	c.logger.Debug("message received",
		zap.Uint64("seq", c.recvSeq.Add(1)),
		zap.String("dir", "recv"),
		zap.String("type", string(msg.Type())),
	)
	return msg, nil
}

// IsAlive reports whether the connection is still usable.
func (c *Conn) IsAlive() bool { return c.alive.Load() }

// Done is closed when the connection dies.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close closes the underlying TCP connection.
//
// Postcondition: IsAlive returns false, Done is closed and pending reads are unblocked.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.alive.Store(false)
		close(c.done)
		err = c.raw.Close()
	})
	return err
}

// RemoteAddr returns the remote network address of the client.
func (c *Conn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}
