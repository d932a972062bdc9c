package testutil

import (
	"bufio"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/cory-johannsen/rps/internal/protocol"
)

// Client is a framed-protocol test client for integration testing.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	t      *testing.T
}

// NewClient dials the given address and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected Client or fails the test.
func NewClient(t *testing.T, addr string) *Client {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}
	t.Cleanup(func() {
		conn.Close()
	})

	return &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
		t:      t,
	}
}

// Send writes one framed message.
func (c *Client) Send(msg protocol.Message) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := protocol.WriteFrame(c.conn, msg); err != nil {
		c.t.Fatalf("sending %s: %v", msg.Type(), err)
	}
}

// Next reads the next message or fails the test after timeout.
func (c *Client) Next(timeout time.Duration) protocol.Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	msg, err := protocol.ReadFrame(c.reader)
	if err != nil {
		c.t.Fatalf("reading message: %v", err)
	}
	return msg
}

// Expect reads messages until one of type T arrives and returns it. Messages
// of other types are skipped only if listed in skip; anything else fails the test.
func Expect[T protocol.Message](c *Client, timeout time.Duration, skip ...protocol.Type) T {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			var zero T
			c.t.Fatalf("timed out waiting for %T", zero)
		}
		msg := c.Next(remaining)
		if m, ok := msg.(T); ok {
			return m
		}
		skipped := false
		for _, s := range skip {
			if msg.Type() == s {
				skipped = true
				break
			}
		}
		if !skipped {
			var zero T
			c.t.Fatalf("expected %T, got %s %+v", zero, msg.Type(), msg)
		}
	}
}

// ExpectClosed asserts the server closes the connection within timeout.
func (c *Client) ExpectClosed(timeout time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		msg, err := protocol.ReadFrame(c.reader)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				c.t.Fatalf("connection still open after %s", timeout)
			}
			return
		}
		c.t.Logf("drained %s before close", msg.Type())
	}
}

// Close closes the underlying connection.
func (c *Client) Close() {
	c.conn.Close()
}
