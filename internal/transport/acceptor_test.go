package transport

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/rps/internal/config"
	"github.com/cory-johannsen/rps/internal/protocol"
)

// echoHandler replies to each Error message with the same text and stops on Terminate.
type echoHandler struct {
	sessionCount atomic.Int32
}

func (h *echoHandler) HandleSession(_ context.Context, conn Endpoint) error {
	h.sessionCount.Add(1)
	for {
		msg, err := conn.Receive()
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case *protocol.Terminate:
			return nil
		case *protocol.Error:
			if err := conn.Send(&protocol.Error{Message: "echo: " + m.Message}); err != nil {
				return err
			}
		}
	}
}

// blockingHandler waits for its context to be cancelled.
type blockingHandler struct {
	started atomic.Bool
}

func (h *blockingHandler) HandleSession(ctx context.Context, _ Endpoint) error {
	h.started.Store(true)
	<-ctx.Done()
	return ctx.Err()
}

func startAcceptor(t *testing.T, handler SessionHandler) (*Acceptor, chan error) {
	t.Helper()
	cfg := config.ServerConfig{
		Host:         "127.0.0.1",
		Port:         0,
		WriteTimeout: 5 * time.Second,
	}
	acc := NewAcceptor(cfg, handler, zaptest.NewLogger(t))

	errCh := make(chan error, 1)
	go func() { errCh <- acc.ListenAndServe() }()

	require.Eventually(t, func() bool {
		return acc.IsRunning() && acc.Addr() != ""
	}, 2*time.Second, 10*time.Millisecond, "acceptor did not start in time")
	return acc, errCh
}

func waitStopped(t *testing.T, errCh chan error) {
	t.Helper()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("acceptor did not stop in time")
	}
}

func TestAcceptorStartAndStop(t *testing.T) {
	handler := &echoHandler{}
	acc, errCh := startAcceptor(t, handler)

	conn, err := net.DialTimeout("tcp", acc.Addr(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, protocol.WriteFrame(conn, &protocol.Error{Message: "hello"}))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := protocol.ReadFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", msg.(*protocol.Error).Message)

	require.NoError(t, protocol.WriteFrame(conn, &protocol.Terminate{}))

	// the server closes the connection once the handler returns
	_, err = protocol.ReadFrame(conn)
	assert.Error(t, err)

	acc.Stop()
	waitStopped(t, errCh)
	assert.Equal(t, int32(1), handler.sessionCount.Load())
	assert.False(t, acc.IsRunning())
}

func TestAcceptorMultipleClients(t *testing.T) {
	handler := &echoHandler{}
	acc, errCh := startAcceptor(t, handler)

	const clients = 5
	conns := make([]net.Conn, clients)
	for i := range conns {
		c, err := net.DialTimeout("tcp", acc.Addr(), 2*time.Second)
		require.NoError(t, err)
		conns[i] = c
	}
	for i, c := range conns {
		require.NoError(t, protocol.WriteFrame(c, &protocol.Error{Message: string(rune('a' + i))}))
	}
	for i, c := range conns {
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		msg, err := protocol.ReadFrame(c)
		require.NoError(t, err)
		assert.Equal(t, "echo: "+string(rune('a'+i)), msg.(*protocol.Error).Message)
		c.Close()
	}

	acc.Stop()
	waitStopped(t, errCh)
	assert.Equal(t, int32(clients), handler.sessionCount.Load())
}

func TestAcceptorStopCancelsActiveSessions(t *testing.T) {
	handler := &blockingHandler{}
	acc, errCh := startAcceptor(t, handler)

	conn, err := net.DialTimeout("tcp", acc.Addr(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, handler.started.Load, 2*time.Second, 10*time.Millisecond)

	acc.Stop()
	waitStopped(t, errCh)
}

func TestAcceptorStopWithoutStartIsNoop(t *testing.T) {
	acc := NewAcceptor(config.ServerConfig{Host: "127.0.0.1"}, &echoHandler{}, zaptest.NewLogger(t))
	assert.NotPanics(t, acc.Stop)
	assert.Empty(t, acc.Addr())
}
