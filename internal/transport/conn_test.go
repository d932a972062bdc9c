package transport

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/rps/internal/game/rps"
	"github.com/cory-johannsen/rps/internal/protocol"
)

// tcpPair returns a server-side Conn and the raw client socket connected to it.
func tcpPair(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		raw, err := ln.Accept()
		if err == nil {
			accepted <- raw
		}
		close(accepted)
	}()

	client, err := net.DialTimeout("tcp", ln.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	raw, ok := <-accepted
	require.True(t, ok, "accept failed")

	server := NewConn(raw, 0, 2*time.Second, zaptest.NewLogger(t))
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return server, client
}

func TestConnSendReceive(t *testing.T) {
	server, client := tcpPair(t)

	require.NoError(t, protocol.WriteFrame(client, &protocol.Move{PlayerID: "alice", Move: rps.Rock}))
	msg, err := server.Receive()
	require.NoError(t, err)
	assert.Equal(t, &protocol.Move{PlayerID: "alice", Move: rps.Rock}, msg)

	require.NoError(t, server.Send(&protocol.Waiting{Message: "Waiting for opponent..."}))
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, err := protocol.ReadFrame(client)
	require.NoError(t, err)
	assert.Equal(t, &protocol.Waiting{Message: "Waiting for opponent..."}, got)
}

func TestConnPreservesSendOrder(t *testing.T) {
	server, client := tcpPair(t)

	go func() {
		for i := 1; i <= 5; i++ {
			_ = server.Send(&protocol.RoundStart{Round: i, MaxRounds: 5})
		}
	}()

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 1; i <= 5; i++ {
		msg, err := protocol.ReadFrame(client)
		require.NoError(t, err)
		assert.Equal(t, i, msg.(*protocol.RoundStart).Round)
	}
}

func TestConnReceiveProtocolErrorKeepsConnAlive(t *testing.T) {
	server, client := tcpPair(t)

	frame := []byte(`{"type":"teleport"}`)
	_, err := client.Write(append([]byte{0, 0, 0, byte(len(frame))}, frame...))
	require.NoError(t, err)

	_, err = server.Receive()
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrProtocol)
	assert.True(t, server.IsAlive())

	require.NoError(t, protocol.WriteFrame(client, &protocol.Terminate{}))
	msg, err := server.Receive()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeTerminate, msg.Type())
}

func TestConnPeerCloseMarksDead(t *testing.T) {
	server, client := tcpPair(t)

	client.Close()
	_, err := server.Receive()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, server.IsAlive())

	select {
	case <-server.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}
}

func TestConnCloseUnblocksReceive(t *testing.T) {
	server, _ := tcpPair(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := server.Receive()
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, server.Close())

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not unblock")
	}
}

func TestConnSendAfterClose(t *testing.T) {
	server, _ := tcpPair(t)

	require.NoError(t, server.Close())
	assert.NoError(t, server.Close(), "second Close is a no-op")

	err := server.Send(&protocol.Terminate{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, server.IsAlive())
}

func TestConnIDsAreUnique(t *testing.T) {
	a, _ := tcpPair(t)
	b, _ := tcpPair(t)
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.NotEmpty(t, a.RemoteAddr())
}
