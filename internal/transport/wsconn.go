package transport

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/rps/internal/observability"
	"github.com/cory-johannsen/rps/internal/protocol"
)

const (
	// defaultPongWait is how long a peer may stay silent, pongs included.
	defaultPongWait = 60 * time.Second
	// defaultPingPeriod must be shorter than defaultPongWait.
	defaultPingPeriod = (defaultPongWait * 9) / 10
	// pingWriteWait bounds a ping write when no write timeout is configured.
	pingWriteWait = 10 * time.Second
)

// WSOption customizes a WSConn.
type WSOption func(*WSConn)

// WithKeepalive overrides the ping interval and the silence allowed before the
// peer is declared gone.
//
// Precondition: 0 < pingPeriod < pongWait.
func WithKeepalive(pongWait, pingPeriod time.Duration) WSOption {
	return func(c *WSConn) {
		c.pongWait = pongWait
		c.pingPeriod = pingPeriod
	}
}

// WSConn carries protocol envelopes over a WebSocket, one envelope per text frame.
//
// The server pings the peer every pingPeriod. A peer that sends nothing, not
// even a pong, for pongWait is closed, so a half-open browser connection ends
// in Done like any other disconnect.
type WSConn struct {
	id     string
	ws     *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex

	writeTimeout time.Duration
	pongWait     time.Duration
	pingPeriod   time.Duration
	lastSeen     atomic.Int64

	alive     atomic.Bool
	done      chan struct{}
	closeOnce sync.Once

	sendSeq atomic.Uint64
	recvSeq atomic.Uint64
}

// NewWSConn wraps an upgraded WebSocket connection and starts its keepalive.
//
// Precondition: ws must be an open connection; logger must be non-nil.
// Postcondition: Returns a live WSConn with its read limit set to
// protocol.MaxFrameSize and its read deadline armed.
func NewWSConn(ws *websocket.Conn, writeTimeout time.Duration, logger *zap.Logger, opts ...WSOption) *WSConn {
	id := newConnID()
	c := &WSConn{
		id:           id,
		ws:           ws,
		logger:       observability.ConnLogger(logger, id, ws.RemoteAddr().String(), observability.TransportWebSocket),
		writeTimeout: writeTimeout,
		pongWait:     defaultPongWait,
		pingPeriod:   defaultPingPeriod,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.alive.Store(true)

	ws.SetReadLimit(protocol.MaxFrameSize)
	c.touch()
	ws.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})
	go c.keepalive()
	return c
}

// touch records peer activity and pushes the read deadline out by pongWait.
// Only the reading goroutine, or NewWSConn before it starts, calls touch.
func (c *WSConn) touch() {
	now := time.Now()
	c.lastSeen.Store(now.UnixNano())
	_ = c.ws.SetReadDeadline(now.Add(c.pongWait))
}

// keepalive pings the peer until the connection closes, closing it once the
// peer has been silent for longer than pongWait.
func (c *WSConn) keepalive() {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}
		silent := time.Since(time.Unix(0, c.lastSeen.Load()))
		if silent > c.pongWait {
			c.logger.Info("websocket peer unresponsive", zap.Duration("silent", silent))
			c.Close()
			return
		}
		if err := c.ping(); err != nil {
			c.logger.Debug("ping failed", zap.Error(err))
			c.Close()
			return
		}
	}
}

func (c *WSConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.alive.Load() {
		return ErrClosed
	}
	wait := c.writeTimeout
	if wait <= 0 {
		wait = pingWriteWait
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wait))
}

// ID returns the connection identifier.
func (c *WSConn) ID() string { return c.id }

// Send writes one message as a text frame.
func (c *WSConn) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.alive.Load() {
		return fmt.Errorf("sending %s: %w", msg.Type(), ErrClosed)
	}
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
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

// Receive reads the next data frame and decodes it.
func (c *WSConn) Receive() (protocol.Message, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("receiving: %w: %w", ErrClosed, err)
	}
	c.touch()
	msg, err := protocol.Decode(data)
	if err != nil {
		if errors.Is(err, protocol.ErrProtocol) {
			c.logger.Warn("undecodable frame", zap.Error(err))
		}
		return nil, err
	}
	c.logger.Debug("message received",
		zap.Uint64("seq", c.recvSeq.Add(1)),
		zap.String("dir", "recv"),
		zap.String("type", string(msg.Type())),
	)
	return msg, nil
}

// IsAlive reports whether the connection is still usable.
func (c *WSConn) IsAlive() bool { return c.alive.Load() }

// Done is closed when the connection dies.
func (c *WSConn) Done() <-chan struct{} { return c.done }

// Close closes the WebSocket. Safe to call repeatedly.
func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.alive.Store(false)
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// RemoteAddr returns the remote network address of the client.
func (c *WSConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}
