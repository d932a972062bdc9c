package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/rps/internal/config"
)

// SessionHandler processes a connected client.
// Implementations own the read loop for a single connection.
type SessionHandler interface {
	HandleSession(ctx context.Context, conn Endpoint) error
}

// Acceptor listens for TCP connections and dispatches each connection to a
// SessionHandler on its own goroutine.
type Acceptor struct {
	cfg     config.ServerConfig
	handler SessionHandler
	logger  *zap.Logger

	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewAcceptor creates a TCP acceptor with the given configuration.
//
// Precondition: cfg must have a valid port; handler and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(cfg config.ServerConfig, handler SessionHandler, logger *zap.Logger) *Acceptor {
	return &Acceptor{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		quit:    make(chan struct{}),
	}
}

// ListenAndServe starts the TCP listener and accepts connections until Stop is called.
// This method blocks until the acceptor is stopped.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	a.mu.Lock()
	select {
	case <-a.quit:
		// stopped before the listener was bound
		a.mu.Unlock()
		listener.Close()
		return nil
	default:
	}
	a.listener = listener
	a.running = true
	a.mu.Unlock()

	a.logger.Info("acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)

	for {
		raw, err := listener.Accept()
		if err != nil {
			select {
			case <-a.quit:
				return nil
			default:
				a.logger.Error("accepting connection", zap.Error(err))
				continue
			}
		}

		a.wg.Add(1)
		go a.handleConn(raw)
	}
}

// handleConn runs the session handler for one TCP connection.
func (a *Acceptor) handleConn(raw net.Conn) {
	defer a.wg.Done()
	conn := NewConn(raw, a.cfg.ReadTimeout, a.cfg.WriteTimeout, a.logger)
	Serve(a.quit, conn, a.handler, a.logger)
}

// Serve runs handler for conn until it returns, closing conn afterwards.
// Closing quit cancels the handler's context and closes conn so a blocked
// Receive returns.
func Serve(quit <-chan struct{}, conn Endpoint, handler SessionHandler, logger *zap.Logger) {
	start := time.Now()
	addr := conn.RemoteAddr()
	defer conn.Close()

	logger.Info("client connected",
		zap.String("conn", conn.ID()),
		zap.String("remote_addr", addr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-quit:
			cancel()
			conn.Close()
		case <-ctx.Done():
		}
	}()

	if err := handler.HandleSession(ctx, conn); err != nil {
		logger.Debug("session ended",
			zap.String("conn", conn.ID()),
			zap.String("remote_addr", addr),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
	} else {
		logger.Info("session ended cleanly",
			zap.String("conn", conn.ID()),
			zap.String("remote_addr", addr),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// Stop closes the listener, disconnects every client and waits for their
// handlers to return.
//
// Postcondition: All connections are closed and goroutines have exited. A later
// ListenAndServe returns immediately.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	select {
	case <-a.quit:
		a.mu.Unlock()
		return
	default:
	}
	close(a.quit)
	a.running = false
	listener := a.listener
	a.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	a.wg.Wait()

	a.logger.Info("acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
