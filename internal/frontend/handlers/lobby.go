// Package handlers runs the per-connection protocol: login, queueing, move
// routing, and the play-again decision.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/rps/internal/auth"
	"github.com/cory-johannsen/rps/internal/game/matchmaker"
	"github.com/cory-johannsen/rps/internal/game/session"
	"github.com/cory-johannsen/rps/internal/observability"
	"github.com/cory-johannsen/rps/internal/protocol"
	"github.com/cory-johannsen/rps/internal/transport"
)

const (
	msgLoginFirst    = "LoginRequest should be first message"
	msgLoginOK       = "Login successful"
	msgLoginInternal = "Login unavailable, please try again later"
	msgWaiting       = "Waiting for opponent..."
)

// Authenticator checks credentials and binds usernames to connections.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string, holder auth.Holder) (string, error)
	Release(username string, holder auth.Holder)
}

// Lobby is the matchmaking queue as seen by a connection.
type Lobby interface {
	Enqueue(p matchmaker.Player) error
	Withdraw(p matchmaker.Player) bool
}

// LobbyHandler implements transport.SessionHandler.
type LobbyHandler struct {
	auth        Authenticator
	lobby       Lobby
	maxAttempts int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// NewLobbyHandler creates a LobbyHandler.
//
// Precondition: authn, lobby, and logger must be non-nil. maxAttempts of zero
// allows unlimited login retries. metrics may be nil.
func NewLobbyHandler(authn Authenticator, lobby Lobby, maxAttempts int, logger *zap.Logger, metrics *observability.Metrics) *LobbyHandler {
	return &LobbyHandler{
		auth:        authn,
		lobby:       lobby,
		maxAttempts: maxAttempts,
		logger:      logger,
		metrics:     metrics,
	}
}

// HandleSession authenticates the client, queues it, and serves it until it
// terminates or disconnects.
//
// Postcondition: The username is released and withdrawn from the queue.
// Returns nil on a client-initiated Terminate.
func (h *LobbyHandler) HandleSession(ctx context.Context, conn transport.Endpoint) error {
	h.metrics.ConnOpened()
	defer h.metrics.ConnClosed()

	start := time.Now()
	username, err := h.login(ctx, conn)
	if err != nil {
		return err
	}
	defer h.auth.Release(username, conn)

	p := newPlayer(username, conn)
	defer h.lobby.Withdraw(p)

	h.logger.Info("player logged in",
		zap.String("conn", conn.ID()),
		zap.String("username", username),
		zap.Duration("login_time", time.Since(start)),
	)

	if err := h.enqueue(p); err != nil {
		return err
	}
	return h.serve(p)
}

// login runs the login exchange.
//
// Postcondition: Returns the normalized username, or an error after which the
// connection must be closed.
func (h *LobbyHandler) login(ctx context.Context, conn transport.Endpoint) (string, error) {
	attempts := 0
	for {
		msg, err := conn.Receive()
		if err != nil {
			if errors.Is(err, protocol.ErrProtocol) {
				_ = conn.Send(&protocol.LoginResponse{Success: false, Message: msgLoginFirst})
			}
			return "", fmt.Errorf("awaiting login: %w", err)
		}

		req, ok := msg.(*protocol.LoginRequest)
		if !ok {
			_ = conn.Send(&protocol.LoginResponse{Success: false, Message: msgLoginFirst})
			return "", fmt.Errorf("%w: %s before login", protocol.ErrProtocol, msg.Type())
		}

		username, err := h.auth.Authenticate(ctx, req.Username, req.Password, conn)
		if err == nil {
			h.metrics.Login(true)
			if err := conn.Send(&protocol.LoginResponse{Success: true, Message: msgLoginOK}); err != nil {
				h.auth.Release(username, conn)
				return "", err
			}
			return username, nil
		}

		var rej *auth.RejectedError
		if !errors.As(err, &rej) {
			h.logger.Error("authentication error", zap.String("conn", conn.ID()), zap.Error(err))
			_ = conn.Send(&protocol.LoginResponse{Success: false, Message: msgLoginInternal})
			return "", err
		}

		h.metrics.Login(false)
		attempts++
		if err := conn.Send(&protocol.LoginResponse{
			Success: false,
			Message: rej.Message(),
			Reason:  string(rej.Reason),
		}); err != nil {
			return "", err
		}
		if h.maxAttempts > 0 && attempts >= h.maxAttempts {
			return "", fmt.Errorf("login attempts exhausted after %d tries: %w", attempts, err)
		}
	}
}

// enqueue tells the client it is waiting, then queues it. The notice goes
// first so it cannot arrive after a GameStart.
func (h *LobbyHandler) enqueue(p *Player) error {
	if err := p.Send(&protocol.Waiting{Message: msgWaiting}); err != nil {
		return err
	}
	return h.lobby.Enqueue(p)
}

// serve is the post-login read loop.
func (h *LobbyHandler) serve(p *Player) error {
	for {
		msg, err := p.conn.Receive()
		if err != nil {
			if errors.Is(err, protocol.ErrProtocol) {
				_ = p.Send(&protocol.Error{Message: "Malformed message"})
			}
			return err
		}

		if !protocol.FromClient(msg.Type()) {
			_ = p.Send(&protocol.Error{Message: fmt.Sprintf("Unexpected message %s", msg.Type())})
			return fmt.Errorf("%w: client sent server message %s", protocol.ErrProtocol, msg.Type())
		}

		switch m := msg.(type) {
		case *protocol.Move:
			h.handleMove(p, m)
		case *protocol.PlayAgain:
			done, err := h.handlePlayAgain(p, m)
			if err != nil || done {
				return err
			}
		case *protocol.Terminate:
			h.logger.Info("client terminated", zap.String("username", p.username), zap.Stringer("state", p.currentState()))
			return nil
		case *protocol.LoginRequest:
			_ = p.Send(&protocol.Error{Message: "Already logged in"})
		}
	}
}

func (h *LobbyHandler) handleMove(p *Player, m *protocol.Move) {
	s := p.session()
	if s == nil {
		_ = p.Send(&protocol.Error{Message: "No game in progress"})
		return
	}
	if m.PlayerID != "" && auth.NormalizeUsername(m.PlayerID) != p.username {
		_ = p.Send(&protocol.Error{Message: "playerId does not match the logged in user"})
		return
	}

	err := s.Submit(p.username, m.Move)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrMoveAlreadySubmitted):
		_ = p.Send(&protocol.Error{Message: "Move already submitted for this round"})
	case errors.Is(err, session.ErrNotAwaitingMove):
		_ = p.Send(&protocol.Error{Message: "Not accepting moves right now"})
	default:
		h.logger.Warn("move rejected", zap.String("username", p.username), zap.String("session", s.ID()), zap.Error(err))
		_ = p.Send(&protocol.Error{Message: "Move rejected"})
	}
}

// handlePlayAgain applies the post-match decision.
//
// Postcondition: Returns done == true when the client declined another match.
func (h *LobbyHandler) handlePlayAgain(p *Player, m *protocol.PlayAgain) (bool, error) {
	next := stateTerminated
	if m.Again {
		next = stateWaiting
	}
	if !p.leavePostMatch(next) {
		_ = p.Send(&protocol.Error{Message: "Play again is only valid after a match"})
		return false, nil
	}
	if !m.Again {
		h.logger.Info("player left after match", zap.String("username", p.username))
		return true, nil
	}
	return false, h.enqueue(p)
}
