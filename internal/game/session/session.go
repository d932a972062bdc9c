// Package session runs a single head-to-head match and tracks live matches
// for periodic cleanup.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/rps/internal/game/rps"
	"github.com/cory-johannsen/rps/internal/observability"
	"github.com/cory-johannsen/rps/internal/protocol"
)

// ErrNotParticipant is returned by Submit for a username not in the session.
var ErrNotParticipant = errors.New("not a participant in this session")

// Status is the session state.
type Status int32

const (
	StatusLobbyReady Status = iota
	StatusRoundInProgress
	StatusRoundResolved
	StatusGameOver
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusLobbyReady:
		return "LOBBY_READY"
	case StatusRoundInProgress:
		return "ROUND_IN_PROGRESS"
	case StatusRoundResolved:
		return "ROUND_RESOLVED"
	case StatusGameOver:
		return "GAME_OVER"
	case StatusAborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// Terminal reports whether s is GAME_OVER or ABORTED.
func (s Status) Terminal() bool {
	return s == StatusGameOver || s == StatusAborted
}

// Participant is one side of a match.
type Participant interface {
	Username() string
	Send(msg protocol.Message) error
	IsAlive() bool
	// Done is closed once the participant's connection is gone.
	Done() <-chan struct{}
	// Close drops the participant's connection.
	Close() error
}

// Config holds match rules.
type Config struct {
	MaxRounds   int
	RoundPause  time.Duration
	MoveTimeout time.Duration
}

// Result summarizes a finished Run.
type Result struct {
	SessionID string
	Status    Status
	Players   [2]string
	Scores    [2]int
	Rounds    int
	// Winner is empty for a draw or an aborted match.
	Winner string
	// Disconnected names the participant whose loss aborted the match.
	Disconnected string
}

// Session drives exactly Config.MaxRounds rounds between two fixed participants.
//
// Scores and the round counter have a single writer, the Run goroutine; the
// mutex only serves concurrent readers.
type Session struct {
	id      string
	cfg     Config
	players [2]Participant
	slots   [2]*MoveSlot
	logger  *zap.Logger
	metrics *observability.Metrics

	status atomic.Int32

	mu     sync.RWMutex
	scores [2]int
	round  int
}

// New creates a session in LOBBY_READY.
//
// Precondition: p1 and p2 have distinct usernames; cfg.MaxRounds >= 1; logger non-nil.
// metrics may be nil.
func New(p1, p2 Participant, cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Session {
	id := uuid.NewString()
	return &Session{
		id:      id,
		cfg:     cfg,
		players: [2]Participant{p1, p2},
		slots:   [2]*MoveSlot{NewMoveSlot(p1.Username()), NewMoveSlot(p2.Username())},
		logger:  observability.SessionLogger(logger, id, [2]string{p1.Username(), p2.Username()}),
		metrics: metrics,
	}
}

// ID returns the session UUID.
func (s *Session) ID() string { return s.id }

// Status returns the current state.
func (s *Session) Status() Status { return Status(s.status.Load()) }

// Players returns both participant usernames in pairing order.
func (s *Session) Players() [2]string {
	return [2]string{s.players[0].Username(), s.players[1].Username()}
}

// Scores returns the current score pair in pairing order.
func (s *Session) Scores() [2]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scores
}

// Round returns the current round number, 0 before the first round.
func (s *Session) Round() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.round
}

// IsActive reports whether the match is unfinished and both participants are connected.
//
// Postcondition: Has no side effects.
func (s *Session) IsActive() bool {
	if s.Status().Terminal() {
		return false
	}
	return s.players[0].IsAlive() && s.players[1].IsAlive()
}

// Submit records username's move for the current round.
//
// Postcondition: Returns nil if the move was accepted, ErrNotParticipant,
// ErrNotAwaitingMove, or ErrMoveAlreadySubmitted.
func (s *Session) Submit(username string, m rps.Move) error {
	for _, slot := range s.slots {
		if slot.Owner() == username {
			return slot.Submit(m)
		}
	}
	return ErrNotParticipant
}

func (s *Session) setStatus(st Status) {
	s.status.Store(int32(st))
}

// Run plays the match to completion.
//
// Both participants receive GameStart before any round is solicited. Each
// round sends RoundStart to both, waits for both moves in either order,
// adjudicates, and sends each participant its RoundResult. Losing either
// participant aborts the match and notifies the other. Cancelling ctx abandons
// the match without notifying anyone.
//
// Postcondition: Status is GAME_OVER or ABORTED and no move slot accepts input.
func (s *Session) Run(ctx context.Context) Result {
	defer s.slots[0].Close()
	defer s.slots[1].Close()

	s.logger.Info("session started", zap.Int("max_rounds", s.cfg.MaxRounds))

	for i, p := range s.players {
		err := p.Send(&protocol.GameStart{
			SessionID:        s.id,
			OpponentUsername: s.players[1-i].Username(),
			MaxRounds:        s.cfg.MaxRounds,
		})
		if err != nil {
			return s.abort(i)
		}
	}

	for round := 1; round <= s.cfg.MaxRounds; round++ {
		if round > 1 && s.cfg.RoundPause > 0 {
			gone, err := s.pause(ctx)
			if err != nil {
				return s.abandon()
			}
			if gone >= 0 {
				return s.abort(gone)
			}
		}

		s.mu.Lock()
		s.round = round
		s.mu.Unlock()
		s.setStatus(StatusRoundInProgress)

		s.slots[0].Open()
		s.slots[1].Open()
		for i, p := range s.players {
			if err := p.Send(&protocol.RoundStart{Round: round, MaxRounds: s.cfg.MaxRounds}); err != nil {
				return s.abort(i)
			}
		}

		moves, gone, err := s.collect(ctx)
		if err != nil {
			return s.abandon()
		}
		if gone >= 0 {
			return s.abort(gone)
		}

		if gone := s.resolve(round, moves); gone >= 0 {
			return s.abort(gone)
		}
	}
	return s.finish()
}

// collect waits for both moves of the current round.
//
// Postcondition: Returns both moves with gone == -1, or the index of a
// participant that disconnected or timed out, or ctx's error.
func (s *Session) collect(ctx context.Context) ([2]rps.Move, int, error) {
	var moves [2]rps.Move

	var timeout <-chan time.Time
	if s.cfg.MoveTimeout > 0 {
		timer := time.NewTimer(s.cfg.MoveTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for moves[0] == rps.MoveNone || moves[1] == rps.MoveNone {
		select {
		case m := <-s.slots[0].Moves():
			moves[0] = m
		case m := <-s.slots[1].Moves():
			moves[1] = m
		case <-s.players[0].Done():
			return moves, 0, nil
		case <-s.players[1].Done():
			return moves, 1, nil
		case <-timeout:
			gone := -1
			for i, m := range moves {
				if m != rps.MoveNone {
					continue
				}
				s.logger.Info("move timeout, dropping participant",
					zap.String("username", s.players[i].Username()),
					zap.Duration("timeout", s.cfg.MoveTimeout),
				)
				_ = s.players[i].Close()
				if gone < 0 {
					gone = i
				}
			}
			return moves, gone, nil
		case <-ctx.Done():
			return moves, -1, ctx.Err()
		}
	}
	return moves, -1, nil
}

// resolve scores one round and reports it to both participants.
// It returns the index of a participant that could not be reached, or -1.
func (s *Session) resolve(round int, moves [2]rps.Move) int {
	outcome := rps.Adjudicate(moves[0], moves[1])

	s.mu.Lock()
	switch outcome {
	case rps.Win:
		s.scores[0]++
	case rps.Lose:
		s.scores[1]++
	}
	scores := s.scores
	s.mu.Unlock()
	s.setStatus(StatusRoundResolved)
	s.metrics.RoundPlayed()

	s.logger.Debug("round resolved",
		zap.Int("round", round),
		zap.Stringer("move1", moves[0]),
		zap.Stringer("move2", moves[1]),
		zap.Stringer("outcome1", outcome),
		zap.Ints("scores", scores[:]),
	)

	outcomes := [2]rps.Outcome{outcome, outcome.Opposite()}
	for i, p := range s.players {
		err := p.Send(&protocol.RoundResult{
			Round:         round,
			YourMove:      moves[i],
			OpponentMove:  moves[1-i],
			Outcome:       outcomes[i],
			YourScore:     scores[i],
			OpponentScore: scores[1-i],
		})
		if err != nil {
			return i
		}
	}
	return -1
}

// pause waits out the inter-round delay, watching both participants.
func (s *Session) pause(ctx context.Context) (int, error) {
	timer := time.NewTimer(s.cfg.RoundPause)
	defer timer.Stop()
	select {
	case <-timer.C:
		return -1, nil
	case <-s.players[0].Done():
		return 0, nil
	case <-s.players[1].Done():
		return 1, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (s *Session) finish() Result {
	s.setStatus(StatusGameOver)
	res := s.result(StatusGameOver)

	var summary string
	switch {
	case res.Scores[0] > res.Scores[1]:
		res.Winner = res.Players[0]
	case res.Scores[1] > res.Scores[0]:
		res.Winner = res.Players[1]
	}
	if res.Winner != "" {
		summary = fmt.Sprintf("%s wins the game!", res.Winner)
	} else {
		summary = "The game ended in a draw!"
	}

	for i, p := range s.players {
		outcome := rps.Draw
		switch {
		case res.Scores[i] > res.Scores[1-i]:
			outcome = rps.Win
		case res.Scores[i] < res.Scores[1-i]:
			outcome = rps.Lose
		}
		err := p.Send(&protocol.GameResult{
			YourScore:     res.Scores[i],
			OpponentScore: res.Scores[1-i],
			Outcome:       outcome,
			Winner:        res.Winner,
			Summary:       summary,
		})
		if err != nil {
			s.logger.Debug("final result undeliverable", zap.String("username", p.Username()), zap.Error(err))
		}
	}

	s.logger.Info("session finished",
		zap.String("winner", res.Winner),
		zap.Ints("scores", res.Scores[:]),
	)
	return res
}

// abort ends the match because participant gone is unreachable.
func (s *Session) abort(gone int) Result {
	s.setStatus(StatusAborted)
	res := s.result(StatusAborted)
	name := s.players[gone].Username()
	res.Disconnected = name

	other := s.players[1-gone]
	if other.IsAlive() {
		if err := other.Send(&protocol.OpponentDisconnected{DisconnectedPlayerName: name}); err != nil {
			s.logger.Debug("disconnect notice undeliverable", zap.String("username", other.Username()), zap.Error(err))
		}
	}
	s.logger.Info("session aborted", zap.String("disconnected", name), zap.Int("round", res.Rounds))
	return res
}

// abandon ends the match on shutdown without notifying anyone.
func (s *Session) abandon() Result {
	s.setStatus(StatusAborted)
	s.logger.Info("session abandoned")
	return s.result(StatusAborted)
}

func (s *Session) result(st Status) Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Result{
		SessionID: s.id,
		Status:    st,
		Players:   s.Players(),
		Scores:    s.scores,
		Rounds:    s.round,
	}
}
