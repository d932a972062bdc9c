package session

import (
	"errors"
	"sync"

	"github.com/cory-johannsen/rps/internal/game/rps"
)

var (
	// ErrNotAwaitingMove is returned when a move arrives outside an open round.
	ErrNotAwaitingMove = errors.New("not awaiting a move")
	// ErrMoveAlreadySubmitted is returned for a second move in the same round.
	ErrMoveAlreadySubmitted = errors.New("move already submitted this round")
)

// MoveSlot is the single-move handoff between one participant's read loop and
// the session loop. It accepts at most one move per Open.
type MoveSlot struct {
	owner string
	moves chan rps.Move

	mu        sync.Mutex
	open      bool
	submitted bool
	closed    bool
}

// NewMoveSlot creates a closed-for-input slot for owner.
func NewMoveSlot(owner string) *MoveSlot {
	return &MoveSlot{
		owner: owner,
		moves: make(chan rps.Move, 1),
	}
}

// Owner returns the username of the participant that fills this slot.
func (s *MoveSlot) Owner() string { return s.owner }

// Open clears any stale move and starts accepting one move.
//
// Postcondition: The next Submit succeeds unless the slot has been closed.
func (s *MoveSlot) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.moves:
	default:
	}
	s.open = !s.closed
	s.submitted = false
}

// Submit hands m to the session loop.
//
// Precondition: m must be a valid move.
// Postcondition: Returns nil if m was accepted, ErrMoveAlreadySubmitted if a
// move was already taken since Open, or ErrNotAwaitingMove otherwise.
func (s *MoveSlot) Submit(m rps.Move) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		if s.submitted {
			return ErrMoveAlreadySubmitted
		}
		return ErrNotAwaitingMove
	}
	s.open = false
	s.submitted = true
	// capacity 1 and drained by Open, so this never blocks
	s.moves <- m
	return nil
}

// Moves returns the channel the session loop receives from.
func (s *MoveSlot) Moves() <-chan rps.Move { return s.moves }

// Close permanently stops accepting moves.
func (s *MoveSlot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.open = false
	s.submitted = false
}
