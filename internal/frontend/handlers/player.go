package handlers

import (
	"sync"

	"github.com/cory-johannsen/rps/internal/game/session"
	"github.com/cory-johannsen/rps/internal/protocol"
	"github.com/cory-johannsen/rps/internal/transport"
)

type playerState int

const (
	stateWaiting playerState = iota
	stateMatched
	statePostMatch
	stateTerminated
)

func (s playerState) String() string {
	switch s {
	case stateWaiting:
		return "waiting"
	case stateMatched:
		return "matched"
	case statePostMatch:
		return "post_match"
	case stateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Player is an authenticated connection as seen by the matchmaker.
type Player struct {
	username string
	conn     transport.Endpoint

	mu    sync.Mutex
	state playerState
	sess  *session.Session
}

func newPlayer(username string, conn transport.Endpoint) *Player {
	return &Player{username: username, conn: conn, state: stateWaiting}
}

func (p *Player) Username() string                { return p.username }
func (p *Player) Send(msg protocol.Message) error { return p.conn.Send(msg) }
func (p *Player) IsAlive() bool                   { return p.conn.IsAlive() }
func (p *Player) Done() <-chan struct{}           { return p.conn.Done() }
func (p *Player) Close() error                    { return p.conn.Close() }

// Matched implements matchmaker.Player.
func (p *Player) Matched(s *session.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = stateMatched
	p.sess = s
}

// MatchEnded implements matchmaker.Player. A notification for a session the
// player has already moved on from is ignored.
func (p *Player) MatchEnded(res session.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == stateMatched && p.sess != nil && p.sess.ID() == res.SessionID {
		p.state = statePostMatch
		p.sess = nil
	}
}

// session returns the match the player is in, or nil.
func (p *Player) session() *session.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != stateMatched {
		return nil
	}
	return p.sess
}

// leavePostMatch moves a player whose match is over to next.
//
// The final result reaches the client before MatchEnded runs, so a matched
// player whose session is already terminal counts as post-match.
func (p *Player) leavePostMatch(next playerState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	over := p.state == statePostMatch ||
		(p.state == stateMatched && p.sess != nil && p.sess.Status().Terminal())
	if !over {
		return false
	}
	p.state = next
	p.sess = nil
	return true
}

func (p *Player) currentState() playerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
