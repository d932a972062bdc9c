package matchmaker

import (
	"fmt"
	"sync"
)

// Queue is the FIFO of players waiting for an opponent.
//
// Invariant: no username appears twice.
type Queue struct {
	mu      sync.Mutex
	players []Player
	index   map[string]Player
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{index: make(map[string]Player)}
}

// Push appends p to the back.
//
// A queued player with the same username whose connection is already dead is
// evicted first; its handler simply has not withdrawn it yet.
//
// Postcondition: Returns an error wrapping ErrStateViolation if a live player
// with p's username is already queued.
func (q *Queue) Push(p Player) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.claim(p); err != nil {
		return err
	}
	q.players = append(q.players, p)
	return nil
}

// PushFront returns p to the head, keeping its wait priority.
func (q *Queue) PushFront(p Player) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.claim(p); err != nil {
		return err
	}
	q.players = append([]Player{p}, q.players...)
	return nil
}

func (q *Queue) claim(p Player) error {
	name := p.Username()
	if cur, dup := q.index[name]; dup {
		if cur.IsAlive() {
			return fmt.Errorf("%w: %q already waiting", ErrStateViolation, name)
		}
		q.remove(cur)
	}
	q.index[name] = p
	return nil
}

// PopPair removes the two longest-waiting players atomically.
//
// Postcondition: Returns ok == false and leaves the queue untouched when fewer than two are waiting.
func (q *Queue) PopPair() (Player, Player, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.players) < 2 {
		return nil, nil, false
	}
	a, _ := q.pop()
	b, _ := q.pop()
	return a, b, true
}

func (q *Queue) pop() (Player, bool) {
	if len(q.players) == 0 {
		return nil, false
	}
	p := q.players[0]
	q.players[0] = nil
	q.players = q.players[1:]
	delete(q.index, p.Username())
	return p, true
}

// Remove withdraws p from the queue. Another player queued under the same
// username is left alone.
//
// Postcondition: Returns true if p was waiting.
func (q *Queue) Remove(p Player) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.index[p.Username()] != p {
		return false
	}
	q.remove(p)
	return true
}

func (q *Queue) remove(p Player) {
	for i, cur := range q.players {
		if cur == p {
			q.players = append(q.players[:i], q.players[i+1:]...)
			break
		}
	}
	delete(q.index, p.Username())
}

// Len returns the number of waiting players.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.players)
}
