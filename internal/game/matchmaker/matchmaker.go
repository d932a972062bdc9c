// Package matchmaker pairs waiting players into sessions in arrival order.
package matchmaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/rps/internal/game/session"
	"github.com/cory-johannsen/rps/internal/observability"
)

// ErrStateViolation marks a broken matchmaker invariant, such as a username
// queued twice. It indicates a programming defect.
var ErrStateViolation = errors.New("matchmaker state violation")

// Player is a participant the matchmaker can pair.
type Player interface {
	session.Participant
	// Matched is called before the session starts running.
	Matched(s *session.Session)
	// MatchEnded is called once the session's Run has returned.
	MatchEnded(res session.Result)
}

// Matchmaker pairs the two longest-waiting live players whenever a player is
// enqueued and on every poll interval.
type Matchmaker struct {
	queue        *Queue
	registry     *session.Registry
	cfg          session.Config
	pollInterval time.Duration
	logger       *zap.Logger
	metrics      *observability.Metrics

	wake     chan struct{}
	sessions sync.WaitGroup
}

// New creates a Matchmaker that registers its sessions in registry.
//
// Precondition: registry and logger must be non-nil; pollInterval > 0; cfg.MaxRounds >= 1.
// metrics may be nil.
func New(registry *session.Registry, cfg session.Config, pollInterval time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Matchmaker {
	return &Matchmaker{
		queue:        NewQueue(),
		registry:     registry,
		cfg:          cfg,
		pollInterval: pollInterval,
		logger:       logger,
		metrics:      metrics,
		wake:         make(chan struct{}, 1),
	}
}

// Enqueue adds p to the back of the waiting queue and wakes the pairing loop.
//
// Postcondition: Returns an error wrapping ErrStateViolation if p is already waiting.
func (m *Matchmaker) Enqueue(p Player) error {
	if err := m.queue.Push(p); err != nil {
		m.logger.DPanic("enqueue rejected", zap.String("username", p.Username()), zap.Error(err))
		return err
	}
	m.metrics.SetQueueDepth(m.queue.Len())
	m.logger.Debug("player waiting", zap.String("username", p.Username()))
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

// Withdraw removes p from the waiting queue.
//
// Postcondition: Returns true if p was waiting.
func (m *Matchmaker) Withdraw(p Player) bool {
	removed := m.queue.Remove(p)
	if removed {
		m.metrics.SetQueueDepth(m.queue.Len())
		m.logger.Debug("player withdrawn", zap.String("username", p.Username()))
	}
	return removed
}

// Waiting returns the number of queued players.
func (m *Matchmaker) Waiting() int { return m.queue.Len() }


// Run pairs players until ctx is cancelled. Sessions it started run under ctx
// and are abandoned when it is cancelled.
//
// Postcondition: Returns ctx.Err() once every session goroutine has exited.
func (m *Matchmaker) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	defer m.sessions.Wait()

	m.logger.Info("matchmaker started", zap.Duration("poll_interval", m.pollInterval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("matchmaker stopping", zap.Int("waiting", m.queue.Len()))
			return ctx.Err()
		case <-ticker.C:
		case <-m.wake:
		}
		for m.pairOnce(ctx) {
		}
	}
}

// pairOnce runs one pairing step.
//
// Postcondition: Returns false when fewer than two players are waiting.
func (m *Matchmaker) pairOnce(ctx context.Context) bool {
	a, b, ok := m.queue.PopPair()
	if !ok {
		return false
	}
	defer func() { m.metrics.SetQueueDepth(m.queue.Len()) }()

	if !a.IsAlive() {
		m.logger.Debug("discarding dead player", zap.String("username", a.Username()))
		m.requeue(b)
		return true
	}
	if !b.IsAlive() {
		m.logger.Debug("discarding dead player", zap.String("username", b.Username()))
		m.requeue(a)
		return true
	}
	m.start(ctx, a, b)
	return true
}

func (m *Matchmaker) requeue(p Player) {
	if err := m.queue.PushFront(p); err != nil {
		m.logger.DPanic("requeue rejected", zap.String("username", p.Username()), zap.Error(err))
	}
}

func (m *Matchmaker) start(ctx context.Context, a, b Player) {
	s := session.New(a, b, m.cfg, m.logger, m.metrics)
	if err := m.registry.Add(s); err != nil {
		m.logger.DPanic("registering session", zap.String("session", s.ID()), zap.Error(err))
	}
	m.metrics.SessionStarted()
	m.logger.Info("players matched",
		zap.String("session", s.ID()),
		zap.String("player1", a.Username()),
		zap.String("player2", b.Username()),
	)

	a.Matched(s)
	b.Matched(s)

	m.sessions.Add(1)
	go func() {
		defer m.sessions.Done()
		res := s.Run(ctx)
		a.MatchEnded(res)
		b.MatchEnded(res)
	}()
}
