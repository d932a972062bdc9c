package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	prom "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/rps/internal/game/rps"
	"github.com/cory-johannsen/rps/internal/observability"
	"github.com/cory-johannsen/rps/internal/protocol"
)

func TestMoveSlot(t *testing.T) {
	s := NewMoveSlot("alice")
	assert.Equal(t, "alice", s.Owner())
	assert.ErrorIs(t, s.Submit(rps.Rock), ErrNotAwaitingMove)

	s.Open()
	require.NoError(t, s.Submit(rps.Rock))
	assert.ErrorIs(t, s.Submit(rps.Paper), ErrMoveAlreadySubmitted)
	assert.Equal(t, rps.Rock, <-s.Moves())

	// a move left unread is discarded by the next Open
	s.Open()
	require.NoError(t, s.Submit(rps.Paper))
	s.Open()
	require.NoError(t, s.Submit(rps.Scissors))
	assert.Equal(t, rps.Scissors, <-s.Moves())

	s.Close()
	s.Open()
	assert.ErrorIs(t, s.Submit(rps.Rock), ErrNotAwaitingMove)
}

func TestMoveSlotConcurrentSubmitAcceptsOne(t *testing.T) {
	s := NewMoveSlot("alice")
	s.Open()

	var wg sync.WaitGroup
	accepted := make(chan struct{}, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Submit(rps.Rock) == nil {
				accepted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	assert.Len(t, accepted, 1)
}

func newIdleSession(t *testing.T, metrics *observability.Metrics) (*Session, *fakeParticipant, *fakeParticipant) {
	t.Helper()
	a, b := newFake("alice"), newFake("bob")
	return New(a, b, Config{MaxRounds: 3}, zaptest.NewLogger(t), metrics), a, b
}

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t), nil)
	s, _, _ := newIdleSession(t, nil)

	require.NoError(t, r.Add(s))
	assert.Error(t, r.Add(s), "duplicate id")
	assert.Equal(t, 1, r.Count())

	require.NoError(t, r.Remove(s.ID()))
	assert.Error(t, r.Remove(s.ID()))
	assert.Equal(t, 0, r.Count())
}

func TestRegistrySweepRemovesInactive(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	r := NewRegistry(zaptest.NewLogger(t), m)

	live, _, _ := newIdleSession(t, m)
	dead, _, bob := newIdleSession(t, m)
	require.NoError(t, r.Add(live))
	require.NoError(t, r.Add(dead))
	m.SessionStarted()
	m.SessionStarted()

	require.NoError(t, bob.Close())

	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 0, r.Sweep(), "sweeping twice removes nothing more")
	assert.Equal(t, 1.0, prom.ToFloat64(m.SessionsActive))

	// the dead session never left LOBBY_READY; it is counted as aborted
	assert.Equal(t, StatusLobbyReady, dead.Status())
	assert.Equal(t, 1.0, prom.ToFloat64(m.SessionsFinished.WithLabelValues("ABORTED")))
	assert.Equal(t, 0.0, prom.ToFloat64(m.SessionsFinished.WithLabelValues("LOBBY_READY")))
	require.NoError(t, r.Remove(live.ID()), "the live session survived the sweep")
}

func TestRegistryRunSweepsPeriodically(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t), nil)
	s, alice, _ := newIdleSession(t, nil)
	require.NoError(t, r.Add(s))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, 10*time.Millisecond) }()

	require.NoError(t, alice.Close())
	require.Eventually(t, func() bool { return r.Count() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t), nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s, _, b := newIdleSession(t, nil)
			_ = r.Add(s)
			_ = b.Close()
		}()
		go func() {
			defer wg.Done()
			r.Sweep()
		}()
	}
	wg.Wait()
	r.Sweep()
	assert.Equal(t, 0, r.Count())
}

func TestRegistrySweepLabelsFinishedSessionByStatus(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	r := NewRegistry(zaptest.NewLogger(t), m)

	s, alice, bob := newIdleSession(t, m)
	require.NoError(t, r.Add(s))
	m.SessionStarted()

	done := make(chan Result, 1)
	go func() { done <- s.Run(context.Background()) }()
	expect[*protocol.GameStart](t, alice)
	expect[*protocol.GameStart](t, bob)
	for round := 1; round <= 3; round++ {
		expect[*protocol.RoundStart](t, alice)
		expect[*protocol.RoundStart](t, bob)
		require.NoError(t, s.Submit("alice", rps.Rock))
		require.NoError(t, s.Submit("bob", rps.Scissors))
		expect[*protocol.RoundResult](t, alice)
		expect[*protocol.RoundResult](t, bob)
	}
	expect[*protocol.GameResult](t, alice)
	expect[*protocol.GameResult](t, bob)
	select {
	case res := <-done:
		require.Equal(t, StatusGameOver, res.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}

	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 1.0, prom.ToFloat64(m.SessionsFinished.WithLabelValues("GAME_OVER")))
	assert.Equal(t, 0.0, prom.ToFloat64(m.SessionsFinished.WithLabelValues("ABORTED")))
}
