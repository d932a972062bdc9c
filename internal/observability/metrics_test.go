package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NotNil(t, m)

	m.ConnOpened()
	m.Login(true)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["rps_connections_active"])
	assert.True(t, names["rps_logins_total"])
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsActive))

	m.Login(true)
	m.Login(false)
	m.Login(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoginsTotal.WithLabelValues(LoginAccepted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.LoginsTotal.WithLabelValues(LoginRejected)))

	m.SessionStarted()
	m.SessionStarted()
	m.SessionFinished("GAME_OVER")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsFinished.WithLabelValues("GAME_OVER")))

	m.SetQueueDepth(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.QueueDepth))

	m.RoundPlayed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoundsPlayed))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnOpened()
		m.ConnClosed()
		m.Login(true)
		m.SetQueueDepth(3)
		m.SessionStarted()
		m.SessionFinished("ABORTED")
		m.RoundPlayed()
	})
}
