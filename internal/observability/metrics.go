package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Login outcome label values.
const (
	LoginAccepted = "accepted"
	LoginRejected = "rejected"
)

// Metrics holds the server's Prometheus collectors.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	LoginsTotal       *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	SessionsStarted   prometheus.Counter
	SessionsFinished  *prometheus.CounterVec
	SessionsActive    prometheus.Gauge
	RoundsPlayed      prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
//
// Precondition: reg must be non-nil and must not already hold collectors with these names.
// Postcondition: Returns a Metrics whose collectors are all registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rps_connections_active",
			Help: "Number of open client connections",
		}),
		LoginsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rps_logins_total",
			Help: "Login attempts by result",
		}, []string{"result"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rps_queue_depth",
			Help: "Players waiting for an opponent",
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rps_sessions_started_total",
			Help: "Game sessions created by the matchmaker",
		}),
		SessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rps_sessions_finished_total",
			Help: "Game sessions finished by terminal status",
		}, []string{"status"}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rps_sessions_active",
			Help: "Game sessions currently registered",
		}),
		RoundsPlayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rps_rounds_played_total",
			Help: "Rounds adjudicated across all sessions",
		}),
	}
	reg.MustRegister(
		m.ConnectionsActive,
		m.LoginsTotal,
		m.QueueDepth,
		m.SessionsStarted,
		m.SessionsFinished,
		m.SessionsActive,
		m.RoundsPlayed,
	)
	return m
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.ConnectionsActive.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.ConnectionsActive.Dec()
	}
}

// Login records a login attempt outcome.
func (m *Metrics) Login(accepted bool) {
	if m == nil {
		return
	}
	result := LoginRejected
	if accepted {
		result = LoginAccepted
	}
	m.LoginsTotal.WithLabelValues(result).Inc()
}

// SetQueueDepth records the current matchmaking queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

// SessionStarted records a newly paired session.
func (m *Metrics) SessionStarted() {
	if m != nil {
		m.SessionsStarted.Inc()
		m.SessionsActive.Inc()
	}
}

// SessionFinished records a session leaving the registry with the given terminal status.
func (m *Metrics) SessionFinished(status string) {
	if m != nil {
		m.SessionsFinished.WithLabelValues(status).Inc()
		m.SessionsActive.Dec()
	}
}

func (m *Metrics) RoundPlayed() {
	if m != nil {
		m.RoundsPlayed.Inc()
	}
}
