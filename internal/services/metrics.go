package services

import (
	"github.com/BradenHooton/tradergate/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters exported on /metrics. A nil *Metrics is valid
// and records nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	Lockouts        prometheus.Counter
	FailedLogins    prometheus.Counter
	SessionsCreated prometheus.Counter
	SessionsRevoked prometheus.Counter
	StoreFallbacks  *prometheus.CounterVec
	SweepExpired    prometheus.Counter
	SweepReminders  prometheus.Counter
	GateRejections  *prometheus.CounterVec
}

// NewMetrics creates and registers every counter on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradergate_lockouts_total",
			Help: "Account locks issued after repeated failed attempts.",
		}),
		FailedLogins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradergate_failed_logins_total",
			Help: "Failed credential or second-factor checks.",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradergate_sessions_created_total",
			Help: "Refresh sessions issued.",
		}),
		SessionsRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradergate_sessions_revoked_total",
			Help: "Refresh sessions revoked explicitly, in bulk, or by rotation.",
		}),
		StoreFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradergate_store_fallbacks_total",
			Help: "Store calls served by the in-memory fallback.",
		}, []string{"op"}),
		SweepExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradergate_sweep_expired_total",
			Help: "Subscriptions flipped to expired by the daily sweep.",
		}),
		SweepReminders: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradergate_sweep_reminders_total",
			Help: "Renewal reminders sent by the daily sweep.",
		}),
		GateRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradergate_gate_rejections_total",
			Help: "Requests rejected by the subscription gate.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.Lockouts, m.FailedLogins, m.SessionsCreated, m.SessionsRevoked,
		m.StoreFallbacks, m.SweepExpired, m.SweepReminders, m.GateRejections,
	)
	return m
}

func (m *Metrics) incLockout() {
	if m != nil {
		m.Lockouts.Inc()
	}
}

func (m *Metrics) incFailedLogin() {
	if m != nil {
		m.FailedLogins.Inc()
	}
}

func (m *Metrics) incSessionsCreated() {
	if m != nil {
		m.SessionsCreated.Inc()
	}
}

func (m *Metrics) addSessionsRevoked(n int) {
	if m != nil && n > 0 {
		m.SessionsRevoked.Add(float64(n))
	}
}

func (m *Metrics) addSweep(res *models.SweepResult) {
	if m != nil {
		m.SweepExpired.Add(float64(res.ExpiredCount))
		m.SweepReminders.Add(float64(res.RemindersSent))
	}
}

// StoreFallback is handed to kvstore.Open as its degradation hook.
func (m *Metrics) StoreFallback(op string) {
	if m != nil {
		m.StoreFallbacks.WithLabelValues(op).Inc()
	}
}

// GateRejected is handed to the subscription gate.
func (m *Metrics) GateRejected(reason string) {
	if m != nil {
		m.GateRejections.WithLabelValues(reason).Inc()
	}
}
