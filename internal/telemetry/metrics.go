package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the donation counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	intake        *prometheus.CounterVec
	webhooks      *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	sweeps        *prometheus.CounterVec
}

// NewMetrics registers the counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		intake: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donation_intake_total",
			Help: "Donation intake requests by outcome.",
		}, []string{"outcome"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donation_webhook_total",
			Help: "Gateway webhook deliveries by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donation_transitions_total",
			Help: "Applied ledger state transitions by target state.",
		}, []string{"to"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donation_notifications_total",
			Help: "Donor and staff notifications by kind and outcome.",
		}, []string{"kind", "outcome"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "donation_sweep_total",
			Help: "Attempts moved by the stale sweep by target state.",
		}, []string{"to"}),
	}
	reg.MustRegister(m.intake, m.webhooks, m.transitions, m.notifications, m.sweeps)
	return m
}

func (m *Metrics) Intake(outcome string) {
	if m == nil {
		return
	}
	m.intake.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Webhook(outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) Notification(kind, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Sweep(to string) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(to).Inc()
}
