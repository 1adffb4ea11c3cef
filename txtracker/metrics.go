package txtracker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records transaction outcomes. A nil registerer leaves the collectors unregistered.
//
// Outcomes counts each transaction once, when it reaches a terminal state. Waits that gave up
// first are counted separately in UnresolvedWaits, so a transaction that confirms after an
// unresolved wait shows up in both.
type Metrics struct {
	Outcomes            *prometheus.CounterVec
	UnresolvedWaits     *prometheus.CounterVec
	ConfirmationLatency *prometheus.HistogramVec
}

// NewMetrics creates the tracker collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credential_registry_tx_outcomes_total",
			Help: "Tracked registry transactions by operation and terminal status",
		}, []string{"operation", "status"}),
		UnresolvedWaits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credential_registry_tx_unresolved_waits_total",
			Help: "Waits on registry transactions that ended before the transaction settled",
		}, []string{"operation"}),
		ConfirmationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credential_registry_tx_confirmation_seconds",
			Help:    "Time from submission to a terminal state",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"operation"}),
	}
}

func (m *Metrics) observe(op Operation, status string, submitted, now time.Time) {
	m.Outcomes.WithLabelValues(string(op), status).Inc()
	m.ConfirmationLatency.WithLabelValues(string(op)).Observe(now.Sub(submitted).Seconds())
}

func (m *Metrics) observeUnresolved(op Operation) {
	m.UnresolvedWaits.WithLabelValues(string(op)).Inc()
}
