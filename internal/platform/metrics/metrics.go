package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the consent service's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so services can be built without it in tests.
type Metrics struct {
	ConsentsGranted    prometheus.Counter
	ConsentsRevoked    prometheus.Counter
	AccessDecisions    *prometheus.CounterVec
	RequestTransitions *prometheus.CounterVec
	QRScans            *prometheus.CounterVec
	CheckLatency       prometheus.Histogram
	RequestsPurged     prometheus.Counter
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConsentsGranted: f.NewCounter(prometheus.CounterOpts{
			Name: "ehrconsent_consents_granted_total",
			Help: "Consent grants written to the store",
		}),
		ConsentsRevoked: f.NewCounter(prometheus.CounterOpts{
			Name: "ehrconsent_consents_revoked_total",
			Help: "Consent grants revoked before expiry",
		}),
		AccessDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ehrconsent_access_decisions_total",
			Help: "Enforcement decisions by outcome (allow or the denial code)",
		}, []string{"outcome"}),
		RequestTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ehrconsent_request_transitions_total",
			Help: "Consent request transitions by resulting status",
		}, []string{"status"}),
		QRScans: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ehrconsent_qr_scans_total",
			Help: "QR payload scans by result",
		}, []string{"result"}),
		CheckLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ehrconsent_access_check_duration_ms",
			Help:    "Latency of a full enforcement check in milliseconds",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
		}),
		RequestsPurged: f.NewCounter(prometheus.CounterOpts{
			Name: "ehrconsent_requests_purged_total",
			Help: "Decided consent requests removed by the retention sweep",
		}),
	}
}

func (m *Metrics) IncrementGranted() {
	if m == nil {
		return
	}
	m.ConsentsGranted.Inc()
}

func (m *Metrics) IncrementRevoked() {
	if m == nil {
		return
	}
	m.ConsentsRevoked.Inc()
}

// ObserveDecision records an enforcement outcome and its latency.
func (m *Metrics) ObserveDecision(outcome string, durationMs float64) {
	if m == nil {
		return
	}
	m.AccessDecisions.WithLabelValues(outcome).Inc()
	m.CheckLatency.Observe(durationMs)
}

func (m *Metrics) IncrementTransition(status string) {
	if m == nil {
		return
	}
	m.RequestTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementScan(result string) {
	if m == nil {
		return
	}
	m.QRScans.WithLabelValues(result).Inc()
}

func (m *Metrics) AddPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RequestsPurged.Add(float64(n))
}
