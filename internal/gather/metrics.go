package gather

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records provider activity. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	requests    *prometheus.CounterVec
	cache       *prometheus.CounterVec
	credentials *prometheus.GaugeVec
	unavailable prometheus.Counter
}

// NewMetrics creates the provider collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taa_provider_requests_total",
				Help: "Remote market data requests by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		cache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taa_provider_cache_total",
				Help: "Series cache lookups by result",
			},
			[]string{"result"},
		),
		credentials: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taa_provider_credential_requests",
				Help: "Counted requests per credential in this process",
			},
			[]string{"credential"},
		),
		unavailable: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "taa_provider_unavailable_total",
				Help: "Tickers that could not be fetched",
			},
		),
	}
	reg.MustRegister(m.requests, m.cache, m.credentials, m.unavailable)
	return m
}

// RecordRequest records one remote request.
func (m *Metrics) RecordRequest(source, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(source, outcome).Inc()
}

// RecordCache records a cache lookup result: "hit", "miss" or "corrupt".
func (m *Metrics) RecordCache(result string) {
	if m == nil {
		return
	}
	m.cache.WithLabelValues(result).Inc()
}

// RecordCredential publishes the current counter of a credential.
func (m *Metrics) RecordCredential(label string, used int64) {
	if m == nil {
		return
	}
	m.credentials.WithLabelValues(label).Set(float64(used))
}

// RecordUnavailable counts one ticker that ended unavailable.
func (m *Metrics) RecordUnavailable() {
	if m == nil {
		return
	}
	m.unavailable.Inc()
}
