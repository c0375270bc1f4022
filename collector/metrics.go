package collector

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "planka_collector"

// Forward outcomes recorded in Metrics.Forwarded.
const (
	forwardSent    = "sent"
	forwardFailed  = "failed"
	forwardSkipped = "skipped"
)

type Metrics struct {
	Ingested     *prometheus.CounterVec
	IngestErrors *prometheus.CounterVec
	Forwarded    *prometheus.CounterVec
}

// NewMetrics creates the collector counters and registers them on reg when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_ingested_total",
			Help:      "Webhook notifications stored, by payload shape.",
		}, []string{"shape"}),
		IngestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ingest_errors_total",
			Help:      "Webhook notifications rejected or not stored, by reason.",
		}, []string{"reason"}),
		Forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "chat_forward_total",
			Help:      "Chat sink forwarding decisions and delivery results.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Ingested, m.IngestErrors, m.Forwarded)
	}
	return m
}
