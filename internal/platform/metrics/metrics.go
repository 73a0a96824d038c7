package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gate.
type Metrics struct {
	Decisions           *prometheus.CounterVec
	DecisionScore       prometheus.Histogram
	CounterFallbacks    *prometheus.CounterVec
	CounterBreakerOpen  prometheus.Gauge
	LookupDuration      *prometheus.HistogramVec
	LookupFailures      *prometheus.CounterVec
	ChallengeResults    *prometheus.CounterVec
	HoneypotHits        prometheus.Counter
	AuditRecordsDropped prometheus.Counter
	AuditRecordsWritten *prometheus.CounterVec
	TokenVerifyFailures *prometheus.CounterVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers on reg; tests pass a fresh prometheus.NewRegistry().
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "botgate_decisions_total",
			Help: "Terminal decisions by verdict",
		}, []string{"verdict"}),
		DecisionScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "botgate_decision_score",
			Help:    "Distribution of assessed bot probability",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		CounterFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "botgate_counter_fallback_total",
			Help: "Counter store operations served by the in-process fallback",
		}, []string{"op"}),
		CounterBreakerOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "botgate_counter_breaker_open",
			Help: "1 while the counter store circuit breaker is open",
		}),
		LookupDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "botgate_lookup_duration_ms",
			Help:    "Latency of external signal lookups in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 1500},
		}, []string{"source"}),
		LookupFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "botgate_lookup_failures_total",
			Help: "External signal lookups that timed out or failed",
		}, []string{"source"}),
		ChallengeResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "botgate_challenge_verifications_total",
			Help: "Challenge verification attempts by result",
		}, []string{"result"}),
		HoneypotHits: f.NewCounter(prometheus.CounterOpts{
			Name: "botgate_honeypot_hits_total",
			Help: "Requests that reached a honeypot endpoint",
		}),
		AuditRecordsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "botgate_audit_records_dropped_total",
			Help: "Decision records dropped because the reporting queue was full",
		}),
		AuditRecordsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Name: "botgate_audit_records_written_total",
			Help: "Decision records handed to sinks by result",
		}, []string{"sink", "result"}),
		TokenVerifyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "botgate_token_verify_failures_total",
			Help: "Token verification failures by token type",
		}, []string{"type"}),
	}
}

// IncDecision records a terminal decision and its score.
func (m *Metrics) IncDecision(verdict string, score float64) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(verdict).Inc()
	m.DecisionScore.Observe(score)
}

// IncCounterFallback records one operation served locally.
func (m *Metrics) IncCounterFallback(op string) {
	if m == nil {
		return
	}
	m.CounterFallbacks.WithLabelValues(op).Inc()
}

// SetBreakerOpen mirrors the counter store breaker state.
func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CounterBreakerOpen.Set(1)
		return
	}
	m.CounterBreakerOpen.Set(0)
}

// ObserveLookup records the latency of one lookup and whether it failed.
func (m *Metrics) ObserveLookup(source string, ms float64, failed bool) {
	if m == nil {
		return
	}
	m.LookupDuration.WithLabelValues(source).Observe(ms)
	if failed {
		m.LookupFailures.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) IncChallengeResult(result string) {
	if m == nil {
		return
	}
	m.ChallengeResults.WithLabelValues(result).Inc()
}

func (m *Metrics) IncHoneypotHits() {
	if m == nil {
		return
	}
	m.HoneypotHits.Inc()
}

func (m *Metrics) IncAuditDropped() {
	if m == nil {
		return
	}
	m.AuditRecordsDropped.Inc()
}

func (m *Metrics) IncAuditWritten(sink string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.AuditRecordsWritten.WithLabelValues(sink, result).Inc()
}

func (m *Metrics) IncTokenVerifyFailure(tokenType string) {
	if m == nil {
		return
	}
	m.TokenVerifyFailures.WithLabelValues(tokenType).Inc()
}
