package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"invoice-harvester-go/internal/models"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Runs             *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	Messages         *prometheus.CounterVec
	MessageDuration  prometheus.Histogram
	AICalls          *prometheus.CounterVec
	AIFailures       *prometheus.CounterVec
	RateLimitWaits   prometheus.Counter
	RateLimitSeconds prometheus.Counter
	BreakerTrips     prometheus.Counter
	Remaining        prometheus.Gauge
}

// NewMetrics registers the metrics with the default registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics with reg
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_harvester_runs_total",
			Help: "Total number of harvesting runs by result",
		}, []string{"result"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "invoice_harvester_run_duration_seconds",
			Help:    "Wall time of harvesting runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 240, 330, 600},
		}),
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_harvester_messages_total",
			Help: "Total number of processed messages by outcome",
		}, []string{"outcome"}),
		MessageDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "invoice_harvester_message_duration_seconds",
			Help:    "Time spent processing one message",
			Buckets: prometheus.DefBuckets,
		}),
		AICalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_harvester_ai_calls_total",
			Help: "Total number of extraction API calls by response status",
		}, []string{"status"}),
		AIFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "invoice_harvester_ai_failures_total",
			Help: "Total number of failed extractions by error kind",
		}, []string{"kind"}),
		RateLimitWaits: factory.NewCounter(prometheus.CounterOpts{
			Name: "invoice_harvester_rate_limit_waits_total",
			Help: "Number of times the rate limiter delayed a call",
		}),
		RateLimitSeconds: factory.NewCounter(prometheus.CounterOpts{
			Name: "invoice_harvester_rate_limit_wait_seconds_total",
			Help: "Total time spent waiting for the rate limiter",
		}),
		BreakerTrips: factory.NewCounter(prometheus.CounterOpts{
			Name: "invoice_harvester_breaker_trips_total",
			Help: "Number of runs stopped by consecutive timeouts",
		}),
		Remaining: factory.NewGauge(prometheus.GaugeOpts{
			Name: "invoice_harvester_remaining_messages",
			Help: "Candidates left unprocessed by the last run",
		}),
	}
}

func (m *Metrics) AICall(status string) {
	m.AICalls.WithLabelValues(status).Inc()
}

func (m *Metrics) AIFailure(kind string) {
	m.AIFailures.WithLabelValues(kind).Inc()
}

// RateLimitWait is registered as the limiter's wait hook
func (m *Metrics) RateLimitWait(d time.Duration) {
	m.RateLimitWaits.Inc()
	m.RateLimitSeconds.Add(d.Seconds())
}

func (m *Metrics) MessageProcessed(kind models.OutcomeKind, d time.Duration) {
	m.Messages.WithLabelValues(string(kind)).Inc()
	m.MessageDuration.Observe(d.Seconds())
}

func (m *Metrics) RunFinished(summary *models.RunSummary, err error) {
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case summary.BreakerTripped:
		result = "breaker"
	case summary.DeadlineReached:
		result = "deadline"
	}
	m.Runs.WithLabelValues(result).Inc()
	m.RunDuration.Observe(summary.Elapsed.Seconds())
	m.Remaining.Set(float64(summary.Remaining))
}

func (m *Metrics) BreakerTripped() {
	m.BreakerTrips.Inc()
}
