package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/records-inbox/internal/core/domain"
)

const namespace = "records_inbox"

type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	processTotal     *prometheus.CounterVec
	processDuration  *prometheus.HistogramVec
	processInFlight  prometheus.Gauge
	queueLag         *prometheus.HistogramVec
	redeliveries     *prometheus.CounterVec
	pollCycles       *prometheus.CounterVec
	attachmentsSaved *prometheus.CounterVec
	pollBlocked      *prometheus.GaugeVec
	retries          *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	processTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "file_process_total",
			Help:      "Total processed ingest jobs by outcome.",
		},
		[]string{"service", "outcome"},
	)
	processDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "file_process_duration_seconds",
			Help:      "Ingest job processing duration in seconds by outcome.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "outcome"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "file_process_in_flight",
			Help:      "Number of in-flight ingest jobs.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between job submission and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	redeliveries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "failed_deliveries_total",
			Help:      "Failed job deliveries; final marks deliveries that were terminated.",
		},
		[]string{"service", "final"},
	)
	pollCycles := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "email",
			Name:      "poll_cycles_total",
			Help:      "Email poll cycles by status.",
		},
		[]string{"service", "status"},
	)
	attachmentsSaved := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "email",
			Name:      "attachments_saved_total",
			Help:      "Email attachments written to the drop folder.",
		},
		[]string{"service"},
	)
	pollBlocked := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "email",
			Name:      "poll_blocked_cycles",
			Help:      "Consecutive poll cycles stopped by the same unparseable message.",
		},
		[]string{"service"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "retries_total",
			Help:      "Retried external calls by operation.",
		},
		[]string{"service", "operation"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_open",
			Help:      "1 while the circuit breaker for an operation is not closed.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(
		processTotal, processDuration, processInFlight, queueLag, redeliveries,
		pollCycles, attachmentsSaved, pollBlocked, retries, breakerState,
	)

	return &WorkerMetrics{
		registry:         registry,
		service:          service,
		processTotal:     processTotal,
		processDuration:  processDuration,
		processInFlight:  processInFlight,
		queueLag:         queueLag,
		redeliveries:     redeliveries,
		pollCycles:       pollCycles,
		attachmentsSaved: attachmentsSaved,
		pollBlocked:      pollBlocked,
		retries:          retries,
		breakerState:     breakerState,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartJob() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishJob(outcome domain.ProcessOutcome, duration time.Duration, err error) {
	m.processInFlight.Dec()

	label := string(outcome)
	if err != nil {
		label = "error"
	}
	if label == "" {
		label = "unknown"
	}
	m.processTotal.WithLabelValues(m.service, label).Inc()
	m.processDuration.WithLabelValues(m.service, label).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) ObserveRedelivery(final bool) {
	label := "false"
	if final {
		label = "true"
	}
	m.redeliveries.WithLabelValues(m.service, label).Inc()
}

func (m *WorkerMetrics) ObservePoll(result domain.PollResult, err error) {
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case result.Skipped:
		status = "skipped"
	}
	m.pollCycles.WithLabelValues(m.service, status).Inc()
	if result.Saved > 0 {
		m.attachmentsSaved.WithLabelValues(m.service).Add(float64(result.Saved))
	}
	switch {
	case result.BlockedUID != 0:
		m.pollBlocked.WithLabelValues(m.service).Set(float64(result.BlockedCycles))
	case err == nil && !result.Skipped:
		m.pollBlocked.WithLabelValues(m.service).Set(0)
	}
}

func (m *WorkerMetrics) ObserveRetry(operation string) {
	m.retries.WithLabelValues(m.service, operation).Inc()
}

func (m *WorkerMetrics) ObserveBreakerState(operation, state string) {
	open := 0.0
	if state != "closed" {
		open = 1
	}
	m.breakerState.WithLabelValues(m.service, operation).Set(open)
}
