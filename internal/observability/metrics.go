// Package observability provides Prometheus metrics for the application.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nagare"

// Metrics holds all application metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	// Queue metrics
	Admissions           *prometheus.CounterVec
	Transitions          *prometheus.CounterVec
	ItemsByStatus        *prometheus.GaugeVec
	EventsDiscarded      *prometheus.CounterVec
	ConversionsScheduled prometheus.Counter
	PromptsPending       prometheus.Gauge

	// Metadata metrics
	MetadataFetches  *prometheus.CounterVec
	MetadataInFlight prometheus.Gauge
	MetadataDuration *prometheus.HistogramVec

	// Executor metrics
	ExecutorRequestsTotal *prometheus.CounterVec
	ExecutorErrors        *prometheus.CounterVec
	ExecutorRetries       *prometheus.CounterVec
	TransferBytes         prometheus.Counter
	TransferDuration      prometheus.Histogram

	// Storage metrics
	StoredItems   prometheus.Gauge
	StorageErrors *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Proxy metrics
	ProxyRequestsTotal *prometheus.CounterVec
	ProxyFailures      *prometheus.CounterVec
	ProxiesAvailable   prometheus.Gauge

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec
}

// New creates and registers all application metrics on reg. A nil reg gets a
// fresh registry carrying the Go runtime and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	factory := promauto.With(reg)

	metrics := &Metrics{
		reg: reg,

		// Queue metrics
		Admissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "admissions_total",
			Help:      "Total number of submissions by admission outcome",
		}, []string{"outcome"}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "transitions_total",
			Help:      "Total number of item status transitions by target status",
		}, []string{"status"}),
		ItemsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "items",
			Help:      "Current number of items by status",
		}, []string{"status"}),
		EventsDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_discarded_total",
			Help:      "Total number of progress events discarded by reason",
		}, []string{"reason"}),
		ConversionsScheduled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "conversions_scheduled_total",
			Help:      "Total number of automatic conversions scheduled",
		}),
		PromptsPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "prompts_pending",
			Help:      "Number of duplicate prompts waiting for a decision",
		}),

		// Metadata metrics
		MetadataFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metadata",
			Name:      "fetches_total",
			Help:      "Total number of metadata results by fallback stage",
		}, []string{"stage"}),
		MetadataInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "metadata",
			Name:      "in_flight",
			Help:      "Number of metadata fetches currently running",
		}),
		MetadataDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "metadata",
			Name:      "fetch_duration_seconds",
			Help:      "Histogram of metadata fetch duration in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"stage"}),

		// Executor metrics
		ExecutorRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "requests_total",
			Help:      "Total number of executor commands",
		}, []string{"executor", "status"}),
		ExecutorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "errors_total",
			Help:      "Total number of executor errors",
		}, []string{"executor", "error_type"}),
		ExecutorRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "retries_total",
			Help:      "Total number of retried transient failures",
		}, []string{"executor"}),
		TransferBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "transfer_bytes_total",
			Help:      "Total bytes transferred across all items",
		}),
		TransferDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "transfer_duration_seconds",
			Help:      "Histogram of transfer duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),

		// Storage metrics
		StoredItems: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "items_current",
			Help:      "Current number of stored items",
		}),
		StorageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Total number of storage errors by operation",
		}, []string{"op"}),

		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Histogram of HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPResponseSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "Histogram of HTTP response sizes in bytes",
			Buckets:   []float64{100, 1000, 10000, 100000, 1000000, 10000000},
		}, []string{"method", "path"}),

		// Proxy metrics
		ProxyRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Total number of requests made through proxies",
		}, []string{"proxy"}),
		ProxyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "failures_total",
			Help:      "Total number of proxy failures",
		}, []string{"proxy"}),
		ProxiesAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "available",
			Help:      "Number of currently available proxies",
		}),

		// Notification metrics
		NotificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Total number of notifications by result",
		}, []string{"result"}),
	}

	return metrics
}

// Handler returns the Prometheus HTTP handler for the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration, size int) {
	if m == nil {
		return
	}

	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(size))
}

// RecordAdmission counts a submission outcome.
func (m *Metrics) RecordAdmission(outcome string) {
	if m == nil {
		return
	}

	m.Admissions.WithLabelValues(outcome).Inc()
}

// RecordTransition counts a status change and moves the per-status gauge.
// from is empty for newly admitted items and to is empty for removed ones.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil || from == to {
		return
	}

	if from != "" {
		m.ItemsByStatus.WithLabelValues(from).Dec()
	}

	if to != "" {
		m.ItemsByStatus.WithLabelValues(to).Inc()
		m.Transitions.WithLabelValues(to).Inc()
	}
}

// ResetItems sets the per-status gauge from a full count.
func (m *Metrics) ResetItems(counts map[string]int) {
	if m == nil {
		return
	}

	m.ItemsByStatus.Reset()

	for status, n := range counts {
		m.ItemsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// RecordEventDiscarded counts a progress event dropped by the reducer.
func (m *Metrics) RecordEventDiscarded(reason string) {
	if m == nil {
		return
	}

	m.EventsDiscarded.WithLabelValues(reason).Inc()
}

// RecordConversionScheduled counts an automatic conversion.
func (m *Metrics) RecordConversionScheduled() {
	if m == nil {
		return
	}

	m.ConversionsScheduled.Inc()
}

// SetPromptsPending sets the number of unanswered prompts.
func (m *Metrics) SetPromptsPending(count int) {
	if m == nil {
		return
	}

	m.PromptsPending.Set(float64(count))
}

// MetadataTimer marks a fetch as in flight and returns a function recording
// its duration under the stage that produced the result.
func (m *Metrics) MetadataTimer() func(stage string) {
	if m == nil {
		return func(string) {}
	}

	start := time.Now()

	m.MetadataInFlight.Inc()

	return func(stage string) {
		m.MetadataInFlight.Dec()
		m.MetadataFetches.WithLabelValues(stage).Inc()
		m.MetadataDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// TransferTimer returns a function to record transfer duration.
func (m *Metrics) TransferTimer() func() {
	if m == nil {
		return func() {}
	}

	start := time.Now()

	return func() {
		m.TransferDuration.Observe(time.Since(start).Seconds())
	}
}

// RecordTransferBytes adds n transferred bytes.
func (m *Metrics) RecordTransferBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}

	m.TransferBytes.Add(float64(n))
}

// RecordExecutorRequest records an executor command.
func (m *Metrics) RecordExecutorRequest(executor, status string) {
	if m == nil {
		return
	}

	m.ExecutorRequestsTotal.WithLabelValues(executor, status).Inc()
}

// RecordExecutorError records an executor error.
func (m *Metrics) RecordExecutorError(executor, errorType string) {
	if m == nil {
		return
	}

	m.ExecutorErrors.WithLabelValues(executor, errorType).Inc()
}

// RecordExecutorRetry records a retried attempt.
func (m *Metrics) RecordExecutorRetry(executor string) {
	if m == nil {
		return
	}

	m.ExecutorRetries.WithLabelValues(executor).Inc()
}

// SetStoredItems sets the number of stored items.
func (m *Metrics) SetStoredItems(count int) {
	if m == nil {
		return
	}

	m.StoredItems.Set(float64(count))
}

// RecordStorageError records a failed storage operation.
func (m *Metrics) RecordStorageError(op string) {
	if m == nil {
		return
	}

	m.StorageErrors.WithLabelValues(op).Inc()
}

// RecordProxyRequest records a proxy request.
func (m *Metrics) RecordProxyRequest(proxy string) {
	if m == nil {
		return
	}

	m.ProxyRequestsTotal.WithLabelValues(proxy).Inc()
}

// RecordProxyFailure records a proxy failure.
func (m *Metrics) RecordProxyFailure(proxy string) {
	if m == nil {
		return
	}

	m.ProxyFailures.WithLabelValues(proxy).Inc()
}

// SetProxiesAvailable sets the number of available proxies.
func (m *Metrics) SetProxiesAvailable(count int) {
	if m == nil {
		return
	}

	m.ProxiesAvailable.Set(float64(count))
}

// RecordNotification records a notification attempt.
func (m *Metrics) RecordNotification(result string) {
	if m == nil {
		return
	}

	m.NotificationsTotal.WithLabelValues(result).Inc()
}
