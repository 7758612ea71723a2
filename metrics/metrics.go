// Package metrics holds the Prometheus collectors for courseforge.
// Every method is safe on a nil *Metrics so components can run unobserved.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the namespace for all courseforge metrics.
	Namespace = "courseforge"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// Model gateway
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CacheEvictions  prometheus.Counter
	ProviderCalls   *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec

	// Jobs
	JobsSubmitted *prometheus.CounterVec
	JobsFinished  *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	JobsRunning   prometheus.Gauge

	// Credits
	CreditsDebited      prometheus.Counter
	InsufficientCredits prometheus.Counter

	// Batches
	BatchesStarted prometheus.Counter
	BatchItems     *prometheus.CounterVec

	// Notifications
	Notifications *prometheus.CounterVec

	// HTTP
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on reg.
// A nil reg registers on the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.initGatewayMetrics(factory)
	m.initJobMetrics(factory)
	m.initLedgerMetrics(factory)

	return m
}

func (m *Metrics) initGatewayMetrics(factory promauto.Factory) {
	m.CacheHits = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "gateway",
		Name:      "cache_hits_total",
		Help:      "Model responses served from the cache",
	})
	m.CacheMisses = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "gateway",
		Name:      "cache_misses_total",
		Help:      "Model requests not found in the cache",
	})
	m.CacheEvictions = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "gateway",
		Name:      "cache_evictions_total",
		Help:      "Cache entries evicted to make room",
	})
	m.ProviderCalls = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "gateway",
		Name:      "provider_calls_total",
		Help:      "Calls made to model and research providers",
	}, []string{"provider", "outcome"})
	m.ProviderLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "gateway",
		Name:      "provider_latency_seconds",
		Help:      "Latency of provider calls",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
	}, []string{"provider"})
}

func (m *Metrics) initJobMetrics(factory promauto.Factory) {
	m.JobsSubmitted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "jobs",
		Name:      "submitted_total",
		Help:      "Generation jobs accepted",
	}, []string{"job_type"})
	m.JobsFinished = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "jobs",
		Name:      "finished_total",
		Help:      "Generation jobs reaching a terminal status",
	}, []string{"job_type", "status"})
	m.JobDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Wall time from processing to terminal status",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4min
	}, []string{"job_type"})
	m.JobsRunning = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "jobs",
		Name:      "running",
		Help:      "Generation jobs currently processing",
	})
	m.BatchesStarted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "batch",
		Name:      "started_total",
		Help:      "Batches accepted",
	})
	m.BatchItems = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "batch",
		Name:      "items_total",
		Help:      "Batch member outcomes",
	}, []string{"status"})
	m.Notifications = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "notify",
		Name:      "sent_total",
		Help:      "Completion notifications by sink",
	}, []string{"sink", "outcome"})
	m.HTTPRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status code",
	}, []string{"route", "code"})
}

func (m *Metrics) initLedgerMetrics(factory promauto.Factory) {
	m.CreditsDebited = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "credits",
		Name:      "debited_total",
		Help:      "Credits debited from owner accounts",
	})
	m.InsufficientCredits = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "credits",
		Name:      "insufficient_total",
		Help:      "Requests rejected for insufficient credits",
	})
}

// CacheHit counts a cache hit
func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

// CacheMiss counts a cache miss
func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

// CacheEvict counts a cache eviction
func (m *Metrics) CacheEvict() {
	if m != nil {
		m.CacheEvictions.Inc()
	}
}

// ProviderCall records one provider call outcome ("ok" or "error") and its latency
func (m *Metrics) ProviderCall(provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(provider, outcome).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// JobSubmitted counts an accepted job
func (m *Metrics) JobSubmitted(jobType string) {
	if m != nil {
		m.JobsSubmitted.WithLabelValues(jobType).Inc()
	}
}

// JobStarted marks a job processing
func (m *Metrics) JobStarted() {
	if m != nil {
		m.JobsRunning.Inc()
	}
}

// JobFinished records a terminal job
func (m *Metrics) JobFinished(jobType, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.JobsRunning.Dec()
	m.JobsFinished.WithLabelValues(jobType, status).Inc()
	m.JobDuration.WithLabelValues(jobType).Observe(elapsed.Seconds())
}

// Debited counts credits taken from an account
func (m *Metrics) Debited(amount int) {
	if m != nil && amount > 0 {
		m.CreditsDebited.Add(float64(amount))
	}
}

// Insufficient counts a rejected debit
func (m *Metrics) Insufficient() {
	if m != nil {
		m.InsufficientCredits.Inc()
	}
}

// BatchStarted counts an accepted batch
func (m *Metrics) BatchStarted() {
	if m != nil {
		m.BatchesStarted.Inc()
	}
}

// BatchItem records one member outcome
func (m *Metrics) BatchItem(status string) {
	if m != nil {
		m.BatchItems.WithLabelValues(status).Inc()
	}
}

// Notified records one sink delivery outcome
func (m *Metrics) Notified(sink, outcome string) {
	if m != nil {
		m.Notifications.WithLabelValues(sink, outcome).Inc()
	}
}

// HTTPRequest records one served request
func (m *Metrics) HTTPRequest(route, code string) {
	if m != nil {
		m.HTTPRequests.WithLabelValues(route, code).Inc()
	}
}
