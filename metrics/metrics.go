// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Poll iteration results.
const (
	ResultOK      = "ok"
	ResultPartial = "partial"
	ResultFailed  = "failed"
)

// Recorder is the metrics surface used by fan-out and the poller.
type Recorder interface {
	RecordNotified(category string, matched int)
	RecordDeliveryFailure(category string)
	RecordPollIteration(result string)
	RecordFetchFailure(source string)
	RecordFetchLatency(source string, d time.Duration)
}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	notified         *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	pollIterations   *prometheus.CounterVec
	fetchFailures    *prometheus.CounterVec
	fetchLatency     *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		notified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tyflo_push_notifications_total",
			Help: "Subscribers matched by fan-out, per category.",
		}, []string{"category"}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tyflo_push_delivery_failures_total",
			Help: "Deliveries the provider rejected, per category.",
		}, []string{"category"}),
		pollIterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tyflo_push_poll_iterations_total",
			Help: "Poll iterations by result.",
		}, []string{"result"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tyflo_push_source_fetch_failures_total",
			Help: "Failed fetches per content source.",
		}, []string{"source"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tyflo_push_fetch_duration_seconds",
			Help:    "Content source fetch latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
	}

	reg.MustRegister(
		c.notified,
		c.deliveryFailures,
		c.pollIterations,
		c.fetchFailures,
		c.fetchLatency,
	)

	return c
}

// RecordNotified adds matched subscribers for a category.
func (c *Collector) RecordNotified(category string, matched int) {
	c.notified.WithLabelValues(category).Add(float64(matched))
}

// RecordDeliveryFailure counts one rejected delivery.
func (c *Collector) RecordDeliveryFailure(category string) {
	c.deliveryFailures.WithLabelValues(category).Inc()
}

// RecordPollIteration counts one poll iteration.
func (c *Collector) RecordPollIteration(result string) {
	c.pollIterations.WithLabelValues(result).Inc()
}

// RecordFetchFailure counts one failed source fetch.
func (c *Collector) RecordFetchFailure(source string) {
	c.fetchFailures.WithLabelValues(source).Inc()
}

// RecordFetchLatency observes one source fetch.
func (c *Collector) RecordFetchLatency(source string, d time.Duration) {
	c.fetchLatency.WithLabelValues(source).Observe(d.Seconds())
}

// Handler returns the Prometheus scrape handler.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Discard is a Recorder that drops everything.
type Discard struct{}

func (Discard) RecordNotified(string, int) {}
func (Discard) RecordDeliveryFailure(string) {}
func (Discard) RecordPollIteration(string) {}
func (Discard) RecordFetchFailure(string) {}
func (Discard) RecordFetchLatency(string, time.Duration) {}
