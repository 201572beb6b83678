// Package metrics exposes reconciliation and reference-server counters to
// Prometheus. Components depend on the Recorder interface and default to Nop.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives the observations made by views, the push channel and the
// reference server.
type Recorder interface {
	// EventReduced counts one push event by name and reduce outcome.
	EventReduced(event, outcome string)
	// RefreshCompleted records a full re-fetch and its duration.
	RefreshCompleted(d time.Duration, err error)
	// RefreshScheduled counts debounce (re)starts.
	RefreshScheduled()
	// StaleResponseDiscarded counts fetch completions dropped because the
	// selection moved on.
	StaleResponseDiscarded()
	// WriteCompleted counts assignment and stoppage writes.
	WriteCompleted(kind string, err error)
	// EventPublished counts events broadcast by the server.
	EventPublished(event string)
	// ViewsOpen tracks the number of open views.
	ViewsOpen(delta int)
}

// Nop discards every observation.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) EventReduced(string, string)           {}
func (Nop) RefreshCompleted(time.Duration, error) {}
func (Nop) RefreshScheduled()                     {}
func (Nop) StaleResponseDiscarded()               {}
func (Nop) WriteCompleted(string, error)          {}
func (Nop) EventPublished(string)                 {}
func (Nop) ViewsOpen(int)                         {}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	events          *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	refreshLatency  prometheus.Histogram
	debounces       prometheus.Counter
	staleResponses  prometheus.Counter
	writes          *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec
	viewsOpen       prometheus.Gauge

	gatherer prometheus.Gatherer
}

var _ Recorder = (*Collector)(nil)

// NewCollector registers the metrics with reg under namespace. A nil reg
// creates a private registry, which keeps tests independent of each other.
func NewCollector(reg *prometheus.Registry, namespace string) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = "prodtimeline"
	}

	c := &Collector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_reduced_total",
			Help:      "Push events folded into a timeline, by event name and outcome.",
		}, []string{"event", "outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Full timeline re-fetches, by result.",
		}, []string{"result"}),
		refreshLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Duration of full timeline re-fetches.",
			Buckets:   prometheus.DefBuckets,
		}),
		debounces: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_debounces_total",
			Help:      "Times the refresh debounce timer was (re)started.",
		}),
		staleResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_responses_total",
			Help:      "Fetch responses discarded because a newer query superseded them.",
		}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Assignment and stoppage writes, by kind and result.",
		}, []string{"kind", "result"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Push events published by the reference server, by event name.",
		}, []string{"event"}),
		viewsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "views_open",
			Help:      "Timeline views currently open.",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		c.events,
		c.refreshes,
		c.refreshLatency,
		c.debounces,
		c.staleResponses,
		c.writes,
		c.eventsPublished,
		c.viewsOpen,
	)
	return c
}

func (c *Collector) EventReduced(event, outcome string) {
	c.events.WithLabelValues(event, outcome).Inc()
}

func (c *Collector) RefreshCompleted(d time.Duration, err error) {
	c.refreshes.WithLabelValues(result(err)).Inc()
	c.refreshLatency.Observe(d.Seconds())
}

func (c *Collector) RefreshScheduled() {
	c.debounces.Inc()
}

func (c *Collector) StaleResponseDiscarded() {
	c.staleResponses.Inc()
}

func (c *Collector) WriteCompleted(kind string, err error) {
	c.writes.WithLabelValues(kind, result(err)).Inc()
}

func (c *Collector) EventPublished(event string) {
	c.eventsPublished.WithLabelValues(event).Inc()
}

func (c *Collector) ViewsOpen(delta int) {
	c.viewsOpen.Add(float64(delta))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
