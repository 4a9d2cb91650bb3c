package metricsvc

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mpkschool/backend/core/realtime"
)

const namespace = "mpkschool"

// Collector exports the realtime traffic to Prometheus.
type Collector struct {
	registry *prometheus.Registry

	sessions  prometheus.Gauge
	events    *prometheus.CounterVec
	delivered *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

var _ realtime.Observer = (*Collector)(nil) // interface compliance check

// NewCollector registers the chat metrics, plus the Go and process ones, on a dedicated registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "sessions",
			Help:      "Number of live chat sessions.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "events_total",
			Help:      "Client events handled, by event and error code.",
		}, []string{"event", "code"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "pushes_delivered_total",
			Help:      "Server pushes accepted by a session, by event.",
		}, []string{"event"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "pushes_dropped_total",
			Help:      "Server pushes a session could not take, by event.",
		}, []string{"event"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.sessions,
		c.events,
		c.delivered,
		c.dropped,
	)
	return c
}

func (c *Collector) SessionOpened() {
	c.sessions.Inc()
}

func (c *Collector) SessionClosed() {
	c.sessions.Dec()
}

func (c *Collector) EventHandled(event string, errCode string) {
	if errCode == "" {
		errCode = "ok"
	}
	c.events.WithLabelValues(event, errCode).Inc()
}

func (c *Collector) Delivered(event string, sessions int) {
	if sessions > 0 {
		c.delivered.WithLabelValues(event).Add(float64(sessions))
	}
}

func (c *Collector) Dropped(event string) {
	c.dropped.WithLabelValues(event).Inc()
}

func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}

// Handler serves the metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
