package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kavos113/quickctf/ctf-instancer/domain"
)

// Collector holds the instancer's Prometheus metrics on its own registry.
type Collector struct {
	Registry *prometheus.Registry

	TransitionsTotal    *prometheus.CounterVec
	ActiveInstances     *prometheus.GaugeVec
	BackendCallsTotal   *prometheus.CounterVec
	BackendCallDuration *prometheus.HistogramVec
	HTTPRequestsTotal   *prometheus.CounterVec
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,

		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instancer",
			Subsystem: "instance",
			Name:      "transitions_total",
			Help:      "Committed instance state transitions.",
		}, []string{"challenge", "state"}),

		ActiveInstances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "instancer",
			Subsystem: "instance",
			Name:      "active",
			Help:      "Instances currently started.",
		}, []string{"challenge"}),

		BackendCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instancer",
			Subsystem: "backend",
			Name:      "calls_total",
			Help:      "Backend create/destroy calls.",
		}, []string{"op", "status"}),

		BackendCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "instancer",
			Subsystem: "backend",
			Name:      "call_duration_seconds",
			Help:      "Backend call duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"op"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "instancer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and outcome.",
		}, []string{"route", "outcome"}),
	}

	reg.MustRegister(
		c.TransitionsTotal,
		c.ActiveInstances,
		c.BackendCallsTotal,
		c.BackendCallDuration,
		c.HTTPRequestsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return c
}

// Publish counts a committed transition.
func (c *Collector) Publish(ctx context.Context, event domain.Event) error {
	c.TransitionsTotal.WithLabelValues(event.Challenge, string(event.State)).Inc()

	switch {
	case event.State == domain.StateStarted && event.Reason == "":
		c.ActiveInstances.WithLabelValues(event.Challenge).Inc()
	case event.State == domain.StateStopped && event.Handle != "":
		c.ActiveInstances.WithLabelValues(event.Challenge).Dec()
	}
	return nil
}

func (c *Collector) ObserveBackendCall(op string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	c.BackendCallsTotal.WithLabelValues(op, status).Inc()
	c.BackendCallDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (c *Collector) ObserveRequest(route, outcome string) {
	c.HTTPRequestsTotal.WithLabelValues(route, outcome).Inc()
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})
}
