// Package metrics exposes operational counters for the bridge on a
// Prometheus /metrics endpoint. All recording methods are safe to call
// on a nil *Metrics, so the jobs don't need to branch on whether the
// endpoint is enabled.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bridge's Prometheus collectors on a private
// registry (no default Go runtime collectors beyond the standard set).
type Metrics struct {
	reg *prometheus.Registry

	apiRequests   *prometheus.CounterVec
	publishes     *prometheus.CounterVec
	publishErrors prometheus.Counter
	cycleDuration *prometheus.HistogramVec
}

// New creates the registry and collectors.
func New() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}

	m.apiRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_api_requests_total",
		Help: "Pulse API requests by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	m.publishes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_bridge_publishes_total",
		Help: "MQTT messages published, by kind (discovery or state).",
	}, []string{"kind"})

	m.publishErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pulse_bridge_publish_errors_total",
		Help: "MQTT publish attempts that returned an error.",
	})

	m.cycleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pulse_bridge_cycle_duration_seconds",
		Help:    "Duration of one full job cycle, by job.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"job"})

	m.reg.MustRegister(m.apiRequests, m.publishes, m.publishErrors, m.cycleDuration)
	return m
}

// APIRequest records one Pulse API call. endpoint is the logical path
// ("hubs/ids", "hubs", "recent-data"); outcome is "ok" or "error".
func (m *Metrics) APIRequest(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(endpoint, outcome).Inc()
}

// Publish records one successful MQTT publish of the given kind.
func (m *Metrics) Publish(kind string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(kind).Inc()
}

// PublishError records one failed MQTT publish attempt.
func (m *Metrics) PublishError() {
	if m == nil {
		return
	}
	m.publishErrors.Inc()
}

// ObserveCycle records the wall-clock duration of one job cycle.
func (m *Metrics) ObserveCycle(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.WithLabelValues(job).Observe(d.Seconds())
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Serve runs a minimal HTTP server exposing /metrics on addr until ctx
// is cancelled. It blocks.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
