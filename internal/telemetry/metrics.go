// Package telemetry exposes prometheus metrics for the supervisor and the
// strategy engines.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the instruments shared by all engines.
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal      *prometheus.CounterVec
	WorkUnitsTotal  *prometheus.CounterVec
	OrdersPlaced    *prometheus.CounterVec
	OrdersFailed    *prometheus.CounterVec
	WorkUnitSeconds *prometheus.HistogramVec
	LiveBots        *prometheus.GaugeVec
	HTTPRequests    *prometheus.CounterVec
	HTTPSeconds     *prometheus.HistogramVec
}

// New creates a metrics holder backed by its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TicksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gcbbot_engine_ticks_total",
			Help: "Engine scheduler ticks per strategy.",
		}, []string{"strategy"}),
		WorkUnitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gcbbot_work_units_total",
			Help: "Work units by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		OrdersPlaced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gcbbot_orders_placed_total",
			Help: "Orders accepted by the venue.",
		}, []string{"strategy", "side"}),
		OrdersFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gcbbot_orders_failed_total",
			Help: "Order legs rejected by the venue.",
		}, []string{"strategy"}),
		WorkUnitSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gcbbot_work_unit_duration_seconds",
			Help:    "Work unit wall time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy"}),
		LiveBots: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gcbbot_live_bots",
			Help: "Admitted bots seen on the last tick.",
		}, []string{"strategy"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gcbbot_http_requests_total",
			Help: "Venue HTTP requests by method, path and status class.",
		}, []string{"method", "path", "status"}),
		HTTPSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gcbbot_http_request_duration_seconds",
			Help:    "Venue HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Run serves the metrics endpoint until the context is cancelled or the
// server fails.
func (m *Metrics) Run(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
