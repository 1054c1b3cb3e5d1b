// Package metrics exposes Prometheus instrumentation for scans, quarantine
// operations and real-time suppression windows.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eliteGoblin/shieldscan/internal/domain"
)

// Quarantine operation labels.
const (
	OpQuarantine = "quarantine"
	OpRestore    = "restore"
	OpDelete     = "delete"
)

// Metrics holds every collector on a private registry, so several instances
// can coexist (tests, embedded use).
type Metrics struct {
	ScansTotal         *prometheus.CounterVec
	ScanDuration       *prometheus.HistogramVec
	QuarantineOps      *prometheus.CounterVec
	SuppressionsActive prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shieldscan_scans_total",
			Help: "Total number of completed scans by type and verdict",
		},
		[]string{"scan_type", "level"},
	)

	m.ScanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shieldscan_scan_duration_seconds",
			Help:    "Duration of single-target scans in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scan_type"},
	)

	m.QuarantineOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shieldscan_quarantine_ops_total",
			Help: "Quarantine store operations by kind and outcome",
		},
		[]string{"op", "result"},
	)

	m.SuppressionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shieldscan_suppressions_active",
			Help: "Paths currently exempt from real-time re-scan",
		},
	)

	m.registry.MustRegister(
		m.ScansTotal,
		m.ScanDuration,
		m.QuarantineOps,
		m.SuppressionsActive,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveScan records one finished scan. Safe on a nil receiver.
func (m *Metrics) ObserveScan(r domain.ScanResult) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(string(r.ScanType), string(r.ThreatLevel)).Inc()
	m.ScanDuration.WithLabelValues(string(r.ScanType)).Observe(float64(r.DurationMs) / 1000)
}

// ObserveQuarantineOp records the outcome of a quarantine store operation.
// Safe on a nil receiver.
func (m *Metrics) ObserveQuarantineOp(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.QuarantineOps.WithLabelValues(op, result).Inc()
}

// SetSuppressions publishes the number of live suppression windows.
// Safe on a nil receiver.
func (m *Metrics) SetSuppressions(n int) {
	if m == nil {
		return
	}
	m.SuppressionsActive.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
