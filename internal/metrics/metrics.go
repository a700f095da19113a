package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transport labels for bridge calls.
const (
	TransportDaemon   = "daemon"
	TransportFallback = "fallback"
)

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics holds the Prometheus collectors for the control plane.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	BridgeCalls   *prometheus.CounterVec
	UpdateChecks  *prometheus.CounterVec
	DaemonStarts  *prometheus.CounterVec
	DaemonRunning prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		BridgeCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gephgui_bridge_calls_total",
			Help: "RPC bridge calls by transport and outcome",
		}, []string{"transport", "outcome"}),

		UpdateChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gephgui_update_checks_total",
			Help: "Autoupdate checks by result",
		}, []string{"result"}),

		DaemonStarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gephgui_daemon_starts_total",
			Help: "Daemon start attempts by outcome",
		}, []string{"outcome"}),

		DaemonRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gephgui_daemon_running",
			Help: "1 while a supervised daemon is running",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordBridgeCall records one bridge call.
func (m *Metrics) RecordBridgeCall(transport, outcome string) {
	if m == nil {
		return
	}
	m.BridgeCalls.WithLabelValues(transport, outcome).Inc()
}

// RecordUpdateCheck records one autoupdate tick result.
func (m *Metrics) RecordUpdateCheck(result string) {
	if m == nil {
		return
	}
	m.UpdateChecks.WithLabelValues(result).Inc()
}

// RecordDaemonStart records a start attempt.
func (m *Metrics) RecordDaemonStart(outcome string) {
	if m == nil {
		return
	}
	m.DaemonStarts.WithLabelValues(outcome).Inc()
}

// SetDaemonRunning sets the running gauge.
func (m *Metrics) SetDaemonRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.DaemonRunning.Set(1)
	} else {
		m.DaemonRunning.Set(0)
	}
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
