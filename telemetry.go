package guestbookd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pkt.systems/guestbookd/internal/telemetry"
	"pkt.systems/pslog"
)

// telemetryBundle owns the metrics registry and its scrape listener.
type telemetryBundle struct {
	metrics *telemetry.Metrics
	server  *http.Server
	ln      net.Listener
	logger  pslog.Logger
}

// Metrics returns the bundle's collectors, or nil when metrics are disabled.
func (b *telemetryBundle) Metrics() *telemetry.Metrics {
	if b == nil {
		return nil
	}
	return b.metrics
}

func (b *telemetryBundle) Shutdown(ctx context.Context) error {
	if b == nil || b.server == nil {
		return nil
	}
	if err := b.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("telemetry: metrics shutdown: %w", err)
	}
	return nil
}

func setupTelemetry(metricsListen string, logger pslog.Logger) (*telemetryBundle, error) {
	metrics := telemetry.NewMetrics()
	handler := promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})
	server, ln, err := startMetricsServer(metricsListen, handler, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("telemetry.metrics.enabled", "listen", ln.Addr().String())
	return &telemetryBundle{metrics: metrics, server: server, ln: ln, logger: logger}, nil
}

func startMetricsServer(addr string, handler http.Handler, logger pslog.Logger) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Handler: mux,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if logger != nil {
				logger.Warn("telemetry.metrics.serve_error", "error", err)
			}
		}
	}()
	return srv, ln, nil
}
