package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/cortex/config"
)

// Telemetry bundles the metrics registry, the tracer and the optional
// standalone metrics listener.
type Telemetry struct {
	Metrics *Metrics
	Tracer  trace.Tracer
	srv     *http.Server
}

// SetupTelemetry creates the collectors. When telemetry is enabled the
// registry is also served on metrics_port.
func SetupTelemetry(cfg config.TelemetryConfig, serviceName string, logger *zap.Logger) *Telemetry {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Telemetry{Metrics: NewMetrics(), Tracer: otel.Tracer(serviceName)}
	if !cfg.Enabled || cfg.MetricsPort <= 0 {
		return t
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", t.Metrics.Handler())
	t.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := t.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	logger.Info("metrics listening", zap.Int("port", cfg.MetricsPort))
	return t
}

// Shutdown stops the metrics listener if one was started.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.srv == nil {
		return nil
	}
	return t.srv.Shutdown(ctx)
}
