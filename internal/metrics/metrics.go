// Package metrics exposes Prometheus counters for the capture pipeline. The
// listener is optional; when no address is configured the counters still
// work, they are just never scraped.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent's counters.
type Metrics struct {
	registry *prometheus.Registry

	EventsAccepted *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec
	Flushes        prometheus.Counter
	FlushFailures  prometheus.Counter
	FlushedEvents  prometheus.Counter
	Uploads        prometheus.Counter
	UploadFailures prometheus.Counter
}

// New registers all counters on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		EventsAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "activity_events_accepted_total",
			Help: "Events accepted into the buffer, by kind.",
		}, []string{"kind"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "activity_events_dropped_total",
			Help: "Events dropped before buffering, by kind and reason.",
		}, []string{"kind", "reason"}),
		Flushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "activity_flushes_total",
			Help: "Flush windows successfully written to the spool.",
		}),
		FlushFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "activity_flush_failures_total",
			Help: "Flush windows whose write failed after retries.",
		}),
		FlushedEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "activity_flushed_events_total",
			Help: "Events written to spool files.",
		}),
		Uploads: factory.NewCounter(prometheus.CounterOpts{
			Name: "activity_uploads_total",
			Help: "Spool files uploaded successfully.",
		}),
		UploadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "activity_upload_failures_total",
			Help: "Spool file uploads that failed after retries.",
		}),
	}
}

// Serve exposes /metrics on addr until ctx is cancelled. Intended for a
// localhost listener only.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics listener shutdown", "error", err)
		}
		return nil
	}
}
