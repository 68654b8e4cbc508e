// Package metrics holds the Prometheus collectors of the indexing pipeline.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "codegraph"

var (
	// FilesIndexed counts files processed by the builder.
	// Labels: outcome (ok, failed, removed)
	FilesIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "builder",
		Name:      "files_total",
		Help:      "Files processed by the graph builder",
	}, []string{"outcome"})

	// CallsResolved counts call sites by resolution outcome.
	// Labels: outcome (resolved, not_found, ambiguous)
	CallsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "builder",
		Name:      "calls_total",
		Help:      "Call sites by resolution outcome",
	}, []string{"outcome"})

	BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "builder",
		Name:      "build_duration_seconds",
		Help:      "Duration of full repository builds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	// Jobs counts jobs reaching a terminal state.
	// Labels: kind, state
	Jobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "finished_total",
		Help:      "Jobs by kind and terminal state",
	}, []string{"kind", "state"})

	JobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "running",
		Help:      "Jobs currently executing",
	})

	// WatchEvents counts filesystem events acted on by the watcher.
	// Labels: op (update, remove)
	WatchEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "watcher",
		Name:      "events_total",
		Help:      "Debounced filesystem events handled",
	}, []string{"op"})

	WatchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "watcher",
		Name:      "errors_total",
		Help:      "Errors while re-indexing watched files",
	})

	WatchedPaths = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "watcher",
		Name:      "paths",
		Help:      "Repositories currently watched",
	})

	QueryCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "finder",
		Name:      "cache_total",
		Help:      "Closure query cache lookups",
	}, []string{"result"})
)

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	slog.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
