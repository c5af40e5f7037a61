// Package metrics holds the Prometheus collectors shared by the services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ImagesClassified counts classified images.
	// Labels: result (ok, error, skipped)
	ImagesClassified = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polo",
		Subsystem: "classify",
		Name:      "images_total",
		Help:      "Images processed by the classification service",
	}, []string{"result"})

	// ClassifyLatency measures a single classifier call.
	ClassifyLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "polo",
		Subsystem: "classify",
		Name:      "latency_seconds",
		Help:      "Time spent classifying one image",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})

	// ProgressDropped counts progress messages discarded because the
	// consumer fell behind.
	ProgressDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "polo",
		Subsystem: "classify",
		Name:      "progress_dropped_total",
		Help:      "Progress messages dropped on a full queue",
	})

	// TasksRunning tracks in-flight classification tasks.
	TasksRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "polo",
		Subsystem: "classify",
		Name:      "tasks_running",
		Help:      "Classification tasks currently running",
	})

	// XtalOps counts xtal reads and writes.
	// Labels: op (save, load), result (ok, error)
	XtalOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polo",
		Subsystem: "xtal",
		Name:      "operations_total",
		Help:      "Xtal save and load operations",
	}, []string{"op", "result"})

	// LinkPasses counts relink passes and the runs they skipped.
	// Labels: outcome (linked, skipped)
	LinkPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "polo",
		Subsystem: "linker",
		Name:      "runs_total",
		Help:      "Runs handled by relink passes",
	}, []string{"outcome"})

	// RunsLoaded tracks the runs held in the arena.
	RunsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "polo",
		Name:      "runs_loaded",
		Help:      "Runs currently loaded",
	})
)

// Result maps an error to the result label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
