// Package metrics provides Prometheus metrics for the serving core —
// counters, gauges, and histograms for generation, model lifecycle,
// downloads, and worker supervision.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Generation ─────────────────────────────────────────────────────────────

// GenerationLatency tracks end-to-end generation duration in seconds.
var GenerationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "mindstrike",
	Name:      "generation_latency_seconds",
	Help:      "Generation request duration in seconds.",
	Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
}, []string{"model", "mode"})

// GenerationTokens tracks tokens generated per model.
var GenerationTokens = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mindstrike",
	Name:      "generation_tokens_total",
	Help:      "Total tokens generated.",
}, []string{"model"})

// StreamAborts tracks caller-initiated stream cancellations.
var StreamAborts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "mindstrike",
	Name:      "stream_aborts_total",
	Help:      "Total streaming generations aborted by the caller.",
})

// ─── Model lifecycle ────────────────────────────────────────────────────────

// ModelLoads tracks model load attempts by outcome.
var ModelLoads = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mindstrike",
	Name:      "model_loads_total",
	Help:      "Total model load attempts.",
}, []string{"outcome"})

// ModelLoadDuration tracks time to bring a model into memory.
var ModelLoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "mindstrike",
	Name:      "model_load_duration_seconds",
	Help:      "Time from load request to ready session.",
	Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
})

// ModelsLoaded tracks how many models are currently resident.
var ModelsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "mindstrike",
	Name:      "models_loaded",
	Help:      "Number of models currently loaded.",
})

// ─── Downloads ──────────────────────────────────────────────────────────────

// DownloadBytes tracks bytes fetched per model download.
var DownloadBytes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "mindstrike",
	Name:      "download_bytes_total",
	Help:      "Total bytes downloaded.",
}, []string{"model"})

// DownloadsActive tracks in-flight model downloads.
var DownloadsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "mindstrike",
	Name:      "downloads_active",
	Help:      "Number of model downloads in progress.",
})

// ─── Worker supervision ─────────────────────────────────────────────────────

// WorkerRestarts tracks worker process restarts after a crash.
var WorkerRestarts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "mindstrike",
	Name:      "worker_restarts_total",
	Help:      "Total inference worker restarts.",
})

// WorkerUp reports whether a live, initialized worker is attached.
var WorkerUp = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "mindstrike",
	Name:      "worker_up",
	Help:      "1 when an initialized inference worker is attached, 0 otherwise.",
})

// RequestsInFlight tracks outstanding envelope requests on the proxy.
var RequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "mindstrike",
	Name:      "requests_in_flight",
	Help:      "Number of envelope requests awaiting a worker response.",
})
