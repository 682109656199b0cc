package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// All metrics register against the default registry via promauto; a single
// gather pass proves there are no duplicate or malformed registrations.
func TestMetricsRegistered(t *testing.T) {
	// Touch every vec so gathering reports them.
	GenerationLatency.WithLabelValues("m", "stream").Observe(0.1)
	GenerationTokens.WithLabelValues("m").Add(1)
	StreamAborts.Inc()
	ModelLoads.WithLabelValues("success").Inc()
	ModelLoadDuration.Observe(1)
	ModelsLoaded.Set(1)
	DownloadBytes.WithLabelValues("m").Add(1)
	DownloadsActive.Set(0)
	WorkerRestarts.Inc()
	WorkerUp.Set(1)
	RequestsInFlight.Set(0)

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	want := map[string]bool{
		"mindstrike_generation_latency_seconds":  false,
		"mindstrike_generation_tokens_total":     false,
		"mindstrike_stream_aborts_total":         false,
		"mindstrike_model_loads_total":           false,
		"mindstrike_model_load_duration_seconds": false,
		"mindstrike_models_loaded":               false,
		"mindstrike_download_bytes_total":        false,
		"mindstrike_downloads_active":            false,
		"mindstrike_worker_restarts_total":       false,
		"mindstrike_worker_up":                   false,
		"mindstrike_requests_in_flight":          false,
	}
	for _, f := range families {
		if _, ok := want[f.GetName()]; ok {
			want[f.GetName()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("metric %s not gathered", name)
		}
	}
}
