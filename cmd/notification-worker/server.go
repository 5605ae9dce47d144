// cmd/notification-worker/server.go
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"notification-workers/internal/models"

	sn "notification-workers/internal/workers/application/send-notification"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type healthSource interface {
	Health(ctx context.Context) models.HealthReport
	Stats() sn.Stats
}

// newMux serves the health, readiness, stats and metrics endpoints. /health
// answers 200 even when degraded so an open circuit does not get the process
// restarted; /ready is 503 until ready is set and again once shutdown begins.
func newMux(source healthSource, ready *atomic.Bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, source.Health(r.Context()))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		status, code := "ready", http.StatusOK
		if !ready.Load() {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]string{
			"status": status,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, source.Stats())
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
