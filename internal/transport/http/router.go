// Package httptransport exposes the operational HTTP surface: liveness,
// readiness, and Prometheus metrics. The engine itself is consumed as a
// library; no business endpoints live here.
package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker func(ctx context.Context) error

// PendingCounter reports how many approval requests await a checker decision.
type PendingCounter func(ctx context.Context) (int, error)

// NewRouter wires the operational endpoints. checks maps dependency names to
// their health probes; readiness fails when any probe does. pending, when
// non-nil, exposes the checker queue depth for dashboards.
func NewRouter(registry *prometheus.Registry, checks map[string]HealthChecker, pending PendingCounter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		status := http.StatusOK
		result := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(req.Context()); err != nil {
				status = http.StatusServiceUnavailable
				result[name] = err.Error()
				continue
			}
			result[name] = "ok"
		}
		writeJSON(w, status, result)
	})

	if pending != nil {
		r.Get("/approvals/pending", func(w http.ResponseWriter, req *http.Request) {
			n, err := pending(req.Context())
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]int{"pending": n})
		})
	}

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
