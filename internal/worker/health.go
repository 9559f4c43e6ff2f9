package worker

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flagplane/flagplane/internal/api/models"
	"github.com/flagplane/flagplane/internal/api/response"
)

// HealthConfig holds the components reported by the worker health endpoints.
type HealthConfig struct {
	Version string
	Audit   *AuditLog
	Check   *CheckJob
}

// NewHealthRouter serves /health for the platform health check and /metrics with the
// audit and check counters.
func NewHealthRouter(cfg HealthConfig) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, models.Health{
			Status: models.HealthStatusOK,
			Time:   models.Timestamp(time.Now()),
			Details: map[string]interface{}{
				"version": cfg.Version,
			},
		})
	})

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		snapshot := map[string]interface{}{}
		if cfg.Audit != nil {
			snapshot["audit"] = cfg.Audit.MetricsSnapshot()
		}
		if cfg.Check != nil {
			snapshot["check"] = cfg.Check.MetricsSnapshot()
		}
		response.JSON(w, r, http.StatusOK, snapshot)
	})

	return r
}
