// Package handler provides HTTP handlers for the flag API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/flagplane/flagplane/internal/api/models"
	"github.com/flagplane/flagplane/internal/api/response"
	"github.com/flagplane/flagplane/internal/resilience"
)

// pingTimeout bounds the store ping made by readiness and status checks.
const pingTimeout = 2 * time.Second

// StorePinger checks connectivity to the flag store.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// OpsConfig holds dependencies for OpsHandler.
type OpsConfig struct {
	Version   string
	BuildTime string

	// Backend names the configured flag store, e.g. "postgres".
	Backend string
	Store   StorePinger

	// Registry reports circuit breaker state for guarded stores. Optional.
	Registry *resilience.Registry
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	return &OpsHandler{cfg: cfg}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready. Only the configured store's breaker
// is consulted. The service stays ready while a fallback store is serving
// requests, reported as DEGRADED.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	store := h.storeStatus(r.Context())

	var backends []models.BackendStatus
	if h.cfg.Registry != nil {
		if bh := h.cfg.Registry.GetHealth(h.cfg.Backend); bh != nil {
			backends = append(backends, backendStatus(bh))
		}
	}
	status := h.overall(store, backends)

	health := models.Health{
		Status: status,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"backend": h.cfg.Backend,
		},
	}
	if len(backends) > 0 {
		health.Details["circuitState"] = backends[0].CircuitState
	}
	if store.Detail != nil {
		health.Details["error"] = *store.Detail
	}

	code := http.StatusOK
	if status == models.HealthStatusFail {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, r, code, health)
}

// SystemStatus handles GET /v1/ops/status - store and circuit breaker status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	store := h.storeStatus(r.Context())
	backends := h.backends()

	response.JSON(w, r, http.StatusOK, models.SystemStatus{
		Status:     h.overall(store, backends),
		Time:       models.Timestamp(time.Now()),
		Subsystems: []models.SubsystemStatus{store},
		Backends:   backends,
	})
}

func (h *OpsHandler) storeStatus(ctx context.Context) models.SubsystemStatus {
	status := models.SubsystemStatus{Name: "flag-store:" + h.cfg.Backend, Status: models.HealthStatusOK}
	if h.cfg.Store == nil {
		return status
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := h.cfg.Store.Ping(ctx); err != nil {
		msg := err.Error()
		status.Status = models.HealthStatusFail
		status.Detail = &msg
	}
	return status
}

func (h *OpsHandler) backends() []models.BackendStatus {
	if h.cfg.Registry == nil {
		return []models.BackendStatus{}
	}

	all := h.cfg.Registry.GetAllHealth()
	backends := make([]models.BackendStatus, 0, len(all))
	for _, bh := range all {
		backends = append(backends, backendStatus(bh))
	}
	return backends
}

func backendStatus(bh *resilience.BackendHealth) models.BackendStatus {
	b := models.BackendStatus{
		Name:          bh.Name,
		Status:        models.HealthStatusOK,
		CircuitState:  bh.CircuitState.String(),
		Fallback:      bh.Fallback,
		Failures:      bh.Counts.ConsecutiveFailures,
		LastSuccessAt: models.TimestampPtr(bh.LastSuccessAt),
		LastFailureAt: models.TimestampPtr(bh.LastFailureAt),
	}
	switch {
	case bh.IsUnhealthy() && !bh.Fallback:
		b.Status = models.HealthStatusFail
	case bh.IsDegraded() || bh.IsUnhealthy():
		b.Status = models.HealthStatusDegraded
	}
	if bh.LastError != "" {
		msg := bh.LastError
		b.Message = &msg
	}
	return b
}

// overall folds store and backend state into one status. A failing store ping
// is only degraded when a fallback is serving.
func (h *OpsHandler) overall(store models.SubsystemStatus, backends []models.BackendStatus) models.HealthStatus {
	fallback := false
	status := models.HealthStatusOK
	for _, b := range backends {
		fallback = fallback || b.Fallback
		switch b.Status {
		case models.HealthStatusFail:
			return models.HealthStatusFail
		case models.HealthStatusDegraded:
			status = models.HealthStatusDegraded
		}
	}

	if store.Status == models.HealthStatusFail {
		if fallback {
			return models.HealthStatusDegraded
		}
		return models.HealthStatusFail
	}
	return status
}
