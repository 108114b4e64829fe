package handler

import (
	"net/http"
	"time"

	"github.com/breatheroute/weathercore/internal/api/models"
	"github.com/breatheroute/weathercore/internal/api/response"
	"github.com/breatheroute/weathercore/internal/freshness"
	"github.com/breatheroute/weathercore/internal/provider/resilience"
	"github.com/breatheroute/weathercore/internal/weather"
)

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version  string
	registry *resilience.Registry
	stats    func() weather.CacheStats
}

// NewOpsHandler creates a new OpsHandler. registry and stats may be nil.
func NewOpsHandler(version string, registry *resilience.Registry, stats func() weather.CacheStats) *OpsHandler {
	return &OpsHandler{
		version:  version,
		registry: registry,
		stats:    stats,
	}
}

// HealthCheck handles GET /v1/ops/health. It reports provider circuit states
// and answers 503 while any provider circuit is open.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status:    models.HealthStatusOK,
		Time:      models.Timestamp(time.Now()),
		Version:   h.version,
		Providers: []models.ProviderStatus{},
	}

	if h.registry != nil {
		health.Status = healthStatus(h.registry.Overall())
		for _, ph := range h.registry.GetAllHealth() {
			health.Providers = append(health.Providers, providerStatus(ph))
		}
	}

	if h.stats != nil {
		s := h.stats()
		health.Cache = &models.CacheStatus{
			Weather:  cacheCounters(s.Weather),
			Forecast: cacheCounters(s.Forecast),
		}
	}

	status := http.StatusOK
	if health.Status == models.HealthStatusFail {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, r, status, health)
}

func healthStatus(s resilience.Status) models.HealthStatus {
	switch s {
	case resilience.StatusUnhealthy:
		return models.HealthStatusFail
	case resilience.StatusDegraded:
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusOK
	}
}

func providerStatus(ph *resilience.ProviderHealth) models.ProviderStatus {
	ps := models.ProviderStatus{
		Provider:     ph.Name,
		Status:       healthStatus(ph.Status()),
		CircuitState: ph.CircuitState.String(),
	}
	ps.OpenSince = timestamp(ph.OpenSince)
	ps.LastSuccessAt = timestamp(ph.LastSuccessAt)
	ps.LastFailureAt = timestamp(ph.LastFailureAt)
	if ph.LastError != "" {
		msg := ph.LastError
		ps.Message = &msg
	}
	return ps
}

func timestamp(t *time.Time) *models.Timestamp {
	if t == nil {
		return nil
	}
	ts := models.Timestamp(*t)
	return &ts
}

func cacheCounters(s freshness.Stats) models.CacheCounters {
	return models.CacheCounters{
		Entries:     s.Entries,
		Capacity:    s.Capacity,
		Hits:        s.Hits,
		Misses:      s.Misses,
		Evictions:   s.Evictions,
		Expirations: s.Expirations,
	}
}
