package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/activity-sync/internal/observability"
	"github.com/upb/activity-sync/services/subscription"
	"github.com/upb/activity-sync/utils"
)

// Version is reported by the status endpoint
const Version = "1.0.0"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StatusResponse reports delivery counters and cache statistics
type StatusResponse struct {
	Version     string                   `json:"version"`
	Environment string                   `json:"environment"`
	Uptime      string                   `json:"uptime"`
	Deliveries  *observability.Snapshot  `json:"deliveries,omitempty"`
	Cache       *subscription.CacheStats `json:"cache,omitempty"`
}

// DeliveryStats exposes webhook delivery counters
type DeliveryStats interface {
	Snapshot() observability.Snapshot
}

// CacheStatsSource exposes subscription cache statistics
type CacheStatsSource interface {
	CacheStats() subscription.CacheStats
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db          *sql.DB
	deliveries  DeliveryStats
	cache       CacheStatsSource
	environment string
	startedAt   time.Time
	logger      *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db is the delivery ledger
// pool and may be nil when deduplication is disabled.
func NewHealthHandler(db *sql.DB, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		startedAt: time.Now(),
		logger:    logger,
	}
}

// WithStatus sets the sources reported by HandleStatus
func (h *HealthHandler) WithStatus(environment string, deliveries DeliveryStats, cache CacheStatsSource) *HealthHandler {
	h.environment = environment
	h.deliveries = deliveries
	h.cache = cache
	return h
}

// HandleHealth handles GET /healthz
// Liveness only: returns 200 while the process serves requests
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	switch err := h.checkDatabase(ctx); {
	case h.db == nil:
		checks["ledger"] = "disabled"
	case err != nil:
		h.logger.Warn("ledger database health check failed", zap.Error(err))
		checks["ledger"] = "unhealthy"
		allHealthy = false
	default:
		checks["ledger"] = "healthy"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, response); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// HandleStatus handles GET /status
func (h *HealthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{
		Version:     Version,
		Environment: h.environment,
		Uptime:      time.Since(h.startedAt).Truncate(time.Second).String(),
	}
	if h.deliveries != nil {
		snap := h.deliveries.Snapshot()
		response.Deliveries = &snap
	}
	if h.cache != nil {
		stats := h.cache.CacheStats()
		response.Cache = &stats
	}

	if err := utils.WriteOK(w, response); err != nil {
		h.logger.Error("failed to write status response", zap.Error(err))
	}
}

// checkDatabase checks ledger database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if h.db == nil {
		return nil
	}

	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result)
}
