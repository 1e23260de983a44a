package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/upb/keycloak-gateway/internal/observability"
	"github.com/upb/keycloak-gateway/keycloak"
	"github.com/upb/keycloak-gateway/utils"
	"go.uber.org/zap"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// KeySource provides the current signing key set
type KeySource interface {
	Keys(ctx context.Context) (*keycloak.KeySet, error)
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	keys    KeySource
	timeout time.Duration
	logger  *zap.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(keys KeySource, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		keys:    keys,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// HandleHealth handles GET /healthz
// Liveness only; always 200 while the process serves requests
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness handles GET /readyz
// Ready once a signing key set is loaded or can be fetched
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	logger := observability.FromContext(ctx, h.logger)

	checks := make(map[string]string)
	status := "ready"
	httpStatus := http.StatusOK

	if h.keys == nil {
		checks["jwks"] = "not_configured"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else if set, err := h.keys.Keys(ctx); err != nil {
		logger.Warn("jwks readiness check failed", zap.Error(err))
		checks["jwks"] = "unavailable"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["jwks"] = "healthy"
		checks["signing_keys"] = strconv.Itoa(set.Len())
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: response}); err != nil {
		logger.Error("failed to write readiness response", zap.Error(err))
	}
}
