package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"keepalive-service/internal/service"
	"keepalive-service/internal/util"
)

// HeartbeatHandler exposes heartbeat history and health for the admin dashboard.
type HeartbeatHandler struct {
	heartbeatService *service.HeartbeatService
	logger           *zap.Logger
}

// NewHeartbeatHandler creates a new heartbeat handler
func NewHeartbeatHandler(heartbeatService *service.HeartbeatService, logger *zap.Logger) *HeartbeatHandler {
	return &HeartbeatHandler{
		heartbeatService: heartbeatService,
		logger:           logger,
	}
}

// RegisterRoutes registers all heartbeat routes
func (h *HeartbeatHandler) RegisterRoutes(router chi.Router) {
	router.Route("/heartbeats", func(r chi.Router) {
		r.Get("/", h.ListHeartbeats)
		r.Get("/status", h.GetStatus)
		r.Post("/sweep", h.Sweep)
	})
}

// ListHeartbeats handles GET /heartbeats?limit=N
func (h *HeartbeatHandler) ListHeartbeats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest,
				fmt.Errorf("%w: limit must be an integer", service.ErrInvalidInput), "Invalid limit")
			return
		}
		limit = parsed
	}

	records, err := h.heartbeatService.List(ctx, limit)
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to list heartbeats")
		return
	}

	resp := successResponse(records, "")
	resp.Meta = &Meta{Total: len(records), Limit: limit}
	respondWithJSON(w, h.logger, http.StatusOK, resp)
	h.logger.Debug("Heartbeats listed via HTTP",
		util.Int("count", len(records)),
		util.Duration("duration", time.Since(startTime)),
	)
}

// GetStatus handles GET /heartbeats/status
func (h *HeartbeatHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.heartbeatService.Status(r.Context())
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to get heartbeat status")
		return
	}

	if status.AtRisk {
		h.logger.Warn("Backend at risk of pausing",
			util.Time("next_expected", status.NextExpected),
			util.Int("retained", status.RetainedCount))
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(status, ""))
}

// Sweep handles POST /heartbeats/sweep
func (h *HeartbeatHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.heartbeatService.Sweep(r.Context())
	if err != nil {
		h.respondWithError(w, getStatusCode(err), err, "Failed to sweep heartbeats")
		return
	}

	resp := successResponse(result, "Retention sweep completed")
	respondWithJSON(w, h.logger, http.StatusOK, resp)
	h.logger.Info("Retention sweep via HTTP",
		util.Int("retained", result.Retained),
		util.Int("evicted", len(result.Evicted)),
	)
}

// respondWithError sends an error response
func (h *HeartbeatHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	respondWithJSON(w, h.logger, statusCode, errorResponse(err, message))
}
