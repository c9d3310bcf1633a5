package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"keepalive-service/internal/service"
	"keepalive-service/internal/util"
)

const (
	keepAlivePath  = "/functions/v1/keep-alive"
	corsAllowHeads = "authorization, x-client-info, apikey, content-type"
	maxBodyBytes   = 16 << 10
)

// KeepAliveHandler is the public heartbeat recorder function.
// Its response shapes are fixed: {ok, source} on success and {error} on failure.
type KeepAliveHandler struct {
	heartbeatService *service.HeartbeatService
	logger           *zap.Logger
}

func NewKeepAliveHandler(heartbeatService *service.HeartbeatService, logger *zap.Logger) *KeepAliveHandler {
	return &KeepAliveHandler{
		heartbeatService: heartbeatService,
		logger:           logger,
	}
}

type keepAliveResponse struct {
	OK     bool   `json:"ok"`
	Source string `json:"source"`
}

type keepAliveError struct {
	Error string `json:"error"`
}

// RegisterRoutes mounts the recorder. Every method except OPTIONS records a heartbeat.
func (h *KeepAliveHandler) RegisterRoutes(router chi.Router) {
	router.Group(func(r chi.Router) {
		r.Use(permissiveCORS)
		r.HandleFunc(keepAlivePath, h.Record)
	})
}

// permissiveCORS stamps the fixed cross-origin headers on every response and
// answers preflight requests with an empty 204.
func permissiveCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", corsAllowHeads)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Record inserts one keep-alive heartbeat and trims history.
func (h *KeepAliveHandler) Record(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	body := readOptionalBody(r)
	source, _ := body["source"].(string)

	result, err := h.heartbeatService.Record(ctx, source)
	if err != nil {
		h.logger.Error("Keep-alive failed", util.ErrorField(err))
		respondWithJSON(w, h.logger, http.StatusInternalServerError, keepAliveError{Error: err.Error()})
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, keepAliveResponse{OK: true, Source: result.Source})
	h.logger.Info("Keep-alive recorded via HTTP",
		util.String("id", result.ID),
		util.String("source", result.Source),
		util.Duration("duration", time.Since(startTime)),
	)
}

// readOptionalBody decodes a JSON object body. A missing, oversized or
// unparseable body, or one that is not an object, is treated as {}.
func readOptionalBody(r *http.Request) map[string]interface{} {
	body := map[string]interface{}{}
	if r.Body == nil {
		return body
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || len(raw) == 0 {
		return body
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed == nil {
		return body
	}
	return parsed
}
