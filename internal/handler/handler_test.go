package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"keepalive-service/internal/models"
	"keepalive-service/internal/repository"
	"keepalive-service/internal/repository/memory"
	"keepalive-service/internal/service"
)

type brokenRepo struct {
	repository.HeartbeatRepository
}

func (brokenRepo) Append(context.Context, *models.HeartbeatRecord) (string, error) {
	return "", errors.New("connection refused")
}

func (brokenRepo) ListAllByRecencyDesc(context.Context) ([]models.HeartbeatRecord, error) {
	return nil, errors.New("connection refused")
}

type staticHealth struct{ err error }

func (s staticHealth) HealthCheck(context.Context) error { return s.err }

func newTestRouter(t *testing.T, repo repository.HeartbeatRepository, opts RouterOptions) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	svc := service.NewHeartbeatService(repo, logger, service.Options{})
	return NewRouter(NewKeepAliveHandler(svc, logger), NewHeartbeatHandler(svc, logger), logger, opts)
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func assertPermissiveCORS(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "authorization, x-client-info, apikey, content-type",
		rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestKeepAlive_RecordsSource(t *testing.T) {
	repo := memory.NewHeartbeatRepository()
	router := newTestRouter(t, repo, RouterOptions{})

	rec := do(router, http.MethodPost, "/functions/v1/keep-alive", `{"source":"web"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assertPermissiveCORS(t, rec)
	assert.JSONEq(t, `{"ok":true,"source":"web"}`, rec.Body.String())

	records, err := repo.ListAllByRecencyDesc(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.KindKeepAlive, records[0].Kind)
	assert.Equal(t, "web", records[0].Details.Source)

	_, err = time.Parse(time.RFC3339, records[0].Details.Timestamp)
	assert.NoError(t, err)
}

func TestKeepAlive_StoresSourceVerbatim(t *testing.T) {
	for _, source := range []string{"R&D", "R&D <admin>", "O'Brien"} {
		t.Run(source, func(t *testing.T) {
			repo := memory.NewHeartbeatRepository()
			router := newTestRouter(t, repo, RouterOptions{})

			body, err := json.Marshal(map[string]string{"source": source})
			require.NoError(t, err)

			rec := do(router, http.MethodPost, "/functions/v1/keep-alive", string(body))
			require.Equal(t, http.StatusOK, rec.Code)

			var resp struct {
				OK     bool   `json:"ok"`
				Source string `json:"source"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.True(t, resp.OK)
			assert.Equal(t, source, resp.Source)

			records, err := repo.ListAllByRecencyDesc(context.Background())
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, source, records[0].Details.Source)
		})
	}
}

func TestKeepAlive_DefaultsSource(t *testing.T) {
	router := newTestRouter(t, memory.NewHeartbeatRepository(), RouterOptions{})

	for name, body := range map[string]string{
		"no body":      "",
		"empty object": `{}`,
		"invalid json": `{"source":`,
		"non-string":   `{"source":42}`,
		"array body":   `["web"]`,
		"blank source": `{"source":"  "}`,
		"null source":  `{"source":null}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := do(router, http.MethodPost, "/functions/v1/keep-alive", body)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"ok":true,"source":"unknown"}`, rec.Body.String())
		})
	}
}

func TestKeepAlive_Preflight(t *testing.T) {
	repo := memory.NewHeartbeatRepository()
	router := newTestRouter(t, repo, RouterOptions{})

	rec := do(router, http.MethodOptions, "/functions/v1/keep-alive", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	assertPermissiveCORS(t, rec)

	records, _ := repo.ListAllByRecencyDesc(context.Background())
	assert.Empty(t, records)
}

func TestKeepAlive_StoreFailure(t *testing.T) {
	router := newTestRouter(t, brokenRepo{}, RouterOptions{})

	rec := do(router, http.MethodPost, "/functions/v1/keep-alive", `{"source":"web"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assertPermissiveCORS(t, rec)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "connection refused")
	assert.NotContains(t, body, "ok")
}

func TestKeepAlive_RetentionOverHTTP(t *testing.T) {
	repo := memory.NewHeartbeatRepository()
	router := newTestRouter(t, repo, RouterOptions{})

	for i := 0; i < 33; i++ {
		rec := do(router, http.MethodPost, "/functions/v1/keep-alive", `{"source":"web"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	records, err := repo.ListAllByRecencyDesc(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, service.DefaultRetentionCap)
}

func TestHeartbeats_ListAndStatus(t *testing.T) {
	router := newTestRouter(t, memory.NewHeartbeatRepository(), RouterOptions{})

	rec := do(router, http.MethodGet, "/api/v1/heartbeats/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Success bool `json:"success"`
		Data    struct {
			LastHeartbeat *models.HeartbeatRecord `json:"last_heartbeat"`
			AtRisk        bool                    `json:"at_risk"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Success)
	assert.Nil(t, status.Data.LastHeartbeat)
	assert.True(t, status.Data.AtRisk)

	for i := 0; i < 3; i++ {
		do(router, http.MethodPost, "/functions/v1/keep-alive", `{"source":"cli"}`)
	}

	rec = do(router, http.MethodGet, "/api/v1/heartbeats?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.NotNil(t, list.Meta)
	assert.Equal(t, 2, list.Meta.Total)

	rec = do(router, http.MethodGet, "/api/v1/heartbeats/status", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.NotNil(t, status.Data.LastHeartbeat)
	assert.Equal(t, "cli", status.Data.LastHeartbeat.Details.Source)
	assert.False(t, status.Data.AtRisk)
}

func TestHeartbeats_BadLimit(t *testing.T) {
	router := newTestRouter(t, memory.NewHeartbeatRepository(), RouterOptions{})

	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/api/v1/heartbeats?limit=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/api/v1/heartbeats?limit=-1", "").Code)
}

func TestHeartbeats_Sweep(t *testing.T) {
	router := newTestRouter(t, memory.NewHeartbeatRepository(), RouterOptions{})

	rec := do(router, http.MethodPost, "/api/v1/heartbeats/sweep", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Retention sweep completed")
}

func TestHeartbeats_StoreFailure(t *testing.T) {
	router := newTestRouter(t, brokenRepo{}, RouterOptions{})
	assert.Equal(t, http.StatusInternalServerError, do(router, http.MethodGet, "/api/v1/heartbeats/status", "").Code)
}

func TestRouter_HealthAndFallbacks(t *testing.T) {
	router := newTestRouter(t, memory.NewHeartbeatRepository(), RouterOptions{Health: staticHealth{}})
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/health", "").Code)

	unhealthy := newTestRouter(t, memory.NewHeartbeatRepository(),
		RouterOptions{Health: staticHealth{err: errors.New("down")}})
	assert.Equal(t, http.StatusServiceUnavailable, do(unhealthy, http.MethodGet, "/health", "").Code)

	rec := do(router, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"endpoint not found"}`, rec.Body.String())

	rec = do(router, http.MethodDelete, "/api/v1/heartbeats/status", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_RequireHTTPS(t *testing.T) {
	router := newTestRouter(t, memory.NewHeartbeatRepository(), RouterOptions{RequireHTTPS: true})
	assert.Equal(t, http.StatusUpgradeRequired, do(router, http.MethodGet, "/health", "").Code)
}
