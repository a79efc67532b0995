package restapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buszy.nrfz.sg/internal/app"
)

func TestHealthHandlerWithNilApplication(t *testing.T) {
	api := &RestAPI{
		Application: nil,
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	api.healthHandler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	err := json.NewDecoder(w.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "unavailable", resp.Status)
	assert.Equal(t, "store not initialized", resp.Detail)
}

func TestHealthHandlerWithClosedStore(t *testing.T) {
	api := createTestApi(t)
	require.NoError(t, api.Store.DB.Close())

	w := httptest.NewRecorder()
	api.healthHandler(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "database connection failed", resp.Detail)
}

func TestHealthHandlerReturnsOK(t *testing.T) {
	api := createTestApi(t)
	server := serveApi(t, api)
	openSession(t, server, "")

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var healthResp HealthResponse
	err = json.NewDecoder(resp.Body).Decode(&healthResp)
	require.NoError(t, err)
	assert.Equal(t, "ok", healthResp.Status)
	assert.Equal(t, 1, healthResp.Sessions)
	assert.Equal(t, 2, healthResp.Stops)
}

func TestHealthHandlerNeedsNoKey(t *testing.T) {
	api := createTestApi(t, func(a *app.Application) { a.Config.ApiKeys = []string{"secret"} })
	resp, err := http.Get(serveApi(t, api).URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
