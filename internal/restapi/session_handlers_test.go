package restapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buszy.nrfz.sg/internal/app"
	"buszy.nrfz.sg/internal/models"
)

func sessionPath(id, suffix string) string {
	return "/api/sessions/" + id + suffix + "?key=" + testKey
}

func waitForArrivals(t *testing.T, api *RestAPI, id string) {
	t.Helper()
	s, err := api.Sessions.Get(id)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(string(s.Arrivals()), `data-service="15"`)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOpenSession(t *testing.T) {
	server := serveApi(t, createTestApi(t))

	resp, model := call(t, server, http.MethodPost, "/api/sessions?key=TEST", map[string]string{"url": "https://buszy.example/"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entry := entryOf(t, model)
	assert.NotEmpty(t, entry["id"])
	assert.NotEmpty(t, entry["profile"], "a new profile is minted")
	assert.Equal(t, "default", entry["permission"])

	resp, model = call(t, server, http.MethodPost, "/api/sessions?key=TEST", map[string]string{"profile": "p-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "p-1", entryOf(t, model)["profile"])

	resp, _ = call(t, server, http.MethodPost, "/api/sessions?key=TEST", map[string]any{"unknown": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOpenSessionLimit(t *testing.T) {
	api := createTestApi(t)
	server := serveApi(t, api)
	api.Sessions.Shutdown()

	resp, model := call(t, server, http.MethodPost, "/api/sessions?key=TEST", map[string]string{})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "session manager is shutting down", model.Text)
}

func TestCloseSessionHandler(t *testing.T) {
	server := serveApi(t, createTestApi(t))
	id := openSession(t, server, "")

	resp, _ := call(t, server, http.MethodDelete, sessionPath(id, ""), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, model := call(t, server, http.MethodDelete, sessionPath(id, ""), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "resource not found", model.Text)
}

func TestUnknownSession(t *testing.T) {
	server := serveApi(t, createTestApi(t))
	paths := []struct{ method, path string }{
		{http.MethodGet, "/arrivals"},
		{http.MethodPut, "/stop"},
		{http.MethodGet, "/stream"},
		{http.MethodGet, "/backup"},
		{http.MethodPost, "/notifications/n-1/click"},
	}
	for _, p := range paths {
		t.Run(p.method+p.path, func(t *testing.T) {
			resp, _ := call(t, server, p.method, sessionPath("nope", p.path), nil)
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		})
	}
}

func TestSetStopRendersArrivals(t *testing.T) {
	api := createTestApi(t)
	server := serveApi(t, api)
	id := openSession(t, server, "")

	resp, _ := call(t, server, http.MethodPut, sessionPath(id, "/stop"), map[string]string{"stopCode": " 83139 "})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	waitForArrivals(t, api, id)

	resp, _ = call(t, server, http.MethodGet, sessionPath(id, "/arrivals"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Opp Blk 123")
	assert.Contains(t, string(body), `data-service="15"`)
}

func TestMonitorHandler(t *testing.T) {
	api := createTestApi(t)
	server := serveApi(t, api)
	id := openSession(t, server, "")

	t.Run("needs a stop", func(t *testing.T) {
		resp, model := call(t, server, http.MethodPost, sessionPath(id, "/monitor/15"), map[string]bool{"on": true})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "no bus stop selected", model.Text)
	})

	call(t, server, http.MethodPut, sessionPath(id, "/stop"), map[string]string{"stopCode": "83139"})
	waitForArrivals(t, api, id)

	t.Run("waits for the permission prompt", func(t *testing.T) {
		s, err := api.Sessions.Get(id)
		require.NoError(t, err)

		type result struct {
			status int
			body   []byte
		}
		done := make(chan result, 1)
		go func() {
			resp, err := http.Post(server.URL+sessionPath(id, "/monitor/15"), "application/json", strings.NewReader(`{"on": true}`))
			if err != nil {
				done <- result{}
				return
			}
			defer func() { _ = resp.Body.Close() }()
			body, _ := io.ReadAll(resp.Body)
			done <- result{status: resp.StatusCode, body: body}
		}()

		require.Eventually(t, s.PromptOpen, 2*time.Second, 5*time.Millisecond)
		resp, _ := call(t, server, http.MethodPut, sessionPath(id, "/permission"), map[string]string{"permission": "granted"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		select {
		case r := <-done:
			require.Equal(t, http.StatusOK, r.status)
			var model models.ResponseModel
			require.NoError(t, json.Unmarshal(r.body, &model))
			entry := entryOf(t, model)
			assert.Equal(t, "armed", entry["state"])
			assert.Equal(t, "83139", entry["stopCode"])
		case <-time.After(5 * time.Second):
			t.Fatal("monitor request did not return")
		}
	})

	t.Run("disarm", func(t *testing.T) {
		_, model := call(t, server, http.MethodPost, sessionPath(id, "/monitor/15"), map[string]bool{"on": false})
		assert.Equal(t, "unarmed", entryOf(t, model)["state"])
	})

	t.Run("denied permission", func(t *testing.T) {
		call(t, server, http.MethodPut, sessionPath(id, "/permission"), map[string]string{"permission": "denied"})
		resp, model := call(t, server, http.MethodPost, sessionPath(id, "/monitor/15"), map[string]bool{"on": true})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		entry := entryOf(t, model)
		assert.Equal(t, "unarmed", entry["state"])
		assert.Equal(t, "notification permission denied", entry["error"])
	})
}

func TestPermissionHandlerValidates(t *testing.T) {
	server := serveApi(t, createTestApi(t))
	id := openSession(t, server, "")

	resp, model := call(t, server, http.MethodPut, sessionPath(id, "/permission"), map[string]string{"permission": "maybe"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid permission", model.Text)

	_, model = call(t, server, http.MethodPut, sessionPath(id, "/permission"), map[string]string{"permission": "granted"})
	assert.Equal(t, "granted", entryOf(t, model)["permission"])
}

func TestOnlineHandler(t *testing.T) {
	server := serveApi(t, createTestApi(t))
	id := openSession(t, server, "")

	_, model := call(t, server, http.MethodPut, sessionPath(id, "/online"), map[string]bool{"online": false})
	entry := entryOf(t, model)
	assert.Equal(t, false, entry["online"])
	assert.Equal(t, true, entry["changed"])

	_, model = call(t, server, http.MethodPut, sessionPath(id, "/online"), map[string]bool{"online": false})
	assert.Equal(t, false, entryOf(t, model)["changed"])

	resp, _ := call(t, server, http.MethodPut, sessionPath(id, "/online"), map[string]bool{"online": true, "resume": true})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestToastHandlers(t *testing.T) {
	api := createTestApi(t)
	server := serveApi(t, api)
	id := openSession(t, server, "")

	resp, _ := call(t, server, http.MethodPost, sessionPath(id, "/backup"), map[string]string{"timeFormat": "24-hour"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, model := call(t, server, http.MethodGet, sessionPath(id, "/toasts"), nil)
	toasts := listOf(t, model)
	require.Len(t, toasts, 1)
	toast := toasts[0].(map[string]any)
	assert.Equal(t, "Data imported successfully!", toast["message"])

	call(t, server, http.MethodDelete, sessionPath(id, "/toasts/"+toast["id"].(string)), nil)
	_, model = call(t, server, http.MethodGet, sessionPath(id, "/toasts"), nil)
	assert.Empty(t, listOf(t, model))
}

func TestNearbyHandler(t *testing.T) {
	server := serveApi(t, createTestApi(t))
	id := openSession(t, server, "")

	_, model := call(t, server, http.MethodPost, sessionPath(id, "/nearby"), map[string]any{})
	assert.Equal(t, "locating", entryOf(t, model)["state"])

	_, model = call(t, server, http.MethodPost, sessionPath(id, "/nearby"), map[string]any{
		"location": map[string]float64{"latitude": 1.3162, "longitude": 103.9066},
	})
	entry := entryOf(t, model)
	assert.Equal(t, "found", entry["state"])
	assert.Equal(t, "upstream", entry["source"])
	found := entry["stops"].([]any)
	require.Len(t, found, 1)
	first := found[0].(map[string]any)
	assert.Equal(t, "83139", first["busStopCode"])
	assert.Equal(t, true, first["nearest"])
}

func TestNearbyHandlerInAppBrowser(t *testing.T) {
	api := createTestApi(t)
	s, err := api.Sessions.Open("", "https://buszy.example/nearby", "Mozilla/5.0 (iPhone) Instagram 300.0")
	require.NoError(t, err)

	_, model := call(t, serveApi(t, api), http.MethodPost, sessionPath(s.ID(), "/nearby"), map[string]any{})
	entry := entryOf(t, model)
	assert.Equal(t, "in-app-browser-blocked", entry["state"])
	assert.Equal(t, "safari-https://buszy.example/nearby", entry["escapeUrl"])
}

func TestPinHandler(t *testing.T) {
	server := serveApi(t, createTestApi(t))
	id := openSession(t, server, "")
	stop := map[string]string{"BusStopCode": "83139", "Description": "Opp Blk 123"}

	_, model := call(t, server, http.MethodPost, sessionPath(id, "/pins"), stop)
	assert.Equal(t, true, entryOf(t, model)["pinned"])
	_, model = call(t, server, http.MethodPost, sessionPath(id, "/pins"), stop)
	assert.Equal(t, false, entryOf(t, model)["pinned"])

	resp, _ := call(t, server, http.MethodPost, sessionPath(id, "/pins"), map[string]string{"Description": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPreferenceHandlers(t *testing.T) {
	server := serveApi(t, createTestApi(t))
	id := openSession(t, server, "")

	tests := []struct {
		name       string
		key        string
		value      any
		wantStatus int
	}{
		{name: "time format", key: "timeFormat", value: "12-hour", wantStatus: http.StatusOK},
		{name: "dark mode", key: "dark-mode", value: "enabled", wantStatus: http.StatusOK},
		{name: "bad time format", key: "timeFormat", value: "sundial", wantStatus: http.StatusBadRequest},
		{name: "stop cache is read only", key: "allBusStops", value: []string{}, wantStatus: http.StatusForbidden},
		{name: "unknown key", key: "secret", value: "x", wantStatus: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := call(t, server, http.MethodPut, sessionPath(id, "/preferences/"+tt.key), tt.value)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}

	_, model := call(t, server, http.MethodGet, sessionPath(id, "/preferences/timeFormat"), nil)
	entry := entryOf(t, model)
	assert.Equal(t, "timeFormat", entry["key"])
	assert.Equal(t, "12-hour", entry["value"])

	resp, _ := call(t, server, http.MethodGet, sessionPath(id, "/preferences/secret"), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBackupRoundTrip(t *testing.T) {
	server := serveApi(t, createTestApi(t))
	id := openSession(t, server, "profile-a")
	call(t, server, http.MethodPut, sessionPath(id, "/preferences/timeFormat"), "24-hour")

	resp, _ := call(t, server, http.MethodGet, sessionPath(id, "/backup"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	backup, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(backup), `"timeFormat"`)

	other := openSession(t, server, "profile-b")
	req, err := http.NewRequest(http.MethodPost, server.URL+sessionPath(other, "/backup"), strings.NewReader(string(backup)))
	require.NoError(t, err)
	resp, err = server.Client().Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, model := call(t, server, http.MethodGet, sessionPath(other, "/preferences/timeFormat"), nil)
	assert.Equal(t, "24-hour", entryOf(t, model)["value"])
}

func TestImportRejectsUnknownKeys(t *testing.T) {
	api := createTestApi(t)
	server := serveApi(t, api)
	id := openSession(t, server, "")

	resp, model := call(t, server, http.MethodPost, sessionPath(id, "/backup"), map[string]string{"foo": "bar", "timeFormat": "mins"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid keys in file: foo", model.Text)

	resp, _ = call(t, server, http.MethodPost, sessionPath(id, "/backup"), []int{1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionRoutesRequireKey(t *testing.T) {
	api := createTestApi(t, func(a *app.Application) { a.Config.ApiKeys = []string{"secret"} })
	server := serveApi(t, api)

	resp, _ := call(t, server, http.MethodPost, "/api/sessions?key=TEST", map[string]string{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = call(t, server, http.MethodPost, "/api/sessions?key=secret", map[string]string{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
