package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"

	"buszy.nrfz.sg/internal/app"
	"buszy.nrfz.sg/internal/appconf"
	"buszy.nrfz.sg/internal/clock"
	"buszy.nrfz.sg/internal/delays"
	"buszy.nrfz.sg/internal/lta"
	"buszy.nrfz.sg/internal/metrics"
	"buszy.nrfz.sg/internal/models"
	"buszy.nrfz.sg/internal/prefs"
	"buszy.nrfz.sg/internal/rail"
	"buszy.nrfz.sg/internal/session"
	"buszy.nrfz.sg/internal/stops"
	"buszy.nrfz.sg/internal/worker"
	"buszy.nrfz.sg/store"
)

const testKey = "TEST"

const upstreamArrivals = `{
  "BusStopCode": "83139",
  "Services": [
    {
      "ServiceNo": "15",
      "Operator": "GAS",
      "NextBus": {
        "DestinationCode": "77009",
        "EstimatedArrival": "2030-01-01T08:05:00+08:00",
        "Latitude": "0.0",
        "Longitude": "0.0",
        "Load": "SEA",
        "Type": "SD"
      }
    }
  ]
}`

const upstreamStops = `{"value": [
  {"BusStopCode": "83139", "RoadName": "Changi Rd", "Description": "Opp Blk 123", "Latitude": 1.3162, "Longitude": 103.9066},
  {"BusStopCode": "77009", "RoadName": "Pasir Ris Dr 3", "Description": "Pasir Ris Int", "Latitude": 1.3731, "Longitude": 103.9493}
]}`

const upstreamNearby = `[{"BusStopCode": "83139", "Description": "Opp Blk 123", "RoadName": "Changi Rd", "distance": 0.12}]`

const railStations = `[{"station": "Jurong East", "scraped_at": "2025-11-02T10:00:00.000Z", "directions": [
  {"description": "Towards Pasir Ris", "first_train": {"monday_to_friday": "05:21"}, "last_train": {"monday_to_friday": "23:18"}}]}]`

const delayRecords = `[
  {"title": "Major Delay on NSL", "type": "Train Fault", "status": "Resolved", "line": "NSL",
   "from": "Jurong East", "to": "Woodlands", "start": "2025-12-03T07:45:00+08:00", "end": "2025-12-03T10:00:00+08:00"}
]`

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/" + lta.EndpointArrivals:
			_, _ = io.WriteString(w, upstreamArrivals)
		case "/" + lta.EndpointStops:
			if r.URL.Query().Get("$skip") != "0" {
				_, _ = io.WriteString(w, `{"value": []}`)
				return
			}
			_, _ = io.WriteString(w, upstreamStops)
		case "/" + lta.EndpointNearby:
			_, _ = io.WriteString(w, upstreamNearby)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

// createTestApi builds a complete application over an in-memory store and a
// fake upstream. Everything it starts is stopped when the test ends.
func createTestApi(t *testing.T, mutate ...func(*app.Application)) *RestAPI {
	t.Helper()

	db, err := store.NewClient(store.Config{DBPath: ":memory:", Env: appconf.Test})
	require.NoError(t, err)

	cfg := appconf.Config{
		Env:          appconf.Test,
		ApiKeys:      []string{testKey},
		RateLimit:    100,
		PollInterval: time.Hour,
		Debounce:     10 * time.Millisecond,
	}
	clk := clock.RealClock{}
	m := metrics.New()
	upstream := lta.NewClient(newUpstream(t).URL, lta.WithMetrics(m))

	stopCache := stops.NewCache(upstream, prefs.New(db, stops.SharedProfile, nil), nil)
	_, err = stopCache.Load(context.Background())
	require.NoError(t, err)

	w := worker.New(worker.Config{Clock: clk, CacheSize: 16, Metrics: m})
	w.Start()

	tt, err := rail.NewLoader(fstest.MapFS{
		rail.SMRTFile:         {Data: []byte(railStations)},
		rail.SBSFile:          {Data: []byte(`[]`)},
		rail.StationCodesFile: {Data: []byte(`{"Jurong East": "EW24 NS1"}`)},
	}).Load(context.Background())
	require.NoError(t, err)

	history, err := delays.Load(fstest.MapFS{delays.File: {Data: []byte(delayRecords)}}, clk)
	require.NoError(t, err)

	application := &app.Application{
		Config:   cfg,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:    clk,
		Metrics:  m,
		Store:    db,
		Upstream: upstream,
		Stops:    stopCache,
		Worker:   w,
		Rail:     tt,
		Delays:   history,
	}
	application.Sessions = session.NewManager(session.Config{
		Backend:      db,
		Store:        db,
		Fetcher:      upstream,
		Nearby:       upstream,
		Directory:    stopCache,
		Worker:       w,
		Clock:        clk,
		Metrics:      m,
		Logger:       application.Logger,
		PollInterval: cfg.PollInterval,
		Debounce:     cfg.Debounce,
	})
	for _, fn := range mutate {
		fn(application)
	}

	api := NewRestAPI(application)
	t.Cleanup(func() {
		api.Shutdown()
		application.Close()
	})
	return api
}

// serveApi starts the full handler chain over api's routes.
func serveApi(t *testing.T, api *RestAPI) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	api.SetRoutes(mux)
	handler, err := api.Handler(mux)
	require.NoError(t, err)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// call sends a request with an optional JSON body and decodes the envelope.
// The envelope is zero when the response is not JSON.
func call(t *testing.T, server *httptest.Server, method, path string, body any) (*http.Response, models.ResponseModel) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := server.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var model models.ResponseModel
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(data, &model), string(data))
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, model
}

func entryOf(t *testing.T, model models.ResponseModel) map[string]any {
	t.Helper()
	data, ok := model.Data.(map[string]any)
	require.True(t, ok, "data is %T", model.Data)
	entry, ok := data["entry"].(map[string]any)
	require.True(t, ok, "entry is %T", data["entry"])
	return entry
}

func listOf(t *testing.T, model models.ResponseModel) []any {
	t.Helper()
	data, ok := model.Data.(map[string]any)
	require.True(t, ok, "data is %T", model.Data)
	list, ok := data["list"].([]any)
	require.True(t, ok, "list is %T", data["list"])
	return list
}

// openSession opens a session for profile and returns its id.
func openSession(t *testing.T, server *httptest.Server, profile string) string {
	t.Helper()
	resp, model := call(t, server, http.MethodPost, "/api/sessions?key="+testKey, map[string]string{
		"profile": profile,
		"url":     "https://buszy.example/?stop=83139",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id, _ := entryOf(t, model)["id"].(string)
	require.NotEmpty(t, id)
	return id
}
