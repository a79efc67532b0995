package restapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetRoutes registers every API route on mux.
func (api *RestAPI) SetRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", api.healthHandler)
	if api.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(api.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	mux.Handle("GET /api/current-time.json", api.route(cacheRealtime, api.currentTimeHandler))
	mux.Handle("GET /api/config.json", api.route(cacheStatic, api.configHandler))

	// Sessions
	mux.Handle("POST /api/sessions", api.route(cacheNone, api.openSessionHandler))
	mux.Handle("DELETE /api/sessions/{id}", api.route(cacheNone, api.closeSessionHandler))
	mux.Handle("GET /api/sessions/{id}/stream", api.route(cacheNone, api.streamHandler))
	mux.Handle("PUT /api/sessions/{id}/stop", api.route(cacheNone, api.setStopHandler))
	mux.Handle("GET /api/sessions/{id}/arrivals", api.route(cacheNone, api.arrivalsHandler))
	mux.Handle("POST /api/sessions/{id}/monitor/{service}", api.route(cacheNone, api.monitorHandler))
	mux.Handle("PUT /api/sessions/{id}/online", api.route(cacheNone, api.onlineHandler))
	mux.Handle("PUT /api/sessions/{id}/permission", api.route(cacheNone, api.permissionHandler))
	mux.Handle("GET /api/sessions/{id}/toasts", api.route(cacheNone, api.toastsHandler))
	mux.Handle("DELETE /api/sessions/{id}/toasts/{tid}", api.route(cacheNone, api.dismissToastHandler))
	mux.Handle("POST /api/sessions/{id}/notifications/{nid}/click", api.route(cacheNone, api.notificationClickHandler))
	mux.Handle("POST /api/sessions/{id}/nearby", api.route(cacheNone, api.nearbyHandler))
	mux.Handle("POST /api/sessions/{id}/pins", api.route(cacheNone, api.pinHandler))
	mux.Handle("GET /api/sessions/{id}/preferences/{key}", api.route(cacheNone, api.getPreferenceHandler))
	mux.Handle("PUT /api/sessions/{id}/preferences/{key}", api.route(cacheNone, api.putPreferenceHandler))
	mux.Handle("GET /api/sessions/{id}/backup", api.route(cacheNone, api.exportHandler))
	mux.Handle("POST /api/sessions/{id}/backup", api.route(cacheNone, api.importHandler))

	// Shared data
	mux.Handle("GET /api/stops/{code}", api.route(cacheStatic, api.stopHandler))
	mux.Handle("POST /api/stops/refresh", api.route(cacheNone, api.refreshStopsHandler))
	mux.Handle("GET /api/rail/stations", api.route(cacheStatic, api.railStationsHandler))
	mux.Handle("GET /api/rail/stations/{id}", api.route(cacheStatic, api.railStationHandler))
	mux.Handle("GET /api/delays", api.route(cacheRealtime, api.delaysHandler))
	mux.Handle("GET /api/delays/counts", api.route(cacheStatic, api.delayCountsHandler))

	// Background worker
	mux.Handle("POST /api/worker/fetch", api.route(cacheNone, api.workerFetchHandler))
	mux.Handle("POST /api/worker/sync", api.route(cacheNone, api.workerSyncHandler))
	mux.Handle("GET /api/worker/notifications", api.route(cacheNone, api.workerNotificationsHandler))
}
