package restapi

import (
	"net/http"
	"strings"

	"buszy.nrfz.sg/internal/logging"
)

func (api *RestAPI) stopHandler(w http.ResponseWriter, r *http.Request) {
	if api.Stops == nil {
		api.sendError(w, r, http.StatusServiceUnavailable, "bus stops unavailable")
		return
	}
	stop, ok := api.Stops.Lookup(strings.TrimSpace(r.PathValue("code")))
	if !ok {
		api.sendNotFound(w, r)
		return
	}
	api.sendEntry(w, r, stop)
}

type refreshStopsEntry struct {
	Count int `json:"count"`
}

// refreshStopsHandler drops the cached stop list and refetches it upstream.
func (api *RestAPI) refreshStopsHandler(w http.ResponseWriter, r *http.Request) {
	if api.Stops == nil {
		api.sendError(w, r, http.StatusServiceUnavailable, "bus stops unavailable")
		return
	}
	all, err := api.Stops.Refresh(r.Context())
	if err != nil {
		logging.LogError(logging.FromContext(r.Context()), "stop refresh failed", err)
		api.sendError(w, r, http.StatusBadGateway, "failed to refresh bus stops")
		return
	}
	api.sendEntry(w, r, refreshStopsEntry{Count: len(all)})
}
