package restapi

import (
	"errors"
	"net/http"
	"strings"

	"buszy.nrfz.sg/internal/models"
	"buszy.nrfz.sg/internal/rail"
)

type stationsEntry struct {
	Groups []rail.Group `json:"groups"`
}

// railStationsHandler lists stations grouped for the picker. With ?q= only
// matching stations are returned, capped at defaultSearchLimit.
func (api *RestAPI) railStationsHandler(w http.ResponseWriter, r *http.Request) {
	if api.Rail == nil {
		api.sendError(w, r, http.StatusServiceUnavailable, "rail timetable unavailable")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		api.sendEntry(w, r, stationsEntry{Groups: rail.Groups(api.Rail.Stations())})
		return
	}

	found := api.Rail.Search(q)
	if found == nil {
		found = []rail.Station{}
	}
	limitExceeded := len(found) > defaultSearchLimit
	if limitExceeded {
		found = found[:defaultSearchLimit]
	}
	api.sendResponse(w, r, models.NewListResponse(found, limitExceeded, api.Clock))
}

func (api *RestAPI) railStationHandler(w http.ResponseWriter, r *http.Request) {
	if api.Rail == nil {
		api.sendError(w, r, http.StatusServiceUnavailable, "rail timetable unavailable")
		return
	}
	station, err := api.Rail.Station(r.PathValue("id"))
	if errors.Is(err, rail.ErrStationNotFound) {
		api.sendNotFound(w, r)
		return
	} else if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}
	api.sendEntry(w, r, station)
}
