package restapi

import (
	"net/http"
	"strconv"
	"time"
)

// delaysHandler returns one month of incidents. Without year and month it
// returns the current month; offset moves from the given month.
func (api *RestAPI) delaysHandler(w http.ResponseWriter, r *http.Request) {
	if api.Delays == nil {
		api.sendError(w, r, http.StatusServiceUnavailable, "delay history unavailable")
		return
	}
	query := r.URL.Query()
	if query.Get("year") == "" && query.Get("month") == "" {
		api.sendEntry(w, r, api.Delays.Current())
		return
	}

	year, err := strconv.Atoi(query.Get("year"))
	if err != nil {
		api.sendError(w, r, http.StatusBadRequest, "invalid year")
		return
	}
	month, err := strconv.Atoi(query.Get("month"))
	if err != nil || month < 1 || month > 12 {
		api.sendError(w, r, http.StatusBadRequest, "invalid month")
		return
	}
	offset := 0
	if v := query.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			api.sendError(w, r, http.StatusBadRequest, "invalid offset")
			return
		}
	}
	api.sendEntry(w, r, api.Delays.Shift(year, time.Month(month), offset))
}

func (api *RestAPI) delayCountsHandler(w http.ResponseWriter, r *http.Request) {
	if api.Delays == nil {
		api.sendError(w, r, http.StatusServiceUnavailable, "delay history unavailable")
		return
	}
	api.sendList(w, r, api.Delays.LineCounts())
}
