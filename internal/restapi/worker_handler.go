package restapi

import (
	"errors"
	"net/http"

	"buszy.nrfz.sg/internal/models"
	"buszy.nrfz.sg/internal/worker"
)

type fetchRequest struct {
	URLs []string `json:"urls"`
}

// workerFetchHandler starts a background fetch. The outcome is broadcast to
// every session's stream.
func (api *RestAPI) workerFetchHandler(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := decodeJSON(r, &req); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	api.postToWorker(w, r, models.Message{Type: models.MessageStartBackgroundFetch, URLs: req.URLs})
}

func (api *RestAPI) workerSyncHandler(w http.ResponseWriter, r *http.Request) {
	if api.Worker == nil {
		api.sendError(w, r, http.StatusServiceUnavailable, worker.ErrNotRunning.Error())
		return
	}
	api.Worker.SyncNow()
	api.sendResponse(w, r, okResponse(api))
}

func (api *RestAPI) workerNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	if api.Worker == nil {
		api.sendError(w, r, http.StatusServiceUnavailable, worker.ErrNotRunning.Error())
		return
	}
	api.sendList(w, r, api.Worker.Notifications())
}

// notificationClickHandler routes a click on a system notification: an
// open page at the target is focused, otherwise the page is told to open it.
func (api *RestAPI) notificationClickHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := api.session(w, r)
	if !ok {
		return
	}
	s.Touch()
	if api.Worker == nil {
		api.sendError(w, r, http.StatusServiceUnavailable, worker.ErrNotRunning.Error())
		return
	}
	result, err := api.Worker.Click(r.PathValue("nid"))
	if errors.Is(err, worker.ErrUnknownClick) {
		api.sendNotFound(w, r)
		return
	} else if err != nil {
		api.serverErrorResponse(w, r, err)
		return
	}
	api.sendEntry(w, r, result)
}

func (api *RestAPI) postToWorker(w http.ResponseWriter, r *http.Request, msg models.Message) {
	if api.Worker == nil {
		api.sendError(w, r, http.StatusServiceUnavailable, worker.ErrNotRunning.Error())
		return
	}
	err := api.Worker.Post(msg)
	switch {
	case errors.Is(err, worker.ErrNotRunning), errors.Is(err, worker.ErrInboxFull):
		api.sendError(w, r, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		api.sendError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	api.sendResponse(w, r, okResponse(api))
}
