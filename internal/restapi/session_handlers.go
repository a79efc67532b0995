package restapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"buszy.nrfz.sg/internal/logging"
	"buszy.nrfz.sg/internal/monitor"
	"buszy.nrfz.sg/internal/nearby"
	"buszy.nrfz.sg/internal/notify"
	"buszy.nrfz.sg/internal/prefs"
	"buszy.nrfz.sg/internal/session"
)

type openSessionRequest struct {
	Profile string `json:"profile"`
	URL     string `json:"url"`
}

type sessionEntry struct {
	ID         string            `json:"id"`
	Profile    string            `json:"profile"`
	StopCode   string            `json:"stopCode,omitempty"`
	Permission notify.Permission `json:"permission"`
}

func newSessionEntry(s *session.Session) sessionEntry {
	return sessionEntry{
		ID:         s.ID(),
		Profile:    s.Profile(),
		StopCode:   s.StopCode(),
		Permission: s.Dispatcher().Permission(),
	}
}

// session resolves the {id} path value. It answers 404 itself when the
// session is unknown.
func (api *RestAPI) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := api.Sessions.Get(r.PathValue("id"))
	if err != nil {
		api.sendNotFound(w, r)
		return nil, false
	}
	return s, true
}

func (api *RestAPI) openSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		req.URL = r.Header.Get("Referer")
	}

	s, err := api.Sessions.Open(req.Profile, req.URL, r.UserAgent())
	switch {
	case errors.Is(err, session.ErrTooMany), errors.Is(err, session.ErrShuttingDown):
		api.sendError(w, r, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		api.serverErrorResponse(w, r, err)
		return
	}
	logging.FromContext(r.Context()).Info("session opened", slog.String("session", s.ID()))
	api.sendEntry(w, r, newSessionEntry(s))
}

func (api *RestAPI) closeSessionHandler(w http.ResponseWriter, r *http.Request) {
	if err := api.Sessions.Close(r.PathValue("id")); err != nil {
		api.sendNotFound(w, r)
		return
	}
	api.sendResponse(w, r, okResponse(api))
}

type setStopRequest struct {
	StopCode string `json:"stopCode"`
}

func (api *RestAPI) setStopHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := api.session(w, r)
	if !ok {
		return
	}
	var req setStopRequest
	if err := decodeJSON(r, &req); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	s.SetStopCode(req.StopCode)
	api.sendEntry(w, r, newSessionEntry(s))
}

// arrivalsHandler returns the last rendered board as an HTML fragment.
func (api *RestAPI) arrivalsHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := api.session(w, r)
	if !ok {
		return
	}
	s.Touch()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(s.Arrivals()); err != nil {
		logging.LogError(logging.FromContext(r.Context()), "write arrivals", err)
	}
}

type monitorRequest struct {
	On bool `json:"on"`
}

type monitorEntry struct {
	StopCode string        `json:"stopCode"`
	Service  string        `json:"service"`
	State    monitor.State `json:"state"`
	Error    string        `json:"error,omitempty"`
}

// monitorHandler arms or disarms a service. When notification permission is
// still undecided the request waits for the page to answer the prompt.
func (api *RestAPI) monitorHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := api.session(w, r)
	if !ok {
		return
	}
	req := monitorRequest{On: true}
	if err := decodeJSON(r, &req); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	service := strings.TrimSpace(r.PathValue("service"))

	state, err := s.ToggleMonitor(r.Context(), service, req.On)
	entry := monitorEntry{StopCode: s.StopCode(), Service: service, State: state}
	switch {
	case errors.Is(err, session.ErrNoStop):
		api.sendError(w, r, http.StatusConflict, err.Error())
		return
	case errors.Is(err, monitor.ErrPermissionDenied), errors.Is(err, monitor.ErrPermissionNotGranted):
		entry.Error = err.Error()
	case err != nil:
		api.serverErrorResponse(w, r, err)
		return
	}
	api.sendEntry(w, r, entry)
}

type onlineRequest struct {
	Online bool `json:"online"`
	// Resume marks the report as sent when the page became visible again.
	Resume bool `json:"resume"`
}

type onlineEntry struct {
	Online  bool `json:"online"`
	Changed bool `json:"changed"`
}

func (api *RestAPI) onlineHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := api.session(w, r)
	if !ok {
		return
	}
	var req onlineRequest
	if err := decodeJSON(r, &req); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	entry := onlineEntry{Online: req.Online}
	if req.Resume {
		s.Resume(r.Context(), req.Online)
	} else {
		entry.Changed = s.SetOnline(r.Context(), req.Online)
	}
	api.sendEntry(w, r, entry)
}

type permissionRequest struct {
	Permission string `json:"permission"`
}

func (api *RestAPI) permissionHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := api.session(w, r)
	if !ok {
		return
	}
	var req permissionRequest
	if err := decodeJSON(r, &req); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	p, valid := notify.ParsePermission(req.Permission)
	if !valid {
		api.sendError(w, r, http.StatusBadRequest, "invalid permission")
		return
	}
	s.AnswerPermission(p)
	api.sendEntry(w, r, newSessionEntry(s))
}

func (api *RestAPI) toastsHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := api.session(w, r)
	if !ok {
		return
	}
	api.sendList(w, r, s.Dispatcher().Toasts())
}

func (api *RestAPI) dismissToastHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := api.session(w, r)
	if !ok {
		return
	}
	s.Dispatcher().DismissToast(r.PathValue("tid"))
	api.sendResponse(w, r, okResponse(api))
}

func (api *RestAPI) nearbyHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := api.session(w, r)
	if !ok {
		return
	}
	var req nearby.Request
	if err := decodeJSON(r, &req); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	api.sendEntry(w, r, s.Locate(r.Context(), req))
}

type pinEntry struct {
	BusStopCode string `json:"busStopCode"`
	Pinned      bool   `json:"pinned"`
}

func (api *RestAPI) pinHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := api.session(w, r)
	if !ok {
		return
	}
	var stop prefs.PinnedStop
	if err := decodeJSON(r, &stop); err != nil || stop.BusStopCode == "" {
		api.sendError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	api.sendEntry(w, r, pinEntry{BusStopCode: stop.BusStopCode, Pinned: s.TogglePin(stop)})
}

type preferenceEntry struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (api *RestAPI) getPreferenceHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := api.session(w, r)
	if !ok {
		return
	}
	key := r.PathValue("key")
	if !prefs.IsExportable(key) {
		api.sendNotFound(w, r)
		return
	}
	value := s.Preference(key)
	if value == nil {
		value = json.RawMessage("null")
	}
	api.sendEntry(w, r, preferenceEntry{Key: key, Value: value})
}

func (api *RestAPI) putPreferenceHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := api.session(w, r)
	if !ok {
		return
	}
	key := r.PathValue("key")
	var value json.RawMessage
	if err := decodeJSON(r, &value); err != nil || len(value) == 0 {
		api.sendError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	err := s.SetPreference(key, value)
	switch {
	case errors.Is(err, session.ErrReadOnlyKey):
		api.sendError(w, r, http.StatusForbidden, err.Error())
		return
	case errors.Is(err, session.ErrInvalidValue):
		api.sendError(w, r, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		api.serverErrorResponse(w, r, err)
		return
	}
	api.sendEntry(w, r, preferenceEntry{Key: key, Value: value})
}

// exportHandler serves the backup file as a download.
func (api *RestAPI) exportHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := api.session(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="buszy-backup.json"`)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.Export()); err != nil {
		logging.LogError(logging.FromContext(r.Context()), "write backup", err)
	}
}

type importEntry struct {
	Imported int `json:"imported"`
}

func (api *RestAPI) importHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := api.session(w, r)
	if !ok {
		return
	}
	data, err := readBody(r)
	if errors.Is(err, errBodyTooLarge) {
		api.sendError(w, r, http.StatusRequestEntityTooLarge, "backup file too large")
		return
	} else if err != nil {
		api.sendError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	bundle, err := prefs.ParseBundle(data)
	if err != nil {
		s.Dispatcher().Toast("Error importing data: "+err.Error()+". Please check the file format.", notify.SeverityAlert)
		api.sendError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.Import(bundle)
	if err != nil {
		s.Dispatcher().Toast("Error importing data: "+err.Error()+". Please check the file format.", notify.SeverityAlert)
		api.sendError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	api.sendEntry(w, r, importEntry{Imported: n})
}
