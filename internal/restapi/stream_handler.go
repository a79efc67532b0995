package restapi

import (
	"fmt"
	"log/slog"
	"net/http"

	"buszy.nrfz.sg/internal/logging"
	"buszy.nrfz.sg/internal/session"
)

// streamHandler pushes a session's events to the page as server-sent events
// until the client goes away or the session closes. The last render is
// replayed first so a reconnecting page is never blank.
func (api *RestAPI) streamHandler(w http.ResponseWriter, r *http.Request) {
	s, ok := api.session(w, r)
	if !ok {
		return
	}
	logger := logging.FromContext(r.Context()).With(slog.String("session", s.ID()))

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logging.LogError(logger, "streaming unsupported", err)
		return
	}

	events, cancel := s.Hub().Subscribe()
	defer cancel()

	ticker := api.Clock.NewTicker(api.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			if err := session.WriteSSE(w, ev); err != nil {
				logger.Debug("stream write failed", slog.Any("error", err))
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-ticker.C():
			s.Touch()
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
