// Package webui serves the static files the page loads directly and, outside
// production, a debug view of the running service.
package webui

import (
	"net/http"

	"buszy.nrfz.sg/internal/app"
)

type WebUI struct {
	*app.Application
}

func (webUI *WebUI) SetWebUIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /data/{file}", webUI.dataHandler)
	mux.HandleFunc("GET /debug/", webUI.debugIndexHandler)
}
