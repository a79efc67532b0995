package webui

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/davecgh/go-spew/spew"

	"buszy.nrfz.sg/internal/appconf"
	"buszy.nrfz.sg/internal/notify"
)

//go:embed debug_index.html
var templateFS embed.FS

type debugData struct {
	Title string
	Pre   string
}

type sessionSummary struct {
	ID          string
	Profile     string
	URL         string
	StopCode    string
	Permission  notify.Permission
	Subscribers int
	CreatedAt   time.Time
	LastSeen    time.Time
}

func writeDebugData(w http.ResponseWriter, title string, data interface{}) {
	content := spew.Sdump(data)
	w.Header().Set("Content-Type", "text/html")
	tmpl, err := template.ParseFS(templateFS, "debug_index.html")
	if err != nil {
		// Log the actual error server-side
		slog.Error("failed to parse debug template", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	dataStruct := debugData{
		Title: title,
		Pre:   content,
	}

	err = tmpl.Execute(w, dataStruct)
	if err != nil {
		slog.Error("failed to execute debug template", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (webUI *WebUI) debugIndexHandler(w http.ResponseWriter, r *http.Request) {
	if webUI.Config.Env == appconf.Production {
		http.NotFound(w, r)
		return
	}
	dataType := r.URL.Query().Get("dataType")

	var data interface{}
	var title string

	switch dataType {
	case "sessions":
		data = webUI.sessionSummaries()
		title = "Open Sessions"
	case "tables":
		data, title = webUI.tableCounts(), "Store - Table Counts"
	case "stops":
		if webUI.Stops != nil {
			data = webUI.Stops.All()
		}
		title = "Bus Stop Cache"
	case "notifications":
		if webUI.Worker != nil {
			data = webUI.Worker.Notifications()
		}
		title = "Worker - Shown Notifications"
	case "rail":
		if webUI.Rail != nil {
			data = webUI.Rail.Stations()
		}
		title = "Rail Timetable"
	case "delays":
		if webUI.Delays != nil {
			data = webUI.Delays.LineCounts()
		}
		title = "Delay History - Line Counts"
	case "config":
		cfg := webUI.Config
		cfg.ApiKeys = redact(cfg.ApiKeys)
		cfg.ExemptApiKeys = redact(cfg.ExemptApiKeys)
		if cfg.UpstreamAPIKey != "" {
			cfg.UpstreamAPIKey = "[redacted]"
		}
		data, title = cfg, "Configuration"
	default:
		data = map[string]string{
			"error": "Please use one of the following: sessions, tables, stops, notifications, rail, delays, config.",
		}
		title = "Choose a data type"
	}

	writeDebugData(w, title, data)
}

func (webUI *WebUI) sessionSummaries() []sessionSummary {
	if webUI.Sessions == nil {
		return nil
	}
	sessions := webUI.Sessions.Sessions()
	out := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionSummary{
			ID:          s.ID(),
			Profile:     s.Profile(),
			URL:         s.URL(),
			StopCode:    s.StopCode(),
			Permission:  s.Dispatcher().Permission(),
			Subscribers: s.Hub().Subscribers(),
			CreatedAt:   s.CreatedAt(),
			LastSeen:    s.LastSeen(),
		})
	}
	return out
}

func (webUI *WebUI) tableCounts() interface{} {
	if webUI.Store == nil {
		return map[string]string{"error": "store not initialized"}
	}
	counts, err := webUI.Store.TableCounts()
	if err != nil {
		slog.Error("failed to count tables", "error", err)
		return map[string]string{"error": err.Error()}
	}
	return counts
}

func redact(keys []string) []string {
	out := make([]string, len(keys))
	for i := range keys {
		out[i] = "[redacted]"
	}
	return out
}
