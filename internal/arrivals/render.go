package arrivals

import (
	"bytes"
	"html/template"

	"buszy.nrfz.sg/internal/lta"
)

const boardTemplate = `{{define "slot"}}<div class="d-flex justify-content-between slot-{{.Slot}}">
<span class="bus-time">{{.Display}}</span>
<span class="bus-meta">{{if .TypeIcon}}<img src="{{.TypeIcon}}" alt="{{.Type}}" class="img-fluid">{{end}}{{if .LoadClass}}<span class="load-indicator {{.LoadClass}}"><i class="fa-solid {{.LoadIcon}}" title="{{.LoadLabel}}"></i></span>{{end}}<button class="btn btn-busloc btn-sm view-location-btn" data-lat="{{.Latitude}}" data-lng="{{.Longitude}}" data-slot="{{.Slot}}"{{if not .LocationEnabled}} disabled{{end}}><i class="fa-solid fa-location-dot"></i></button></span>
</div>{{end}}
{{define "board"}}<div class="filter-title" data-stop="{{.StopCode}}">{{if .StopFound}}<span class="bus-stop-code-text">{{.StopCode}}</span> <span class="bus-stop-description">{{.StopName}}</span>{{else}}Bus Stop Not Found ({{.StopCode}}){{end}}</div>
{{if .Incoming}}<div id="incoming-buses-grid">{{range .Incoming}}<div class="ib"><div class="ib-time">{{.Display}}</div><div class="ib-svc">{{.ServiceNo}}</div></div>{{end}}</div>
{{end}}<div id="bus-arrivals-container">
{{range .Cards}}<div class="card-bt" data-service="{{.ServiceNo}}"><div class="card">
<div class="card-header"><span class="service-no">{{.ServiceNo}}</span>{{if .Destination}}<div class="destination-code">To {{.Destination}}</div>{{end}}{{if .OperatorIcon}}<img src="{{.OperatorIcon}}" alt="{{.Operator}}" class="img-fluid">{{end}}<button class="btn btn-notify btn-sm notify-btn{{if .Monitored}} active{{end}}" data-service="{{.ServiceNo}}" title="Get notified when bus arrives"><i class="fa-solid fa-bell"></i></button></div>
<div class="card-body"><div class="card-content-art">{{if .Primary}}{{template "slot" .Primary}}{{else}}<div class="no-arrival">No arrival data</div>{{end}}{{if .Secondary}}{{template "slot" .Secondary}}{{end}}</div></div>
</div></div>
{{end}}</div>
{{if .Markers}}<div class="bus-location-section" data-path="{{.Path}}" data-bounds="{{.Bounds.MinLat}},{{.Bounds.MinLon}},{{.Bounds.MaxLat}},{{.Bounds.MaxLon}}"></div>
{{end}}{{end}}
{{define "panel"}}<div class="col-12"><div class="card"><div class="card-header">{{.Header}}</div><div class="card-body"><p class="card-text">{{.Text}}</p></div></div></div>{{end}}`

var templates = template.Must(template.New("arrivals").Parse(boardTemplate))

// Panel is a single message card shown instead of arrivals.
type Panel struct {
	Kind   string
	Header string
	Text   string
}

// Panels shown instead of a board.
var (
	PanelNoStop  = Panel{Kind: "empty", Header: "No Data", Text: "Pick a Bus stop in the Search Page."}
	PanelNoData  = Panel{Kind: "no-data", Header: "No Data Available", Text: "No Data Available"}
	PanelNetwork = Panel{Kind: "network", Header: "Connection Error", Text: "Unable to reach the arrivals service. Check your connection."}
	PanelServer  = Panel{Kind: "server", Header: "Server Error", Text: "The arrivals service is unavailable. Try Refreshing."}
	PanelData    = Panel{Kind: "data", Header: "Data Error", Text: "Received unexpected arrival data. Try Refreshing."}
	PanelUnknown = Panel{Kind: "error", Header: "Error", Text: "Error loading data. Try Refreshing."}
)

// ErrorPanel picks the panel matching the failure kind of err.
func ErrorPanel(err error) Panel {
	switch lta.KindOf(err) {
	case lta.KindNetwork:
		return PanelNetwork
	case lta.KindServer:
		return PanelServer
	case lta.KindData:
		return PanelData
	default:
		return PanelUnknown
	}
}

// Render produces the markup of a board. Boards without services render the
// no-data panel.
func Render(b *Board) ([]byte, error) {
	if b == nil || len(b.Cards) == 0 {
		return RenderPanel(PanelNoData)
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "board", b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderPanel produces the markup of a message panel.
func RenderPanel(p Panel) ([]byte, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "panel", p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
