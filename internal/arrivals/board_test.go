package arrivals

import (
	"html/template"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-polyline"

	"buszy.nrfz.sg/internal/clock"
	"buszy.nrfz.sg/internal/lta"
)

type mapResolver struct {
	names        map[string]string
	destinations map[string]string
}

func (r mapResolver) Name(code string) (string, bool) {
	n, ok := r.names[code]
	return n, ok
}

func (r mapResolver) DestinationName(code string) string {
	if n, ok := r.destinations[code]; ok {
		return n
	}
	return code
}

var boardNow = time.Date(2025, 6, 1, 8, 0, 0, 0, clock.Singapore)

func at(d time.Duration) string {
	return boardNow.Add(d).Format(time.RFC3339)
}

func sampleResponse() *lta.ArrivalResponse {
	return &lta.ArrivalResponse{Services: []lta.Service{
		{
			ServiceNo: "15",
			Operator:  "GAS",
			NextBus:   &lta.NextBus{DestinationCode: "77009", EstimatedArrival: at(45 * time.Second), Latitude: "1.3154", Longitude: "103.9059", Load: "SEA", Type: "SD"},
			NextBus2:  &lta.NextBus{DestinationCode: "77009", EstimatedArrival: at(9 * time.Minute), Latitude: "0.0", Longitude: "0.0", Load: "SDA", Type: "DD"},
		},
		{
			ServiceNo: "155",
			Operator:  "SBST",
			NextBus:   &lta.NextBus{DestinationCode: "52009", EstimatedArrival: at(3 * time.Minute), Latitude: "1.3160", Longitude: "103.9070", Load: "LSD", Type: "BD"},
			NextBus2:  &lta.NextBus{DestinationCode: "52009", EstimatedArrival: at(-10 * time.Second), Latitude: "1.3170", Longitude: "103.9080"},
		},
		{
			ServiceNo: "43",
			Operator:  "SBST",
			NextBus:   &lta.NextBus{DestinationCode: "99999", Latitude: "1.3100", Longitude: "103.9000"},
		},
		{
			ServiceNo: "43e",
			Operator:  "SBST",
		},
	}}
}

func TestBuildBoard(t *testing.T) {
	resolver := mapResolver{
		names:        map[string]string{"83139": "Blk 1"},
		destinations: map[string]string{"77009": "Pasir Ris Int"},
	}
	b := BuildBoard("83139", sampleResponse(), boardNow, "mins", resolver, map[string]bool{"155": true})

	assert.Equal(t, "Blk 1", b.StopName)
	assert.True(t, b.StopFound)
	require.Len(t, b.Cards, 4)

	c := b.Cards[0]
	assert.Equal(t, "15", c.ServiceNo)
	assert.Equal(t, "Pasir Ris Int", c.Destination)
	assert.Equal(t, "assets/gas.png", c.OperatorIcon)
	assert.False(t, c.Monitored)
	require.NotNil(t, c.Primary)
	assert.Equal(t, template.HTML("1 min"), c.Primary.Display)
	assert.Equal(t, "Seats Available", c.Primary.LoadLabel)
	assert.Equal(t, "sea", c.Primary.LoadClass)
	assert.Equal(t, "assets/sd.png", c.Primary.TypeIcon)
	assert.True(t, c.Primary.LocationEnabled)
	require.NotNil(t, c.Secondary)
	assert.False(t, c.Secondary.LocationEnabled, "0.0/0.0 disables the location button")

	assert.True(t, b.Cards[1].Monitored)
	assert.Equal(t, "52009", b.Cards[1].Destination, "unknown destinations fall back to the code")
	assert.Equal(t, template.HTML(ArrivedMarker), b.Cards[1].Secondary.Display)

	noETA := b.Cards[2].Primary
	require.NotNil(t, noETA)
	assert.Equal(t, template.HTML("--"), noETA.Display)
	assert.False(t, noETA.HasArrival)
	assert.False(t, noETA.LocationEnabled, "a missing arrival disables the location button")

	assert.Nil(t, b.Cards[3].Primary)
	assert.Nil(t, b.Cards[3].Secondary)
}

func TestBuildBoard_IncomingStrip(t *testing.T) {
	b := BuildBoard("83139", sampleResponse(), boardNow, "mins", nil, nil)

	require.Len(t, b.Incoming, IncomingLimit)
	var order []string
	for _, ib := range b.Incoming {
		order = append(order, ib.ServiceNo)
	}
	assert.Equal(t, []string{"155", "15", "155", "15"}, order)
	assert.Equal(t, template.HTML(ArrivedMarker), b.Incoming[0].Display)
	assert.Equal(t, template.HTML(`1<span style="font-size: 0.7em;"> min</span>`), b.Incoming[1].Display)
}

func TestBuildBoard_Markers(t *testing.T) {
	b := BuildBoard("83139", sampleResponse(), boardNow, "24-hour", nil, nil)

	require.Len(t, b.Markers, 4)
	assert.Equal(t, "15", b.Markers[0].ServiceNo)
	assert.Equal(t, lta.SlotPrimary, b.Markers[0].Slot)
	assert.Equal(t, template.HTML("--"), b.Markers[3].ETA, "position without an arrival time")

	assert.InDelta(t, 1.3100, b.Bounds.MinLat, 1e-9)
	assert.InDelta(t, 1.3170, b.Bounds.MaxLat, 1e-9)

	coords, _, err := polyline.DecodeCoords([]byte(b.Path))
	require.NoError(t, err)
	require.Len(t, coords, 4)
	assert.InDelta(t, 1.3154, coords[0][0], 1e-5)
	assert.InDelta(t, 103.9059, coords[0][1], 1e-5)
}

func TestBuildBoard_NilResponse(t *testing.T) {
	b := BuildBoard("83139", nil, boardNow, "mins", nil, nil)
	assert.Empty(t, b.Cards)
	assert.False(t, b.StopFound)
}

func TestRender(t *testing.T) {
	b := BuildBoard("83139", sampleResponse(), boardNow, "mins", mapResolver{names: map[string]string{"83139": "Blk 1"}}, map[string]bool{"15": true})
	markup, err := Render(b)
	require.NoError(t, err)
	html := string(markup)

	assert.Contains(t, html, `<span class="service-no">15</span>`)
	assert.Contains(t, html, `<span class="bus-time">1 min</span>`)
	assert.Contains(t, html, `<span class="bus-time"><span class="arrival-now">Arr</span></span>`)
	assert.Contains(t, html, `notify-btn active" data-service="15"`)
	assert.Contains(t, html, `Blk 1`)
	assert.Contains(t, html, `title="Limited Standing"`)
	assert.Equal(t, 2, strings.Count(html, " disabled>"), "two slots lack a position or an arrival")

	again, err := Render(BuildBoard("83139", sampleResponse(), boardNow, "mins", mapResolver{names: map[string]string{"83139": "Blk 1"}}, map[string]bool{"15": true}))
	require.NoError(t, err)
	assert.Equal(t, markup, again, "rendering is deterministic")
}

func TestRender_Panels(t *testing.T) {
	markup, err := Render(&Board{StopCode: "83139"})
	require.NoError(t, err)
	assert.Contains(t, string(markup), "No Data Available")

	markup, err = RenderPanel(PanelNoStop)
	require.NoError(t, err)
	assert.Contains(t, string(markup), "Pick a Bus stop in the Search Page.")

	assert.Equal(t, PanelNetwork, ErrorPanel(&lta.FetchError{Kind: lta.KindNetwork}))
	assert.Equal(t, PanelServer, ErrorPanel(&lta.FetchError{Kind: lta.KindServer, Status: 500}))
	assert.Equal(t, PanelData, ErrorPanel(&lta.FetchError{Kind: lta.KindData}))
	assert.Equal(t, PanelUnknown, ErrorPanel(assert.AnError))
}
