package arrivals

import (
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/twpayne/go-polyline"

	"buszy.nrfz.sg/internal/lta"
	"buszy.nrfz.sg/internal/utils"
)

// IncomingLimit is the length of the soonest-arrivals strip.
const IncomingLimit = 4

// Resolver turns stop and destination codes into names.
type Resolver interface {
	Name(code string) (string, bool)
	DestinationName(code string) string
}

// Board is the view model of one stop's arrivals.
type Board struct {
	StopCode  string
	StopName  string
	StopFound bool
	Format    string
	Cards     []Card
	Incoming  []IncomingBus
	Markers   []Marker
	Bounds    utils.CoordinateBounds
	// Path is the encoded polyline through the marker positions, for the map.
	Path string
}

// Card is one service.
type Card struct {
	ServiceNo    string
	Operator     string
	OperatorIcon string
	Destination  string
	Monitored    bool
	Primary      *SlotView
	Secondary    *SlotView
}

// SlotView is one predicted arrival on a card.
type SlotView struct {
	Slot            lta.Slot
	Display         template.HTML
	HasArrival      bool
	Type            string
	TypeIcon        string
	Load            string
	LoadClass       string
	LoadLabel       string
	LoadIcon        string
	Latitude        string
	Longitude       string
	LocationEnabled bool
}

// IncomingBus is one entry of the soonest-arrivals strip.
type IncomingBus struct {
	ServiceNo string
	Arrival   time.Time
	Display   template.HTML
}

// Marker is a bus position for the location map.
type Marker struct {
	ServiceNo string
	Slot      lta.Slot
	Latitude  float64
	Longitude float64
	Type      string
	Load      string
	ETA       template.HTML
}

var loadLabels = map[string]string{
	"SEA": "Seats Available",
	"SDA": "Standing Available",
	"LSD": "Limited Standing",
}

var loadIcons = map[string]string{
	"SEA": "fa-user",
	"SDA": "fa-user-group",
	"LSD": "fa-people-group",
}

// LoadLabel describes a load code, or "" for unknown codes.
func LoadLabel(load string) string { return loadLabels[load] }

// BuildBoard assembles the view model for resp at time now. monitored holds
// the armed service numbers for this stop.
func BuildBoard(stopCode string, resp *lta.ArrivalResponse, now time.Time, format string, resolver Resolver, monitored map[string]bool) *Board {
	b := &Board{StopCode: stopCode, Format: format}
	if resolver != nil {
		b.StopName, b.StopFound = resolver.Name(stopCode)
	}
	if resp == nil {
		return b
	}

	var coords [][]float64
	for _, svc := range resp.Services {
		card := Card{
			ServiceNo: svc.ServiceNo,
			Operator:  svc.Operator,
			Monitored: monitored[svc.ServiceNo],
		}
		if svc.Operator != "" {
			card.OperatorIcon = "assets/" + strings.ToLower(svc.Operator) + ".png"
		}
		if svc.NextBus != nil && svc.NextBus.DestinationCode != "" {
			if resolver != nil {
				card.Destination = resolver.DestinationName(svc.NextBus.DestinationCode)
			} else {
				card.Destination = svc.NextBus.DestinationCode
			}
		}
		card.Primary = buildSlot(lta.SlotPrimary, svc.NextBus, now, format)
		card.Secondary = buildSlot(lta.SlotSecondary, svc.NextBus2, now, format)
		b.Cards = append(b.Cards, card)

		for _, slot := range lta.Slots {
			nb := svc.Next(slot)
			if at, ok := nb.Arrival(); ok {
				b.Incoming = append(b.Incoming, IncomingBus{
					ServiceNo: svc.ServiceNo,
					Arrival:   at,
					Display:   template.HTML(FormatArrival(at, now, format, true)),
				})
			}
			if lat, lon, ok := nb.Position(); ok {
				m := Marker{
					ServiceNo: svc.ServiceNo,
					Slot:      slot,
					Latitude:  lat,
					Longitude: lon,
					Type:      nb.Type,
					Load:      nb.Load,
					ETA:       "--",
				}
				if at, ok := nb.Arrival(); ok {
					m.ETA = template.HTML(FormatArrival(at, now, format, false))
				}
				b.Markers = append(b.Markers, m)
				b.Bounds = b.Bounds.Extend(lat, lon)
				coords = append(coords, []float64{lat, lon})
			}
		}
	}

	sort.SliceStable(b.Incoming, func(i, j int) bool {
		return b.Incoming[i].Arrival.Before(b.Incoming[j].Arrival)
	})
	if len(b.Incoming) > IncomingLimit {
		b.Incoming = b.Incoming[:IncomingLimit]
	}
	if len(coords) > 0 {
		b.Path = string(polyline.EncodeCoords(coords))
	}
	return b
}

func buildSlot(slot lta.Slot, nb *lta.NextBus, now time.Time, format string) *SlotView {
	if nb == nil {
		return nil
	}
	v := &SlotView{
		Slot:      slot,
		Display:   "--",
		Type:      nb.Type,
		Load:      nb.Load,
		LoadLabel: loadLabels[nb.Load],
		LoadIcon:  loadIcons[nb.Load],
		Latitude:  nb.Latitude,
		Longitude: nb.Longitude,
	}
	if v.Latitude == "" {
		v.Latitude = "0.0"
	}
	if v.Longitude == "" {
		v.Longitude = "0.0"
	}
	if nb.Type != "" {
		v.TypeIcon = "assets/" + strings.ToLower(nb.Type) + ".png"
	}
	if nb.Load != "" {
		v.LoadClass = strings.ToLower(nb.Load)
	}
	at, ok := nb.Arrival()
	if ok {
		v.HasArrival = true
		v.Display = template.HTML(FormatArrival(at, now, format, false))
	}
	v.LocationEnabled = ok && !(v.Latitude == "0.0" && v.Longitude == "0.0")
	return v
}
