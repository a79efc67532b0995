package lta

import (
	"strconv"
	"time"
)

// ArrivalResponse is the payload of /bus-arrivals.
type ArrivalResponse struct {
	BusStopCode string    `json:"BusStopCode,omitempty"`
	Services    []Service `json:"Services" validate:"dive"`
}

// Service is one bus service serving the stop. NextBus and NextBus2 are nil
// when the feed has no prediction for that slot.
type Service struct {
	ServiceNo string   `json:"ServiceNo" validate:"required"`
	Operator  string   `json:"Operator"`
	NextBus   *NextBus `json:"NextBus,omitempty"`
	NextBus2  *NextBus `json:"NextBus2,omitempty"`
	NextBus3  *NextBus `json:"NextBus3,omitempty"`
}

// NextBus is one predicted arrival. Coordinates arrive as strings and are
// "0.0" when the vehicle position is unknown.
type NextBus struct {
	OriginCode       string `json:"OriginCode,omitempty"`
	DestinationCode  string `json:"DestinationCode"`
	EstimatedArrival string `json:"EstimatedArrival" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Monitored        int    `json:"Monitored,omitempty"`
	Latitude         string `json:"Latitude"`
	Longitude        string `json:"Longitude"`
	VisitNumber      string `json:"VisitNumber,omitempty"`
	Load             string `json:"Load" validate:"omitempty,oneof=SEA SDA LSD"`
	Feature          string `json:"Feature,omitempty"`
	Type             string `json:"Type" validate:"omitempty,oneof=SD DD BD"`
}

// IsZero reports whether the slot carried no fields at all, which is how the
// feed encodes a missing prediction.
func (n *NextBus) IsZero() bool {
	return n == nil || *n == NextBus{}
}

// Arrival parses EstimatedArrival.
func (n *NextBus) Arrival() (time.Time, bool) {
	if n == nil || n.EstimatedArrival == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, n.EstimatedArrival)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Position returns the reported vehicle position, or ok=false for the
// "0.0","0.0" sentinel and unparseable values.
func (n *NextBus) Position() (lat, lon float64, ok bool) {
	if n == nil || (n.Latitude == "0.0" && n.Longitude == "0.0") {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(n.Latitude, 64)
	lon, err2 := strconv.ParseFloat(n.Longitude, 64)
	if err1 != nil || err2 != nil || (lat == 0 && lon == 0) {
		return 0, 0, false
	}
	return lat, lon, true
}

// Slot names the ordinal arrival positions of a service.
type Slot string

const (
	SlotPrimary   Slot = "nextbus"
	SlotSecondary Slot = "nextbus2"
)

// Slots lists the slots the app tracks, in display order.
var Slots = []Slot{SlotPrimary, SlotSecondary}

// Next returns the prediction in slot, or nil.
func (s Service) Next(slot Slot) *NextBus {
	switch slot {
	case SlotPrimary:
		return s.NextBus
	case SlotSecondary:
		return s.NextBus2
	}
	return nil
}

// BusStop is one record of the /bus-stops listing.
type BusStop struct {
	BusStopCode string  `json:"BusStopCode" validate:"required"`
	RoadName    string  `json:"RoadName,omitempty"`
	Description string  `json:"Description"`
	Latitude    float64 `json:"Latitude,omitempty" validate:"gte=-90,lte=90"`
	Longitude   float64 `json:"Longitude,omitempty" validate:"gte=-180,lte=180"`
}

type busStopsPage struct {
	Value []BusStop `json:"value" validate:"required,dive"`
}

// NearbyStop is one record of /nearby-bus-stops. Distance is in kilometres.
type NearbyStop struct {
	BusStopCode string  `json:"BusStopCode" validate:"required"`
	Description string  `json:"Description"`
	RoadName    string  `json:"RoadName"`
	Distance    float64 `json:"distance" validate:"gte=0"`
}
