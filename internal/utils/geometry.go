package utils

import (
	"fmt"
	"math"
)

// RadiusOfEarthInMeters is the mean Earth radius used for all distances.
const RadiusOfEarthInMeters = 6371010.0

// CoordinateBounds is a latitude/longitude box.
type CoordinateBounds struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Distance returns the great-circle distance between two points in meters.
// Points closer than ~0.2 degrees use the equirectangular approximation,
// which covers every stop-to-stop distance on the island.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * (math.Pi / 180)
	lat2Rad := lat2 * (math.Pi / 180)

	if math.Abs(lat2-lat1) < 0.2 && math.Abs(lon2-lon1) < 0.2 {
		dLatRad := lat2Rad - lat1Rad
		dLonRad := (lon2 - lon1) * (math.Pi / 180)
		x := dLonRad * math.Cos((lat1Rad+lat2Rad)/2)
		return RadiusOfEarthInMeters * math.Sqrt(x*x+dLatRad*dLatRad)
	}

	deltaLon := (lon2 - lon1) * (math.Pi / 180)
	y := math.Hypot(math.Cos(lat2Rad)*math.Sin(deltaLon),
		math.Cos(lat1Rad)*math.Sin(lat2Rad)-math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(deltaLon))
	x := math.Sin(lat1Rad)*math.Sin(lat2Rad) + math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Cos(deltaLon)
	return RadiusOfEarthInMeters * math.Atan2(y, x)
}

// DistanceKm is Distance in kilometres.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	return Distance(lat1, lon1, lat2, lon2) / 1000
}

// CalculateBounds returns the box enclosing a circle of radius meters.
func CalculateBounds(lat, lon, radius float64) CoordinateBounds {
	latRadians := lat * math.Pi / 180
	latOffset := radius / RadiusOfEarthInMeters * 180 / math.Pi
	lonOffset := radius / (math.Cos(latRadians) * RadiusOfEarthInMeters) * 180 / math.Pi
	return CoordinateBounds{
		MinLat: lat - latOffset,
		MaxLat: lat + latOffset,
		MinLon: lon - lonOffset,
		MaxLon: lon + lonOffset,
	}
}

// Extend grows b to include the point. A zero box is replaced by the point.
func (b CoordinateBounds) Extend(lat, lon float64) CoordinateBounds {
	if b == (CoordinateBounds{}) {
		return CoordinateBounds{MinLat: lat, MaxLat: lat, MinLon: lon, MaxLon: lon}
	}
	b.MinLat = math.Min(b.MinLat, lat)
	b.MaxLat = math.Max(b.MaxLat, lat)
	b.MinLon = math.Min(b.MinLon, lon)
	b.MaxLon = math.Max(b.MaxLon, lon)
	return b
}

// FormatDistance renders km as whole meters below one kilometre and with two
// decimals above.
func FormatDistance(km float64) string {
	if km < 1 {
		return fmt.Sprintf("%.0fm", km*1000)
	}
	return fmt.Sprintf("%.2f km", km)
}
