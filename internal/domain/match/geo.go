package match

import (
	"math"

	"github.com/ehgus2390/chineseapp/internal/docstore"
)

const earthRadiusKm = 6371.0

// Location is a WGS84 coordinate.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (l Location) Valid() bool {
	if math.IsNaN(l.Latitude) || math.IsNaN(l.Longitude) {
		return false
	}
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

func (l Location) Map() map[string]any {
	return map[string]any{"latitude": l.Latitude, "longitude": l.Longitude}
}

// ParseLocation accepts {latitude, longitude} and the short {lat, lng} form.
func ParseLocation(v any) (Location, bool) {
	m, ok := docstore.AsMap(v)
	if !ok {
		return Location{}, false
	}
	lat, okLat := docstore.AsFloat(m["latitude"])
	if !okLat {
		lat, okLat = docstore.AsFloat(m["lat"])
	}
	lng, okLng := docstore.AsFloat(m["longitude"])
	if !okLng {
		lng, okLng = docstore.AsFloat(m["lng"])
	}
	if !okLat || !okLng {
		return Location{}, false
	}
	loc := Location{Latitude: lat, Longitude: lng}
	return loc, loc.Valid()
}

// HaversineKm is the great-circle distance between a and b.
func HaversineKm(a, b Location) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Latitude - a.Latitude)
	dLng := toRad(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Latitude))*math.Cos(toRad(b.Latitude))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
