// Package points turns dataset records into map points.
package points

import (
	"math"
	"strconv"
	"strings"
)

// LatLng is a WGS84 coordinate pair in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether both components are finite and within range.
func (c LatLng) Valid() bool {
	return finite(c.Lat) && finite(c.Lng) &&
		c.Lat >= -90 && c.Lat <= 90 &&
		c.Lng >= -180 && c.Lng <= 180
}

// ParseLatLong parses "lat,lng" text. It reports false for anything that is
// not exactly two finite in-range numbers separated by a comma.
func ParseLatLong(s string) (LatLng, bool) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return LatLng{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return LatLng{}, false
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return LatLng{}, false
	}
	c := LatLng{Lat: lat, Lng: lng}
	if !c.Valid() {
		return LatLng{}, false
	}
	return c, true
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
