package usecase

import (
	"math"
	"regexp"
	"strconv"

	"satcom-gateway/internal/domain"
)

var (
	// "Lat 45.344227 Lon -122.236868", as appended by Send Location.
	latLonPattern = regexp.MustCompile(`(?i)Lat(?:itude)?[:\s]+(-?\d+\.?\d*)[°\s,]+(?:Lon(?:gitude)?[:\s]+)?(-?\d+\.?\d*)`)
	// "(45.3, -122.2)"
	pairPattern = regexp.MustCompile(`\((-?\d+\.?\d*)\s*,\s*(-?\d+\.?\d*)\)`)
	// maps.google.com/...@45.3,-122.2 or /45.3,-122.2
	mapsURLPattern = regexp.MustCompile(`maps\.google\.com\S*[@/](-?\d+\.?\d*),(-?\d+\.?\d*)`)
)

// ExtractCoordinates finds a position in a message body. It returns nil when
// none of the known forms is present or the values are out of range.
func ExtractCoordinates(body string) *domain.Coordinates {
	for _, p := range []*regexp.Regexp{latLonPattern, pairPattern, mapsURLPattern} {
		m := p.FindStringSubmatch(body)
		if m == nil {
			continue
		}
		if c, ok := parseCoordinates(m[1], m[2]); ok {
			return c
		}
	}
	return nil
}

func parseCoordinates(latStr, lonStr string) (*domain.Coordinates, bool) {
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return nil, false
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return nil, false
	}
	if math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return nil, false
	}
	return &domain.Coordinates{Lat: lat, Lon: lon}, true
}
