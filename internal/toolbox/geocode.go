package toolbox

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"satcom-gateway/internal/domain"
)

const defaultNominatimURL = "https://nominatim.openstreetmap.org/reverse"

type nominatimResponse struct {
	Error       string `json:"error"`
	DisplayName string `json:"display_name"`
	Address     struct {
		Village string `json:"village"`
		Town    string `json:"town"`
		City    string `json:"city"`
		State   string `json:"state"`
		Region  string `json:"region"`
		Country string `json:"country"`
		Peak    string `json:"peak"`
		Water   string `json:"water"`
		Natural string `json:"natural"`
	} `json:"address"`
}

// Geocoder names a position through Nominatim reverse geocoding.
type Geocoder struct {
	client
}

func NewGeocoder(opts ...Option) *Geocoder {
	return &Geocoder{client: newClient(defaultNominatimURL, opts)}
}

// Reverse returns "place, region, country" plus nearby natural features.
func (g *Geocoder) Reverse(ctx context.Context, c domain.Coordinates) (name string, err error) {
	q := url.Values{}
	q.Set("lat", formatDegrees(c.Lat))
	q.Set("lon", formatDegrees(c.Lon))
	q.Set("format", "json")
	q.Set("addressdetails", "1")
	q.Set("zoom", "14")
	u := g.baseURL + "?" + q.Encode()
	defer func() { g.logCall(ctx, "REVERSE_GEOCODE", u, name, err) }()

	body, err := g.get(ctx, u)
	if err != nil {
		return "", err
	}
	var res nominatimResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", &ToolError{Code: CodeParseError, Err: err}
	}
	if res.Error != "" {
		return "", &ToolError{Code: CodeNotFound}
	}
	return describePlace(res), nil
}

func describePlace(res nominatimResponse) string {
	a := res.Address
	var parts []string
	if p := firstNonEmpty(a.Village, a.Town, a.City); p != "" {
		parts = append(parts, p)
	}
	if p := firstNonEmpty(a.State, a.Region); p != "" {
		parts = append(parts, p)
	}
	if a.Country != "" {
		parts = append(parts, a.Country)
	}

	name := res.DisplayName
	if len(parts) > 0 {
		name = strings.Join(parts, ", ")
	}

	var near []string
	for _, f := range []string{a.Peak, a.Water, a.Natural} {
		if f != "" {
			near = append(near, "near "+f)
		}
	}
	if len(near) > 0 {
		name += " (" + strings.Join(near, ", ") + ")"
	}
	return name
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func formatDegrees(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
