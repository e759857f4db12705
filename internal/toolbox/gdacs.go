package toolbox

import (
	"context"
	"encoding/xml"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"satcom-gateway/internal/domain"
)

const (
	defaultGDACSURL = "https://www.gdacs.org/xml/rss.xml"
	alertRadiusKm   = 500
	maxAlerts       = 3
	maxAlertTitle   = 100
	earthRadiusKm   = 6371.0

	gdacsNS = "http://www.gdacs.org"
	geoNS   = "http://www.w3.org/2003/01/geo/wgs84_pos#"
)

type gdacsFeed struct {
	Channel *struct {
		Items []gdacsItem `xml:"item"`
	} `xml:"channel"`
}

type gdacsItem struct {
	Title      string `xml:"title"`
	AlertLevel string `xml:"http://www.gdacs.org alertlevel"`
	EventType  string `xml:"http://www.gdacs.org eventtype"`
	Point      *struct {
		Lat  string `xml:"http://www.w3.org/2003/01/geo/wgs84_pos# lat"`
		Long string `xml:"http://www.w3.org/2003/01/geo/wgs84_pos# long"`
	} `xml:"http://www.w3.org/2003/01/geo/wgs84_pos# Point"`
}

// alert is one event that passed the level and radius filters.
type alert struct {
	level    string
	kind     string
	title    string
	distance int
}

// Disasters reads the GDACS feed and keeps Orange and Red alerts near the user.
type Disasters struct {
	client
}

func NewDisasters(opts ...Option) *Disasters {
	return &Disasters{client: newClient(defaultGDACSURL, opts)}
}

// Nearby returns up to three alert lines, closest first. An empty string with
// a nil error means nothing significant is within range.
func (d *Disasters) Nearby(ctx context.Context, c domain.Coordinates) (data string, err error) {
	defer func() { d.logCall(ctx, "GDACS", d.baseURL, data, err) }()

	body, err := d.get(ctx, d.baseURL)
	if err != nil {
		return "", err
	}
	var feed gdacsFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return "", &ToolError{Code: CodeParseError, Err: err}
	}
	if feed.Channel == nil {
		return "", &ToolError{Code: CodeInvalidRSS}
	}

	alerts := nearbyAlerts(feed.Channel.Items, c)
	if len(alerts) == 0 {
		return "", nil
	}
	sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].distance < alerts[j].distance })
	if len(alerts) > maxAlerts {
		alerts = alerts[:maxAlerts]
	}

	lines := make([]string, 0, len(alerts))
	for _, a := range alerts {
		lines = append(lines, fmt.Sprintf("⚠️ %s %s: %dkm away - %s", strings.ToUpper(a.level), a.kind, a.distance, a.title))
	}
	return strings.Join(lines, "\n"), nil
}

func nearbyAlerts(items []gdacsItem, c domain.Coordinates) []alert {
	var out []alert
	for _, it := range items {
		if it.Point == nil {
			continue
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(it.Point.Lat), 64)
		if err != nil {
			continue
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(it.Point.Long), 64)
		if err != nil {
			continue
		}

		level := strings.TrimSpace(it.AlertLevel)
		if level == "" {
			level = "Green"
		}
		if level == "Green" {
			continue
		}

		dist := haversineKm(c.Lat, c.Lon, lat, lon)
		if dist > alertRadiusKm {
			continue
		}

		title := strings.TrimSpace(it.Title)
		if title == "" {
			title = "Unknown event"
		}
		kind := strings.TrimSpace(it.EventType)
		if kind == "" {
			kind = "??"
		}
		out = append(out, alert{
			level:    level,
			kind:     kind,
			title:    truncateRunes(title, maxAlertTitle),
			distance: int(math.Round(dist)),
		})
	}
	return out
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
