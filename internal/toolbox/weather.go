package toolbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"satcom-gateway/internal/domain"
)

const (
	defaultWeatherURL = "https://wttr.in"
	forecastDays      = 3
	astronomyDays     = 2
	middayHourIndex   = 4
)

type wttrValue struct {
	Value string `json:"value"`
}

type wttrResponse struct {
	CurrentCondition []struct {
		TempC         string      `json:"temp_C"`
		WindspeedKmph string      `json:"windspeedKmph"`
		Humidity      string      `json:"humidity"`
		WeatherDesc   []wttrValue `json:"weatherDesc"`
	} `json:"current_condition"`
	Weather []struct {
		Date     string `json:"date"`
		MaxTempC string `json:"maxtempC"`
		MinTempC string `json:"mintempC"`
		Hourly   []struct {
			ChanceOfRain string      `json:"chanceofrain"`
			WeatherDesc  []wttrValue `json:"weatherDesc"`
		} `json:"hourly"`
		Astronomy []struct {
			Sunrise string `json:"sunrise"`
			Sunset  string `json:"sunset"`
		} `json:"astronomy"`
	} `json:"weather"`
}

// Forecast is one weather lookup. Astronomy is empty unless requested, and
// Raw keeps the full upstream document for the FULL-WEATHER block.
type Forecast struct {
	Summary   string
	Astronomy string
	Raw       json.RawMessage
}

// Weather reads forecasts and sunrise/sunset times from wttr.in.
type Weather struct {
	client
}

func NewWeather(opts ...Option) *Weather {
	return &Weather{client: newClient(defaultWeatherURL, opts)}
}

// Forecast returns current conditions plus three days of outlook.
func (w *Weather) Forecast(ctx context.Context, c domain.Coordinates, withAstronomy bool) (f Forecast, err error) {
	u := w.baseURL + "/" + formatDegrees(c.Lat) + "," + formatDegrees(c.Lon) + "?format=j1"
	defer func() { w.logCall(ctx, "WEATHER", u, f.Summary, err) }()

	body, err := w.get(ctx, u)
	if err != nil {
		return Forecast{}, err
	}
	var res wttrResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return Forecast{}, &ToolError{Code: CodeParseError, Err: err}
	}

	var lines, astro []string
	if len(res.CurrentCondition) > 0 {
		cur := res.CurrentCondition[0]
		lines = append(lines, fmt.Sprintf("NOW: %s°C, %s, Wind %skm/h, Humidity %s%%",
			cur.TempC, describe(cur.WeatherDesc, "Unknown"), cur.WindspeedKmph, cur.Humidity))
	}
	for i, day := range res.Weather {
		if i == forecastDays {
			break
		}
		label := day.Date
		switch i {
		case 0:
			label = "Today"
		case 1:
			label = "Tomorrow"
		}

		desc := "Clear"
		rain := 0
		if len(day.Hourly) > 0 {
			midday := day.Hourly[0]
			if len(day.Hourly) > middayHourIndex {
				midday = day.Hourly[middayHourIndex]
			}
			desc = describe(midday.WeatherDesc, "Unknown")
			for _, h := range day.Hourly {
				if n, _ := strconv.Atoi(strings.TrimSpace(h.ChanceOfRain)); n > rain {
					rain = n
				}
			}
		}
		lines = append(lines, fmt.Sprintf("%s: %s°-%s°C, %s, %d%% rain", label, day.MinTempC, day.MaxTempC, desc, rain))

		if withAstronomy && i < astronomyDays && len(day.Astronomy) > 0 {
			a := day.Astronomy[0]
			astro = append(astro, fmt.Sprintf("%s: Sunrise %s, Sunset %s", label, a.Sunrise, a.Sunset))
		}
	}

	return Forecast{
		Summary:   strings.Join(lines, "\n"),
		Astronomy: strings.Join(astro, "\n"),
		Raw:       json.RawMessage(body),
	}, nil
}

// Indented renders the raw document with two-space indentation.
func (f Forecast) Indented() string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, f.Raw, "", "  "); err != nil {
		return string(f.Raw)
	}
	return buf.String()
}

func describe(vals []wttrValue, fallback string) string {
	if len(vals) == 0 {
		return fallback
	}
	return vals[0].Value
}
