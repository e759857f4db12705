// Package toolbox gathers situational context for a prompt: reference
// lookups, headlines, and position-based weather, place and disaster data.
// Failed lookups still produce a labeled block so the model can say the
// data is missing instead of inventing it.
package toolbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"satcom-gateway/internal/domain"
	"satcom-gateway/internal/logging"
)

// ReferenceLookup answers explicit WIKI requests.
type ReferenceLookup interface {
	Summary(ctx context.Context, term string) (string, error)
}

type HeadlineSource interface {
	Headlines(ctx context.Context) (string, error)
}

type ReverseGeocoder interface {
	Reverse(ctx context.Context, c domain.Coordinates) (string, error)
}

type WeatherSource interface {
	Forecast(ctx context.Context, c domain.Coordinates, withAstronomy bool) (Forecast, error)
}

// AlertSource returns nearby alert lines, or "" when there are none.
type AlertSource interface {
	Nearby(ctx context.Context, c domain.Coordinates) (string, error)
}

// Tools bundles the adapters a Toolbox dispatches to.
type Tools struct {
	Reference ReferenceLookup
	News      HeadlineSource
	Geocoder  ReverseGeocoder
	Weather   WeatherSource
	Alerts    AlertSource
}

// Result is the gathered context. Context is the blocks joined by blank lines.
type Result struct {
	Context      string
	Blocks       []domain.ToolContextBlock
	FailedLabels []string
}

var (
	wikiTrigger        = regexp.MustCompile(`(?i)^WIKI\s+(.+)`)
	newsTrigger        = keywordPattern("NEWS", "HEADLINE", "HEADLINES", "CURRENT EVENTS")
	weatherTrigger     = keywordPattern("WEATHER", "FORECAST", "RAIN", "STORM")
	astronomyTrigger   = keywordPattern("SUNRISE", "SUNSET", "MOON", "LIGHT", "DAYLIGHT", "DARK", "NIGHT", "SUN")
	fullWeatherTrigger = keywordPattern("FULL-WEATHER", "FULL_WEATHER", "FULL WEATHER")
	disasterTrigger    = keywordPattern("DISASTERS", "DISASTER", "EARTHQUAKE", "FLOOD", "CYCLONE", "TSUNAMI", "VOLCANO", "ALERT", "EMERGENCY")
	placeTrigger       = keywordPattern("ADDRESS", "PLACE", "WHERE", "WHEREAM I", "WHERE AM I")
)

func keywordPattern(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
}

const fullWeatherPreamble = `Complete weather API response for AI analysis.
Available data includes:
- Current conditions (temp, feels-like, humidity, wind, precipitation, pressure, visibility, UV index, weather description)
- 3-day forecast (daily highs/lows, hourly conditions, rain/snow chances)
- Astronomy (sunrise, sunset, moonrise, moonset, moon phase, moon illumination)
- Nearest location info`

type Toolbox struct {
	tools  Tools
	logger *slog.Logger
}

func New(tools Tools, logger *slog.Logger) (*Toolbox, error) {
	switch {
	case tools.Reference == nil:
		return nil, errors.New("toolbox: reference lookup must not be nil")
	case tools.News == nil:
		return nil, errors.New("toolbox: news source must not be nil")
	case tools.Geocoder == nil:
		return nil, errors.New("toolbox: geocoder must not be nil")
	case tools.Weather == nil:
		return nil, errors.New("toolbox: weather source must not be nil")
	case tools.Alerts == nil:
		return nil, errors.New("toolbox: alert source must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolbox{tools: tools, logger: logger}, nil
}

// gathering accumulates blocks and failures for one prompt.
type gathering struct {
	blocks   []domain.ToolContextBlock
	failures []string
	labels   []string
}

func (g *gathering) add(label, text string) {
	g.blocks = append(g.blocks, domain.ToolContextBlock{Label: label, Text: text})
}

func (g *gathering) fail(label, header string, err error, reason string) {
	g.blocks = append(g.blocks, domain.ToolContextBlock{
		Label:  label,
		Text:   header + " NOT AVAILABLE - " + reason,
		Failed: true,
	})
	g.labels = append(g.labels, label)
	g.failures = append(g.failures, fmt.Sprintf("%s: FAILED (%s)", label, codeOf(err)))
}

// unavailable records a block for a tool that could not run at all. It is
// not a tool failure and does not join the failure summary.
func (g *gathering) unavailable(label, text string) {
	g.blocks = append(g.blocks, domain.ToolContextBlock{Label: label, Text: text, Failed: true})
}

// Gather runs every tool the prompt triggers, in a fixed order, and never
// fails: lookup errors become NOT AVAILABLE blocks.
func (t *Toolbox) Gather(ctx context.Context, prompt string, coords *domain.Coordinates) Result {
	logger := logging.From(ctx, t.logger)
	upper := strings.ToUpper(prompt)
	var g gathering

	if m := wikiTrigger.FindStringSubmatch(strings.TrimSpace(prompt)); m != nil {
		term := strings.TrimSpace(m[1])
		header := "[WIKIPEDIA: " + term + "]"
		if data, err := t.tools.Reference.Summary(ctx, term); err != nil {
			g.fail("WIKI", header, err, reasonOf(err))
		} else {
			g.add("WIKI", header+"\n"+data)
		}
	}

	if newsTrigger.MatchString(upper) {
		if data, err := t.tools.News.Headlines(ctx); err != nil {
			g.fail("NEWS", "[NEWS]", err, "tool error")
		} else {
			g.add("NEWS", "[NEWS HEADLINES]\n"+data)
		}
	}

	wantPlace := placeTrigger.MatchString(upper)
	wantWeather := weatherTrigger.MatchString(upper)
	wantAstro := astronomyTrigger.MatchString(upper)
	wantFull := fullWeatherTrigger.MatchString(upper)
	wantAlerts := disasterTrigger.MatchString(upper)

	if coords == nil {
		if wantPlace {
			g.unavailable("REVERSE_GEOCODE", `[LOCATION NAME] NOT AVAILABLE - no GPS coordinates. Enable "Send Location" in Garmin message settings.`)
		}
		if wantWeather {
			g.unavailable("WEATHER", "[WEATHER] NOT AVAILABLE - no GPS coordinates. Try: SEARCH weather [your location]")
		}
		if wantAstro {
			g.unavailable("ASTRO", "[ASTRONOMY] NOT AVAILABLE - no GPS coordinates. Include coords or try: SEARCH sunrise [location]")
		}
		if wantFull {
			g.unavailable("FULL_WEATHER", `[FULL WEATHER DATA] NOT AVAILABLE - no GPS coordinates. Enable "Send Location" in Garmin message settings.`)
		}
		if wantAlerts {
			g.unavailable("GDACS", "[DISASTER ALERTS] NOT AVAILABLE - no GPS coordinates in message")
		}
		return t.finish(logger, &g)
	}

	c := *coords
	g.add("LOCATION", fmt.Sprintf("[LOCATION]\nCoordinates: %s, %s", formatDegrees(c.Lat), formatDegrees(c.Lon)))

	if wantPlace {
		if name, err := t.tools.Geocoder.Reverse(ctx, c); err != nil {
			g.fail("REVERSE_GEOCODE", "[LOCATION NAME]", err, reasonOf(err))
		} else {
			g.add("REVERSE_GEOCODE", "[LOCATION NAME]\n"+name)
		}
	}

	if wantWeather || wantAstro || wantFull {
		t.gatherWeather(ctx, &g, c, wantWeather, wantAstro, wantFull)
	}

	if wantAlerts {
		data, err := t.tools.Alerts.Nearby(ctx, c)
		switch {
		case err != nil:
			g.fail("GDACS", "[DISASTER ALERTS]", err, "tool error")
		case data == "":
			g.add("GDACS", "[DISASTER ALERTS]\nNo significant alerts within 500km of your location.")
		default:
			g.add("GDACS", "[DISASTER ALERTS]\n"+data)
		}
	}

	return t.finish(logger, &g)
}

// gatherWeather makes one forecast call for the weather, astronomy and full
// weather triggers. Full weather replaces the summaries when it fires.
func (t *Toolbox) gatherWeather(ctx context.Context, g *gathering, c domain.Coordinates, weather, astro, full bool) {
	f, err := t.tools.Weather.Forecast(ctx, c, astro || full)
	if err != nil {
		reason := reasonOf(err)
		if full {
			g.fail("FULL_WEATHER", "[FULL WEATHER DATA]", err, reason)
			return
		}
		if weather {
			g.fail("WEATHER", "[WEATHER]", err, reason)
		}
		if astro {
			g.fail("ASTRO", "[ASTRONOMY]", err, reason)
		}
		return
	}

	if full && len(f.Raw) > 0 {
		g.add("FULL_WEATHER", "[FULL WEATHER DATA]\n"+fullWeatherPreamble+"\n\nRaw JSON:\n"+f.Indented())
		return
	}
	if weather && f.Summary != "" {
		g.add("WEATHER", "[WEATHER FORECAST]\n"+f.Summary)
	}
	if astro && f.Astronomy != "" {
		g.add("ASTRO", "[ASTRONOMY]\n"+f.Astronomy)
	}
}

func (t *Toolbox) finish(logger *slog.Logger, g *gathering) Result {
	if len(g.failures) > 0 {
		g.blocks = append(g.blocks, domain.ToolContextBlock{
			Label: "TOOL_FAILURES",
			Text: "[TOOL FAILURES]\nThe following tools failed and have NO DATA: " + strings.Join(g.failures, ", ") +
				"\nDo NOT make up or guess this information - tell user the tool failed.",
		})
	}

	texts := make([]string, len(g.blocks))
	for i, b := range g.blocks {
		texts[i] = b.Text
	}
	logger.Info("toolbox gathered", "blocks", len(g.blocks), "failed", g.labels)
	return Result{
		Context:      strings.Join(texts, "\n\n"),
		Blocks:       g.blocks,
		FailedLabels: g.labels,
	}
}
