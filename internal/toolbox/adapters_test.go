package toolbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"satcom-gateway/internal/domain"
)

func serve(t *testing.T, status int, body string, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var te *ToolError
	require.ErrorAs(t, err, &te)
	require.Equal(t, code, te.Code)
}

// ---------------------------------------------------------------------------
// Wikipedia
// ---------------------------------------------------------------------------

func TestWikipedia_Summary(t *testing.T) {
	var gotPath, gotUA string
	srv := serve(t, http.StatusOK, `{"type":"standard","extract":"Snakebite is an injury caused by the bite of a snake."}`, func(r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotUA = r.Header.Get("User-Agent")
	})

	w := NewWikipedia(WithBaseURL(srv.URL + "/"))
	got, err := w.Summary(context.Background(), " snake bite ")
	require.NoError(t, err)
	require.Equal(t, "Snakebite is an injury caused by the bite of a snake.", got)
	require.Equal(t, "/snake%20bite", gotPath)
	require.Equal(t, DefaultUserAgent, gotUA)
}

func TestWikipedia_CapsExtract(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"type":"standard","extract":"`+strings.Repeat("a", 600)+`"}`, nil)
	got, err := NewWikipedia(WithBaseURL(srv.URL)).Summary(context.Background(), "x")
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("a", 500)+"...", got)
}

func TestWikipedia_Failures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		code   string
	}{
		{"missing page", http.StatusNotFound, `{}`, CodeNotFound},
		{"server error", http.StatusBadGateway, ``, "HTTP_502"},
		{"disambiguation", http.StatusOK, `{"type":"disambiguation","extract":"may refer to"}`, CodeDisambiguation},
		{"bad json", http.StatusOK, `{`, CodeParseError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := serve(t, tc.status, tc.body, nil)
			_, err := NewWikipedia(WithBaseURL(srv.URL)).Summary(context.Background(), "Mercury")
			requireCode(t, err, tc.code)
		})
	}
}

func TestWikipedia_TransportError(t *testing.T) {
	srv := serve(t, http.StatusOK, `{}`, nil)
	srv.Close()
	_, err := NewWikipedia(WithBaseURL(srv.URL)).Summary(context.Background(), "x")
	requireCode(t, err, CodeException)
	require.True(t, strings.HasPrefix(reasonOf(err), "EXCEPTION:"))
}

// ---------------------------------------------------------------------------
// News
// ---------------------------------------------------------------------------

const newsFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Top stories</title>
<item><title>Storm closes mountain pass - Local Herald</title></item>
<item><title>Markets rally after rate decision - Wire Service</title></item>
<item><title>` + "A very long headline that keeps going well past the eighty character limit for devices" + ` - Daily</title></item>
<item><title>Fourth story</title></item>
<item><title>Fifth story - Src</title></item>
<item><title>Sixth story - Src</title></item>
</channel></rss>`

func TestNews_Headlines(t *testing.T) {
	srv := serve(t, http.StatusOK, newsFeed, nil)
	got, err := NewNews(WithBaseURL(srv.URL)).Headlines(context.Background())
	require.NoError(t, err)

	lines := strings.Split(got, "\n")
	require.Len(t, lines, 5)
	require.Equal(t, "• Storm closes mountain pass", lines[0])
	require.Equal(t, "• Markets rally after rate decision", lines[1])
	require.Equal(t, "• "+"A very long headline that keeps going well past the eighty character limit fo...", lines[2])
	require.Equal(t, "• Fourth story", lines[3])
	require.Equal(t, "• Fifth story", lines[4])
}

func TestNews_Failures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		code   string
	}{
		{"status", http.StatusServiceUnavailable, ``, "HTTP_503"},
		{"no channel", http.StatusOK, `<rss version="2.0"></rss>`, CodeInvalidRSS},
		{"no items", http.StatusOK, `<rss><channel><title>x</title></channel></rss>`, CodeNoHeadlines},
		{"not xml", http.StatusOK, `<<<`, CodeParseError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := serve(t, tc.status, tc.body, nil)
			_, err := NewNews(WithBaseURL(srv.URL)).Headlines(context.Background())
			requireCode(t, err, tc.code)
		})
	}
}

// ---------------------------------------------------------------------------
// Geocoder
// ---------------------------------------------------------------------------

func TestGeocoder_Reverse(t *testing.T) {
	var query map[string][]string
	srv := serve(t, http.StatusOK, `{"display_name":"long name","address":{"village":"Rhododendron","state":"Oregon","country":"United States","peak":"Mount Hood"}}`, func(r *http.Request) {
		query = r.URL.Query()
	})

	got, err := NewGeocoder(WithBaseURL(srv.URL)).Reverse(context.Background(), domain.Coordinates{Lat: 45.344227, Lon: -122.236868})
	require.NoError(t, err)
	require.Equal(t, "Rhododendron, Oregon, United States (near Mount Hood)", got)
	require.Equal(t, []string{"45.344227"}, query["lat"])
	require.Equal(t, []string{"-122.236868"}, query["lon"])
	require.Equal(t, []string{"14"}, query["zoom"])
	require.Equal(t, []string{"json"}, query["format"])
}

func TestGeocoder_DisplayNameFallback(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"display_name":"Pacific Ocean","address":{}}`, nil)
	got, err := NewGeocoder(WithBaseURL(srv.URL)).Reverse(context.Background(), domain.Coordinates{Lat: 0.5, Lon: -150})
	require.NoError(t, err)
	require.Equal(t, "Pacific Ocean", got)
}

func TestGeocoder_NotFound(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"error":"Unable to geocode"}`, nil)
	_, err := NewGeocoder(WithBaseURL(srv.URL)).Reverse(context.Background(), domain.Coordinates{})
	requireCode(t, err, CodeNotFound)
}

// ---------------------------------------------------------------------------
// Weather
// ---------------------------------------------------------------------------

const wttrBody = `{
"current_condition":[{"temp_C":"7","windspeedKmph":"22","humidity":"81","weatherDesc":[{"value":"Light rain"}]}],
"weather":[
 {"date":"2026-10-19","maxtempC":"9","mintempC":"3","hourly":[
   {"chanceofrain":"10","weatherDesc":[{"value":"Cloudy"}]},
   {"chanceofrain":"20","weatherDesc":[{"value":"Cloudy"}]},
   {"chanceofrain":"85","weatherDesc":[{"value":"Rain"}]},
   {"chanceofrain":"40","weatherDesc":[{"value":"Rain"}]},
   {"chanceofrain":"30","weatherDesc":[{"value":"Showers"}]}],
  "astronomy":[{"sunrise":"07:31 AM","sunset":"06:21 PM"}]},
 {"date":"2026-10-20","maxtempC":"11","mintempC":"4","hourly":[{"chanceofrain":"5","weatherDesc":[{"value":"Sunny"}]}],
  "astronomy":[{"sunrise":"07:32 AM","sunset":"06:19 PM"}]},
 {"date":"2026-10-21","maxtempC":"12","mintempC":"5","hourly":[],"astronomy":[{"sunrise":"07:34 AM","sunset":"06:17 PM"}]},
 {"date":"2026-10-22","maxtempC":"13","mintempC":"6","hourly":[]}
]}`

func TestWeather_Forecast(t *testing.T) {
	var gotPath, gotQuery string
	srv := serve(t, http.StatusOK, wttrBody, func(r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
	})

	f, err := NewWeather(WithBaseURL(srv.URL)).Forecast(context.Background(), domain.Coordinates{Lat: 45.3, Lon: -122.2}, true)
	require.NoError(t, err)
	require.Equal(t, "/45.3,-122.2", gotPath)
	require.Equal(t, "format=j1", gotQuery)
	require.Equal(t, strings.Join([]string{
		"NOW: 7°C, Light rain, Wind 22km/h, Humidity 81%",
		"Today: 3°-9°C, Showers, 85% rain",
		"Tomorrow: 4°-11°C, Sunny, 5% rain",
		"2026-10-21: 5°-12°C, Clear, 0% rain",
	}, "\n"), f.Summary)
	require.Equal(t, "Today: Sunrise 07:31 AM, Sunset 06:21 PM\nTomorrow: Sunrise 07:32 AM, Sunset 06:19 PM", f.Astronomy)
	require.Contains(t, f.Indented(), "\n  \"current_condition\": [")
}

func TestWeather_NoAstronomyUnlessAsked(t *testing.T) {
	srv := serve(t, http.StatusOK, wttrBody, nil)
	f, err := NewWeather(WithBaseURL(srv.URL)).Forecast(context.Background(), domain.Coordinates{Lat: 1, Lon: 2}, false)
	require.NoError(t, err)
	require.Empty(t, f.Astronomy)
}

func TestWeather_Unavailable(t *testing.T) {
	srv := serve(t, http.StatusServiceUnavailable, `busy`, nil)
	_, err := NewWeather(WithBaseURL(srv.URL)).Forecast(context.Background(), domain.Coordinates{Lat: 1, Lon: 2}, false)
	requireCode(t, err, "HTTP_503")
	require.Equal(t, "HTTP_503", reasonOf(err))
}

// ---------------------------------------------------------------------------
// Disasters
// ---------------------------------------------------------------------------

const gdacsBody = `<?xml version="1.0"?>
<rss xmlns:gdacs="http://www.gdacs.org" xmlns:geo="http://www.w3.org/2003/01/geo/wgs84_pos#"><channel>
<item><title>Green earthquake nearby</title><gdacs:alertlevel>Green</gdacs:alertlevel><gdacs:eventtype>EQ</gdacs:eventtype>
 <geo:Point><geo:lat>45.4</geo:lat><geo:long>-122.3</geo:long></geo:Point></item>
<item><title>Orange flood upstream</title><gdacs:alertlevel>Orange</gdacs:alertlevel><gdacs:eventtype>FL</gdacs:eventtype>
 <geo:Point><geo:lat>46.0</geo:lat><geo:long>-122.0</geo:long></geo:Point></item>
<item><title>Red volcano close</title><gdacs:alertlevel>Red</gdacs:alertlevel><gdacs:eventtype>VO</gdacs:eventtype>
 <geo:Point><geo:lat>45.37</geo:lat><geo:long>-121.70</geo:long></geo:Point></item>
<item><title>Red cyclone far away</title><gdacs:alertlevel>Red</gdacs:alertlevel><gdacs:eventtype>TC</gdacs:eventtype>
 <geo:Point><geo:lat>15.0</geo:lat><geo:long>140.0</geo:long></geo:Point></item>
<item><title>No position</title><gdacs:alertlevel>Red</gdacs:alertlevel></item>
</channel></rss>`

func TestDisasters_Nearby(t *testing.T) {
	srv := serve(t, http.StatusOK, gdacsBody, nil)
	got, err := NewDisasters(WithBaseURL(srv.URL)).Nearby(context.Background(), domain.Coordinates{Lat: 45.344227, Lon: -122.236868})
	require.NoError(t, err)

	lines := strings.Split(got, "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "⚠️ RED VO: "), lines[0])
	require.True(t, strings.HasSuffix(lines[0], "km away - Red volcano close"), lines[0])
	require.True(t, strings.HasPrefix(lines[1], "⚠️ ORANGE FL: "), lines[1])
}

func TestDisasters_NoneNearby(t *testing.T) {
	srv := serve(t, http.StatusOK, gdacsBody, nil)
	got, err := NewDisasters(WithBaseURL(srv.URL)).Nearby(context.Background(), domain.Coordinates{Lat: -33.9, Lon: 18.4})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestHaversineKm(t *testing.T) {
	// One degree of latitude.
	require.InDelta(t, 111.19, haversineKm(0, 0, 1, 0), 0.05)
	require.InDelta(t, 0, haversineKm(45, -122, 45, -122), 1e-9)
}
