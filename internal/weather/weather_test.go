package weather

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCurrentByCity(t *testing.T) {
	geocode := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Oslo", r.URL.Query().Get("name"))
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{
				"name":      "Oslo",
				"country":   "Norway",
				"latitude":  59.91,
				"longitude": 10.75,
			}},
		})
	}))
	defer geocode.Close()

	forecast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "59.91", r.URL.Query().Get("latitude"))
		json.NewEncoder(w).Encode(map[string]any{
			"current": map[string]any{
				"temperature_2m":       12.3,
				"apparent_temperature": 10.1,
				"relative_humidity_2m": 64.0,
				"weather_code":         0,
				"wind_speed_10m":       5.4,
			},
		})
	}))
	defer forecast.Close()

	c := NewClient().WithBaseURLs(geocode.URL, forecast.URL)
	report, err := c.CurrentByCity(context.Background(), "Oslo")
	require.NoError(t, err)
	require.Equal(t, "Oslo, Norway: Clear sky. 12.3°C (feels like 10.1°C). Humidity 64%, wind 5.4 km/h.", report)
}

func TestCurrentByCityUnknownLocation(t *testing.T) {
	geocode := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
	}))
	defer geocode.Close()

	c := NewClient().WithBaseURLs(geocode.URL, "http://unused.invalid")
	report, err := c.CurrentByCity(context.Background(), "Xyzzy")
	require.NoError(t, err)
	require.Equal(t, "Could not find location: Xyzzy", report)
}

func TestCurrentByCityUpstreamError(t *testing.T) {
	geocode := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer geocode.Close()

	c := NewClient().WithBaseURLs(geocode.URL, "http://unused.invalid")
	_, err := c.CurrentByCity(context.Background(), "Oslo")
	require.Error(t, err)
}
