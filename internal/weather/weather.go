// Package weather backs the agent's get_weather tool with the Open-Meteo
// geocoding and forecast APIs.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultGeocodeURL  = "https://geocoding-api.open-meteo.com/v1/search"
	defaultForecastURL = "https://api.open-meteo.com/v1/forecast"
)

var weatherCodes = map[int]string{
	0: "Clear sky", 1: "Mainly clear", 2: "Partly cloudy", 3: "Overcast",
	45: "Fog", 48: "Depositing rime fog",
	51: "Light drizzle", 53: "Moderate drizzle", 55: "Dense drizzle",
	61: "Slight rain", 63: "Moderate rain", 65: "Heavy rain",
	71: "Slight snow", 73: "Moderate snow", 75: "Heavy snow",
	80: "Slight rain showers", 81: "Moderate rain showers", 82: "Violent rain showers",
	95: "Thunderstorm", 96: "Thunderstorm with hail", 99: "Thunderstorm with heavy hail",
}

// Client fetches current conditions for a city.
type Client struct {
	geocodeURL  string
	forecastURL string
	http        *http.Client
}

// NewClient creates a weather client.
func NewClient() *Client {
	return &Client{
		geocodeURL:  defaultGeocodeURL,
		forecastURL: defaultForecastURL,
		http:        &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBaseURLs overrides both API endpoints. Used by tests.
func (c *Client) WithBaseURLs(geocodeURL, forecastURL string) *Client {
	c.geocodeURL = geocodeURL
	c.forecastURL = forecastURL
	return c
}

type location struct {
	Name      string  `json:"name"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// CurrentByCity resolves a city name and returns a one-line description
// of the current weather. Lookup failures are returned as readable text
// rather than errors so the agent can relay them to the user.
func (c *Client) CurrentByCity(ctx context.Context, city string) (string, error) {
	loc, err := c.geocode(ctx, city)
	if err != nil {
		return "", err
	}
	if loc == nil {
		return fmt.Sprintf("Could not find location: %s", city), nil
	}

	conditions, err := c.current(ctx, loc.Latitude, loc.Longitude)
	if err != nil {
		return "", err
	}

	if loc.Country != "" {
		return fmt.Sprintf("%s, %s: %s", loc.Name, loc.Country, conditions), nil
	}
	return fmt.Sprintf("%s: %s", loc.Name, conditions), nil
}

func (c *Client) geocode(ctx context.Context, city string) (*location, error) {
	q := url.Values{}
	q.Set("name", city)
	q.Set("count", "1")

	var resp struct {
		Results []location `json:"results"`
	}
	if err := c.get(ctx, c.geocodeURL+"?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return &resp.Results[0], nil
}

func (c *Client) current(ctx context.Context, lat, lon float64) (string, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%g", lat))
	q.Set("longitude", fmt.Sprintf("%g", lon))
	q.Set("current", "temperature_2m,apparent_temperature,relative_humidity_2m,weather_code,wind_speed_10m")
	q.Set("timezone", "auto")

	var resp struct {
		Current struct {
			Temperature float64 `json:"temperature_2m"`
			FeelsLike   float64 `json:"apparent_temperature"`
			Humidity    float64 `json:"relative_humidity_2m"`
			WeatherCode int     `json:"weather_code"`
			WindSpeed   float64 `json:"wind_speed_10m"`
		} `json:"current"`
	}
	if err := c.get(ctx, c.forecastURL+"?"+q.Encode(), &resp); err != nil {
		return "", err
	}

	desc, ok := weatherCodes[resp.Current.WeatherCode]
	if !ok {
		desc = "Unknown"
	}
	return fmt.Sprintf("%s. %.1f°C (feels like %.1f°C). Humidity %.0f%%, wind %.1f km/h.",
		desc, resp.Current.Temperature, resp.Current.FeelsLike,
		resp.Current.Humidity, resp.Current.WindSpeed), nil
}

func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("weather: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("weather: network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("weather: HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
