package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"souschef/internal/config"
	"souschef/internal/models"
)

// WeatherAgent answers forecast questions from the Open-Meteo API
// directly. It bypasses retrieval entirely.
type WeatherAgent struct {
	geocodeURL  string
	forecastURL string
	httpClient  *http.Client
	roster      *config.AgentConfigStore
}

// NewWeatherAgent creates a weather agent against the public Open-Meteo
// endpoints.
func NewWeatherAgent(roster *config.AgentConfigStore) *WeatherAgent {
	return &WeatherAgent{
		geocodeURL:  "https://geocoding-api.open-meteo.com/v1/search",
		forecastURL: "https://api.open-meteo.com/v1/forecast",
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		roster:      roster,
	}
}

// NewWeatherAgentWithEndpoints is used by tests to point at fakes
func NewWeatherAgentWithEndpoints(geocodeURL, forecastURL string) *WeatherAgent {
	a := NewWeatherAgent(nil)
	a.geocodeURL = geocodeURL
	a.forecastURL = forecastURL
	return a
}

// Type implements Agent
func (a *WeatherAgent) Type() string { return models.AgentWeather }

// NeedsRetrieval implements Agent; weather answers need no documents
// unless the roster overrides that.
func (a *WeatherAgent) NeedsRetrieval() bool {
	if a.roster != nil {
		if spec, ok := a.roster.Agent(models.AgentWeather); ok {
			return spec.NeedsRetrieval
		}
	}
	return false
}

// Process implements Agent
func (a *WeatherAgent) Process(ctx context.Context, req Request) models.AgentResponse {
	location := extractLocation(req.Query)
	if location == "" {
		if req.Session != nil {
			location = req.Session.Preferences["location"]
		}
		if location == "" {
			return models.AgentResponse{
				Content:    "Which city would you like the weather for?",
				Success:    true,
				Confidence: 0.5,
				AgentUsed:  models.AgentWeather,
			}
		}
	}

	place, err := a.geocode(ctx, location)
	if err != nil {
		return a.failure(fmt.Errorf("geocoding %q: %w", location, err))
	}
	current, err := a.forecast(ctx, place.Latitude, place.Longitude)
	if err != nil {
		return a.failure(fmt.Errorf("forecast for %q: %w", place.Name, err))
	}

	return models.AgentResponse{
		Content: fmt.Sprintf("Current weather in %s: %s, %.1f°C, wind %.0f km/h.",
			place.Name, describeWeatherCode(current.WeatherCode), current.Temperature, current.WindSpeed),
		Success:    true,
		Confidence: 0.9,
		AgentUsed:  models.AgentWeather,
		Payload: map[string]any{
			"location":     place.Name,
			"temperature":  current.Temperature,
			"weather_code": current.WeatherCode,
		},
	}
}

// HealthCheck implements Agent with a cheap geocoding probe
func (a *WeatherAgent) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := a.geocode(ctx, "Warsaw")
	return err == nil
}

type geoPlace struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (a *WeatherAgent) geocode(ctx context.Context, location string) (*geoPlace, error) {
	params := url.Values{}
	params.Set("name", location)
	params.Set("count", "1")

	var parsed struct {
		Results []geoPlace `json:"results"`
	}
	if err := a.getJSON(ctx, a.geocodeURL+"?"+params.Encode(), &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Results) == 0 {
		return nil, fmt.Errorf("unknown location")
	}
	return &parsed.Results[0], nil
}

type currentWeather struct {
	Temperature float64 `json:"temperature"`
	WindSpeed   float64 `json:"windspeed"`
	WeatherCode int     `json:"weathercode"`
}

func (a *WeatherAgent) forecast(ctx context.Context, lat, lon float64) (*currentWeather, error) {
	params := url.Values{}
	params.Set("latitude", fmt.Sprintf("%.4f", lat))
	params.Set("longitude", fmt.Sprintf("%.4f", lon))
	params.Set("current_weather", "true")

	var parsed struct {
		CurrentWeather currentWeather `json:"current_weather"`
	}
	if err := a.getJSON(ctx, a.forecastURL+"?"+params.Encode(), &parsed); err != nil {
		return nil, err
	}
	return &parsed.CurrentWeather, nil
}

func (a *WeatherAgent) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *WeatherAgent) failure(err error) models.AgentResponse {
	kind := models.ErrorKindProcessing
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = models.ErrorKindTimeout
	}
	log.Printf("❌ [AGENT] weather failed: %v", err)
	return models.AgentResponse{
		Success:   false,
		AgentUsed: models.AgentWeather,
		ErrorKind: kind,
	}
}

// extractLocation pulls a place name out of phrasings like
// "weather in Warsaw" or "forecast for Gdańsk tomorrow".
func extractLocation(query string) string {
	lower := strings.ToLower(query)
	for _, marker := range []string{" in ", " for ", " at "} {
		idx := strings.LastIndex(lower, marker)
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(query[idx+len(marker):])
		rest = strings.TrimRight(rest, "?!. ")
		// Drop trailing time words: "Warsaw tomorrow" -> "Warsaw"
		if fields := strings.Fields(rest); len(fields) > 0 {
			switch strings.ToLower(fields[len(fields)-1]) {
			case "today", "tomorrow", "now", "tonight":
				fields = fields[:len(fields)-1]
			}
			rest = strings.Join(fields, " ")
		}
		if rest != "" {
			return rest
		}
	}
	return ""
}

// describeWeatherCode maps WMO weather codes to short descriptions
func describeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 3:
		return "partly cloudy"
	case code <= 48:
		return "foggy"
	case code <= 57:
		return "drizzle"
	case code <= 67:
		return "rain"
	case code <= 77:
		return "snow"
	case code <= 82:
		return "rain showers"
	case code <= 86:
		return "snow showers"
	default:
		return "thunderstorm"
	}
}
