package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"

	"github.com/i474232898/activity-weather/internal/resilience"
	"github.com/i474232898/activity-weather/internal/weather"
)

const (
	defaultOpenWeatherBaseURL = "https://api.openweathermap.org"
	currentPath               = "/data/2.5/weather"
	timeMachinePath           = "/data/3.0/onecall/timemachine"
)

// OpenWeatherProvider implements weather.Provider for OpenWeatherMap.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg resilience.HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// Option configures an OpenWeatherProvider.
type Option func(*OpenWeatherProvider)

// WithBaseURL points the provider at another host (tests, proxies).
func WithBaseURL(u string) Option {
	return func(p *OpenWeatherProvider) {
		p.baseURL = u
	}
}

// WithBackoff overrides retry behaviour.
func WithBackoff(b resilience.BackoffConfig) Option {
	return func(p *OpenWeatherProvider) {
		p.httpCfg.Backoff = b
	}
}

func NewOpenWeatherProvider(client *http.Client, apiKey string, opts ...Option) *OpenWeatherProvider {
	p := &OpenWeatherProvider{
		name:    "openweathermap",
		apiKey:  apiKey,
		baseURL: defaultOpenWeatherBaseURL,
		httpCfg: resilience.HTTPClientConfig{
			Client:  client,
			Backoff: resilience.DefaultBackoff(),
		},
		circuit: resilience.NewBreaker("openweather"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

type owCondition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}

// Current queries the current-conditions endpoint.
func (p *OpenWeatherProvider) Current(ctx context.Context, at weather.Coordinates) (weather.Reading, error) {
	var payload struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			Humidity  float64 `json:"humidity"`
			Pressure  float64 `json:"pressure"`
		} `json:"main"`
		Wind struct {
			Speed float64 `json:"speed"`
			Deg   float64 `json:"deg"`
		} `json:"wind"`
		Visibility *float64      `json:"visibility"`
		Weather    []owCondition `json:"weather"`
	}

	if err := p.get(ctx, currentPath, at, nil, &payload); err != nil {
		return weather.Reading{}, err
	}

	return weather.Reading{
		ProviderName: p.name,
		Timestamp:    unixOrNow(payload.Dt),
		TemperatureC: payload.Main.Temp,
		FeelsLikeC:   payload.Main.FeelsLike,
		HumidityPct:  payload.Main.Humidity,
		WindSpeedMS:  payload.Wind.Speed,
		WindDeg:      payload.Wind.Deg,
		PressureHpa:  payload.Main.Pressure,
		VisibilityM:  payload.Visibility,
		Condition:    conditionText(payload.Weather),
	}, nil
}

// TimeMachine queries the historical point-in-time endpoint.
func (p *OpenWeatherProvider) TimeMachine(ctx context.Context, at weather.Coordinates, ts time.Time) (weather.Reading, error) {
	var payload struct {
		Data []struct {
			Dt         int64         `json:"dt"`
			Temp       float64       `json:"temp"`
			FeelsLike  float64       `json:"feels_like"`
			Pressure   float64       `json:"pressure"`
			Humidity   float64       `json:"humidity"`
			UVI        *float64      `json:"uvi"`
			Visibility *float64      `json:"visibility"`
			WindSpeed  float64       `json:"wind_speed"`
			WindDeg    float64       `json:"wind_deg"`
			Weather    []owCondition `json:"weather"`
		} `json:"data"`
	}

	extra := url.Values{}
	extra.Set("dt", strconv.FormatInt(ts.Unix(), 10))

	if err := p.get(ctx, timeMachinePath, at, extra, &payload); err != nil {
		return weather.Reading{}, err
	}
	if len(payload.Data) == 0 {
		return weather.Reading{}, fmt.Errorf("openweather timemachine returned no data points")
	}

	d := payload.Data[0]
	return weather.Reading{
		ProviderName: p.name,
		Timestamp:    unixOrNow(d.Dt),
		TemperatureC: d.Temp,
		FeelsLikeC:   d.FeelsLike,
		HumidityPct:  d.Humidity,
		WindSpeedMS:  d.WindSpeed,
		WindDeg:      d.WindDeg,
		PressureHpa:  d.Pressure,
		VisibilityM:  d.Visibility,
		UVIndex:      d.UVI,
		Condition:    conditionText(d.Weather),
	}, nil
}

func (p *OpenWeatherProvider) get(ctx context.Context, path string, at weather.Coordinates, extra url.Values, out any) error {
	if p.apiKey == "" {
		return fmt.Errorf("openweather api key is not configured")
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("lat", strconv.FormatFloat(at.Lat, 'f', -1, 64))
		values.Set("lon", strconv.FormatFloat(at.Lon, 'f', -1, 64))
		values.Set("appid", p.apiKey)
		values.Set("units", "metric")
		for k, vs := range extra {
			for _, v := range vs {
				values.Add(k, v)
			}
		}

		u := fmt.Sprintf("%s%s?%s", p.baseURL, path, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := resilience.Do(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode openweather response: %w", err)
	}
	return nil
}

// conditionText prefers the free-text description ("light rain") over the
// coarse group name ("Rain").
func conditionText(items []owCondition) string {
	if len(items) == 0 {
		return "unknown"
	}
	if items[0].Description != "" {
		return items[0].Description
	}
	if items[0].Main != "" {
		return items[0].Main
	}
	return "unknown"
}

func unixOrNow(sec int64) time.Time {
	if sec <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}
