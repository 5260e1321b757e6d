package weather

import (
	"context"
	"time"
)

// Reading is a single provider's raw reading, before rounding.
type Reading struct {
	ProviderName string
	Timestamp    time.Time

	TemperatureC float64
	FeelsLikeC   float64
	HumidityPct  float64
	WindSpeedMS  float64
	WindDeg      float64
	PressureHpa  float64
	VisibilityM  *float64
	UVIndex      *float64
	Condition    string
}

// Provider abstracts a weather upstream with a current-conditions query and
// a historical point-in-time ("time machine") query.
type Provider interface {
	Name() string
	Current(ctx context.Context, at Coordinates) (Reading, error)
	TimeMachine(ctx context.Context, at Coordinates, ts time.Time) (Reading, error)
}
