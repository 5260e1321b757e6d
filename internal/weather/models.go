package weather

import (
	"time"
)

// Coordinates is a WGS84 latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Mode selects which upstream query answers a lookup.
type Mode string

const (
	// ModeNone means the timestamp is outside every supported window.
	ModeNone        Mode = "none"
	ModeCurrent     Mode = "current"
	ModeTimeMachine Mode = "timemachine"
)

// Observation is the normalized weather at an activity's start.
// Visibility and UV index are nil when the upstream does not report them.
type Observation struct {
	TemperatureC  int      `json:"temperatureC"`
	FeelsLikeC    int      `json:"feelsLikeC"`
	Condition     string   `json:"condition"`
	HumidityPct   int      `json:"humidityPct"`
	WindSpeedMS   float64  `json:"windSpeedMs"`
	WindDirection string   `json:"windDirection"`
	PressureHpa   int      `json:"pressureHpa"`
	VisibilityKm  *int     `json:"visibilityKm,omitempty"`
	UVIndex       *float64 `json:"uvIndex,omitempty"`

	Source     string    `json:"source"`
	Mode       Mode      `json:"mode"`
	ObservedAt time.Time `json:"observedAt"` // always UTC
}
