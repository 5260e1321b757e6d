package weather

import (
	"math"
	"time"
)

var compassPoints = [16]string{
	"N", "NNE", "NE", "ENE",
	"E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW",
	"W", "WNW", "NW", "NNW",
}

// CompassDirection maps a bearing in degrees to one of 16 compass labels.
// Any finite input is accepted; bearings are normalized into [0, 360).
func CompassDirection(deg float64) string {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return compassPoints[0]
	}
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	idx := int(math.Round(deg/22.5)) % 16
	return compassPoints[idx]
}

// Normalize rounds a provider reading into an Observation.
func Normalize(r Reading, mode Mode) Observation {
	obs := Observation{
		TemperatureC:  int(math.Round(r.TemperatureC)),
		FeelsLikeC:    int(math.Round(r.FeelsLikeC)),
		Condition:     r.Condition,
		HumidityPct:   int(math.Round(r.HumidityPct)),
		WindSpeedMS:   math.Round(r.WindSpeedMS*10) / 10,
		WindDirection: CompassDirection(r.WindDeg),
		PressureHpa:   int(math.Round(r.PressureHpa)),
		Source:        r.ProviderName,
		Mode:          mode,
		ObservedAt:    r.Timestamp.UTC(),
	}

	if r.VisibilityM != nil {
		km := int(math.Round(*r.VisibilityM / 1000))
		obs.VisibilityKm = &km
	}
	if r.UVIndex != nil {
		uv := math.Round(*r.UVIndex*10) / 10
		obs.UVIndex = &uv
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = time.Now().UTC()
	}

	return obs
}
