// Package marker renders weather observations into activity descriptions and
// detects descriptions that already carry one.
//
// Detection is a substring heuristic over the rendered format. If Format ever
// changes, the signatures below must keep matching both the old and the new
// output or duplicate events will append a second weather line.
package marker

import (
	"fmt"
	"strconv"

	"github.com/i474232898/activity-weather/internal/common"
	"github.com/i474232898/activity-weather/internal/weather"
)

// Separator joins an existing description and the weather line.
const Separator = "\n\n"

var signatures = []string{
	"°C",
	"Feels like ",
	"m/s from ",
}

// HasWeather reports whether description already contains a weather line.
func HasWeather(description string) bool {
	return common.HasAny(description, signatures...)
}

// Format renders an observation as a single human-readable line, e.g.
// "Light rain, 10°C, Feels like 9°C, Humidity 91%, Wind 2m/s from WSW".
func Format(o weather.Observation) string {
	return fmt.Sprintf("%s, %d°C, Feels like %d°C, Humidity %d%%, Wind %sm/s from %s",
		common.UpperFirst(o.Condition),
		o.TemperatureC,
		o.FeelsLikeC,
		o.HumidityPct,
		strconv.FormatFloat(o.WindSpeedMS, 'f', -1, 64),
		o.WindDirection,
	)
}

// Merge appends line to existing. Previously written lines are never edited.
func Merge(existing, line string) string {
	if existing == "" {
		return line
	}
	return existing + Separator + line
}
