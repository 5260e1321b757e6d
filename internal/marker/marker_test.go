package marker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/i474232898/activity-weather/internal/weather"
)

func londonDrizzle() weather.Observation {
	return weather.Observation{
		TemperatureC:  10,
		FeelsLikeC:    9,
		Condition:     "light rain",
		HumidityPct:   91,
		WindSpeedMS:   2.0,
		WindDirection: "WSW",
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t,
		"Light rain, 10°C, Feels like 9°C, Humidity 91%, Wind 2m/s from WSW",
		Format(londonDrizzle()))

	o := londonDrizzle()
	o.WindSpeedMS = 3.5
	o.TemperatureC = -4
	o.Condition = "Überwiegend bewölkt"
	assert.Equal(t,
		"Überwiegend bewölkt, -4°C, Feels like 9°C, Humidity 91%, Wind 3.5m/s from WSW",
		Format(o))
}

func TestFormatCapitalisesFirstLetterOnly(t *testing.T) {
	o := londonDrizzle()
	o.Condition = "overcast clouds"
	assert.Contains(t, Format(o), "Overcast clouds, ")

	o.Condition = "thunderstorm with RAIN"
	assert.Contains(t, Format(o), "Thunderstorm with RAIN, ")
}

func TestHasWeather(t *testing.T) {
	plain := []string{
		"",
		"Morning run along the canal",
		"Legs felt heavy today.\n\nTempo 3x10min",
		"Humidity was awful",
		"Humidity 80%",
		"Wind was strong",
		"Feels like",
		"4m/s fromage",
	}
	for _, d := range plain {
		assert.False(t, HasWeather(d), "%q", d)
	}

	enriched := []string{
		Format(londonDrizzle()),
		Merge("Easy spin", Format(londonDrizzle())),
		"Sunny, 21°C",
		"Feels like 3°C",
		"Feels like rain",
		"Wind 3m/s from NE",
	}
	for _, d := range enriched {
		assert.True(t, HasWeather(d), "%q", d)
	}
}

func TestHasWeatherDetectsEveryFormattedLine(t *testing.T) {
	conditions := []string{"clear sky", "snow", "mist", "", "broken clouds"}
	for _, c := range conditions {
		for _, wind := range []float64{0, 0.1, 7, 12.3} {
			o := londonDrizzle()
			o.Condition = c
			o.WindSpeedMS = wind
			assert.True(t, HasWeather(Format(o)))
		}
	}
}

func TestMerge(t *testing.T) {
	line := Format(londonDrizzle())

	assert.Equal(t, line, Merge("", line))
	assert.Equal(t, "Recovery ride"+"\n\n"+line, Merge("Recovery ride", line))
	assert.Equal(t, " \n\n"+line, Merge(" ", line))
	assert.Equal(t, "\n\t\n\n"+line, Merge("\n\t", line))
}
