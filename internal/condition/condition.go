// Package condition maps WMO weather interpretation codes, as reported by Open-Meteo,
// onto the condition vocabulary used by cached records and the UI icon set.
package condition

import "github.com/kjstillabower/weather-cache-service/internal/models"

type entry struct {
	main, description  string
	iconDay, iconNight string
}

// codes covers every WMO code Open-Meteo documents for weather_code.
var codes = map[int]entry{
	0:  {"Clear", "clear sky", "01d", "01n"},
	1:  {"Clear", "mainly clear", "01d", "01n"},
	2:  {"Clouds", "partly cloudy", "02d", "02n"},
	3:  {"Clouds", "overcast", "03d", "03n"},
	45: {"Fog", "fog", "50d", "50n"},
	48: {"Fog", "depositing rime fog", "50d", "50n"},
	51: {"Drizzle", "light drizzle", "09d", "09n"},
	53: {"Drizzle", "moderate drizzle", "09d", "09n"},
	55: {"Drizzle", "dense drizzle", "09d", "09n"},
	56: {"Drizzle", "light freezing drizzle", "09d", "09n"},
	57: {"Drizzle", "dense freezing drizzle", "09d", "09n"},
	61: {"Rain", "slight rain", "10d", "10n"},
	63: {"Rain", "moderate rain", "10d", "10n"},
	65: {"Rain", "heavy rain", "10d", "10n"},
	66: {"Rain", "light freezing rain", "13d", "13n"},
	67: {"Rain", "heavy freezing rain", "13d", "13n"},
	71: {"Snow", "slight snow fall", "13d", "13n"},
	73: {"Snow", "moderate snow fall", "13d", "13n"},
	75: {"Snow", "heavy snow fall", "13d", "13n"},
	77: {"Snow", "snow grains", "13d", "13n"},
	80: {"Rain", "slight rain showers", "09d", "09n"},
	81: {"Rain", "moderate rain showers", "09d", "09n"},
	82: {"Rain", "violent rain showers", "09d", "09n"},
	85: {"Snow", "slight snow showers", "13d", "13n"},
	86: {"Snow", "heavy snow showers", "13d", "13n"},
	95: {"Thunderstorm", "thunderstorm", "11d", "11n"},
	96: {"Thunderstorm", "thunderstorm with slight hail", "11d", "11n"},
	99: {"Thunderstorm", "thunderstorm with heavy hail", "11d", "11n"},
}

// DefaultCode is used for any code missing from the table.
const DefaultCode = 0

// Normalize returns the condition triple for a provider code. It never fails:
// unknown codes fall back to DefaultCode ("Clear", "clear sky").
func Normalize(code int, isDaytime bool) models.Condition {
	e, ok := codes[code]
	if !ok {
		e = codes[DefaultCode]
	}
	icon := e.iconNight
	if isDaytime {
		icon = e.iconDay
	}
	return models.Condition{Main: e.main, Description: e.description, IconID: icon}
}

// Known reports whether code has its own table entry.
func Known(code int) bool {
	_, ok := codes[code]
	return ok
}
