package client

import (
	"fmt"
	"math"
	"time"

	"github.com/kjstillabower/weather-cache-service/internal/condition"
	"github.com/kjstillabower/weather-cache-service/internal/models"
)

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}

func parseLocal(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(localLayout, s, loc)
	if err != nil {
		return time.Time{}, malformed("time %q", s)
	}
	return t, nil
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, malformed("date %q", s)
	}
	return t, nil
}

func round(v float64) int {
	return int(math.Round(v))
}

func zoneFor(resp forecastResponse) *time.Location {
	return time.FixedZone("", resp.UTCOffsetSeconds)
}

func mapCurrent(resp forecastResponse, lat, lon float64) (models.CurrentWeather, error) {
	cur := resp.Current
	if cur == nil {
		return models.CurrentWeather{}, malformed("missing current block")
	}
	loc := zoneFor(resp)
	observed, err := parseLocal(cur.Time, loc)
	if err != nil {
		return models.CurrentWeather{}, err
	}

	visibility := defaultVisibilityKm
	if cur.Visibility != nil {
		visibility = *cur.Visibility / 1000
	}

	day := time.Date(observed.Year(), observed.Month(), observed.Day(), 0, 0, 0, 0, loc)
	sunrise := day.Add(6 * time.Hour)
	sunset := day.Add(18 * time.Hour)
	if d := resp.Daily; d != nil {
		if len(d.Sunrise) > 0 {
			if t, err := parseLocal(d.Sunrise[0], loc); err == nil {
				sunrise = t
			}
		}
		if len(d.Sunset) > 0 {
			if t, err := parseLocal(d.Sunset[0], loc); err == nil {
				sunset = t
			}
		}
	}

	return models.CurrentWeather{
		Latitude:         lat,
		Longitude:        lon,
		Temperature:      cur.Temperature,
		FeelsLike:        cur.ApparentTemperature,
		Humidity:         round(cur.Humidity),
		PressureHPa:      round(cur.SurfacePressure),
		VisibilityKm:     visibility,
		WindSpeedKph:     cur.WindSpeed,
		WindDirectionDeg: round(cur.WindDirection),
		Condition:        condition.Normalize(cur.WeatherCode, cur.IsDay == 1),
		Cloudiness:       round(cur.CloudCover),
		Sunrise:          sunrise,
		Sunset:           sunset,
		UTCOffsetSeconds: resp.UTCOffsetSeconds,
	}, nil
}

func mapHourly(resp forecastResponse, limit int) ([]models.HourlyForecast, error) {
	h := resp.Hourly
	if h == nil || len(h.Time) == 0 {
		return nil, malformed("missing hourly block")
	}
	n := len(h.Time)
	if len(h.Temperature) != n || len(h.Humidity) != n || len(h.WeatherCode) != n ||
		len(h.IsDay) != n || len(h.WindSpeed) != n {
		return nil, malformed("hourly arrays have unequal lengths")
	}
	if n > limit {
		n = limit
	}

	loc := zoneFor(resp)
	out := make([]models.HourlyForecast, 0, n)
	for i := 0; i < n; i++ {
		ts, err := parseLocal(h.Time[i], loc)
		if err != nil {
			return nil, err
		}
		out = append(out, models.HourlyForecast{
			Timestamp:    ts,
			Temperature:  h.Temperature[i],
			Condition:    condition.Normalize(h.WeatherCode[i], h.IsDay[i] == 1),
			Humidity:     round(h.Humidity[i]),
			WindSpeedKph: h.WindSpeed[i],
		})
	}
	return out, nil
}

func mapDaily(resp forecastResponse, limit int) ([]models.DailyForecast, error) {
	d := resp.Daily
	if d == nil || len(d.Time) == 0 {
		return nil, malformed("missing daily block")
	}
	n := len(d.Time)
	if len(d.TempMax) != n || len(d.TempMin) != n || len(d.WeatherCode) != n || len(d.WindSpeedMax) != n {
		return nil, malformed("daily arrays have unequal lengths")
	}
	if len(d.HumidityMean) != 0 && len(d.HumidityMean) != n {
		return nil, malformed("daily humidity length %d, want %d", len(d.HumidityMean), n)
	}
	if n > limit {
		n = limit
	}

	loc := zoneFor(resp)
	out := make([]models.DailyForecast, 0, n)
	for i := 0; i < n; i++ {
		date, err := parseDate(d.Time[i], loc)
		if err != nil {
			return nil, err
		}
		humidity := defaultDailyHumidity
		if i < len(d.HumidityMean) && d.HumidityMean[i] != nil {
			humidity = round(*d.HumidityMean[i])
		}
		out = append(out, models.DailyForecast{
			Date:         date,
			TempMin:      d.TempMin[i],
			TempMax:      d.TempMax[i],
			Condition:    condition.Normalize(d.WeatherCode[i], true),
			Humidity:     humidity,
			WindSpeedKph: d.WindSpeedMax[i],
		})
	}
	return out, nil
}
