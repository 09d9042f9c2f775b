package models

import (
	"errors"
	"fmt"
)

// ErrMalformedRecord is returned when a normalized record or sequence breaks its invariants.
var ErrMalformedRecord = errors.New("malformed weather record")

// Sanitize clamps bounded fields of a current record into range.
// Humidity and cloudiness are percentages; wind direction wraps into 0..359.
func (c *CurrentWeather) Sanitize() {
	c.Humidity = clampPct(c.Humidity)
	c.Cloudiness = clampPct(c.Cloudiness)
	c.WindDirectionDeg = ((c.WindDirectionDeg % 360) + 360) % 360
}

// ValidateHourly checks that seq is non-empty, chronological and free of duplicate timestamps.
func ValidateHourly(seq []HourlyForecast) error {
	if len(seq) == 0 {
		return fmt.Errorf("%w: empty hourly sequence", ErrMalformedRecord)
	}
	for i := 1; i < len(seq); i++ {
		if !seq[i].Timestamp.After(seq[i-1].Timestamp) {
			return fmt.Errorf("%w: hourly entry %d at %s not after %s", ErrMalformedRecord, i,
				seq[i].Timestamp.Format("2006-01-02T15:04"), seq[i-1].Timestamp.Format("2006-01-02T15:04"))
		}
	}
	return nil
}

// ValidateDaily checks that seq is non-empty with one entry per calendar day, earliest first.
func ValidateDaily(seq []DailyForecast) error {
	if len(seq) == 0 {
		return fmt.Errorf("%w: empty daily sequence", ErrMalformedRecord)
	}
	for i := 1; i < len(seq); i++ {
		prev, cur := seq[i-1].Date.Format("2006-01-02"), seq[i].Date.Format("2006-01-02")
		if cur <= prev {
			return fmt.Errorf("%w: daily entry %d (%s) not after %s", ErrMalformedRecord, i, cur, prev)
		}
	}
	return nil
}

func clampPct(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
