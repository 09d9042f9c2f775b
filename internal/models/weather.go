package models

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies one of the independently cached data kinds.
type Kind string

const (
	KindCurrent Kind = "current"
	KindHourly  Kind = "hourly"
	KindDaily   Kind = "daily"
)

// Kinds lists every data kind in refresh order.
var Kinds = []Kind{KindCurrent, KindHourly, KindDaily}

// Freshness windows per data kind.
const (
	CurrentFreshness = 10 * time.Minute
	HourlyFreshness  = 60 * time.Minute
	DailyFreshness   = 6 * time.Hour
)

// ErrUnknownKind is returned when a kind string does not name a data kind.
var ErrUnknownKind = errors.New("unknown weather kind")

// ParseKind converts a route or config value into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindCurrent, KindHourly, KindDaily:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Condition is the provider-independent condition triple.
type Condition struct {
	Main        string `json:"weatherMain"`
	Description string `json:"weatherDescription"`
	IconID      string `json:"weatherIcon"`
}

// CurrentWeather is the single live record of current conditions for a location.
type CurrentWeather struct {
	LocationKey      LocationKey `json:"locationKey"`
	DisplayName      string      `json:"city"`
	Country          string      `json:"country"`
	Latitude         float64     `json:"latitude"`
	Longitude        float64     `json:"longitude"`
	Temperature      float64     `json:"temperature"`
	FeelsLike        float64     `json:"feelsLike"`
	Humidity         int         `json:"humidity"`
	PressureHPa      int         `json:"pressure"`
	VisibilityKm     float64     `json:"visibility"`
	WindSpeedKph     float64     `json:"windSpeed"`
	WindDirectionDeg int         `json:"windDirection"`
	Condition
	Cloudiness       int       `json:"cloudiness"`
	Sunrise          time.Time `json:"sunrise"`
	Sunset           time.Time `json:"sunset"`
	UTCOffsetSeconds int       `json:"timezone"`
	FetchedAt        time.Time `json:"lastUpdated"`
}

// HourlyForecast is one entry of the chronological hourly sequence.
type HourlyForecast struct {
	LocationKey LocationKey `json:"locationKey"`
	Timestamp   time.Time   `json:"dateTime"`
	Temperature float64     `json:"temperature"`
	Condition
	Humidity     int       `json:"humidity"`
	WindSpeedKph float64   `json:"windSpeed"`
	FetchedAt    time.Time `json:"lastUpdated"`
}

// DailyForecast is one entry of the per-calendar-day sequence.
type DailyForecast struct {
	LocationKey LocationKey `json:"locationKey"`
	Date        time.Time   `json:"date"`
	TempMin     float64     `json:"tempMin"`
	TempMax     float64     `json:"tempMax"`
	Condition
	Humidity     int       `json:"humidity"`
	WindSpeedKph float64   `json:"windSpeed"`
	FetchedAt    time.Time `json:"lastUpdated"`
}

// Snapshot is what the cache manager hands to the route layer for any kind.
// Exactly one of Current, Hourly, Daily is populated, matching Kind.
type Snapshot struct {
	Kind      Kind             `json:"kind"`
	Current   *CurrentWeather  `json:"current,omitempty"`
	Hourly    []HourlyForecast `json:"hourly,omitempty"`
	Daily     []DailyForecast  `json:"daily,omitempty"`
	FetchedAt time.Time        `json:"fetchedAt"`
	Stale     bool             `json:"stale"`
}

// Data returns the populated record or sequence for JSON encoding.
func (s Snapshot) Data() interface{} {
	switch s.Kind {
	case KindHourly:
		return s.Hourly
	case KindDaily:
		return s.Daily
	default:
		return s.Current
	}
}

// Clone returns a copy that shares no record or sequence storage with s.
func (s Snapshot) Clone() Snapshot {
	if s.Current != nil {
		c := *s.Current
		s.Current = &c
	}
	if s.Hourly != nil {
		s.Hourly = append([]HourlyForecast(nil), s.Hourly...)
	}
	if s.Daily != nil {
		s.Daily = append([]DailyForecast(nil), s.Daily...)
	}
	return s
}
