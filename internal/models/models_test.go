package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocationKey(t *testing.T) {
	k1, err := NewLocationKey("Paris")
	require.NoError(t, err)
	k2, err := NewLocationKey("  paris ")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	_, err = NewLocationKey("   ")
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestNewLocation(t *testing.T) {
	tests := []struct {
		name     string
		city     string
		lat, lon float64
		wantKey  LocationKey
		wantErr  bool
	}{
		{name: "city name", city: "New York", lat: 40.71, lon: -74.01, wantKey: "new york"},
		{name: "coordinates only", lat: 48.80, lon: 2.3500, wantKey: "48.8,2.35"},
		{name: "latitude out of range", lat: 91, lon: 0, wantErr: true},
		{name: "longitude out of range", lat: 0, lon: -181, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := NewLocation(tt.city, tt.lat, tt.lon)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidLocation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, loc.Key)
			assert.NotEmpty(t, loc.Name)
		})
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("weekly")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestCurrentWeather_Sanitize(t *testing.T) {
	c := CurrentWeather{Humidity: 130, Cloudiness: -4, WindDirectionDeg: -90}
	c.Sanitize()
	assert.Equal(t, 100, c.Humidity)
	assert.Equal(t, 0, c.Cloudiness)
	assert.Equal(t, 270, c.WindDirectionDeg)

	c = CurrentWeather{WindDirectionDeg: 360}
	c.Sanitize()
	assert.Equal(t, 0, c.WindDirectionDeg)
}

func TestValidateHourly(t *testing.T) {
	base := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	ok := []HourlyForecast{{Timestamp: base}, {Timestamp: base.Add(time.Hour)}}
	assert.NoError(t, ValidateHourly(ok))

	assert.ErrorIs(t, ValidateHourly(nil), ErrMalformedRecord)

	dup := []HourlyForecast{{Timestamp: base}, {Timestamp: base}}
	assert.ErrorIs(t, ValidateHourly(dup), ErrMalformedRecord)

	backwards := []HourlyForecast{{Timestamp: base.Add(time.Hour)}, {Timestamp: base}}
	assert.ErrorIs(t, ValidateHourly(backwards), ErrMalformedRecord)
}

func TestValidateDaily(t *testing.T) {
	base := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	ok := []DailyForecast{{Date: base}, {Date: base.AddDate(0, 0, 1)}}
	assert.NoError(t, ValidateDaily(ok))

	sameDay := []DailyForecast{{Date: base}, {Date: base.Add(6 * time.Hour)}}
	assert.ErrorIs(t, ValidateDaily(sameDay), ErrMalformedRecord)

	assert.ErrorIs(t, ValidateDaily([]DailyForecast{}), ErrMalformedRecord)
}

func TestSnapshot_Clone(t *testing.T) {
	orig := Snapshot{
		Kind:    KindDaily,
		Current: &CurrentWeather{Temperature: 10},
		Daily:   []DailyForecast{{TempMax: 14}},
	}
	c := orig.Clone()
	c.Current.Temperature = 99
	c.Daily[0].TempMax = 99

	assert.Equal(t, 10.0, orig.Current.Temperature)
	assert.Equal(t, 14.0, orig.Daily[0].TempMax)
	assert.Nil(t, Snapshot{}.Clone().Hourly)
}
