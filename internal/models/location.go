package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// LocationKey is the case-insensitive cache identity of a place. Always lowercase and non-empty.
type LocationKey string

// ErrInvalidLocation is returned for an empty key or out-of-range coordinates.
var ErrInvalidLocation = errors.New("invalid location")

// NewLocationKey lowercases and trims raw. Returns ErrInvalidLocation when nothing is left.
func NewLocationKey(raw string) (LocationKey, error) {
	k := strings.ToLower(strings.TrimSpace(raw))
	if k == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidLocation)
	}
	return LocationKey(k), nil
}

func (k LocationKey) String() string { return string(k) }

// Location couples the cache identity with the coordinates the upstream needs.
type Location struct {
	Key       LocationKey `json:"key"`
	Name      string      `json:"name"`
	Latitude  float64     `json:"latitude"`
	Longitude float64     `json:"longitude"`
}

// NewLocation builds a Location from a user-supplied city name and coordinates.
// Without a name the key is the canonical "lat,lon" string.
func NewLocation(name string, lat, lon float64) (Location, error) {
	if lat < -90 || lat > 90 {
		return Location{}, fmt.Errorf("%w: latitude %v out of range", ErrInvalidLocation, lat)
	}
	if lon < -180 || lon > 180 {
		return Location{}, fmt.Errorf("%w: longitude %v out of range", ErrInvalidLocation, lon)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = CoordinateKey(lat, lon)
	}
	key, err := NewLocationKey(name)
	if err != nil {
		return Location{}, err
	}
	return Location{Key: key, Name: name, Latitude: lat, Longitude: lon}, nil
}

// CoordinateKey formats coordinates in their shortest decimal form, so "48.80" and "48.8" match.
func CoordinateKey(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64)
}
