package validation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/kjstillabower/weather-cache-service/internal/models"
)

const (
	// DefaultCityMinLength and DefaultCityMaxLength bound city names in runes.
	DefaultCityMinLength = 1
	DefaultCityMaxLength = 100
)

// ErrCityTooShort is returned when city length is below the minimum.
var ErrCityTooShort = errors.New("city too short")

// ErrCityTooLong is returned when city length exceeds the maximum.
var ErrCityTooLong = errors.New("city too long")

// ErrCityInvalidChars is returned when city contains disallowed characters.
var ErrCityInvalidChars = errors.New("city contains invalid characters")

// ErrCoordinatesRequired is returned when lat or lon is missing.
var ErrCoordinatesRequired = errors.New("lat and lon are required")

// ErrCoordinateInvalid is returned when lat or lon is not a finite decimal number.
var ErrCoordinateInvalid = errors.New("coordinate is not a number")

// ErrCoordinateOutOfRange is returned for lat outside [-90,90] or lon outside [-180,180].
var ErrCoordinateOutOfRange = errors.New("coordinate out of range")

// ValidateCity trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to allowed characters: letters (Unicode), digits, space, comma, hyphen,
// period, apostrophe. An empty city is allowed and returned as "".
func ValidateCity(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", nil
	}
	if minLen > 0 && n < minLen {
		return "", ErrCityTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

// ParseCoordinates parses lat and lon query values and checks their ranges.
func ParseCoordinates(latRaw, lonRaw string) (lat, lon float64, err error) {
	latRaw, lonRaw = strings.TrimSpace(latRaw), strings.TrimSpace(lonRaw)
	if latRaw == "" || lonRaw == "" {
		return 0, 0, ErrCoordinatesRequired
	}
	if lat, err = parseCoordinate("lat", latRaw); err != nil {
		return 0, 0, err
	}
	if lon, err = parseCoordinate("lon", lonRaw); err != nil {
		return 0, 0, err
	}
	if lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("%w: lat %v", ErrCoordinateOutOfRange, lat)
	}
	if lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("%w: lon %v", ErrCoordinateOutOfRange, lon)
	}
	return lat, lon, nil
}

func parseCoordinate(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s=%q", ErrCoordinateInvalid, name, raw)
	}
	return v, nil
}

// ParseLocation validates raw query values and builds the cache Location. The city, when
// given, becomes the case-insensitive cache key; otherwise the coordinates do.
func ParseLocation(city, latRaw, lonRaw string, minLen, maxLen int) (models.Location, error) {
	name, err := ValidateCity(city, minLen, maxLen)
	if err != nil {
		return models.Location{}, err
	}
	lat, lon, err := ParseCoordinates(latRaw, lonRaw)
	if err != nil {
		return models.Location{}, err
	}
	return models.NewLocation(name, lat, lon)
}
