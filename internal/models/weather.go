package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidUnits is returned when a unit system is not C, F or K.
var ErrInvalidUnits = errors.New("invalid units")

// ErrInvalidKind is returned when a query kind is not current or forecast.
var ErrInvalidKind = errors.New("invalid query kind")

// Units is the temperature unit system requested by the client.
type Units string

const (
	UnitsCelsius    Units = "C"
	UnitsFahrenheit Units = "F"
	UnitsKelvin     Units = "K"
)

// ParseUnits accepts C/F/K and their long names (celsius, metric, ...) in any case.
func ParseUnits(s string) (Units, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "c", "celsius", "metric":
		return UnitsCelsius, nil
	case "f", "fahrenheit", "imperial":
		return UnitsFahrenheit, nil
	case "k", "kelvin", "standard":
		return UnitsKelvin, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidUnits, s)
}

// Upstream returns the OpenWeather "units" parameter value.
func (u Units) Upstream() string {
	switch u {
	case UnitsFahrenheit:
		return "imperial"
	case UnitsKelvin:
		return "standard"
	default:
		return "metric"
	}
}

// Kind selects the upstream endpoint section.
type Kind string

const (
	KindCurrent  Kind = "current"
	KindForecast Kind = "forecast"
)

// ParseKind validates a query kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindCurrent:
		return KindCurrent, nil
	case KindForecast:
		return KindForecast, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// City is a resolved entry of the static city database.
type City struct {
	ID      int64       `json:"id"`
	Name    string      `json:"name"`
	Country string      `json:"country"`
	Coord   Coordinates `json:"coord"`
}

// CacheKey identifies a cached upstream result. It is comparable and
// derived only from resolved coordinates, units and kind, so the same
// city/country/units/kind always maps to the same key.
type CacheKey struct {
	Lat   float64
	Lon   float64
	Units Units
	Kind  Kind
}

// NewCacheKey builds the key for a resolved city.
func NewCacheKey(city City, units Units, kind Kind) CacheKey {
	return CacheKey{Lat: city.Coord.Lat, Lon: city.Coord.Lon, Units: units, Kind: kind}
}

// String renders the key as "lat,lon:units:kind". Used by shared backends.
func (k CacheKey) String() string {
	return strconv.FormatFloat(k.Lat, 'f', -1, 64) + "," +
		strconv.FormatFloat(k.Lon, 'f', -1, 64) + ":" +
		string(k.Units) + ":" + string(k.Kind)
}

type Condition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}

// CurrentWeather is the normalized current-conditions payload.
type CurrentWeather struct {
	Coord       Coordinates `json:"coord"`
	Units       Units       `json:"units"`
	ObservedAt  time.Time   `json:"observedAt"`
	Sunrise     time.Time   `json:"sunrise"`
	Sunset      time.Time   `json:"sunset"`
	Temperature float64     `json:"temperature"`
	FeelsLike   float64     `json:"feelsLike"`
	Pressure    int         `json:"pressure"`
	Humidity    int         `json:"humidity"`
	DewPoint    float64     `json:"dewPoint"`
	UVIndex     float64     `json:"uvi"`
	Clouds      int         `json:"clouds"`
	Visibility  int         `json:"visibility"`
	WindSpeed   float64     `json:"windSpeed"`
	WindDeg     int         `json:"windDeg"`
	Conditions  []Condition `json:"conditions,omitempty"`
	FetchedAt   time.Time   `json:"fetchedAt"`
}

// HourlyForecast is one hour of a forecast.
type HourlyForecast struct {
	Time          time.Time   `json:"time"`
	Temperature   float64     `json:"temperature"`
	FeelsLike     float64     `json:"feelsLike"`
	Pressure      int         `json:"pressure"`
	Humidity      int         `json:"humidity"`
	DewPoint      float64     `json:"dewPoint"`
	Clouds        int         `json:"clouds"`
	Visibility    int         `json:"visibility"`
	WindSpeed     float64     `json:"windSpeed"`
	WindDeg       int         `json:"windDeg"`
	Precipitation float64     `json:"pop"`
	Conditions    []Condition `json:"conditions,omitempty"`
}

// Forecast is the normalized hourly forecast payload.
type Forecast struct {
	Coord     Coordinates      `json:"coord"`
	Units     Units            `json:"units"`
	Hourly    []HourlyForecast `json:"hourly"`
	FetchedAt time.Time        `json:"fetchedAt"`
}
