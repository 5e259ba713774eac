// Package resolver maps "City,CC" queries to coordinates using a static city
// database loaded once at startup.
package resolver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kjstillabower/weather-proxy/internal/models"
)

var (
	// ErrMalformedQuery is returned when a query is not "City,CC".
	ErrMalformedQuery = errors.New("malformed location query")
	// ErrUnknownLocation is returned when no city matches name and country.
	ErrUnknownLocation = errors.New("unknown location")
)

// ParseQuery splits "City,CC" into its two non-empty, trimmed parts.
func ParseQuery(query string) (name, country string, err error) {
	parts := strings.Split(query, ",")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedQuery, query)
	}
	name = strings.TrimSpace(parts[0])
	country = strings.TrimSpace(parts[1])
	if name == "" || country == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedQuery, query)
	}
	return name, country, nil
}

// Database is an immutable name+country index. Safe for concurrent use.
type Database struct {
	cities map[string]models.City
}

// NewDatabase indexes cities. On duplicate name+country the first entry wins.
func NewDatabase(cities []models.City) *Database {
	db := &Database{cities: make(map[string]models.City, len(cities))}
	for _, c := range cities {
		if c.Name == "" || c.Country == "" {
			continue
		}
		k := indexKey(c.Name, c.Country)
		if _, dup := db.cities[k]; dup {
			continue
		}
		db.cities[k] = c
	}
	return db
}

// Resolve finds the city by name and country code, ignoring case and
// repeated whitespace.
func (d *Database) Resolve(name, country string) (models.City, error) {
	c, ok := d.cities[indexKey(name, country)]
	if !ok {
		return models.City{}, fmt.Errorf("%w: %s,%s", ErrUnknownLocation, name, country)
	}
	return c, nil
}

// Lookup parses and resolves a "City,CC" query.
func (d *Database) Lookup(query string) (models.City, error) {
	name, country, err := ParseQuery(query)
	if err != nil {
		return models.City{}, err
	}
	return d.Resolve(name, country)
}

// Len returns the number of indexed cities.
func (d *Database) Len() int {
	return len(d.cities)
}

func indexKey(name, country string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " ")) + "|" + strings.ToUpper(strings.TrimSpace(country))
}
