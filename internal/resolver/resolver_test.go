package resolver

import (
	"errors"
	"testing"

	"github.com/kjstillabower/weather-proxy/internal/models"
)

var testCities = []models.City{
	{ID: 3117735, Name: "Madrid", Country: "ES", Coord: models.Coordinates{Lat: 40.4165, Lon: -3.7026}},
	{ID: 2643743, Name: "London", Country: "GB", Coord: models.Coordinates{Lat: 51.5085, Lon: -0.1257}},
	{ID: 6058560, Name: "London", Country: "CA", Coord: models.Coordinates{Lat: 42.9834, Lon: -81.2330}},
	{ID: 5128581, Name: "New York City", Country: "US", Coord: models.Coordinates{Lat: 40.7143, Lon: -74.006}},
	{ID: 9999999, Name: "Madrid", Country: "ES", Coord: models.Coordinates{Lat: 0, Lon: 0}},
	{ID: 1, Name: "", Country: "ES"},
}

func TestParseQuery(t *testing.T) {
	tests := []struct {
		query       string
		wantName    string
		wantCountry string
		wantErr     bool
	}{
		{"Madrid,ES", "Madrid", "ES", false},
		{" New York City , US ", "New York City", "US", false},
		{"Madrid", "", "", true},
		{"Madrid,", "", "", true},
		{",ES", "", "", true},
		{"Madrid,ES,Europe", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			name, country, err := ParseQuery(tt.query)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedQuery) {
					t.Fatalf("ParseQuery(%q) error = %v, want ErrMalformedQuery", tt.query, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseQuery(%q) error = %v", tt.query, err)
			}
			if name != tt.wantName || country != tt.wantCountry {
				t.Errorf("ParseQuery(%q) = (%q, %q), want (%q, %q)", tt.query, name, country, tt.wantName, tt.wantCountry)
			}
		})
	}
}

func TestDatabase_Resolve(t *testing.T) {
	db := NewDatabase(testCities)
	if db.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", db.Len())
	}

	tests := []struct {
		name, country string
		wantID        int64
	}{
		{"Madrid", "ES", 3117735},
		{"madrid", "es", 3117735},
		{"LONDON", "GB", 2643743},
		{"London", "CA", 6058560},
		{"new  york   city", "us", 5128581},
	}
	for _, tt := range tests {
		c, err := db.Resolve(tt.name, tt.country)
		if err != nil {
			t.Errorf("Resolve(%q, %q) error = %v", tt.name, tt.country, err)
			continue
		}
		if c.ID != tt.wantID {
			t.Errorf("Resolve(%q, %q).ID = %d, want %d", tt.name, tt.country, c.ID, tt.wantID)
		}
	}

	if _, err := db.Resolve("Atlantis", "XX"); !errors.Is(err, ErrUnknownLocation) {
		t.Errorf("Resolve(Atlantis) error = %v, want ErrUnknownLocation", err)
	}
	if _, err := db.Resolve("Madrid", "GB"); !errors.Is(err, ErrUnknownLocation) {
		t.Errorf("Resolve(Madrid, GB) error = %v, want ErrUnknownLocation", err)
	}
}

func TestDatabase_Lookup(t *testing.T) {
	db := NewDatabase(testCities)
	c, err := db.Lookup("Madrid,ES")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if c.Coord.Lat != 40.4165 || c.Coord.Lon != -3.7026 {
		t.Errorf("Lookup() coord = %v", c.Coord)
	}
	if _, err := db.Lookup("Madrid"); !errors.Is(err, ErrMalformedQuery) {
		t.Errorf("Lookup(Madrid) error = %v, want ErrMalformedQuery", err)
	}
}
