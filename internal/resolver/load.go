package resolver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/kjstillabower/weather-proxy/internal/models"
)

// Load opens the city database at path. Files ending in .db, .sqlite or
// .sqlite3 are read as SQLite; anything else as OpenWeather city.list.json.
func Load(ctx context.Context, path string) (*Database, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return LoadSQLite(ctx, path)
	default:
		return LoadJSONFile(path)
	}
}

// LoadJSONFile reads a city.list.json file.
func LoadJSONFile(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open city list: %w", err)
	}
	defer f.Close()
	cities, err := DecodeJSON(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewDatabase(cities), nil
}

// DecodeJSON decodes an array of {id, name, country, coord{lat, lon}} objects.
func DecodeJSON(r io.Reader) ([]models.City, error) {
	var cities []models.City
	if err := json.NewDecoder(r).Decode(&cities); err != nil {
		return nil, fmt.Errorf("decode city list: %w", err)
	}
	return cities, nil
}

// LoadSQLite reads table cities(id, name, country, lat, lon) in id order.
func LoadSQLite(ctx context.Context, path string) (*Database, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open city db: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open city db: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT id, name, country, lat, lon FROM cities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query cities: %w", err)
	}
	defer rows.Close()

	var cities []models.City
	for rows.Next() {
		var c models.City
		if err := rows.Scan(&c.ID, &c.Name, &c.Country, &c.Coord.Lat, &c.Coord.Lon); err != nil {
			return nil, fmt.Errorf("scan city: %w", err)
		}
		cities = append(cities, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read cities: %w", err)
	}
	return NewDatabase(cities), nil
}
