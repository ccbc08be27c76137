// Package geo resolves city names into coordinates for queries that
// arrive without them.
package geo

import (
	"errors"
	"fmt"

	"github.com/kelvins/geocoder"

	"github.com/ecomonitor/ecomonitor/internal/envdata"
)

// ErrNotConfigured is returned when no geocoding key was supplied.
var ErrNotConfigured = errors.New("geocoder not configured")

// Resolver wraps the Google geocoding client. Construct once at startup;
// the underlying library keys itself off a package-level credential.
type Resolver struct {
	configured bool
}

var _ envdata.GeoResolver = (*Resolver)(nil)

// NewResolver configures the geocoder with the given key. An empty key
// yields a resolver that reports ErrNotConfigured on every call, which
// callers treat as "carry on without coordinates".
func NewResolver(apiKey string) *Resolver {
	if apiKey == "" {
		return &Resolver{}
	}
	geocoder.ApiKey = apiKey
	return &Resolver{configured: true}
}

// Resolve turns a city (and optional country) into coordinates.
func (r *Resolver) Resolve(city, country string) (*envdata.GeoPoint, error) {
	if !r.configured {
		return nil, ErrNotConfigured
	}
	if city == "" {
		return nil, fmt.Errorf("city is required")
	}

	location, err := geocoder.Geocoding(geocoder.Address{
		City:    city,
		Country: country,
	})
	if err != nil {
		return nil, fmt.Errorf("geocoding %q: %w", city, err)
	}

	return &envdata.GeoPoint{
		Lat: location.Latitude,
		Lon: location.Longitude,
	}, nil
}
