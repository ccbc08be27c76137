package envdata

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Query describes what a caller wants resolved. It is treated as immutable:
// the aggregator copies it before filling derived fields such as a geocoded
// location.
type Query struct {
	Subjects []Subject
	Location *GeoPoint
	City     string
	Country  string
	// Region is a provider region code, e.g. an eBird code like "US-NY"
	// or an ISO country code for measurement lookups.
	Region string
	Window *TimeWindow
}

const (
	// coordPrecision groups nearby coordinates onto one cache key.
	// Two decimal places is roughly a 1km grid.
	coordPrecision = 100
	// windowBucket groups query windows onto whole-hour boundaries.
	windowBucket = time.Hour
)

// Validate checks the request-level shape shared by all subjects. Subject
// specific requirements (a region for birds, coordinates for hotspots) are
// checked by the adapters instead, so one bad subject cannot sink a
// multi-subject request.
func (q Query) Validate() error {
	if len(q.Subjects) == 0 {
		return fmt.Errorf("%w: no subjects requested", ErrMalformedQuery)
	}
	seen := make(map[Subject]struct{}, len(q.Subjects))
	for _, sub := range q.Subjects {
		if _, ok := ParseSubject(string(sub)); !ok {
			return fmt.Errorf("%w: unknown subject %q", ErrMalformedQuery, sub)
		}
		if _, dup := seen[sub]; dup {
			return fmt.Errorf("%w: duplicate subject %q", ErrMalformedQuery, sub)
		}
		seen[sub] = struct{}{}
	}
	if q.Location != nil {
		if q.Location.Lat < -90 || q.Location.Lat > 90 {
			return fmt.Errorf("%w: latitude %v out of range", ErrMalformedQuery, q.Location.Lat)
		}
		if q.Location.Lon < -180 || q.Location.Lon > 180 {
			return fmt.Errorf("%w: longitude %v out of range", ErrMalformedQuery, q.Location.Lon)
		}
	}
	if q.Window != nil && q.Window.To.Before(q.Window.From) {
		return fmt.Errorf("%w: window end precedes start", ErrMalformedQuery)
	}
	return nil
}

// CacheKey derives the canonical cache key for one subject of this query.
// Equivalent queries must collide: coordinates are rounded, the window is
// bucketed to whole hours, and textual fields are case-folded.
func (q Query) CacheKey(subject Subject) string {
	parts := []string{"v1", string(subject)}

	if q.Location != nil {
		parts = append(parts, fmt.Sprintf("geo=%.2f;%.2f",
			roundCoord(q.Location.Lat), roundCoord(q.Location.Lon)))
	}
	if q.City != "" {
		parts = append(parts, "city="+strings.ToLower(strings.TrimSpace(q.City)))
	}
	if q.Country != "" {
		parts = append(parts, "country="+strings.ToLower(strings.TrimSpace(q.Country)))
	}
	if q.Region != "" {
		parts = append(parts, "region="+strings.ToUpper(strings.TrimSpace(q.Region)))
	}
	if q.Window != nil {
		parts = append(parts, fmt.Sprintf("window=%d-%d",
			q.Window.From.UTC().Truncate(windowBucket).Unix(),
			q.Window.To.UTC().Truncate(windowBucket).Unix()))
	}

	return strings.Join(parts, ":")
}

// WithLocation returns a copy of the query with a resolved location.
func (q Query) WithLocation(loc *GeoPoint) Query {
	q.Location = loc
	return q
}

func roundCoord(v float64) float64 {
	return math.Round(v*coordPrecision) / coordPrecision
}
