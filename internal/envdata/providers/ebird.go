package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ecomonitor/ecomonitor/internal/envdata"
)

// ebirdObservation is the wire shape shared by the two eBird adapters.
type ebirdObservation struct {
	ComName string  `json:"comName"`
	SciName string  `json:"sciName"`
	HowMany int     `json:"howMany"`
	LocName string  `json:"locName"`
	ObsDt   string  `json:"obsDt"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

// EBirdObservationsAdapter serves the birds subject with recent sightings
// for a region. It shares the "ebird" provider identity (key and call
// budget) with the hotspot adapter.
type EBirdObservationsAdapter struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

var _ envdata.Adapter = (*EBirdObservationsAdapter)(nil)

func NewEBirdObservationsAdapter(client *http.Client, apiKey string, throttle *rate.Limiter) *EBirdObservationsAdapter {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ebird-observations",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &EBirdObservationsAdapter{
		name:    "ebird",
		apiKey:  apiKey,
		baseURL: "https://api.ebird.org/v2",
		httpCfg: HTTPClientConfig{
			Client:   client,
			Throttle: throttle,
			Backoff:  defaultBackoff(),
		},
		circuit: cb,
	}
}

func (a *EBirdObservationsAdapter) Name() string {
	return a.name
}

func (a *EBirdObservationsAdapter) Subject() envdata.Subject {
	return envdata.SubjectBirds
}

func (a *EBirdObservationsAdapter) Fetch(ctx context.Context, q envdata.Query) (*envdata.NormalizedRecord, error) {
	region := strings.ToUpper(strings.TrimSpace(q.Region))
	if region == "" {
		return nil, envdata.MalformedQuery(a.name, "bird observations need a region code")
	}
	if a.apiKey == "" {
		return nil, envdata.NewProviderError(envdata.FailProviderRejected, a.name,
			"api key is not configured")
	}

	buildRequest := func() (*http.Request, error) {
		u := fmt.Sprintf("%s/data/obs/%s/recent", a.baseURL, url.PathEscape(region))
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-eBirdApiToken", a.apiKey)
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, a.httpCfg, a.circuit, buildRequest)
	if err != nil {
		return nil, classify(a.name, err)
	}
	defer resp.Body.Close()

	var observations []ebirdObservation
	if err := json.NewDecoder(resp.Body).Decode(&observations); err != nil {
		return nil, envdata.NewProviderError(envdata.FailProviderUnavailable, a.name,
			"decoding observations payload: %v", err)
	}

	sightings := make([]envdata.BirdSighting, 0, len(observations))
	perSpecies := make(map[string]int)
	total := 0

	for _, obs := range observations {
		// eBird omits howMany when the observer did not record a count.
		count := obs.HowMany
		if count <= 0 {
			count = 1
		}
		total += count
		perSpecies[obs.ComName] += count

		sightings = append(sightings, envdata.BirdSighting{
			CommonName:     obs.ComName,
			ScientificName: obs.SciName,
			Count:          count,
			LocationName:   obs.LocName,
			ObservedAt:     obs.ObsDt,
			Coordinates:    &envdata.GeoPoint{Lat: obs.Lat, Lon: obs.Lng},
		})
	}

	return &envdata.NormalizedRecord{
		Subject:   envdata.SubjectBirds,
		Provider:  a.name,
		FetchedAt: time.Now().UTC(),
		Location:  q.Location,
		Birds: &envdata.BirdData{
			Region:       region,
			Total:        total,
			SpeciesCount: len(perSpecies),
			Sightings:    sightings,
			TopSpecies:   topSpecies(perSpecies, 10),
		},
	}, nil
}

// topSpecies ranks species by sighting count, ties broken by name.
func topSpecies(counts map[string]int, limit int) []envdata.SpeciesCount {
	ranked := make([]envdata.SpeciesCount, 0, len(counts))
	for name, count := range counts {
		ranked = append(ranked, envdata.SpeciesCount{CommonName: name, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].CommonName < ranked[j].CommonName
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// EBirdHotspotsAdapter serves the birdHotspots subject with reference
// hotspots near a coordinate.
type EBirdHotspotsAdapter struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

var _ envdata.Adapter = (*EBirdHotspotsAdapter)(nil)

func NewEBirdHotspotsAdapter(client *http.Client, apiKey string, throttle *rate.Limiter) *EBirdHotspotsAdapter {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ebird-hotspots",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &EBirdHotspotsAdapter{
		name:    "ebird",
		apiKey:  apiKey,
		baseURL: "https://api.ebird.org/v2",
		httpCfg: HTTPClientConfig{
			Client:   client,
			Throttle: throttle,
			Backoff:  defaultBackoff(),
		},
		circuit: cb,
	}
}

func (a *EBirdHotspotsAdapter) Name() string {
	return a.name
}

func (a *EBirdHotspotsAdapter) Subject() envdata.Subject {
	return envdata.SubjectBirdHotspots
}

func (a *EBirdHotspotsAdapter) Fetch(ctx context.Context, q envdata.Query) (*envdata.NormalizedRecord, error) {
	if q.Location == nil {
		return nil, envdata.MalformedQuery(a.name, "bird hotspots need coordinates")
	}
	if a.apiKey == "" {
		return nil, envdata.NewProviderError(envdata.FailProviderRejected, a.name,
			"api key is not configured")
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("lat", fmt.Sprintf("%f", q.Location.Lat))
		values.Set("lng", fmt.Sprintf("%f", q.Location.Lon))
		values.Set("fmt", "json")

		u := fmt.Sprintf("%s/ref/hotspot/geo?%s", a.baseURL, values.Encode())
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-eBirdApiToken", a.apiKey)
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, a.httpCfg, a.circuit, buildRequest)
	if err != nil {
		return nil, classify(a.name, err)
	}
	defer resp.Body.Close()

	var payload []struct {
		LocID             string  `json:"locId"`
		LocName           string  `json:"locName"`
		Lat               float64 `json:"lat"`
		Lng               float64 `json:"lng"`
		NumSpeciesAllTime int     `json:"numSpeciesAllTime"`
		LatestObsDt       string  `json:"latestObsDt"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, envdata.NewProviderError(envdata.FailProviderUnavailable, a.name,
			"decoding hotspots payload: %v", err)
	}

	hotspots := make([]envdata.BirdHotspot, 0, len(payload))
	for _, h := range payload {
		hotspots = append(hotspots, envdata.BirdHotspot{
			ID:            h.LocID,
			Name:          h.LocName,
			Coordinates:   &envdata.GeoPoint{Lat: h.Lat, Lon: h.Lng},
			SpeciesAll:    h.NumSpeciesAllTime,
			LatestObsDate: h.LatestObsDt,
		})
	}

	return &envdata.NormalizedRecord{
		Subject:   envdata.SubjectBirdHotspots,
		Provider:  a.name,
		FetchedAt: time.Now().UTC(),
		Location:  q.Location,
		BirdHotspots: &envdata.BirdHotspotData{
			Count:    len(hotspots),
			Hotspots: hotspots,
		},
	}, nil
}
