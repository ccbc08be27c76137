package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ecomonitor/ecomonitor/internal/envdata"
)

// OpenAQAdapter serves the pollution subject with raw measurements from
// the OpenAQ latest endpoint.
type OpenAQAdapter struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

var _ envdata.Adapter = (*OpenAQAdapter)(nil)

func NewOpenAQAdapter(client *http.Client, apiKey string, throttle *rate.Limiter) *OpenAQAdapter {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openaq",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &OpenAQAdapter{
		name:    "openaq",
		apiKey:  apiKey,
		baseURL: "https://api.openaq.org/v2/latest",
		httpCfg: HTTPClientConfig{
			Client:   client,
			Throttle: throttle,
			Backoff:  defaultBackoff(),
		},
		circuit: cb,
	}
}

func (a *OpenAQAdapter) Name() string {
	return a.name
}

func (a *OpenAQAdapter) Subject() envdata.Subject {
	return envdata.SubjectPollution
}

func (a *OpenAQAdapter) Fetch(ctx context.Context, q envdata.Query) (*envdata.NormalizedRecord, error) {
	country := strings.ToUpper(strings.TrimSpace(q.Country))
	if country == "" {
		country = strings.ToUpper(strings.TrimSpace(q.Region))
	}
	if country == "" {
		return nil, envdata.MalformedQuery(a.name, "pollution needs a country code")
	}
	if a.apiKey == "" {
		return nil, envdata.NewProviderError(envdata.FailProviderRejected, a.name,
			"api key is not configured")
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("limit", "100")
		values.Set("page", "1")
		values.Set("offset", "0")
		values.Set("sort", "desc")
		values.Set("country", country)
		values.Set("order_by", "lastUpdated")

		u := fmt.Sprintf("%s?%s", a.baseURL, values.Encode())
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-API-Key", a.apiKey)
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, a.httpCfg, a.circuit, buildRequest)
	if err != nil {
		return nil, classify(a.name, err)
	}
	defer resp.Body.Close()

	var payload struct {
		Results []struct {
			Location    string `json:"location"`
			City        string `json:"city"`
			Country     string `json:"country"`
			Coordinates *struct {
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
			} `json:"coordinates"`
			Measurements []struct {
				Parameter   string  `json:"parameter"`
				Value       float64 `json:"value"`
				Unit        string  `json:"unit"`
				LastUpdated string  `json:"lastUpdated"`
			} `json:"measurements"`
		} `json:"results"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, envdata.NewProviderError(envdata.FailProviderUnavailable, a.name,
			"decoding latest payload: %v", err)
	}

	sites := make([]envdata.PollutionSite, 0, len(payload.Results))
	sums := make(map[string]float64)
	counts := make(map[string]int)

	for _, r := range payload.Results {
		site := envdata.PollutionSite{
			Name: r.Location,
			City: r.City,
		}
		if r.Coordinates != nil {
			site.Coordinates = &envdata.GeoPoint{Lat: r.Coordinates.Latitude, Lon: r.Coordinates.Longitude}
		}
		for _, m := range r.Measurements {
			site.Measurements = append(site.Measurements, envdata.Measurement{
				Parameter:   m.Parameter,
				Value:       m.Value,
				Unit:        m.Unit,
				LastUpdated: m.LastUpdated,
			})
			// Sensors occasionally report negative sentinels; keep
			// them out of the averages.
			if m.Value >= 0 {
				sums[m.Parameter] += m.Value
				counts[m.Parameter]++
			}
		}
		sites = append(sites, site)
	}

	averages := make(map[string]float64, len(sums))
	for param, sum := range sums {
		averages[param] = sum / float64(counts[param])
	}

	return &envdata.NormalizedRecord{
		Subject:   envdata.SubjectPollution,
		Provider:  a.name,
		FetchedAt: time.Now().UTC(),
		Location:  q.Location,
		Pollution: &envdata.PollutionData{
			Country:   country,
			SiteCount: len(sites),
			Sites:     sites,
			Averages:  averages,
		},
	}, nil
}
