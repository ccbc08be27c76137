package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ecomonitor/ecomonitor/internal/envdata"
)

// AQICNAdapter serves the airQuality subject from the WAQI feed API.
type AQICNAdapter struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

var _ envdata.Adapter = (*AQICNAdapter)(nil)

func NewAQICNAdapter(client *http.Client, apiKey string, throttle *rate.Limiter) *AQICNAdapter {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "aqicn",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &AQICNAdapter{
		name:    "aqicn",
		apiKey:  apiKey,
		baseURL: "https://api.waqi.info",
		httpCfg: HTTPClientConfig{
			Client:   client,
			Throttle: throttle,
			Backoff:  defaultBackoff(),
		},
		circuit: cb,
	}
}

func (a *AQICNAdapter) Name() string {
	return a.name
}

func (a *AQICNAdapter) Subject() envdata.Subject {
	return envdata.SubjectAirQuality
}

func (a *AQICNAdapter) Fetch(ctx context.Context, q envdata.Query) (*envdata.NormalizedRecord, error) {
	if q.Location == nil && q.City == "" {
		return nil, envdata.MalformedQuery(a.name, "air quality needs coordinates or a city")
	}
	if a.apiKey == "" {
		return nil, envdata.NewProviderError(envdata.FailProviderRejected, a.name,
			"api key is not configured")
	}

	buildRequest := func() (*http.Request, error) {
		// The feed path takes either geo:lat;lon or a city name.
		var feed string
		if q.Location != nil {
			feed = fmt.Sprintf("geo:%f;%f", q.Location.Lat, q.Location.Lon)
		} else {
			feed = url.PathEscape(q.City)
		}

		values := url.Values{}
		values.Set("token", a.apiKey)

		u := fmt.Sprintf("%s/feed/%s/?%s", a.baseURL, feed, values.Encode())
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		return req, nil
	}

	resp, err := doRequestWithResilience(ctx, a.httpCfg, a.circuit, buildRequest)
	if err != nil {
		return nil, classify(a.name, err)
	}
	defer resp.Body.Close()

	var payload struct {
		Status string `json:"status"`
		Data   struct {
			AQI  int `json:"aqi"`
			City struct {
				Name string    `json:"name"`
				Geo  []float64 `json:"geo"`
			} `json:"city"`
			DominantPol string `json:"dominentpol"`
			IAQI        map[string]struct {
				V float64 `json:"v"`
			} `json:"iaqi"`
			Time struct {
				ISO string `json:"iso"`
			} `json:"time"`
		} `json:"data"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, envdata.NewProviderError(envdata.FailProviderUnavailable, a.name,
			"decoding feed payload: %v", err)
	}
	if payload.Status != "ok" {
		return nil, envdata.NewProviderError(envdata.FailProviderUnavailable, a.name,
			"upstream status %q", payload.Status)
	}

	pollutants := make(map[string]float64, len(payload.Data.IAQI))
	for param, v := range payload.Data.IAQI {
		pollutants[param] = v.V
	}

	category, color := aqiCategory(payload.Data.AQI)

	var loc *envdata.GeoPoint
	if len(payload.Data.City.Geo) == 2 {
		loc = &envdata.GeoPoint{Lat: payload.Data.City.Geo[0], Lon: payload.Data.City.Geo[1]}
	}

	return &envdata.NormalizedRecord{
		Subject:   envdata.SubjectAirQuality,
		Provider:  a.name,
		FetchedAt: time.Now().UTC(),
		Location:  loc,
		AirQuality: &envdata.AirQualityData{
			Index:             payload.Data.AQI,
			Category:          category,
			CategoryColor:     color,
			DominantPollutant: payload.Data.DominantPol,
			Pollutants:        pollutants,
			Station:           payload.Data.City.Name,
			ObservedAt:        payload.Data.Time.ISO,
		},
	}, nil
}

// aqiCategory maps an index value onto the standard bands and their
// display colors.
func aqiCategory(aqi int) (string, string) {
	switch {
	case aqi <= 50:
		return "Good", "#00e400"
	case aqi <= 100:
		return "Moderate", "#ffff00"
	case aqi <= 150:
		return "Unhealthy for Sensitive Groups", "#ff7e00"
	case aqi <= 200:
		return "Unhealthy", "#ff0000"
	case aqi <= 300:
		return "Very Unhealthy", "#99004c"
	default:
		return "Hazardous", "#7e0023"
	}
}
