package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ecomonitor/ecomonitor/internal/cache"
	"github.com/ecomonitor/ecomonitor/internal/envdata"
	"github.com/ecomonitor/ecomonitor/internal/logging"
	"github.com/ecomonitor/ecomonitor/internal/metrics"
)

// stubAdapter answers with a canned record or error, no network involved.
type stubAdapter struct {
	name    string
	subject envdata.Subject
	err     error
}

func (s *stubAdapter) Name() string             { return s.name }
func (s *stubAdapter) Subject() envdata.Subject { return s.subject }

func (s *stubAdapter) Fetch(_ context.Context, _ envdata.Query) (*envdata.NormalizedRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &envdata.NormalizedRecord{
		Subject:   s.subject,
		Provider:  s.name,
		FetchedAt: time.Now().UTC(),
	}, nil
}

func newTestApp(adapters ...envdata.Adapter) *fiber.App {
	app := fiber.New()

	svc := envdata.NewService(envdata.ServiceConfig{
		Cache:    cache.NewMemoryStore(nil),
		Adapters: adapters,
		Logger:   logging.NewNop(),
	})
	RegisterRoutes(app, svc, metrics.New(nil), 5*time.Second)

	return app
}

// TestCoordinateValidation verifies that out-of-range or half-given
// coordinates are rejected before any resolution happens.
func TestCoordinateValidation(t *testing.T) {
	app := newTestApp(&stubAdapter{name: "aqicn", subject: envdata.SubjectAirQuality})

	// Latitude beyond 90 should return 400.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/aqi?lat=91&lon=0", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}

	// Latitude without longitude should also return 400.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/aqi?lat=52.52", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
}

// TestSubjectEndpointMapsAdapterValidation verifies that a subject-level
// validation failure surfaces as a 400 on the dedicated endpoint.
func TestSubjectEndpointMapsAdapterValidation(t *testing.T) {
	app := newTestApp(&stubAdapter{
		name:    "ebird",
		subject: envdata.SubjectBirds,
		err:     envdata.MalformedQuery("ebird", "bird observations need a region code"),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/birds?city=Berlin", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
}

// TestSubjectEndpointServesResult verifies the happy path on a dedicated
// endpoint: a tagged result with the record inside.
func TestSubjectEndpointServesResult(t *testing.T) {
	app := newTestApp(&stubAdapter{name: "aqicn", subject: envdata.SubjectAirQuality})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/aqi?city=Berlin", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var result envdata.DomainResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if result.Status != envdata.StatusSuccess || result.Data == nil {
		t.Fatalf("expected a fresh result, got %+v", result)
	}
}

// TestDashboardPartialFailure verifies the aggregate contract over HTTP:
// provider trouble stays inside the 200 response as typed failures.
func TestDashboardPartialFailure(t *testing.T) {
	app := newTestApp(
		&stubAdapter{name: "aqicn", subject: envdata.SubjectAirQuality},
		&stubAdapter{
			name:    "guardian",
			subject: envdata.SubjectNews,
			err:     envdata.NewProviderError(envdata.FailProviderUnavailable, "guardian", "connection refused"),
		},
	)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/dashboard?subjects=airQuality,news&city=Berlin", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var body envdata.AggregatedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(body.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(body.Results))
	}
	if body.Results[envdata.SubjectAirQuality].Status != envdata.StatusSuccess {
		t.Fatalf("expected air quality success, got %+v", body.Results[envdata.SubjectAirQuality])
	}
	news := body.Results[envdata.SubjectNews]
	if news.Status != envdata.StatusFailed || news.Error == nil {
		t.Fatalf("expected news failure, got %+v", news)
	}
	if news.Error.Kind != envdata.FailProviderUnavailable {
		t.Fatalf("expected kind %s, got %s", envdata.FailProviderUnavailable, news.Error.Kind)
	}
}

// TestDashboardRejectsUnknownSubject verifies the subjects filter.
func TestDashboardRejectsUnknownSubject(t *testing.T) {
	app := newTestApp()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard?subjects=weather", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
}

// TestDashboardRejectsInvalidWindow checks the time window parsing rules.
func TestDashboardRejectsInvalidWindow(t *testing.T) {
	app := newTestApp()

	// A lone from parameter should return 400.
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/dashboard?from=2024-06-01T00:00:00Z", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}

	// A reversed window should return 400.
	req = httptest.NewRequest(http.MethodGet,
		"/api/v1/dashboard?from=2024-06-02T00:00:00Z&to=2024-06-01T00:00:00Z", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
}

// TestMetricsEndpoint verifies the Prometheus exposition endpoint answers.
func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	if _, err := io.ReadAll(resp.Body); err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
}
