package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ecomonitor/ecomonitor/internal/envdata"
)

func TestGFWFetchComputesAnnualAverage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("period"); got != "2020-01-01,2021-12-31" {
			t.Errorf("unexpected period %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": {"attributes": {"loss": 50000000, "lossByYear": {}}}}`))
	}))
	defer srv.Close()

	a := NewGFWAdapter(srv.Client(), nil)
	a.baseURL = srv.URL

	rec, err := a.Fetch(context.Background(), envdata.Query{
		Window: &envdata.TimeWindow{
			From: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := rec.Deforestation
	if d == nil {
		t.Fatal("expected a deforestation section")
	}
	if d.TotalLossHa != 50_000_000 {
		t.Fatalf("expected total 50M ha, got %v", d.TotalLossHa)
	}
	if d.AnnualAvgLossHa != 25_000_000 {
		t.Fatalf("expected annual average 25M ha, got %v", d.AnnualAvgLossHa)
	}
	if d.PeriodStart != 2020 || d.PeriodEnd != 2021 {
		t.Fatalf("unexpected period: %d-%d", d.PeriodStart, d.PeriodEnd)
	}
	if d.Source != "gfw-api" {
		t.Fatalf("expected live source tag, got %q", d.Source)
	}
}

func TestGFWFetchSumsLossByYear(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"data": {"attributes": {"loss": 0,
			"lossByYear": {"2019": 1000000, "2020": 2000000, "2021": 3000000}}}}`))
	}))
	defer srv.Close()

	a := NewGFWAdapter(srv.Client(), nil)
	a.baseURL = srv.URL

	rec, err := a.Fetch(context.Background(), envdata.Query{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := rec.Deforestation
	if d.TotalLossHa != 6_000_000 {
		t.Fatalf("expected summed total 6M ha, got %v", d.TotalLossHa)
	}
	// The per-year keys override the requested period.
	if d.PeriodStart != 2019 || d.PeriodEnd != 2021 {
		t.Fatalf("unexpected period: %d-%d", d.PeriodStart, d.PeriodEnd)
	}
	if d.AnnualAvgLossHa != 2_000_000 {
		t.Fatalf("expected annual average 2M ha, got %v", d.AnnualAvgLossHa)
	}
}

// TestGFWFetchFallsBackToPublishedSummary verifies the degradation path:
// an unreachable upstream still yields the published baseline figures.
func TestGFWFetchFallsBackToPublishedSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewGFWAdapter(srv.Client(), nil)
	a.baseURL = srv.URL
	// Keep the retry delay negligible for the test.
	a.httpCfg.Backoff.InitialInterval = time.Millisecond

	rec, err := a.Fetch(context.Background(), envdata.Query{})
	if err != nil {
		t.Fatalf("expected a fallback record, got error: %v", err)
	}

	d := rec.Deforestation
	if d == nil {
		t.Fatal("expected a deforestation section")
	}
	if d.Source != "published-summary" {
		t.Fatalf("expected the published summary source, got %q", d.Source)
	}
	if d.TotalLossHa != 411_000_000 || d.AnnualAvgLossHa != 25_600_000 {
		t.Fatalf("unexpected baseline figures: %+v", d)
	}
	if d.PrimaryForestLossHa != 3_750_000 {
		t.Fatalf("unexpected primary forest figure: %v", d.PrimaryForestLossHa)
	}
}

// TestGFWFetchHonorsCancellation verifies that a dead context propagates
// as an error instead of masquerading as fallback data.
func TestGFWFetchHonorsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewGFWAdapter(srv.Client(), nil)
	a.baseURL = srv.URL

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := a.Fetch(ctx, envdata.Query{}); err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
}
