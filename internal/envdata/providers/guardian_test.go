package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ecomonitor/ecomonitor/internal/envdata"
)

// guardianFeed builds an RSS document with numbered items plus one
// syndicated duplicate of the first link.
func guardianFeed(items int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>Environment | The Guardian</title>
<link>https://www.theguardian.com/environment</link>
<description>Latest environment news</description>
`)
	for i := 1; i <= items; i++ {
		fmt.Fprintf(&b, `<item>
<title>Environment story %d</title>
<link>https://example.org/story-%d</link>
<description>Summary %d</description>
<pubDate>Sat, 01 Jun 2024 10:00:00 GMT</pubDate>
</item>
`, i, i, i)
	}
	b.WriteString(`<item>
<title>Environment story 1 (syndicated)</title>
<link>https://example.org/story-1</link>
<description>Summary 1 again</description>
<pubDate>Sat, 01 Jun 2024 11:00:00 GMT</pubDate>
</item>
`)
	b.WriteString("</channel></rss>")
	return b.String()
}

func TestGuardianFetchParsesFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(guardianFeed(12)))
	}))
	defer srv.Close()

	a := NewGuardianAdapter(srv.Client(), nil)
	a.feedURL = srv.URL

	rec, err := a.Fetch(context.Background(), envdata.Query{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n := rec.News
	if n == nil {
		t.Fatal("expected a news section")
	}
	if n.Count != 10 || len(n.Articles) != 10 {
		t.Fatalf("expected the article list capped at 10, got %d", len(n.Articles))
	}

	first := n.Articles[0]
	if first.Title != "Environment story 1" {
		t.Fatalf("unexpected first article: %+v", first)
	}
	if first.Source != "Environment | The Guardian" {
		t.Fatalf("expected the feed title as source, got %q", first.Source)
	}
	if first.PublishedAt != "2024-06-01T10:00:00Z" {
		t.Fatalf("expected a normalized timestamp, got %q", first.PublishedAt)
	}

	seen := make(map[string]struct{})
	for _, art := range n.Articles {
		if _, dup := seen[art.Link]; dup {
			t.Fatalf("syndicated duplicate slipped through: %q", art.Link)
		}
		seen[art.Link] = struct{}{}
	}
}

func TestGuardianFetchShortFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(guardianFeed(3)))
	}))
	defer srv.Close()

	a := NewGuardianAdapter(srv.Client(), nil)
	a.feedURL = srv.URL

	rec, err := a.Fetch(context.Background(), envdata.Query{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 3 unique items plus a duplicate collapse to 3.
	if rec.News.Count != 3 {
		t.Fatalf("expected 3 articles, got %d", rec.News.Count)
	}
}

func TestGuardianFetchClassifiesRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewGuardianAdapter(srv.Client(), nil)
	a.feedURL = srv.URL

	_, err := a.Fetch(context.Background(), envdata.Query{})
	perr, ok := envdata.AsProviderError(err)
	if !ok || perr.Kind != envdata.FailProviderRateLimited {
		t.Fatalf("expected a rate-limited failure, got %v", err)
	}
}
