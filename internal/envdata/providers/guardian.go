package providers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ecomonitor/ecomonitor/internal/envdata"
)

// GuardianAdapter serves the news subject from the Guardian environment
// RSS feed. No credentials needed; the feed is public.
type GuardianAdapter struct {
	name     string
	feedURL  string
	parser   *gofeed.Parser
	throttle *rate.Limiter
	circuit  *gobreaker.CircuitBreaker
	maxItems int
}

var _ envdata.Adapter = (*GuardianAdapter)(nil)

func NewGuardianAdapter(client *http.Client, throttle *rate.Limiter) *GuardianAdapter {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "guardian",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = "ecomonitor/1.0"

	return &GuardianAdapter{
		name:     "guardian",
		feedURL:  "https://www.theguardian.com/environment/rss",
		parser:   parser,
		throttle: throttle,
		circuit:  cb,
		maxItems: 10,
	}
}

func (a *GuardianAdapter) Name() string {
	return a.name
}

func (a *GuardianAdapter) Subject() envdata.Subject {
	return envdata.SubjectNews
}

func (a *GuardianAdapter) Fetch(ctx context.Context, q envdata.Query) (*envdata.NormalizedRecord, error) {
	if a.throttle != nil {
		if err := a.throttle.Wait(ctx); err != nil {
			return nil, classify(a.name, err)
		}
	}

	result, err := a.circuit.Execute(func() (interface{}, error) {
		return a.parser.ParseURLWithContext(a.feedURL, ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, envdata.NewProviderError(envdata.FailProviderUnavailable, a.name,
				"circuit open: %v", err)
		}
		return nil, classifyFeedError(a.name, err)
	}

	feed, ok := result.(*gofeed.Feed)
	if !ok || feed == nil {
		return nil, envdata.NewProviderError(envdata.FailProviderUnavailable, a.name,
			"empty feed response")
	}

	source := feed.Title
	if source == "" {
		source = "The Guardian"
	}

	seen := make(map[string]struct{}, a.maxItems)
	articles := make([]envdata.NewsArticle, 0, a.maxItems)
	for _, item := range feed.Items {
		if item == nil || item.Link == "" {
			continue
		}
		// The feed repeats syndicated entries; keep the first of each.
		if _, dup := seen[item.Link]; dup {
			continue
		}
		seen[item.Link] = struct{}{}

		published := item.Published
		if item.PublishedParsed != nil {
			published = item.PublishedParsed.UTC().Format(time.RFC3339)
		}

		articles = append(articles, envdata.NewsArticle{
			Title:       item.Title,
			Link:        item.Link,
			Source:      source,
			PublishedAt: published,
			Summary:     item.Description,
		})
		if len(articles) >= a.maxItems {
			break
		}
	}

	return &envdata.NormalizedRecord{
		Subject:   envdata.SubjectNews,
		Provider:  a.name,
		FetchedAt: time.Now().UTC(),
		Location:  q.Location,
		News: &envdata.NewsData{
			Count:    len(articles),
			Articles: articles,
		},
	}, nil
}

// classifyFeedError maps gofeed transport failures onto the taxonomy.
func classifyFeedError(provider string, err error) *envdata.ProviderError {
	var httpErr gofeed.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return envdata.NewProviderError(envdata.FailProviderRateLimited, provider,
				"upstream rate limit hit")
		case httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden:
			return envdata.NewProviderError(envdata.FailProviderRejected, provider,
				"upstream rejected request: %d", httpErr.StatusCode)
		default:
			return envdata.NewProviderError(envdata.FailProviderUnavailable, provider,
				"upstream status %d", httpErr.StatusCode)
		}
	}
	return classify(provider, err)
}
