// Package providers holds the upstream adapters. Each adapter validates
// its query before any network I/O, funnels the call through a shared
// breaker/backoff/throttle helper and maps the payload into the
// normalized record shape.
package providers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ecomonitor/ecomonitor/internal/envdata"
)

// BackoffConfig controls retry behaviour. MaxRetries counts retries after
// the first attempt; transient failures get at most that many more tries.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client *http.Client
	// Throttle spaces outbound calls to stay polite with the upstream.
	// Nil means unthrottled.
	Throttle *rate.Limiter
	Backoff  BackoffConfig
}

var (
	errRateLimited   = errors.New("rate limited")
	errRejected      = errors.New("request rejected")
	errServerError   = errors.New("server error")
	errUnexpected    = errors.New("unexpected status code")
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// defaultBackoff is a single bounded retry. Only transient failures
// (transport errors and 5xx) are retried; 4xx answers are final.
func defaultBackoff() BackoffConfig {
	return BackoffConfig{
		MaxRetries:      1,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// doRequestWithResilience executes the HTTP request behind the circuit
// breaker with throttling and bounded retries.
func doRequestWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func() (*http.Request, error),
) (*http.Response, error) {
	if cfg.Client == nil {
		return nil, errNoHTTPClient
	}
	if cfg.Backoff.MaxRetries < 0 || cfg.Backoff.InitialInterval <= 0 {
		return nil, errInvalidConfig
	}

	var attempt int
	var lastErr error

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if cfg.Throttle != nil {
			if err := cfg.Throttle.Wait(ctx); err != nil {
				return nil, err
			}
		}

		req, err := buildRequest()
		if err != nil {
			return nil, err
		}

		// Ensure the request obeys context cancellation.
		req = req.WithContext(ctx)

		result, err := cb.Execute(func() (interface{}, error) {
			resp, execErr := cfg.Client.Do(req)
			if execErr != nil {
				return nil, execErr
			}

			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				resp.Body.Close()
				return nil, errRateLimited
			case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
				resp.Body.Close()
				return nil, fmt.Errorf("%w: %d", errRejected, resp.StatusCode)
			case resp.StatusCode >= 500:
				resp.Body.Close()
				return nil, errServerError
			case resp.StatusCode < 200 || resp.StatusCode >= 300:
				resp.Body.Close()
				return nil, fmt.Errorf("%w: %d", errUnexpected, resp.StatusCode)
			}

			return resp, nil
		})

		if err == nil {
			resp, ok := result.(*http.Response)
			if !ok {
				return nil, fmt.Errorf("unexpected result type from circuit breaker")
			}
			return resp, nil
		}

		// If circuit is open, propagate immediately.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}

		lastErr = err
		if !isTransient(err) || attempt >= cfg.Backoff.MaxRetries {
			return nil, lastErr
		}

		delay := cfg.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > cfg.Backoff.MaxInterval && cfg.Backoff.MaxInterval > 0 {
			delay = cfg.Backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			// continue to next attempt
		}

		attempt++
	}
}

// isTransient reports whether a failed attempt is worth one more try.
// Rate limits and auth refusals will not improve on retry.
func isTransient(err error) bool {
	if errors.Is(err, errRateLimited) || errors.Is(err, errRejected) || errors.Is(err, errUnexpected) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Server errors and transport errors remain.
	return true
}

// classify folds transport-level failures into the result taxonomy.
func classify(provider string, err error) *envdata.ProviderError {
	switch {
	case errors.Is(err, errRateLimited):
		return envdata.NewProviderError(envdata.FailProviderRateLimited, provider,
			"upstream rate limit hit")
	case errors.Is(err, errRejected):
		return envdata.NewProviderError(envdata.FailProviderRejected, provider,
			"upstream rejected credentials: %v", err)
	case errors.Is(err, errCircuitOpen):
		return envdata.NewProviderError(envdata.FailProviderUnavailable, provider,
			"circuit open: %v", err)
	case errors.Is(err, context.DeadlineExceeded):
		return envdata.NewProviderError(envdata.FailProviderUnavailable, provider,
			"request timed out")
	default:
		return envdata.NewProviderError(envdata.FailProviderUnavailable, provider,
			"%v", err)
	}
}
