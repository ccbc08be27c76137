package envdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/ecomonitor/ecomonitor/internal/logging"
	"github.com/ecomonitor/ecomonitor/internal/metrics"
	"github.com/ecomonitor/ecomonitor/internal/quota"
)

// FreshnessPolicy is the per-subject freshness contract. TTL is the hard
// limit a cached record may be served under; SoftTTL is the age past which
// a served record is marked stale and a background refresh may start.
type FreshnessPolicy struct {
	TTL     time.Duration
	SoftTTL time.Duration
}

// DefaultFreshness applies to subjects without an explicit policy.
var DefaultFreshness = FreshnessPolicy{
	TTL:     time.Hour,
	SoftTTL: 20 * time.Minute,
}

// ServiceConfig bundles the aggregator's collaborators.
type ServiceConfig struct {
	Cache    CacheStore
	Quota    *quota.Manager
	Adapters []Adapter
	Geo      GeoResolver
	Policies map[Subject]FreshnessPolicy
	Metrics  *metrics.Metrics
	Logger   *logging.Logger
	Clock    clockwork.Clock

	// StaleRefresh enables background refetching when a stale hit is
	// served. The refresh shares the request dedup group, so it never
	// duplicates an in-flight fetch.
	StaleRefresh        bool
	StaleRefreshTimeout time.Duration
}

// Service merges per-subject provider data into one response. Partial
// failure is the normal case: every requested subject yields exactly one
// tagged result and only request-level validation fails a whole call.
type Service struct {
	cache    CacheStore
	quota    *quota.Manager
	adapters map[Subject]Adapter
	geo      GeoResolver
	policies map[Subject]FreshnessPolicy
	metrics  *metrics.Metrics
	logger   *logging.Logger
	clock    clockwork.Clock

	refreshEnabled bool
	refreshTimeout time.Duration

	flight singleflight.Group
}

// NewService creates the aggregator.
func NewService(cfg ServiceConfig) *Service {
	adapters := make(map[Subject]Adapter, len(cfg.Adapters))
	for _, a := range cfg.Adapters {
		adapters[a.Subject()] = a
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.New("envdata")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	refreshTimeout := cfg.StaleRefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = 30 * time.Second
	}

	return &Service{
		cache:          cfg.Cache,
		quota:          cfg.Quota,
		adapters:       adapters,
		geo:            cfg.Geo,
		policies:       cfg.Policies,
		metrics:        cfg.Metrics,
		logger:         logger,
		clock:          clock,
		refreshEnabled: cfg.StaleRefresh,
		refreshTimeout: refreshTimeout,
	}
}

// Resolve answers a query with one tagged result per requested subject.
// Only a malformed query returns an error; provider, quota and cache
// trouble all degrade into typed per-subject failures.
func (s *Service) Resolve(ctx context.Context, q Query) (*AggregatedResponse, error) {
	started := s.clock.Now()

	if err := q.Validate(); err != nil {
		s.metrics.ObserveResolve(s.clock.Now().Sub(started), err)
		return nil, err
	}

	requestID := uuid.NewString()
	logger := s.logger.WithRequestID(requestID)
	ctx = logging.ContextWithLogger(ctx, logger)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[Subject]DomainResult, len(q.Subjects))
	)

	for _, sub := range q.Subjects {
		sub := sub
		wg.Add(1)
		go func() {
			defer wg.Done()

			res := s.resolveSubject(ctx, sub, q)

			mu.Lock()
			results[sub] = res
			mu.Unlock()
		}()
	}

	wg.Wait()

	elapsed := s.clock.Now().Sub(started)
	s.metrics.ObserveResolve(elapsed, nil)

	return &AggregatedResponse{
		RequestID:   requestID,
		GeneratedAt: s.clock.Now().UTC(),
		ElapsedMS:   elapsed.Milliseconds(),
		Results:     results,
	}, nil
}

// resolveSubject runs the cache-then-fetch path for one subject. It always
// returns a result; errors are folded into the failure taxonomy.
func (s *Service) resolveSubject(ctx context.Context, sub Subject, q Query) DomainResult {
	logger := logging.FromContext(ctx, s.logger)

	adapter, ok := s.adapters[sub]
	if !ok {
		return FailureResult(sub, NewProviderError(
			FailProviderUnavailable, "", "no adapter configured for subject %s", sub))
	}

	key := q.CacheKey(sub)
	pol := s.policy(sub)

	cacheDegraded := false
	if s.cache != nil {
		entry, found, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			// Degraded mode: fetch directly, skip the write-through.
			cacheDegraded = true
			s.metrics.RecordCacheOp(string(sub), "error")
			logger.Warn("cache lookup failed, fetching directly",
				"subject", string(sub), "error", err.Error())
		case found:
			age := s.clock.Now().Sub(entry.InsertedAt)
			if pol.SoftTTL > 0 && age > pol.SoftTTL {
				s.metrics.RecordCacheOp(string(sub), "stale")
				if s.refreshEnabled {
					s.refreshInBackground(adapter, sub, key, q, pol)
				}
				return StaleResult(sub, entry.Record)
			}
			s.metrics.RecordCacheOp(string(sub), "hit")
			return SuccessResult(sub, entry.Record)
		default:
			s.metrics.RecordCacheOp(string(sub), "miss")
		}
	}

	rec, err := s.fetchThrough(ctx, adapter, sub, key, q, pol, cacheDegraded)
	if err != nil {
		perr := FailureFromError(adapter.Name(), err)
		logger.Warn("subject fetch failed",
			"subject", string(sub),
			"provider", adapter.Name(),
			"kind", string(perr.Kind),
			"error", perr.Message)
		return FailureResult(sub, perr)
	}
	return SuccessResult(sub, rec)
}

// fetchThrough performs the quota-gated provider fetch and write-through.
// Concurrent identical misses collapse onto a single upstream call, so one
// reservation covers all waiters.
func (s *Service) fetchThrough(ctx context.Context, adapter Adapter, sub Subject, key string, q Query, pol FreshnessPolicy, skipWrite bool) (*NormalizedRecord, error) {
	v, err, _ := s.flight.Do(key, func() (interface{}, error) {
		if s.quota != nil {
			d := s.quota.Reserve(adapter.Name())
			if !d.Allowed {
				s.metrics.RecordQuotaDenial(adapter.Name())
				return nil, NewProviderError(FailQuotaExceeded, adapter.Name(),
					"call budget spent, window resets at %s", d.ResetAt.UTC().Format(time.RFC3339))
			}
		}

		fetchQ := s.maybeGeocode(ctx, q)

		begun := s.clock.Now()
		rec, err := adapter.Fetch(ctx, fetchQ)
		s.metrics.RecordProviderCall(adapter.Name(), err, s.clock.Now().Sub(begun))
		if err != nil {
			return nil, err
		}

		if s.cache != nil && !skipWrite {
			entry := CacheEntry{
				Key:        key,
				Record:     rec,
				InsertedAt: s.clock.Now(),
				TTL:        pol.TTL,
			}
			if putErr := s.cache.Put(ctx, entry); putErr != nil {
				// A failed write-through never fails the request.
				s.metrics.RecordCacheOp(string(sub), "error")
				logging.FromContext(ctx, s.logger).Warn("cache write failed",
					"subject", string(sub), "error", putErr.Error())
			}
		}

		return rec, nil
	})
	if err != nil {
		return nil, err
	}

	rec, ok := v.(*NormalizedRecord)
	if !ok {
		return nil, fmt.Errorf("unexpected record type from fetch group")
	}
	return rec, nil
}

// refreshInBackground refetches a stale entry without blocking the caller.
// Failures only log; the stale response already went out.
func (s *Service) refreshInBackground(adapter Adapter, sub Subject, key string, q Query, pol FreshnessPolicy) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.refreshTimeout)
		defer cancel()

		if _, err := s.fetchThrough(ctx, adapter, sub, key, q, pol, false); err != nil {
			s.logger.Debug("background refresh failed",
				"subject", string(sub), "error", err.Error())
		}
	}()
}

// maybeGeocode resolves city/country into coordinates when the query has
// none. Runs only on the miss path so cache hits never pay for it; failure
// is not fatal because several adapters accept city names directly.
func (s *Service) maybeGeocode(ctx context.Context, q Query) Query {
	if s.geo == nil || q.Location != nil || q.City == "" {
		return q
	}
	loc, err := s.geo.Resolve(q.City, q.Country)
	if err != nil {
		logging.FromContext(ctx, s.logger).Debug("geocoding failed",
			"city", q.City, "error", err.Error())
		return q
	}
	return q.WithLocation(loc)
}

func (s *Service) policy(sub Subject) FreshnessPolicy {
	if pol, ok := s.policies[sub]; ok && pol.TTL > 0 {
		return pol
	}
	return DefaultFreshness
}
