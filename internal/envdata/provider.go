package envdata

import (
	"context"
	"time"
)

// Adapter abstracts one upstream data source (AQICN, OpenAQ, eBird, ...).
// Implementations are stateless and read-only: repeated calls with the same
// query may only differ in freshness. Validation failures must surface as a
// *ProviderError of kind FailMalformedQuery before any network I/O.
type Adapter interface {
	// Name is the provider identity used for keys, quota accounting and
	// metrics. Two adapters may share a name when they hit the same
	// upstream (the eBird pair does).
	Name() string
	Subject() Subject
	Fetch(ctx context.Context, q Query) (*NormalizedRecord, error)
}

// CacheEntry is one stored record with its freshness bookkeeping.
type CacheEntry struct {
	Key        string
	Record     *NormalizedRecord
	InsertedAt time.Time
	TTL        time.Duration
}

// ExpiresAt is the hard deadline past which the entry must not be served.
func (e CacheEntry) ExpiresAt() time.Time {
	return e.InsertedAt.Add(e.TTL)
}

// Expired reports whether the entry is past its hard TTL at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

// CacheStore is the contract cache backends must satisfy. Get must treat
// expired entries as absent. Put overwrites wholesale; concurrent writers
// follow last-writer-wins.
type CacheStore interface {
	Get(ctx context.Context, key string) (CacheEntry, bool, error)
	Put(ctx context.Context, entry CacheEntry) error
	// Sweep removes expired entries and reports how many were dropped.
	Sweep(ctx context.Context) (int, error)
	Close() error
}

// GeoResolver turns a city/country pair into coordinates. Optional; the
// aggregator works without one as long as queries carry coordinates where
// the subject needs them.
type GeoResolver interface {
	Resolve(city, country string) (*GeoPoint, error)
}
