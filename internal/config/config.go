package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"golang.org/x/time/rate"

	"github.com/ecomonitor/ecomonitor/internal/envdata"
	"github.com/ecomonitor/ecomonitor/internal/quota"
)

// Config is the top-level configuration. Values layer as defaults, then an
// optional YAML file, then ECOMONITOR_* environment variables. Credentials
// never live here; they come from the environment only.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Cache     CacheConfig     `koanf:"cache"`
	Providers ProvidersConfig `koanf:"providers"`
	Freshness FreshnessConfig `koanf:"freshness"`
	Refresh   RefreshConfig   `koanf:"refresh"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Port           int    `koanf:"port"`
	RequestTimeout string `koanf:"request_timeout"`
	ReadTimeout    string `koanf:"read_timeout"`
	WriteTimeout   string `koanf:"write_timeout"`
}

// CacheConfig selects and tunes the cache backend.
type CacheConfig struct {
	// Backend is "memory" or "postgres".
	Backend       string `koanf:"backend"`
	PostgresDSN   string `koanf:"postgres_dsn"`
	SweepInterval string `koanf:"sweep_interval"`
}

// ProviderConfig tunes one upstream: its call budget and outbound pacing.
type ProviderConfig struct {
	Enabled     bool    `koanf:"enabled"`
	QuotaCalls  int     `koanf:"quota_calls"`
	QuotaWindow string  `koanf:"quota_window"`
	ThrottleRPS float64 `koanf:"throttle_rps"`
}

// ProvidersConfig groups all upstream settings.
type ProvidersConfig struct {
	HTTPTimeout string         `koanf:"http_timeout"`
	AQICN       ProviderConfig `koanf:"aqicn"`
	OpenAQ      ProviderConfig `koanf:"openaq"`
	EBird       ProviderConfig `koanf:"ebird"`
	GFW         ProviderConfig `koanf:"gfw"`
	Guardian    ProviderConfig `koanf:"guardian"`
}

// SubjectPolicyConfig is one subject's freshness pair.
type SubjectPolicyConfig struct {
	TTL     string `koanf:"ttl"`
	SoftTTL string `koanf:"soft_ttl"`
}

// FreshnessConfig holds per-subject freshness policies.
type FreshnessConfig struct {
	AirQuality    SubjectPolicyConfig `koanf:"air_quality"`
	Pollution     SubjectPolicyConfig `koanf:"pollution"`
	Birds         SubjectPolicyConfig `koanf:"birds"`
	BirdHotspots  SubjectPolicyConfig `koanf:"bird_hotspots"`
	Deforestation SubjectPolicyConfig `koanf:"deforestation"`
	News          SubjectPolicyConfig `koanf:"news"`
}

// TrackedQueryConfig is one query the background refresher keeps warm.
type TrackedQueryConfig struct {
	Subjects []string `koanf:"subjects"`
	City     string   `koanf:"city"`
	Country  string   `koanf:"country"`
	Region   string   `koanf:"region"`
	Lat      *float64 `koanf:"lat"`
	Lon      *float64 `koanf:"lon"`
}

// RefreshConfig controls background cache warming.
type RefreshConfig struct {
	Enabled      bool                 `koanf:"enabled"`
	StaleRefresh bool                 `koanf:"stale_refresh"`
	Interval     string               `koanf:"interval"`
	Tracked      []TrackedQueryConfig `koanf:"tracked"`
}

// Credentials are the provider secrets, read from the environment once at
// startup. They are handed to the keyring and must never be logged.
type Credentials struct {
	AQICNKey    string
	EBirdKey    string
	OpenAQKey   string
	GeocoderKey string
}

// Load builds the configuration. configPath may be empty, in which case
// only defaults and environment variables apply. A .env file is honored
// for development.
func Load(configPath string) (*Config, error) {
	// Ignore a missing .env; production sets real environment variables.
	_ = godotenv.Load()

	k := koanf.New(".")

	for key, value := range defaults() {
		k.Set(key, value)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// ECOMONITOR_SERVER__PORT=9090 overrides server.port
	if err := k.Load(env.Provider("ECOMONITOR_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "ECOMONITOR_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadCredentials reads provider secrets from the environment.
func LoadCredentials() Credentials {
	return Credentials{
		AQICNKey:    os.Getenv("AQICN_API_KEY"),
		EBirdKey:    os.Getenv("EBIRD_API_KEY"),
		OpenAQKey:   os.Getenv("OPENAQ_API_KEY"),
		GeocoderKey: os.Getenv("GOOGLE_GEOCODER_API_KEY"),
	}
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.port":            8080,
		"server.request_timeout": "15s",
		"server.read_timeout":    "10s",
		"server.write_timeout":   "10s",

		"cache.backend":        "memory",
		"cache.postgres_dsn":   "",
		"cache.sweep_interval": "5m",

		"providers.http_timeout":          "10s",
		"providers.aqicn.enabled":         true,
		"providers.aqicn.quota_calls":     1000,
		"providers.aqicn.quota_window":    "1h",
		"providers.aqicn.throttle_rps":    1.0,
		"providers.openaq.enabled":        true,
		"providers.openaq.quota_calls":    300,
		"providers.openaq.quota_window":   "1h",
		"providers.openaq.throttle_rps":   1.0,
		"providers.ebird.enabled":         true,
		"providers.ebird.quota_calls":     500,
		"providers.ebird.quota_window":    "1h",
		"providers.ebird.throttle_rps":    2.0,
		"providers.gfw.enabled":           true,
		"providers.gfw.quota_calls":       100,
		"providers.gfw.quota_window":      "24h",
		"providers.gfw.throttle_rps":      0.5,
		"providers.guardian.enabled":      true,
		"providers.guardian.quota_calls":  60,
		"providers.guardian.quota_window": "1h",
		"providers.guardian.throttle_rps": 0.2,

		"freshness.air_quality.ttl":        "5m",
		"freshness.air_quality.soft_ttl":   "2m",
		"freshness.pollution.ttl":          "1h",
		"freshness.pollution.soft_ttl":     "20m",
		"freshness.birds.ttl":              "1h",
		"freshness.birds.soft_ttl":         "20m",
		"freshness.bird_hotspots.ttl":      "24h",
		"freshness.bird_hotspots.soft_ttl": "6h",
		"freshness.deforestation.ttl":      "24h",
		"freshness.deforestation.soft_ttl": "6h",
		"freshness.news.ttl":               "1h",
		"freshness.news.soft_ttl":          "20m",

		"refresh.enabled":       false,
		"refresh.stale_refresh": true,
		"refresh.interval":      "15m",
	}
}

// Validate checks ranges and that every duration field parses.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	switch c.Cache.Backend {
	case "memory":
	case "postgres":
		if c.Cache.PostgresDSN == "" {
			return fmt.Errorf("cache.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("cache.backend %q is not supported", c.Cache.Backend)
	}

	durations := map[string]string{
		"server.request_timeout": c.Server.RequestTimeout,
		"server.read_timeout":    c.Server.ReadTimeout,
		"server.write_timeout":   c.Server.WriteTimeout,
		"cache.sweep_interval":   c.Cache.SweepInterval,
		"providers.http_timeout": c.Providers.HTTPTimeout,
		"refresh.interval":       c.Refresh.Interval,
	}
	for _, pc := range []struct {
		name string
		p    ProviderConfig
	}{
		{"aqicn", c.Providers.AQICN},
		{"openaq", c.Providers.OpenAQ},
		{"ebird", c.Providers.EBird},
		{"gfw", c.Providers.GFW},
		{"guardian", c.Providers.Guardian},
	} {
		durations["providers."+pc.name+".quota_window"] = pc.p.QuotaWindow
	}
	for _, sc := range []struct {
		name string
		p    SubjectPolicyConfig
	}{
		{"air_quality", c.Freshness.AirQuality},
		{"pollution", c.Freshness.Pollution},
		{"birds", c.Freshness.Birds},
		{"bird_hotspots", c.Freshness.BirdHotspots},
		{"deforestation", c.Freshness.Deforestation},
		{"news", c.Freshness.News},
	} {
		durations["freshness."+sc.name+".ttl"] = sc.p.TTL
		durations["freshness."+sc.name+".soft_ttl"] = sc.p.SoftTTL
	}

	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	for i, t := range c.Refresh.Tracked {
		if (t.Lat == nil) != (t.Lon == nil) {
			return fmt.Errorf("refresh.tracked[%d]: lat and lon must come together", i)
		}
		for _, s := range t.Subjects {
			if _, ok := envdata.ParseSubject(s); !ok {
				return fmt.Errorf("refresh.tracked[%d]: unknown subject %q", i, s)
			}
		}
	}

	return nil
}

// Duration parses a validated duration field, falling back when unset.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// FreshnessPolicies converts the config into the aggregator's policy map.
func (c *Config) FreshnessPolicies() map[envdata.Subject]envdata.FreshnessPolicy {
	pairs := map[envdata.Subject]SubjectPolicyConfig{
		envdata.SubjectAirQuality:    c.Freshness.AirQuality,
		envdata.SubjectPollution:     c.Freshness.Pollution,
		envdata.SubjectBirds:         c.Freshness.Birds,
		envdata.SubjectBirdHotspots:  c.Freshness.BirdHotspots,
		envdata.SubjectDeforestation: c.Freshness.Deforestation,
		envdata.SubjectNews:          c.Freshness.News,
	}

	policies := make(map[envdata.Subject]envdata.FreshnessPolicy, len(pairs))
	for sub, p := range pairs {
		policies[sub] = envdata.FreshnessPolicy{
			TTL:     Duration(p.TTL, envdata.DefaultFreshness.TTL),
			SoftTTL: Duration(p.SoftTTL, envdata.DefaultFreshness.SoftTTL),
		}
	}
	return policies
}

// QuotaLimits converts the config into per-provider call budgets.
func (c *Config) QuotaLimits() map[string]quota.Limit {
	limits := make(map[string]quota.Limit, 5)
	for name, p := range map[string]ProviderConfig{
		"aqicn":    c.Providers.AQICN,
		"openaq":   c.Providers.OpenAQ,
		"ebird":    c.Providers.EBird,
		"gfw":      c.Providers.GFW,
		"guardian": c.Providers.Guardian,
	} {
		if p.QuotaCalls <= 0 {
			continue
		}
		limits[name] = quota.Limit{
			Calls:  p.QuotaCalls,
			Window: Duration(p.QuotaWindow, time.Hour),
		}
	}
	return limits
}

// Throttle builds the outbound pacing limiter, or nil when unpaced.
func (p ProviderConfig) Throttle() *rate.Limiter {
	if p.ThrottleRPS <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(p.ThrottleRPS), 1)
}

// ToQuery converts a tracked entry into a resolvable query.
func (t TrackedQueryConfig) ToQuery() envdata.Query {
	q := envdata.Query{
		City:    t.City,
		Country: t.Country,
		Region:  t.Region,
	}
	if t.Lat != nil && t.Lon != nil {
		q.Location = &envdata.GeoPoint{Lat: *t.Lat, Lon: *t.Lon}
	}
	if len(t.Subjects) == 0 {
		q.Subjects = envdata.DashboardSubjects()
		return q
	}
	for _, s := range t.Subjects {
		if sub, ok := envdata.ParseSubject(s); ok {
			q.Subjects = append(q.Subjects, sub)
		}
	}
	return q
}
