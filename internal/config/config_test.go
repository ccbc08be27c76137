package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecomonitor/ecomonitor/internal/envdata"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "5m", cfg.Cache.SweepInterval)

	assert.True(t, cfg.Providers.AQICN.Enabled)
	assert.Equal(t, 1000, cfg.Providers.AQICN.QuotaCalls)
	assert.Equal(t, "24h", cfg.Providers.GFW.QuotaWindow)

	assert.False(t, cfg.Refresh.Enabled)
	assert.True(t, cfg.Refresh.StaleRefresh)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ECOMONITOR_SERVER__PORT", "9090")
	t.Setenv("ECOMONITOR_CACHE__SWEEP_INTERVAL", "90s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "90s", cfg.Cache.SweepInterval)
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	t.Setenv("ECOMONITOR_CACHE__SWEEP_INTERVAL", "soon")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sweep_interval")
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Cache.Backend = "redis"
	assert.Error(t, cfg.Validate())

	// Postgres needs a DSN.
	cfg.Cache.Backend = "postgres"
	cfg.Cache.PostgresDSN = ""
	assert.Error(t, cfg.Validate())

	cfg.Cache.PostgresDSN = "postgres://localhost/ecomonitor"
	assert.NoError(t, cfg.Validate())
}

func TestFreshnessPolicies(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	policies := cfg.FreshnessPolicies()
	require.Len(t, policies, 6)

	// Air quality moves fast, hotspots barely move.
	assert.Equal(t, 5*time.Minute, policies[envdata.SubjectAirQuality].TTL)
	assert.Equal(t, 2*time.Minute, policies[envdata.SubjectAirQuality].SoftTTL)
	assert.Equal(t, 24*time.Hour, policies[envdata.SubjectBirdHotspots].TTL)
	assert.Equal(t, 6*time.Hour, policies[envdata.SubjectBirdHotspots].SoftTTL)
}

func TestQuotaLimits(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	limits := cfg.QuotaLimits()
	require.Len(t, limits, 5)
	assert.Equal(t, 500, limits["ebird"].Calls)
	assert.Equal(t, time.Hour, limits["ebird"].Window)
	assert.Equal(t, 24*time.Hour, limits["gfw"].Window)

	// A zero budget means the provider goes unmetered.
	cfg.Providers.GFW.QuotaCalls = 0
	limits = cfg.QuotaLimits()
	assert.Len(t, limits, 4)
	assert.NotContains(t, limits, "gfw")
}

func TestProviderThrottle(t *testing.T) {
	assert.Nil(t, ProviderConfig{ThrottleRPS: 0}.Throttle())

	lim := ProviderConfig{ThrottleRPS: 2}.Throttle()
	require.NotNil(t, lim)
	assert.Equal(t, float64(2), float64(lim.Limit()))
}

func TestTrackedQueryToQuery(t *testing.T) {
	lat, lon := 52.52, 13.405

	q := TrackedQueryConfig{City: "Berlin", Lat: &lat, Lon: &lon}.ToQuery()
	assert.Equal(t, envdata.DashboardSubjects(), q.Subjects, "no subjects means the dashboard set")
	require.NotNil(t, q.Location)
	assert.Equal(t, 52.52, q.Location.Lat)

	q = TrackedQueryConfig{Subjects: []string{"birds", "news"}, Region: "DE-BE"}.ToQuery()
	assert.Equal(t, []envdata.Subject{envdata.SubjectBirds, envdata.SubjectNews}, q.Subjects)
	assert.Nil(t, q.Location)
}

func TestValidateRejectsHalfCoordinates(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	lat := 52.52
	cfg.Refresh.Tracked = []TrackedQueryConfig{{City: "Berlin", Lat: &lat}}
	assert.Error(t, cfg.Validate())
}

func TestDuration(t *testing.T) {
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, 90*time.Second, Duration("90s", time.Minute))
	assert.Equal(t, time.Minute, Duration("garbage", time.Minute))
}
