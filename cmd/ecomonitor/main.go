package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/ecomonitor/ecomonitor/internal/api/http"
	"github.com/ecomonitor/ecomonitor/internal/cache"
	"github.com/ecomonitor/ecomonitor/internal/config"
	"github.com/ecomonitor/ecomonitor/internal/envdata"
	"github.com/ecomonitor/ecomonitor/internal/envdata/providers"
	"github.com/ecomonitor/ecomonitor/internal/geo"
	"github.com/ecomonitor/ecomonitor/internal/logging"
	"github.com/ecomonitor/ecomonitor/internal/metrics"
	"github.com/ecomonitor/ecomonitor/internal/quota"
	"github.com/ecomonitor/ecomonitor/internal/scheduler"
)

func main() {
	logger := logging.New("ecomonitor")

	// Load configuration; CONFIG_PATH points at an optional YAML file.
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	// Provider secrets come from the environment only.
	creds := config.LoadCredentials()
	keyring := quota.NewKeyring(map[string]string{
		"aqicn":  creds.AQICNKey,
		"ebird":  creds.EBirdKey,
		"openaq": creds.OpenAQKey,
	})

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: config.Duration(cfg.Providers.HTTPTimeout, 10*time.Second),
	}

	// Cache backend: in-memory by default, postgres when the cache
	// should survive restarts.
	var store envdata.CacheStore
	if cfg.Cache.Backend == "postgres" {
		startupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pgStore, err := cache.OpenPostgres(startupCtx, cfg.Cache.PostgresDSN, nil)
		cancel()
		if err != nil {
			logger.Fatalf("failed to open postgres cache: %v", err)
		}
		store = pgStore
	} else {
		store = cache.NewMemoryStore(nil)
	}

	// Per-provider call budgets.
	gate := quota.NewManager(cfg.QuotaLimits(), nil)

	// Adapters with resilience (backoff + circuit breaker + throttle).
	var adapters []envdata.Adapter
	if cfg.Providers.AQICN.Enabled {
		adapters = append(adapters, providers.NewAQICNAdapter(
			httpClient, keyring.Key("aqicn"), cfg.Providers.AQICN.Throttle()))
	}
	if cfg.Providers.OpenAQ.Enabled {
		adapters = append(adapters, providers.NewOpenAQAdapter(
			httpClient, keyring.Key("openaq"), cfg.Providers.OpenAQ.Throttle()))
	}
	if cfg.Providers.EBird.Enabled {
		// Observations and hotspots share the eBird key and budget.
		adapters = append(adapters, providers.NewEBirdObservationsAdapter(
			httpClient, keyring.Key("ebird"), cfg.Providers.EBird.Throttle()))
		adapters = append(adapters, providers.NewEBirdHotspotsAdapter(
			httpClient, keyring.Key("ebird"), cfg.Providers.EBird.Throttle()))
	}
	if cfg.Providers.GFW.Enabled {
		adapters = append(adapters, providers.NewGFWAdapter(
			httpClient, cfg.Providers.GFW.Throttle()))
	}
	if cfg.Providers.Guardian.Enabled {
		adapters = append(adapters, providers.NewGuardianAdapter(
			httpClient, cfg.Providers.Guardian.Throttle()))
	}

	m := metrics.New(nil)

	// Core service orchestrating adapters, cache and quota.
	service := envdata.NewService(envdata.ServiceConfig{
		Cache:        store,
		Quota:        gate,
		Adapters:     adapters,
		Geo:          geo.NewResolver(creds.GeocoderKey),
		Policies:     cfg.FreshnessPolicies(),
		Metrics:      m,
		Logger:       logger,
		StaleRefresh: cfg.Refresh.StaleRefresh,
	})

	// Scheduler for cache warming and expired entry cleanup.
	var tracked []envdata.Query
	if cfg.Refresh.Enabled {
		for _, t := range cfg.Refresh.Tracked {
			tracked = append(tracked, t.ToQuery())
		}
	}
	sched := scheduler.New(service, store, tracked,
		config.Duration(cfg.Refresh.Interval, 15*time.Minute),
		config.Duration(cfg.Cache.SweepInterval, 5*time.Minute),
		logger)
	if err := sched.Start(); err != nil {
		logger.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "ecomonitor",
		DisableStartupMessage: true,
		ReadTimeout:           config.Duration(cfg.Server.ReadTimeout, 10*time.Second),
		WriteTimeout:          config.Duration(cfg.Server.WriteTimeout, 10*time.Second),
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(fiberlogger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "ecomonitor",
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, service, m,
		config.Duration(cfg.Server.RequestTimeout, 15*time.Second))

	// Start server with graceful shutdown
	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
			logger.Error("fiber server stopped", "error", err.Error())
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("error during shutdown", "error", err.Error())
	}
	if err := store.Close(); err != nil {
		logger.Error("error closing cache store", "error", err.Error())
	}
}
