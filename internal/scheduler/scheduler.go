package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/ecomonitor/ecomonitor/internal/envdata"
	"github.com/ecomonitor/ecomonitor/internal/logging"
)

// Scheduler periodically re-resolves tracked queries so their cache
// entries stay warm, and sweeps expired entries out of the store.
type Scheduler struct {
	scheduler     *gocron.Scheduler
	service       *envdata.Service
	store         envdata.CacheStore
	tracked       []envdata.Query
	interval      time.Duration
	sweepInterval time.Duration
	logger        *logging.Logger
}

// New creates a Scheduler. Either job can be disabled: no tracked queries
// skips the warm-refresh job, a nil store or zero sweepInterval skips the
// sweep job.
func New(service *envdata.Service, store envdata.CacheStore, tracked []envdata.Query,
	interval, sweepInterval time.Duration, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.New("scheduler")
	}
	return &Scheduler{
		scheduler:     gocron.NewScheduler(time.UTC),
		service:       service,
		store:         store,
		tracked:       tracked,
		interval:      interval,
		sweepInterval: sweepInterval,
		logger:        logger,
	}
}

// Start schedules the periodic jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	scheduled := false

	if len(s.tracked) > 0 && s.service != nil {
		minutes := int(s.interval.Minutes())
		if minutes <= 0 {
			minutes = 15
		}
		if _, err := s.scheduler.Every(minutes).Minutes().Do(s.refreshTracked); err != nil {
			return err
		}
		scheduled = true
	}

	if s.store != nil && s.sweepInterval > 0 {
		minutes := int(s.sweepInterval.Minutes())
		if minutes <= 0 {
			minutes = 5
		}
		if _, err := s.scheduler.Every(minutes).Minutes().Do(s.sweep); err != nil {
			return err
		}
		scheduled = true
	}

	if !scheduled {
		s.logger.Info("nothing to schedule")
		return nil
	}

	s.scheduler.StartAsync()
	return nil
}

// refreshTracked resolves every tracked query. Going through Resolve means
// fresh entries cost nothing, stale ones refetch, and in-flight user
// requests for the same keys are joined instead of duplicated.
func (s *Scheduler) refreshTracked() {
	s.logger.Info("running warm refresh", "queries", len(s.tracked))

	var wg sync.WaitGroup
	for _, q := range s.tracked {
		q := q
		wg.Add(1)
		go func() {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			resp, err := s.service.Resolve(ctx, q)
			if err != nil {
				s.logger.Warn("warm refresh failed", "error", err.Error())
				return
			}
			for sub, res := range resp.Results {
				if res.Status == envdata.StatusFailed && res.Error != nil {
					s.logger.Warn("warm refresh subject failed",
						"subject", string(sub), "kind", string(res.Error.Kind))
				}
			}
		}()
	}
	wg.Wait()

	s.logger.Info("completed warm refresh")
}

// sweep drops expired cache entries.
func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := s.store.Sweep(ctx)
	if err != nil {
		s.logger.Warn("cache sweep failed", "error", err.Error())
		return
	}
	if removed > 0 {
		s.logger.Info("cache sweep removed entries", "count", removed)
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
