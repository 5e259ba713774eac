package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-proxy/internal/models"
	"github.com/kjstillabower/weather-proxy/internal/observability"
)

// Prefetcher is implemented by the service layer. Warming goes through it so
// that every write still passes through Store.GetOrFetch.
type Prefetcher interface {
	Prefetch(ctx context.Context, location string, units models.Units) error
}

// WarmTarget is one location/units pair to keep warm.
type WarmTarget struct {
	Location string
	Units    models.Units
}

// Warmer prefetches a fixed list of targets.
type Warmer struct {
	fetcher Prefetcher
	targets []WarmTarget
	logger  *zap.Logger
}

// NewWarmer creates a Warmer. A nil logger disables logging.
func NewWarmer(fetcher Prefetcher, targets []WarmTarget, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{fetcher: fetcher, targets: targets, logger: logger}
}

// Warm prefetches every target concurrently. Failures are joined into one error.
func (w *Warmer) Warm(ctx context.Context) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("targets", len(w.targets)))

	ctx = observability.WithLogger(ctx, w.logger)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, t := range w.targets {
		wg.Add(1)
		go func(t WarmTarget) {
			defer wg.Done()
			if err := w.fetcher.Prefetch(ctx, t.Location, t.Units); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s (%s): %w", t.Location, t.Units, err))
				mu.Unlock()
			}
		}(t)
	}
	wg.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("targets", len(w.targets)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return errors.Join(errs...)
	}
	return nil
}

// Start runs Warm immediately and then every interval on a gocron scheduler.
// Runs never overlap; each is bounded by runTimeout when positive.
// The returned stop function halts the scheduler.
func (w *Warmer) Start(interval, runTimeout time.Duration) (stop func(), err error) {
	if interval <= 0 {
		return nil, fmt.Errorf("warm interval must be positive, got %s", interval)
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	_, err = s.Every(interval).Do(func() {
		ctx := context.Background()
		if runTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, runTimeout)
			defer cancel()
		}
		if err := w.Warm(ctx); err != nil {
			w.logger.Warn("cache warm failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule cache warming: %w", err)
	}
	s.StartAsync()
	return s.Stop, nil
}
