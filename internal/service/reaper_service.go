package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/lock"
	"github.com/apexcoding/apexcoding/internal/metrics"
	"github.com/apexcoding/apexcoding/internal/repository"
)

// LeaseReaper periodically releases checkouts whose lease has expired.
type LeaseReaper struct {
	projects   repository.ProjectRepository
	activities repository.ActivityRepository
	tx         repository.TxManager
	locker     lock.Locker
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	config     ReaperConfig
	now        Clock

	// Control
	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// ReaperConfig contains lease reaper configuration.
type ReaperConfig struct {
	// Interval is how often expired leases are swept.
	Interval time.Duration
}

// DefaultReaperConfig returns sensible defaults.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Interval: 5 * time.Minute,
	}
}

// ReaperResult contains the result of one sweep.
type ReaperResult struct {
	// Released lists the projects whose checkout was cleared.
	Released []string

	// Skipped is true when another instance held the sweep lock.
	Skipped bool

	// Err is the failure that ended the sweep, if any.
	Err error

	Duration time.Duration
}

// NewLeaseReaper creates a new lease reaper.
func NewLeaseReaper(
	repos *repository.Repositories,
	locker lock.Locker,
	m *metrics.Metrics,
	logger zerolog.Logger,
	config ReaperConfig,
) *LeaseReaper {
	if config.Interval <= 0 {
		config.Interval = DefaultReaperConfig().Interval
	}
	return &LeaseReaper{
		projects:   repos.Project,
		activities: repos.Activity,
		tx:         repos.Tx,
		locker:     locker,
		metrics:    m,
		logger:     logger.With().Str("service", "reaper").Logger(),
		config:     config,
		now:        SystemClock,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

// Start begins the sweep scheduler.
func (r *LeaseReaper) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	r.logger.Info().
		Dur("interval", r.config.Interval).
		Msg("starting lease reaper")

	go r.runLoop()
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
func (r *LeaseReaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopChan)
	<-r.doneChan

	r.logger.Info().Msg("lease reaper stopped")
}

func (r *LeaseReaper) runLoop() {
	defer close(r.doneChan)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-r.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	r.RunOnce(ctx)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-r.stopChan:
			return
		}
	}
}

// RunOnce executes a single sweep. It can be called manually or by the
// scheduler.
func (r *LeaseReaper) RunOnce(ctx context.Context) ReaperResult {
	start := time.Now()
	result := ReaperResult{Released: []string{}}

	// Lock expires before the next scheduled sweep.
	lockKey := repository.LockKey{}.LeaseReaper()
	lockTTL := max(r.config.Interval/2, time.Minute)

	acquired, err := r.locker.Acquire(ctx, lockKey, lockTTL)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to acquire reaper lock")
		result.Err = err
		result.Duration = time.Since(start)
		return result
	}
	if !acquired {
		r.logger.Debug().Msg("reaper lock held by another instance, skipping sweep")
		result.Skipped = true
		result.Duration = time.Since(start)
		return result
	}
	defer func() {
		if _, err := r.locker.Release(context.WithoutCancel(ctx), lockKey); err != nil {
			r.logger.Error().Err(err).Msg("failed to release reaper lock")
		}
	}()

	now := r.now()
	err = r.tx.WithTx(ctx, func(ctx context.Context) error {
		released, err := r.projects.ReleaseExpired(ctx, now)
		if err != nil {
			return err
		}
		for _, id := range released {
			a := newActivity(id, "", domain.ActivityReleased, "checkout lease expired", now)
			if err := r.activities.Create(ctx, a); err != nil {
				return err
			}
		}
		result.Released = released
		return nil
	})
	result.Duration = time.Since(start)
	if err != nil {
		r.logger.Error().Err(err).Msg("lease sweep failed")
		result.Err = err
		result.Released = []string{}
		return result
	}

	r.metrics.ObserveReaperRun(len(result.Released), result.Duration)

	if len(result.Released) > 0 {
		r.logger.Info().
			Strs("project_ids", result.Released).
			Dur("duration", result.Duration).
			Msg("expired checkouts released")
	}

	return result
}
