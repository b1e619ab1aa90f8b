package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"keygate.backend/internal/domain/repositories"
	"keygate.backend/pkg/logger"
)

// RateLimitCleanupJob periodically removes windows older than the lookback
// horizon.
type RateLimitCleanupJob struct {
	repo     repositories.RateLimitRepository
	window   time.Duration
	interval time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

func NewRateLimitCleanupJob(repo repositories.RateLimitRepository, window, interval time.Duration) *RateLimitCleanupJob {
	if window <= 0 {
		window = time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &RateLimitCleanupJob{
		repo:     repo,
		window:   window,
		interval: interval,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

func (j *RateLimitCleanupJob) Start(ctx context.Context) {
	logger.Info(ctx, "Starting rate limit cleanup job", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Rate limit cleanup job stopped (context cancelled)")
			return
		case <-j.stop:
			logger.Info(ctx, "Rate limit cleanup job stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

// Stop ends the job. Calling it more than once is a no-op.
func (j *RateLimitCleanupJob) Stop() {
	j.stopOnce.Do(func() { close(j.stop) })
}

func (j *RateLimitCleanupJob) sweep(ctx context.Context) {
	cutoff := j.now().UTC().Add(-j.window)
	deleted, err := j.repo.DeleteBefore(ctx, nil, cutoff)
	if err != nil {
		logger.Error(ctx, "Failed to delete expired rate limit windows", zap.Error(err))
		return
	}
	if deleted > 0 {
		logger.Debug(ctx, "Deleted expired rate limit windows", zap.Int64("count", deleted))
	}
}
