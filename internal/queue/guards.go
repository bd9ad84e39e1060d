package queue

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrichment-service/internal/cache"
)

var (
	// ErrTooBusy means the system is at its concurrent job capacity.
	ErrTooBusy = eris.New("queue: too many active jobs")
	// ErrRateLimited means the user exhausted their enqueue budget.
	ErrRateLimited = eris.New("queue: rate limit exceeded")
)

// GuardConfig bounds system load before a job is accepted.
type GuardConfig struct {
	// MaxConcurrentJobs caps active jobs across all workers. Default: 10.
	MaxConcurrentJobs int64

	// RateLimit is the enqueue budget per user per window. Default: 10.
	RateLimit int64

	// RateWindow is the rate limit window. Default: 1 minute.
	RateWindow time.Duration

	// AdmissionRetryAfter is the wait hinted to callers rejected at
	// capacity. Default: 30 seconds.
	AdmissionRetryAfter time.Duration
}

// DefaultGuardConfig returns the standard admission limits.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxConcurrentJobs:   10,
		RateLimit:           10,
		RateWindow:          time.Minute,
		AdmissionRetryAfter: 30 * time.Second,
	}
}

// Guards enforce admission control ahead of Enqueue. Both checks are
// best-effort: a degraded store admits rather than blocks.
type Guards struct {
	cfg   GuardConfig
	store cache.Store
}

// NewGuards creates admission guards over the store.
func NewGuards(cfg GuardConfig, store cache.Store) *Guards {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 10
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.AdmissionRetryAfter <= 0 {
		cfg.AdmissionRetryAfter = 30 * time.Second
	}
	return &Guards{cfg: cfg, store: store}
}

// CheckAdmission returns ErrTooBusy when the active job set is full. On
// rejection the returned duration hints how long the caller should back off.
func (g *Guards) CheckAdmission(ctx context.Context) (time.Duration, error) {
	if g.store.ZCard(ctx, activeJobsKey) >= g.cfg.MaxConcurrentJobs {
		return g.cfg.AdmissionRetryAfter, ErrTooBusy
	}
	return 0, nil
}

// CheckRateLimit counts this request against the user's window. On rejection
// the returned duration is the longest the caller could need to wait.
func (g *Guards) CheckRateLimit(ctx context.Context, userID string) (time.Duration, error) {
	count := g.store.Increment(ctx, "rate_limit:enrich:"+userID, g.cfg.RateWindow)
	if count > g.cfg.RateLimit {
		return g.cfg.RateWindow, ErrRateLimited
	}
	return 0, nil
}
