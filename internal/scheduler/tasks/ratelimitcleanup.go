package tasks

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/displex/displex/internal/api/ratelimit"
	"github.com/displex/displex/internal/scheduler"
)

const RateLimitCleanupInterval = 5 * time.Minute

// RegisterRateLimitCleanupTask drops idle per-IP limiters.
func RegisterRateLimitCleanupTask(sched *scheduler.Scheduler, limiter *ratelimit.Limiter, logger zerolog.Logger) error {
	return sched.RegisterTask(rateLimitCleanupTask(limiter, logger))
}

func rateLimitCleanupTask(limiter *ratelimit.Limiter, logger zerolog.Logger) scheduler.TaskConfig {
	log := logger.With().Str("task", "ratelimit-cleanup").Logger()

	return scheduler.TaskConfig{
		ID:       "ratelimit-cleanup",
		Name:     "Rate Limit Cleanup",
		Interval: RateLimitCleanupInterval,
		Func: func(context.Context) error {
			if n := limiter.Cleanup(ratelimit.DefaultIdleTimeout); n > 0 {
				log.Debug().Int("removed", n).Msg("Dropped idle rate limiters")
			}
			return nil
		},
	}
}
