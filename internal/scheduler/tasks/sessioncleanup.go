package tasks

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/displex/displex/internal/scheduler"
)

// ExpiredSessionDeleter removes server-side sessions past their expiry.
type ExpiredSessionDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

const SessionCleanupInterval = 15 * time.Minute

// RegisterSessionCleanupTask registers the expired link session cleanup.
func RegisterSessionCleanupTask(sched *scheduler.Scheduler, store ExpiredSessionDeleter, logger zerolog.Logger) error {
	return sched.RegisterTask(sessionCleanupTask(store, logger))
}

func sessionCleanupTask(store ExpiredSessionDeleter, logger zerolog.Logger) scheduler.TaskConfig {
	log := logger.With().Str("task", "session-cleanup").Logger()

	return scheduler.TaskConfig{
		ID:         "session-cleanup",
		Name:       "Session Cleanup",
		Interval:   SessionCleanupInterval,
		RunOnStart: true,
		Func: func(ctx context.Context) error {
			n, err := store.DeleteExpired(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				log.Info().Int64("deleted", n).Msg("Deleted expired link sessions")
			}
			return nil
		},
	}
}
