// Package scheduler runs periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// TaskFunc is the function signature for scheduled tasks.
type TaskFunc func(ctx context.Context) error

// TaskConfig contains configuration for a scheduled task.
type TaskConfig struct {
	ID       string
	Name     string
	Interval time.Duration
	Func     TaskFunc
	// RunOnStart executes the task once as soon as the scheduler starts.
	RunOnStart bool
}

// taskEntry holds internal task state.
type taskEntry struct {
	config  TaskConfig
	job     gocron.Job
	lastRun time.Time
	lastErr error
	runs    int
}

// Scheduler manages background scheduled tasks.
type Scheduler struct {
	gocron gocron.Scheduler
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	tasks map[string]*taskEntry
}

// New creates a new scheduler.
func New(logger zerolog.Logger) (*Scheduler, error) {
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		gocron: gs,
		logger: logger.With().Str("component", "scheduler").Logger(),
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*taskEntry),
	}, nil
}

// RegisterTask registers a new scheduled task.
func (s *Scheduler) RegisterTask(config TaskConfig) error {
	if config.Interval <= 0 {
		return fmt.Errorf("task %q needs a positive interval", config.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[config.ID]; exists {
		return fmt.Errorf("task with ID %q already registered", config.ID)
	}

	opts := []gocron.JobOption{
		gocron.WithName(config.Name),
		gocron.WithTags(config.ID),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if config.RunOnStart {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	job, err := s.gocron.NewJob(
		gocron.DurationJob(config.Interval),
		gocron.NewTask(func() { s.executeTask(config.ID) }),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to create job for task %q: %w", config.ID, err)
	}

	s.tasks[config.ID] = &taskEntry{config: config, job: job}

	s.logger.Info().
		Str("id", config.ID).
		Str("name", config.Name).
		Dur("interval", config.Interval).
		Bool("runOnStart", config.RunOnStart).
		Msg("Registered task")

	return nil
}

// executeTask runs a task and records the outcome.
func (s *Scheduler) executeTask(taskID string) {
	s.mu.Lock()
	entry, exists := s.tasks[taskID]
	s.mu.Unlock()
	if !exists {
		return
	}

	startTime := time.Now()
	err := entry.config.Func(s.ctx)
	duration := time.Since(startTime)

	s.mu.Lock()
	entry.lastRun = startTime
	entry.lastErr = err
	entry.runs++
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().
			Err(err).
			Str("id", taskID).
			Dur("duration", duration).
			Msg("Task failed")
		return
	}
	s.logger.Debug().
		Str("id", taskID).
		Dur("duration", duration).
		Msg("Task completed")
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.logger.Info().Int("tasks", len(s.tasks)).Msg("Starting scheduler")
	s.gocron.Start()
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() error {
	s.logger.Info().Msg("Stopping scheduler")
	s.cancel()
	return s.gocron.Shutdown()
}

// runNow runs a task synchronously, outside its schedule.
func (s *Scheduler) runNow(taskID string) error {
	s.mu.Lock()
	_, exists := s.tasks[taskID]
	s.mu.Unlock()
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}

	s.executeTask(taskID)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[taskID].lastErr
}

// runs returns how many times a task has run.
func (s *Scheduler) runs(taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.tasks[taskID]; ok {
		return entry.runs
	}
	return 0
}
