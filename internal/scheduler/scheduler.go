// Package scheduler runs a job at startup, once a day at a fixed local time,
// and on a safety interval. Ticks never overlap: an in-process guard skips a
// tick while the previous one runs, and an optional distributed lock keeps
// other processes out.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/log"
)

// Trigger names why a tick ran.
const (
	TriggerStartup  = "startup"
	TriggerDaily    = "daily"
	TriggerInterval = "interval"
	TriggerManual   = "manual"
)

// Job is the work done on every tick.
type Job func(ctx context.Context) error

// Config configures a Scheduler.
type Config struct {
	Name         string
	Interval     time.Duration
	DailyHour    int
	DailyMinute  int
	Location     *time.Location
	RunAtStartup bool
	// Locker, when set, must be obtained before each tick.
	Locker  Locker
	LockKey string
	LockTTL time.Duration
}

type Scheduler struct {
	cfg    Config
	job    Job
	logger *log.Logger
	guard  sync.Mutex
	now    func() time.Time
}

func New(cfg Config, job Job, logger *log.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "fintrack:scheduler:" + cfg.Name
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentScheduler)
	}
	return &Scheduler{cfg: cfg, job: job, logger: logger, now: time.Now}
}

// Run blocks until ctx is cancelled, firing ticks on the configured cadence.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Scheduler started",
		"name", s.cfg.Name,
		"interval", s.cfg.Interval.String(),
		"daily_at", time.Date(0, 1, 1, s.cfg.DailyHour, s.cfg.DailyMinute, 0, 0, time.UTC).Format("15:04"),
		"timezone", s.cfg.Location.String())

	if s.cfg.RunAtStartup {
		s.tickAndLog(ctx, TriggerStartup)
	}

	var intervalC <-chan time.Time
	if s.cfg.Interval > 0 {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		intervalC = ticker.C
	}

	daily := time.NewTimer(s.untilNextDaily())
	defer daily.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped", "name", s.cfg.Name)
			return ctx.Err()
		case <-intervalC:
			s.tickAndLog(ctx, TriggerInterval)
		case <-daily.C:
			s.tickAndLog(ctx, TriggerDaily)
			daily.Reset(s.untilNextDaily())
		}
	}
}

func (s *Scheduler) untilNextDaily() time.Duration {
	now := s.now()
	return NextDaily(now, s.cfg.DailyHour, s.cfg.DailyMinute, s.cfg.Location).Sub(now)
}

func (s *Scheduler) tickAndLog(ctx context.Context, trigger string) {
	_, _ = s.Tick(ctx, trigger)
}

// ErrSkipped reports a tick that did not run because another was in flight.
var ErrSkipped = errors.New("scheduler tick skipped")

// Tick runs the job once unless a tick is already running here or, with a
// Locker, in another process. It reports whether the job ran.
func (s *Scheduler) Tick(ctx context.Context, trigger string) (bool, error) {
	runID := uuid.NewString()
	logger := s.logger.With(log.FieldRunID, runID, "trigger", trigger)

	if !s.guard.TryLock() {
		logger.Warn("Previous tick still running, skipping")
		return false, ErrSkipped
	}
	defer s.guard.Unlock()

	if s.cfg.Locker != nil {
		release, ok, err := s.cfg.Locker.TryLock(ctx, s.cfg.LockKey, s.cfg.LockTTL)
		if err != nil {
			logger.Error("Failed to obtain scheduler lock", log.FieldError, err)
			return false, err
		}
		if !ok {
			logger.Info("Scheduler lock held elsewhere, skipping")
			return false, ErrSkipped
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("Failed to release scheduler lock", log.FieldError, err)
			}
		}()
	}

	start := s.now()
	err := s.job(log.WithContext(ctx, logger))
	duration := s.now().Sub(start).Milliseconds()
	if err != nil {
		logger.Error("Scheduled run failed", log.FieldDuration, duration, log.FieldError, err)
		return true, err
	}
	logger.Info("Scheduled run complete", log.FieldDuration, duration)
	return true, nil
}

// NextDaily returns the first instant strictly after now at hour:minute in
// loc.
func NextDaily(now time.Time, hour, minute int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}
