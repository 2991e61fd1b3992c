// Package schedule fires one publication cycle per calendar date at a
// configured UTC time-of-day, and replays missed dates after downtime.
//
// The scheduler holds a single timer armed for the next fire instant
// instead of a sleep-and-poll loop; the clock is injectable so tests can
// pin the wall time.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const dateFormat = "2006-01-02"

// Trigger runs the publication cycle for one date. Triggering an already
// terminal date must be a no-op inside the trigger itself.
type Trigger func(ctx context.Context, date string) error

// RecoverableLister returns non-terminal dates in [since, before),
// oldest first.
type RecoverableLister func(ctx context.Context, since, before string) ([]string, error)

// Config configures the scheduler.
type Config struct {
	// PublishTime is the daily fire time in UTC, "HH:MM". Default: "18:00".
	PublishTime string
	// RecoveryDays is how many days back the startup recovery pass scans.
	// Default: 7.
	RecoveryDays int
}

func (c *Config) defaults() {
	if c.PublishTime == "" {
		c.PublishTime = "18:00"
	}
	if c.RecoveryDays <= 0 {
		c.RecoveryDays = 7
	}
}

// ParsePublishTime validates an "HH:MM" UTC time-of-day.
// "24:00" is rejected; a midnight fire is spelled "00:00" and triggers the
// cycle for the date that is just starting.
func ParsePublishTime(s string) (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("publish time %q: want HH:MM", s)
	}
	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("publish time %q: hour out of range", s)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("publish time %q: minute out of range", s)
	}
	return hour, minute, nil
}

// Scheduler drives the daily publication trigger and the recovery pass.
type Scheduler struct {
	trigger     Trigger
	recoverable RecoverableLister
	config      Config
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a Scheduler.
func New(trigger Trigger, recoverable RecoverableLister, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		trigger:     trigger,
		recoverable: recoverable,
		config:      cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// Run executes the startup recovery pass, then fires the daily trigger at
// the configured time until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.RecoverOnce(ctx)

	for {
		next := s.nextFire(s.now())
		timer := time.NewTimer(next.Sub(s.now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		// Catch anything that became due while we slept (e.g. the process
		// was suspended across a boundary), then trigger today's cycle.
		s.RecoverOnce(ctx)

		date := s.now().UTC().Format(dateFormat)
		s.logger.Info("scheduler: daily trigger", "date", date)
		if err := s.trigger(ctx, date); err != nil {
			// The cycle state stays non-terminal; the next pass retries.
			s.logger.Warn("scheduler: trigger failed", "date", date, "error", err)
		}
	}
}

// RecoverOnce scans the recovery window for dates strictly before today
// whose cycle is non-terminal and triggers them oldest first, one at a
// time, so a backlog never produces a burst of outbound publishes.
func (s *Scheduler) RecoverOnce(ctx context.Context) {
	today := s.now().UTC()
	since := today.AddDate(0, 0, -s.config.RecoveryDays).Format(dateFormat)
	before := today.Format(dateFormat)

	dates, err := s.recoverable(ctx, since, before)
	if err != nil {
		s.logger.Error("scheduler: list recoverable dates", "error", err)
		return
	}
	if len(dates) == 0 {
		return
	}
	s.logger.Info("scheduler: recovery pass", "dates", len(dates), "window_start", since)

	for _, date := range dates {
		if ctx.Err() != nil {
			return
		}
		s.logger.Info("scheduler: recovery trigger", "date", date)
		if err := s.trigger(ctx, date); err != nil {
			s.logger.Warn("scheduler: recovery trigger failed", "date", date, "error", err)
		}
	}
}

// nextFire returns the next instant the daily trigger fires, strictly
// after now.
func (s *Scheduler) nextFire(now time.Time) time.Time {
	hour, minute, err := ParsePublishTime(s.config.PublishTime)
	if err != nil {
		// Validated at config load; fall back to the default rather than spin.
		hour, minute = 18, 0
	}
	utc := now.UTC()
	fire := time.Date(utc.Year(), utc.Month(), utc.Day(), hour, minute, 0, 0, time.UTC)
	if !fire.After(utc) {
		fire = fire.AddDate(0, 0, 1)
	}
	return fire
}
