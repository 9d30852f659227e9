// Package scheduler implements Scheduler (spec.md §4.10): translates
// container/stack schedules into cron triggers that enqueue jobs on
// fire. Grounded in MacJediWizard-keldris's
// internal/backup/docker/scheduler.go (robfig/cron/v3, entries map
// keyed by id, Reload diffing old vs new), simplified from a
// store-backed polling reloader to an explicit Set call since
// spec.md's schedule set is small and operator-edited.
package scheduler

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/fleetdock/fleetdock/internal/models"
)

// Enqueuer is the subset of the job queue the scheduler needs.
type Enqueuer interface {
	Enqueue(kind models.JobKind, target string) (string, error)
}

// Scheduler owns one cron.Cron instance and a trigger per registered
// Schedule. Manual frequency registers nothing (spec.md §4.10).
type Scheduler struct {
	cron    *cron.Cron
	queue   Enqueuer
	logger  zerolog.Logger
	jobKind func(target string) models.JobKind

	mu      sync.Mutex
	entries map[string]cron.EntryID // target -> entry
}

// New constructs a Scheduler. jobKind maps a target (container id or
// stack name) to the JobKind to enqueue on fire, letting callers
// distinguish container vs stack schedules without two near-identical
// types.
func New(queue Enqueuer, jobKind func(target string) models.JobKind, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		queue:   queue,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		jobKind: jobKind,
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins firing registered triggers.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron scheduler and waits for any running trigger
// callback to finish. Trigger callbacks only enqueue; they never
// block on job execution.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Set replaces the trigger for target's schedule. A Manual frequency
// removes any existing trigger and registers nothing.
func (s *Scheduler) Set(schedule models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.entries[schedule.Target]; exists {
		s.cron.Remove(entryID)
		delete(s.entries, schedule.Target)
	}

	if schedule.Frequency == models.FrequencyManual {
		return nil
	}

	expr, err := toCronExpression(schedule)
	if err != nil {
		return err
	}

	target := schedule.Target
	entryID, err := s.cron.AddFunc(expr, func() {
		s.fire(target)
	})
	if err != nil {
		return fmt.Errorf("register schedule for %q: %w", target, err)
	}
	s.entries[target] = entryID
	s.logger.Info().Str("target", target).Str("cron", expr).Msg("schedule registered")
	return nil
}

// Remove deletes target's trigger, if any.
func (s *Scheduler) Remove(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, exists := s.entries[target]; exists {
		s.cron.Remove(entryID)
		delete(s.entries, target)
	}
}

func (s *Scheduler) fire(target string) {
	kind := s.jobKind(target)
	if _, err := s.queue.Enqueue(kind, target); err != nil {
		s.logger.Error().Err(err).Str("target", target).Msg("scheduled enqueue failed")
	}
}

// toCronExpression maps a Schedule to "min hour * * [dow]" (spec.md
// §4.10). Time must be "HH:MM"; DayOfWeek is only consulted for
// FrequencyWeekly.
func toCronExpression(schedule models.Schedule) (string, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(schedule.Time, "%d:%d", &hour, &minute); err != nil {
		return "", fmt.Errorf("parse schedule time %q: %w", schedule.Time, err)
	}
	switch schedule.Frequency {
	case models.FrequencyDaily:
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	case models.FrequencyWeekly:
		return fmt.Sprintf("%d %d * * %d", minute, hour, schedule.DayOfWeek), nil
	default:
		return "", fmt.Errorf("unsupported schedule frequency %q", schedule.Frequency)
	}
}
