// Package sweeper runs the daily housekeeping job: it removes busy-slot rows
// for dates that have passed and purges delivered outbox entries.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/healthlink/healthlink/internal/platform/metrics"
)

// DefaultSchedule runs the sweep every day at 00:05 clinic time.
const DefaultSchedule = "5 0 * * *"

// DefaultOutboxRetention is how long delivered outbox rows are kept.
const DefaultOutboxRetention = 7 * 24 * time.Hour

// SlotPurger deletes busy slots dated strictly before the given day.
type SlotPurger interface {
	DeleteBusySlotsBefore(ctx context.Context, day time.Time) (int64, error)
}

// OutboxPurger deletes delivered outbox entries older than before.
type OutboxPurger interface {
	PurgeDelivered(ctx context.Context, before time.Time) (int64, error)
}

type Sweeper struct {
	slots     SlotPurger
	outbox    OutboxPurger
	loc       *time.Location
	retention time.Duration
	schedule  string
	metrics   *metrics.WorkflowMetrics
	logger    zerolog.Logger
	now       func() time.Time

	cron *cron.Cron
}

type Option func(*Sweeper)

func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

func WithRetention(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.retention = d
		}
	}
}

func WithMetrics(m *metrics.WorkflowMetrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// New builds a sweeper. outbox may be nil.
func New(slots SlotPurger, outbox OutboxPurger, loc *time.Location, logger zerolog.Logger, opts ...Option) *Sweeper {
	if loc == nil {
		loc = time.UTC
	}
	s := &Sweeper{
		slots:     slots,
		outbox:    outbox,
		loc:       loc,
		retention: DefaultOutboxRetention,
		schedule:  DefaultSchedule,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules the sweep. It returns an error for an invalid schedule.
func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(s.loc))
	if _, err := c.AddFunc(s.schedule, func() {
		if err := s.RunOnce(ctx); err != nil {
			s.logger.Error().Err(err).Msg("daily sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", s.schedule, err)
	}
	s.cron = c
	c.Start()
	s.logger.Info().Str("schedule", s.schedule).Str("timezone", s.loc.String()).Msg("sweeper started")
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// RunOnce performs one sweep.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	now := s.now().In(s.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	removed, err := s.slots.DeleteBusySlotsBefore(ctx, today)
	if err != nil {
		return fmt.Errorf("delete past busy slots: %w", err)
	}
	s.metrics.ObserveSwept(removed)

	var purged int64
	if s.outbox != nil {
		purged, err = s.outbox.PurgeDelivered(ctx, now.Add(-s.retention))
		if err != nil {
			return fmt.Errorf("purge delivered outbox: %w", err)
		}
	}

	s.logger.Info().
		Str("before", today.Format(time.DateOnly)).
		Int64("busy_slots_removed", removed).
		Int64("outbox_purged", purged).
		Msg("daily sweep complete")
	return nil
}
