package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type Sweeper interface {
	SendReminders(ctx context.Context, now time.Time, lead, window time.Duration) (int, error)
	CompleteEndedEvents(ctx context.Context, now time.Time) (int, error)
}

type Config struct {
	Interval     time.Duration
	ReminderLead time.Duration
}

// Scheduler runs the reminder and completion sweeps on a ticker. The reminder
// window equals the interval so each event falls into exactly one sweep.
type Scheduler struct {
	sweeper Sweeper
	cfg     Config
	log     *zerolog.Logger
	now     func() time.Time
}

func NewScheduler(sweeper Sweeper, cfg Config, log *zerolog.Logger) *Scheduler {
	return &Scheduler{sweeper: sweeper, cfg: cfg, log: log, now: time.Now}
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.cfg.Interval).Dur("reminder_lead", s.cfg.ReminderLead).Msg("scheduler started")
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now().UTC()
	if _, err := s.sweeper.SendReminders(ctx, now, s.cfg.ReminderLead, s.cfg.Interval); err != nil {
		s.log.Error().Err(err).Msg("reminder sweep failed")
	}
	if _, err := s.sweeper.CompleteEndedEvents(ctx, now); err != nil {
		s.log.Error().Err(err).Msg("completion sweep failed")
	}
}
