package service

import (
	"context"
	"time"

	"eventAdmission/internal/model"
)

// SendReminders notifies the registered participants of published events
// starting in [now+lead, now+lead+window). Consecutive sweeps with window
// equal to the tick interval remind every event once.
func (s *EventService) SendReminders(ctx context.Context, now time.Time, lead, window time.Duration) (int, error) {
	from := now.Add(lead)
	events, err := s.repo.ListEventsStartingBetween(ctx, model.EventStatusPublished, from, from.Add(window))
	if err != nil {
		return 0, err
	}

	registered := model.RegistrationRegistered
	sent := 0
	for i := range events {
		ev := &events[i]
		regs, err := s.repo.ListByEvent(ctx, ev.ID, &registered)
		if err != nil {
			s.log.Error().Err(err).Int64("event_id", ev.ID).Msg("failed to list participants for reminder")
			continue
		}
		for _, reg := range regs {
			s.notify(ctx, model.NotifyEventReminder, ev, reg.UserID)
			sent++
		}
	}
	if sent > 0 {
		s.log.Info().Int("events", len(events)).Int("reminders", sent).Msg("event reminders sent")
	}
	return sent, nil
}

// CompleteEndedEvents moves published events whose end time has passed to
// completed. Events that changed status meanwhile are skipped.
func (s *EventService) CompleteEndedEvents(ctx context.Context, now time.Time) (int, error) {
	events, err := s.repo.ListEventsEndedBefore(ctx, model.EventStatusPublished, now)
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, ev := range events {
		if _, _, err := s.transition(ctx, ev.ID, model.EventStatusCompleted); err != nil {
			if model.KindOf(err) == model.KindInternal {
				s.log.Error().Err(err).Int64("event_id", ev.ID).Msg("failed to complete event")
			}
			continue
		}
		completed++
	}
	if completed > 0 {
		s.log.Info().Int("completed", completed).Msg("ended events completed")
	}
	return completed, nil
}
