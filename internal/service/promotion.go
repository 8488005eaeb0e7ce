package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"eventAdmission/internal/model"
	"eventAdmission/internal/repo"
)

// Unregister withdraws userID. Freeing a registered seat of a published event
// promotes the earliest waitlisted registration in the same section.
func (s *EventService) Unregister(ctx context.Context, eventID, userID int64) error {
	ctx, span := s.tracer.Start(ctx, "service.Unregister", trace.WithAttributes(
		attribute.Int64("event.id", eventID),
		attribute.Int64("user.id", userID),
	))
	defer span.End()

	var (
		ev       *model.Event
		removed  model.Registration
		promoted *model.Registration
	)
	err := s.repo.WithinEvent(ctx, eventID, func(locked *model.Event, tx repo.Tx) error {
		ev = locked
		reg, err := tx.GetByEventAndUser(ctx, eventID, userID)
		if err != nil {
			return err
		}
		if reg == nil {
			return model.ErrRegistrationNotFound
		}
		if !reg.Status.Withdrawable() {
			return model.Errorf(model.KindInvalidState, "registration with status %s cannot be withdrawn", reg.Status)
		}
		if err := tx.DeleteRegistration(ctx, reg.ID); err != nil {
			return err
		}
		removed = *reg

		if reg.Status != model.RegistrationRegistered || ev.Status != model.EventStatusPublished {
			return nil
		}
		promoted, err = promoteNext(ctx, ev, tx)
		return err
	})
	if err != nil {
		return s.fail(span, err)
	}

	s.log.Info().
		Int64("event_id", eventID).
		Int64("user_id", userID).
		Int64("registration_id", removed.ID).
		Str("status", string(removed.Status)).
		Msg("registration withdrawn")
	if promoted != nil {
		span.SetAttributes(attribute.Int64("promoted.user.id", promoted.UserID))
		s.logPromotion(eventID, *promoted)
		s.notify(ctx, model.NotifyPromoted, ev, promoted.UserID)
	}
	return nil
}

// promoteNext moves the head of the waitlist to registered when a seat is
// free. It returns nil when nothing was promoted.
func promoteNext(ctx context.Context, ev *model.Event, tx repo.Tx) (*model.Registration, error) {
	registered, err := tx.CountByStatus(ctx, ev.ID, model.RegistrationRegistered)
	if err != nil {
		return nil, err
	}
	if !ev.HasFreeSeat(registered) {
		return nil, nil
	}
	next, err := tx.GetFirstWaitlisted(ctx, ev.ID)
	if err != nil || next == nil {
		return nil, err
	}
	if err := tx.SetRegistrationStatus(ctx, next.ID, model.RegistrationRegistered); err != nil {
		return nil, err
	}
	next.Status = model.RegistrationRegistered
	return next, nil
}

// fillFreeSeats promotes waitlisted registrations in FIFO order until the
// event is full or the waitlist is empty.
func fillFreeSeats(ctx context.Context, ev *model.Event, tx repo.Tx) ([]model.Registration, error) {
	var promoted []model.Registration
	for {
		next, err := promoteNext(ctx, ev, tx)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return promoted, nil
		}
		promoted = append(promoted, *next)
	}
}

func (s *EventService) logPromotion(eventID int64, reg model.Registration) {
	s.log.Info().
		Int64("event_id", eventID).
		Int64("user_id", reg.UserID).
		Int64("registration_id", reg.ID).
		Msg("waitlisted registration promoted")
}
