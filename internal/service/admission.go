package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"eventAdmission/internal/model"
	"eventAdmission/internal/repo"
)

// Register admits userID to the event as registered while seats remain and
// as waitlisted afterwards. The count and the insert share one section, so
// concurrent callers cannot both take the last seat.
func (s *EventService) Register(ctx context.Context, eventID, userID int64) (*model.Registration, error) {
	ctx, span := s.tracer.Start(ctx, "service.Register", trace.WithAttributes(
		attribute.Int64("event.id", eventID),
		attribute.Int64("user.id", userID),
	))
	defer span.End()

	ev, err := s.repo.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if ev.Status != model.EventStatusPublished {
		return nil, model.ErrRegistrationClosed
	}
	if err := s.authz.CanRegister(ctx, userID, ev); err != nil {
		return nil, s.fail(span, err)
	}

	var reg model.Registration
	err = s.repo.WithinEvent(ctx, eventID, func(locked *model.Event, tx repo.Tx) error {
		ev = locked
		if ev.Status != model.EventStatusPublished {
			return model.ErrRegistrationClosed
		}
		existing, err := tx.GetByEventAndUser(ctx, eventID, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return model.ErrDuplicateRegistration
		}
		registered, err := tx.CountByStatus(ctx, eventID, model.RegistrationRegistered)
		if err != nil {
			return err
		}

		reg = model.Registration{EventID: eventID, UserID: userID, Status: model.RegistrationWaitlisted}
		if ev.HasFreeSeat(registered) {
			reg.Status = model.RegistrationRegistered
		}
		return tx.InsertRegistration(ctx, &reg)
	})
	if err != nil {
		return nil, s.fail(span, err)
	}

	span.SetAttributes(attribute.String("registration.status", string(reg.Status)))
	s.log.Info().
		Int64("event_id", eventID).
		Int64("user_id", userID).
		Int64("registration_id", reg.ID).
		Str("status", string(reg.Status)).
		Msg("registration created")
	s.notify(ctx, model.NotificationFor(reg.Status), ev, userID)
	return &reg, nil
}
