package service

import (
	"context"

	"eventAdmission/internal/model"
	"eventAdmission/internal/repo"
)

// ListParticipants returns committed registrations in ledger order, each
// with the user's contact from the directory.
func (s *EventService) ListParticipants(ctx context.Context, eventID int64, status *model.RegistrationStatus) ([]model.Participant, error) {
	if status != nil && !status.Valid() {
		return nil, model.Errorf(model.KindValidation, "unknown registration status %q", *status)
	}
	if _, err := s.repo.GetEventByID(ctx, eventID); err != nil {
		return nil, err
	}
	regs, err := s.repo.ListByEvent(ctx, eventID, status)
	if err != nil {
		return nil, err
	}

	out := make([]model.Participant, len(regs))
	for i, reg := range regs {
		out[i] = model.Participant{Registration: reg}
		contact, err := s.repo.ContactOf(ctx, reg.UserID)
		if err != nil {
			if model.KindOf(err) == model.KindNotFound {
				continue
			}
			return nil, err
		}
		out[i].Email = contact.Email
		out[i].FullName = contact.FullName
	}
	return out, nil
}

func (s *EventService) EventStats(ctx context.Context, eventID int64) (*model.EventStats, error) {
	ev, err := s.repo.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	regs, err := s.repo.ListByEvent(ctx, eventID, nil)
	if err != nil {
		return nil, err
	}

	var stats model.EventStats
	for _, reg := range regs {
		switch reg.Status {
		case model.RegistrationRegistered:
			stats.Registered++
		case model.RegistrationWaitlisted:
			stats.Waitlisted++
		case model.RegistrationAttended:
			stats.Attended++
		case model.RegistrationNoShow:
			stats.NoShow++
		}
	}
	stats.FreeSeats = ev.FreeSeats(stats.Registered)
	return &stats, nil
}

// MarkAttendance records whether a registered participant showed up. Only
// published and completed events accept it.
func (s *EventService) MarkAttendance(ctx context.Context, eventID, actorID, userID int64, status model.RegistrationStatus) (*model.Registration, error) {
	if status != model.RegistrationAttended && status != model.RegistrationNoShow {
		return nil, model.Errorf(model.KindValidation, "attendance status must be attended or no_show, got %q", status)
	}
	current, err := s.repo.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.CanManageEvent(ctx, actorID, current); err != nil {
		return nil, err
	}

	var marked model.Registration
	err = s.repo.WithinEvent(ctx, eventID, func(ev *model.Event, tx repo.Tx) error {
		if ev.Status != model.EventStatusPublished && ev.Status != model.EventStatusCompleted {
			return model.Errorf(model.KindInvalidState, "attendance cannot be recorded for a %s event", ev.Status)
		}
		reg, err := tx.GetByEventAndUser(ctx, eventID, userID)
		if err != nil {
			return err
		}
		if reg == nil {
			return model.ErrRegistrationNotFound
		}
		if !reg.Status.CanBecome(status) {
			return model.Errorf(model.KindInvalidState, "registration cannot move from %s to %s", reg.Status, status)
		}
		if err := tx.SetRegistrationStatus(ctx, reg.ID, status); err != nil {
			return err
		}
		reg.Status = status
		marked = *reg
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("event_id", eventID).
		Int64("user_id", userID).
		Int64("actor_id", actorID).
		Str("status", string(status)).
		Msg("attendance recorded")
	return &marked, nil
}
