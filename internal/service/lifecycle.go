package service

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"eventAdmission/internal/model"
	"eventAdmission/internal/repo"
)

func (s *EventService) CreateEvent(ctx context.Context, in model.NewEvent) (*model.Event, error) {
	if err := s.authz.CanCreateEvent(ctx, in.CreatorID, in.CommunityID); err != nil {
		return nil, err
	}

	status := in.Status
	if status == "" {
		status = model.EventStatusPublished
	}
	if status != model.EventStatusDraft && status != model.EventStatusPublished {
		return nil, model.Errorf(model.KindValidation, "new events must be draft or published, got %q", status)
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, model.Errorf(model.KindValidation, "event title is required")
	}
	if !in.Type.Valid() {
		return nil, model.Errorf(model.KindValidation, "unknown event type %q", in.Type)
	}
	if !in.StartTime.After(s.now()) {
		return nil, model.ErrStartInPast
	}
	if !in.EndTime.After(in.StartTime) {
		return nil, model.ErrInvalidTimeRange
	}
	if in.ParticipantLimit != nil && *in.ParticipantLimit <= 0 {
		return nil, model.ErrInvalidLimit
	}

	ev := &model.Event{
		CommunityID:      in.CommunityID,
		CreatorID:        in.CreatorID,
		Title:            in.Title,
		Description:      in.Description,
		Type:             in.Type,
		Location:         in.Location,
		StartTime:        in.StartTime.UTC(),
		EndTime:          in.EndTime.UTC(),
		ParticipantLimit: in.ParticipantLimit,
		Status:           status,
	}
	if err := s.repo.CreateEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Int64("community_id", in.CommunityID).Msg("failed to create event")
		return nil, err
	}

	s.log.Info().Int64("event_id", ev.ID).Int64("community_id", ev.CommunityID).Str("status", string(ev.Status)).Msg("event created")
	return ev, nil
}

// GetEvent serves from the read cache when it can. Cache failures fall back
// to the store.
func (s *EventService) GetEvent(ctx context.Context, eventID int64) (*model.Event, error) {
	ev, err := s.cache.Get(ctx, eventID)
	switch {
	case errors.Is(err, model.ErrEventNotFound):
		return nil, err
	case err != nil:
		s.log.Warn().Err(err).Int64("event_id", eventID).Msg("event cache read failed")
	case ev != nil:
		return ev, nil
	}

	ev, err = s.repo.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Fill(ctx, ev); err != nil {
		s.log.Warn().Err(err).Int64("event_id", eventID).Msg("event cache write failed")
	}
	return ev, nil
}

// ListCommunityEvents pages through a community's events, newest start
// first. A zero page number or size takes the default.
func (s *EventService) ListCommunityEvents(ctx context.Context, communityID int64, status *model.EventStatus, page model.Page) (*model.EventPage, error) {
	if status != nil && !status.Valid() {
		return nil, model.Errorf(model.KindValidation, "unknown event status %q", *status)
	}
	if page.Number == 0 {
		page.Number = 1
	}
	if page.Size == 0 {
		page.Size = model.DefaultPageSize
	}
	if page.Number < 1 {
		return nil, model.Errorf(model.KindValidation, "page must be at least 1, got %d", page.Number)
	}
	if page.Size < 1 || page.Size > model.MaxPageSize {
		return nil, model.Errorf(model.KindValidation, "page_size must be between 1 and %d, got %d", model.MaxPageSize, page.Size)
	}

	// One extra row tells whether another page follows.
	events, err := s.repo.ListEventsByCommunity(ctx, communityID, status, page.Size+1, page.Offset())
	if err != nil {
		return nil, err
	}
	hasNext := len(events) > page.Size
	if hasNext {
		events = events[:page.Size]
	}

	ids := make([]int64, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	counts, err := s.repo.CountRegisteredByEvent(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]model.EventListItem, len(events))
	for i, e := range events {
		items[i] = model.EventListItem{Event: e, RegisteredCount: counts[e.ID]}
	}
	return &model.EventPage{Items: items, Page: page.Number, PageSize: page.Size, HasNext: hasNext}, nil
}

// UpdateEvent applies patch under the event's section. Lowering the limit
// below the registered count is rejected; raising or clearing it promotes
// from the waitlist.
func (s *EventService) UpdateEvent(ctx context.Context, eventID, actorID int64, patch model.EventPatch) (*model.Event, error) {
	ctx, span := s.tracer.Start(ctx, "service.UpdateEvent", trace.WithAttributes(
		attribute.Int64("event.id", eventID),
	))
	defer span.End()

	current, err := s.repo.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if err := s.authz.CanManageEvent(ctx, actorID, current); err != nil {
		return nil, s.fail(span, err)
	}

	var (
		updated  *model.Event
		promoted []model.Registration
	)
	err = s.repo.WithinEvent(ctx, eventID, func(ev *model.Event, tx repo.Tx) error {
		if ev.Status.Terminal() {
			return model.ErrEventClosed
		}
		if err := s.applyPatch(ev, patch); err != nil {
			return err
		}
		if patch.TouchesCapacity() && ev.ParticipantLimit != nil {
			registered, err := tx.CountByStatus(ctx, eventID, model.RegistrationRegistered)
			if err != nil {
				return err
			}
			if *ev.ParticipantLimit < registered {
				return model.Errorf(model.KindValidation,
					"participant limit %d is below the %d registered participants", *ev.ParticipantLimit, registered)
			}
		}
		if err := tx.SaveEvent(ctx, ev); err != nil {
			return err
		}
		if patch.TouchesCapacity() && ev.Status == model.EventStatusPublished {
			var err error
			if promoted, err = fillFreeSeats(ctx, ev, tx); err != nil {
				return err
			}
		}
		updated = ev
		return nil
	})
	if err != nil {
		return nil, s.fail(span, err)
	}

	s.refresh(ctx, updated)
	s.log.Info().Int64("event_id", eventID).Int64("actor_id", actorID).Int("promoted", len(promoted)).Msg("event updated")
	for _, reg := range promoted {
		s.logPromotion(eventID, reg)
		s.notify(ctx, model.NotifyPromoted, updated, reg.UserID)
	}
	return updated, nil
}

func (s *EventService) applyPatch(ev *model.Event, patch model.EventPatch) error {
	if patch.Title != nil {
		if strings.TrimSpace(*patch.Title) == "" {
			return model.Errorf(model.KindValidation, "event title is required")
		}
		ev.Title = *patch.Title
	}
	if patch.Description != nil {
		ev.Description = *patch.Description
	}
	if patch.Type != nil {
		if !patch.Type.Valid() {
			return model.Errorf(model.KindValidation, "unknown event type %q", *patch.Type)
		}
		ev.Type = *patch.Type
	}
	if patch.Location != nil {
		ev.Location = *patch.Location
	}

	if patch.TouchesSchedule() {
		if patch.StartTime != nil {
			if !patch.StartTime.After(s.now()) {
				return model.ErrStartInPast
			}
			ev.StartTime = patch.StartTime.UTC()
		}
		if patch.EndTime != nil {
			ev.EndTime = patch.EndTime.UTC()
		}
		if !ev.EndTime.After(ev.StartTime) {
			return model.ErrInvalidTimeRange
		}
	}

	switch {
	case patch.ClearLimit:
		ev.ParticipantLimit = nil
	case patch.ParticipantLimit != nil:
		if *patch.ParticipantLimit <= 0 {
			return model.ErrInvalidLimit
		}
		limit := *patch.ParticipantLimit
		ev.ParticipantLimit = &limit
	}
	return nil
}

// DeleteEvent soft-deletes the event; every later lookup reports NotFound.
func (s *EventService) DeleteEvent(ctx context.Context, eventID, actorID int64) error {
	current, err := s.repo.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}
	if err := s.authz.CanDeleteEvent(ctx, actorID, current); err != nil {
		return err
	}

	var deleted *model.Event
	err = s.repo.WithinEvent(ctx, eventID, func(ev *model.Event, tx repo.Tx) error {
		now := s.now().UTC()
		ev.DeletedAt = &now
		deleted = ev
		return tx.SaveEvent(ctx, ev)
	})
	if err != nil {
		return err
	}

	s.refresh(ctx, deleted)
	s.log.Info().Int64("event_id", eventID).Int64("actor_id", actorID).Msg("event deleted")
	return nil
}

func (s *EventService) ChangeStatus(ctx context.Context, eventID, actorID int64, next model.EventStatus) (*model.Event, error) {
	ctx, span := s.tracer.Start(ctx, "service.ChangeStatus", trace.WithAttributes(
		attribute.Int64("event.id", eventID),
		attribute.String("event.status", string(next)),
	))
	defer span.End()

	current, err := s.repo.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if err := s.authz.CanManageEvent(ctx, actorID, current); err != nil {
		return nil, s.fail(span, err)
	}

	ev, notice, err := s.transition(ctx, eventID, next)
	if err != nil {
		return nil, s.fail(span, err)
	}

	s.log.Info().Int64("event_id", eventID).Int64("actor_id", actorID).Str("status", string(next)).Msg("event status changed")
	for _, reg := range notice {
		s.notify(ctx, model.NotifyEventCancelled, ev, reg.UserID)
	}
	return ev, nil
}

// transition moves the event to next inside its section and, for
// cancellations, returns the registrations that must be told.
func (s *EventService) transition(ctx context.Context, eventID int64, next model.EventStatus) (*model.Event, []model.Registration, error) {
	var (
		updated *model.Event
		notice  []model.Registration
	)
	err := s.repo.WithinEvent(ctx, eventID, func(ev *model.Event, tx repo.Tx) error {
		if err := ev.Transition(next); err != nil {
			return err
		}
		if err := tx.SaveEvent(ctx, ev); err != nil {
			return err
		}
		if next == model.EventStatusCancelled {
			regs, err := tx.ListByEvent(ctx, eventID, nil)
			if err != nil {
				return err
			}
			for _, reg := range regs {
				if reg.Status.Withdrawable() {
					notice = append(notice, reg)
				}
			}
		}
		updated = ev
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.refresh(ctx, updated)
	return updated, notice, nil
}
