package dto

import (
	"time"

	"eventAdmission/internal/model"
)

type CreateEventRequest struct {
	Title            string    `json:"title" validate:"required,max=255"`
	Description      string    `json:"description" validate:"max=5000"`
	Type             string    `json:"type" validate:"required,event_type"`
	Location         string    `json:"location" validate:"max=255"`
	StartTime        time.Time `json:"start_time" validate:"required,future"`
	EndTime          time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
	ParticipantLimit *int      `json:"participant_limit" validate:"omitempty,positive"`
	Status           string    `json:"status" validate:"omitempty,oneof=draft published"`
}

func (r CreateEventRequest) ToModel(communityID, creatorID int64) model.NewEvent {
	return model.NewEvent{
		CommunityID:      communityID,
		CreatorID:        creatorID,
		Title:            r.Title,
		Description:      r.Description,
		Type:             model.EventType(r.Type),
		Location:         r.Location,
		StartTime:        r.StartTime,
		EndTime:          r.EndTime,
		ParticipantLimit: r.ParticipantLimit,
		Status:           model.EventStatus(r.Status),
	}
}

type UpdateEventRequest struct {
	Title            *string    `json:"title" validate:"omitempty,min=1,max=255"`
	Description      *string    `json:"description" validate:"omitempty,max=5000"`
	Type             *string    `json:"type" validate:"omitempty,event_type"`
	Location         *string    `json:"location" validate:"omitempty,max=255"`
	StartTime        *time.Time `json:"start_time" validate:"omitempty,future"`
	EndTime          *time.Time `json:"end_time"`
	ParticipantLimit *int       `json:"participant_limit" validate:"omitempty,positive"`
	ClearLimit       bool       `json:"clear_participant_limit"`
}

func (r UpdateEventRequest) ToModel() model.EventPatch {
	patch := model.EventPatch{
		Title:            r.Title,
		Description:      r.Description,
		Location:         r.Location,
		StartTime:        r.StartTime,
		EndTime:          r.EndTime,
		ParticipantLimit: r.ParticipantLimit,
		ClearLimit:       r.ClearLimit,
	}
	if r.Type != nil {
		t := model.EventType(*r.Type)
		patch.Type = &t
	}
	return patch
}

type ChangeStatusRequest struct {
	Status string `json:"status" validate:"required,event_status"`
}

type AttendanceRequest struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Status string `json:"status" validate:"required,attendance_status"`
}

type EventResponse struct {
	model.Event
	Stats *model.EventStats `json:"stats,omitempty"`
}
