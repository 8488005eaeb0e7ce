package model

import "time"

type NotificationKind string

const (
	NotifyRegistered     NotificationKind = "registration.registered"
	NotifyWaitlisted     NotificationKind = "registration.waitlisted"
	NotifyPromoted       NotificationKind = "registration.promoted"
	NotifyEventCancelled NotificationKind = "event.cancelled"
	NotifyEventReminder  NotificationKind = "event.reminder"
)

// Notification is published after a committed change that a participant
// should hear about.
type Notification struct {
	ID         string           `json:"id"`
	Kind       NotificationKind `json:"kind"`
	EventID    int64            `json:"event_id"`
	UserID     int64            `json:"user_id"`
	EventTitle string           `json:"event_title"`
	StartTime  time.Time        `json:"start_time"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// NotificationFor maps the status a registration was admitted with onto the
// matching notification kind.
func NotificationFor(status RegistrationStatus) NotificationKind {
	if status == RegistrationWaitlisted {
		return NotifyWaitlisted
	}
	return NotifyRegistered
}
