package model

// eventTransitions lists every legal event status change. completed and
// cancelled have no outgoing edges.
var eventTransitions = map[EventStatus][]EventStatus{
	EventStatusDraft:     {EventStatusPublished, EventStatusCancelled},
	EventStatusPublished: {EventStatusCompleted, EventStatusCancelled},
}

func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusDraft, EventStatusPublished, EventStatusCompleted, EventStatusCancelled:
		return true
	}
	return false
}

func (s EventStatus) Terminal() bool {
	return s == EventStatusCompleted || s == EventStatusCancelled
}

func (s EventStatus) CanTransitionTo(next EventStatus) bool {
	for _, to := range eventTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Transition moves the event to next or returns an InvalidState error.
func (e *Event) Transition(next EventStatus) error {
	if !next.Valid() {
		return Errorf(KindValidation, "unknown event status %q", next)
	}
	if !e.Status.CanTransitionTo(next) {
		return Errorf(KindInvalidState, "%s: %s -> %s", ErrInvalidTransition.Msg, e.Status, next)
	}
	e.Status = next
	return nil
}

func (t EventType) Valid() bool {
	switch t {
	case EventTypeOnline, EventTypeOffline, EventTypeHybrid:
		return true
	}
	return false
}

func (s RegistrationStatus) Valid() bool {
	switch s {
	case RegistrationRegistered, RegistrationWaitlisted, RegistrationAttended, RegistrationNoShow:
		return true
	}
	return false
}

// Withdrawable reports whether a registration in this status may be removed.
func (s RegistrationStatus) Withdrawable() bool {
	return s == RegistrationRegistered || s == RegistrationWaitlisted
}

// CanBecome reports whether a stored registration may move to next.
// Removal is checked through Withdrawable.
func (s RegistrationStatus) CanBecome(next RegistrationStatus) bool {
	switch s {
	case RegistrationWaitlisted:
		return next == RegistrationRegistered
	case RegistrationRegistered:
		return next == RegistrationAttended || next == RegistrationNoShow
	}
	return false
}
