package repo

import (
	"context"
	"time"

	"eventAdmission/internal/model"
)

type EventStore interface {
	CreateEvent(ctx context.Context, e *model.Event) error
	// GetEventByID returns model.ErrEventNotFound for missing and soft-deleted events.
	GetEventByID(ctx context.Context, id int64) (*model.Event, error)
	// ListEventsByCommunity orders newest start first (then id descending) and
	// returns at most limit events after skipping offset.
	ListEventsByCommunity(ctx context.Context, communityID int64, status *model.EventStatus, limit, offset int) ([]model.Event, error)
	// CountRegisteredByEvent returns committed registered counts keyed by event
	// id. Events without registered participants are absent from the map.
	CountRegisteredByEvent(ctx context.Context, eventIDs []int64) (map[int64]int, error)
	ListEventsStartingBetween(ctx context.Context, status model.EventStatus, from, to time.Time) ([]model.Event, error)
	ListEventsEndedBefore(ctx context.Context, status model.EventStatus, before time.Time) ([]model.Event, error)
}

// Ledger is the read side of the registration ledger. Outside WithinEvent it
// only ever observes committed state.
type Ledger interface {
	CountByStatus(ctx context.Context, eventID int64, status model.RegistrationStatus) (int, error)
	// GetFirstWaitlisted returns the waitlisted registration with the smallest
	// registered_at (then id), or nil when the waitlist is empty.
	GetFirstWaitlisted(ctx context.Context, eventID int64) (*model.Registration, error)
	// ListByEvent orders by registered_at, id. A nil status returns every registration.
	ListByEvent(ctx context.Context, eventID int64, status *model.RegistrationStatus) ([]model.Registration, error)
	// GetByEventAndUser returns nil when the user has no registration.
	GetByEventAndUser(ctx context.Context, eventID, userID int64) (*model.Registration, error)
}

// Tx is the ledger as seen from inside a per-event atomic section. Writes are
// visible to later reads of the same Tx and to nobody else until commit.
type Tx interface {
	Ledger
	// InsertRegistration assigns ID and, when zero, RegisteredAt. A second row
	// for the same (event, user) fails with model.ErrDuplicateRegistration.
	InsertRegistration(ctx context.Context, reg *model.Registration) error
	DeleteRegistration(ctx context.Context, id int64) error
	SetRegistrationStatus(ctx context.Context, id int64, status model.RegistrationStatus) error
	// SaveEvent persists every mutable field of the locked event.
	SaveEvent(ctx context.Context, e *model.Event) error
}

// Directory answers the collaborator questions the engine does not own:
// community roles and notification contacts.
type Directory interface {
	RoleOf(ctx context.Context, userID, communityID int64) (model.Role, error)
	ContactOf(ctx context.Context, userID int64) (*model.Contact, error)
}

type Repository interface {
	EventStore
	Ledger
	Directory
	// WithinEvent runs fn inside the atomic section of eventID. Mutating calls
	// for the same event are mutually exclusive; different events never wait
	// on each other. fn receives the current (non-deleted) event; an error
	// from fn discards every write made through tx.
	WithinEvent(ctx context.Context, eventID int64, fn func(ev *model.Event, tx Tx) error) error
	Close() error
}

// nextUpdatedAt keeps an event's updated_at strictly increasing at the given
// resolution, so readers can use it as a version. now must be truncated to step.
func nextUpdatedAt(prev, now time.Time, step time.Duration) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(step)
}

// lessRegistration orders the way every ledger query does.
func lessRegistration(a, b model.Registration) bool {
	if !a.RegisteredAt.Equal(b.RegisteredAt) {
		return a.RegisteredAt.Before(b.RegisteredAt)
	}
	return a.ID < b.ID
}
