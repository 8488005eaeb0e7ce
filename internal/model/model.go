package model

import "time"

type EventStatus string

const (
	EventStatusDraft     EventStatus = "draft"
	EventStatusPublished EventStatus = "published"
	EventStatusCompleted EventStatus = "completed"
	EventStatusCancelled EventStatus = "cancelled"
)

type EventType string

const (
	EventTypeOnline  EventType = "online"
	EventTypeOffline EventType = "offline"
	EventTypeHybrid  EventType = "hybrid"
)

type RegistrationStatus string

const (
	RegistrationRegistered RegistrationStatus = "registered"
	RegistrationWaitlisted RegistrationStatus = "waitlisted"
	RegistrationAttended   RegistrationStatus = "attended"
	RegistrationNoShow     RegistrationStatus = "no_show"
)

type Event struct {
	ID               int64       `db:"id" json:"id"`
	CommunityID      int64       `db:"community_id" json:"community_id"`
	CreatorID        int64       `db:"creator_id" json:"creator_id"`
	Title            string      `db:"title" json:"title"`
	Description      string      `db:"description" json:"description"`
	Type             EventType   `db:"type" json:"type"`
	Location         string      `db:"location,omitempty" json:"location,omitempty"`
	StartTime        time.Time   `db:"start_time" json:"start_time"`
	EndTime          time.Time   `db:"end_time" json:"end_time"`
	ParticipantLimit *int        `db:"participant_limit" json:"participant_limit,omitempty"`
	Status           EventStatus `db:"status" json:"status"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at" json:"updated_at"`
	DeletedAt        *time.Time  `db:"deleted_at" json:"deleted_at,omitempty"`
}

// HasFreeSeat reports whether one more registered participant fits next to
// registered already admitted ones.
func (e *Event) HasFreeSeat(registered int) bool {
	return e.ParticipantLimit == nil || registered < *e.ParticipantLimit
}

// FreeSeats returns the number of open seats, or -1 for unlimited events.
func (e *Event) FreeSeats(registered int) int {
	if e.ParticipantLimit == nil {
		return -1
	}
	if free := *e.ParticipantLimit - registered; free > 0 {
		return free
	}
	return 0
}

func (e *Event) Deleted() bool {
	return e.DeletedAt != nil
}

type Registration struct {
	ID           int64              `db:"id" json:"id"`
	EventID      int64              `db:"event_id" json:"event_id"`
	UserID       int64              `db:"user_id" json:"user_id"`
	Status       RegistrationStatus `db:"status" json:"status"`
	RegisteredAt time.Time          `db:"registered_at" json:"registered_at"`
}

// NewEvent carries the fields accepted by event creation.
type NewEvent struct {
	CommunityID      int64
	CreatorID        int64
	Title            string
	Description      string
	Type             EventType
	Location         string
	StartTime        time.Time
	EndTime          time.Time
	ParticipantLimit *int
	Status           EventStatus
}

// EventPatch holds optional event fields. Nil fields are left untouched;
// ClearLimit removes the participant limit.
type EventPatch struct {
	Title            *string
	Description      *string
	Type             *EventType
	Location         *string
	StartTime        *time.Time
	EndTime          *time.Time
	ParticipantLimit *int
	ClearLimit       bool
}

func (p EventPatch) TouchesSchedule() bool {
	return p.StartTime != nil || p.EndTime != nil
}

func (p EventPatch) TouchesCapacity() bool {
	return p.ParticipantLimit != nil || p.ClearLimit
}

type EventStats struct {
	Registered int `json:"registered"`
	Waitlisted int `json:"waitlisted"`
	Attended   int `json:"attended"`
	NoShow     int `json:"no_show"`
	FreeSeats  int `json:"free_seats"`
}

type Role string

const (
	RoleNone      Role = ""
	RoleMember    Role = "member"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

type Contact struct {
	UserID   int64  `db:"id" json:"user_id"`
	Email    string `db:"email" json:"email"`
	FullName string `db:"full_name" json:"full_name"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a 1-based window over a list.
type Page struct {
	Number int
	Size   int
}

func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// EventListItem is an event as shown in community listings.
type EventListItem struct {
	Event
	RegisteredCount int `json:"registered_count"`
}

type EventPage struct {
	Items    []EventListItem `json:"items"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	HasNext  bool            `json:"has_next"`
}

// Participant is a registration with the user's directory contact. Email and
// FullName stay empty when the directory has no entry for the user.
type Participant struct {
	Registration
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
}
