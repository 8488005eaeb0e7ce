package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"eventAdmission/internal/authz"
	"eventAdmission/internal/cache"
	"eventAdmission/internal/model"
	"eventAdmission/internal/repo"
)

type Service interface {
	CreateEvent(ctx context.Context, in model.NewEvent) (*model.Event, error)
	GetEvent(ctx context.Context, eventID int64) (*model.Event, error)
	UpdateEvent(ctx context.Context, eventID, actorID int64, patch model.EventPatch) (*model.Event, error)
	DeleteEvent(ctx context.Context, eventID, actorID int64) error
	ChangeStatus(ctx context.Context, eventID, actorID int64, next model.EventStatus) (*model.Event, error)
	ListCommunityEvents(ctx context.Context, communityID int64, status *model.EventStatus, page model.Page) (*model.EventPage, error)

	Register(ctx context.Context, eventID, userID int64) (*model.Registration, error)
	Unregister(ctx context.Context, eventID, userID int64) error
	ListParticipants(ctx context.Context, eventID int64, status *model.RegistrationStatus) ([]model.Participant, error)
	EventStats(ctx context.Context, eventID int64) (*model.EventStats, error)
	MarkAttendance(ctx context.Context, eventID, actorID, userID int64, status model.RegistrationStatus) (*model.Registration, error)

	SendReminders(ctx context.Context, now time.Time, lead, window time.Duration) (int, error)
	CompleteEndedEvents(ctx context.Context, now time.Time) (int, error)
}

// Notifier delivers notifications after the section that produced them has
// committed.
type Notifier interface {
	Publish(ctx context.Context, n model.Notification) error
}

// EventCache holds read copies of events. Get returns nil on a miss and
// model.ErrEventNotFound for a deleted event. Fill only writes absent entries;
// Put replaces older versions (by UpdatedAt) and turns deleted events into
// tombstones.
type EventCache interface {
	Get(ctx context.Context, id int64) (*model.Event, error)
	Fill(ctx context.Context, e *model.Event) error
	Put(ctx context.Context, e *model.Event) error
}

type EventService struct {
	repo     repo.Repository
	authz    *authz.Checker
	notifier Notifier
	cache    EventCache
	log      *zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewService wires the engine. A nil cache disables caching; a nil notifier
// only logs notifications.
func NewService(r repo.Repository, checker *authz.Checker, notifier Notifier, c EventCache, logger *zerolog.Logger) *EventService {
	if c == nil {
		c = cache.Nop{}
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &EventService{
		repo:     r,
		authz:    checker,
		notifier: notifier,
		cache:    c,
		log:      logger,
		tracer:   otel.Tracer("eventAdmission/internal/service"),
		now:      time.Now,
	}
}

func (s *EventService) fail(span trace.Span, err error) error {
	if model.KindOf(err) == model.KindInternal {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *EventService) notify(ctx context.Context, kind model.NotificationKind, ev *model.Event, userID int64) {
	n := model.Notification{
		ID:         uuid.NewString(),
		Kind:       kind,
		EventID:    ev.ID,
		UserID:     userID,
		EventTitle: ev.Title,
		StartTime:  ev.StartTime,
		OccurredAt: s.now().UTC(),
	}
	if err := s.notifier.Publish(ctx, n); err != nil {
		s.log.Warn().Err(err).
			Str("kind", string(kind)).
			Int64("event_id", ev.ID).
			Int64("user_id", userID).
			Msg("failed to publish notification")
	}
}

// refresh publishes the committed event to the cache.
func (s *EventService) refresh(ctx context.Context, ev *model.Event) {
	if err := s.cache.Put(ctx, ev); err != nil {
		s.log.Warn().Err(err).Int64("event_id", ev.ID).Msg("failed to refresh event cache")
	}
}

// LogNotifier writes notifications to the log instead of a broker.
type LogNotifier struct {
	log *zerolog.Logger
}

func NewLogNotifier(log *zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Publish(_ context.Context, msg model.Notification) error {
	n.log.Info().
		Str("notification_id", msg.ID).
		Str("kind", string(msg.Kind)).
		Int64("event_id", msg.EventID).
		Int64("user_id", msg.UserID).
		Msg("notification")
	return nil
}
