package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventAdmission/internal/model"
	"eventAdmission/internal/repo"
)

func TestMarkAttendance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, repo.NewMemoryRepository())
	ev := f.event(intPtr(1), "")
	f.members(1, 2)
	f.register(ev.ID, 1)
	f.register(ev.ID, 2)

	_, err := f.svc.MarkAttendance(ctx, ev.ID, organizer, 1, model.RegistrationWaitlisted)
	assert.Equal(t, model.KindValidation, model.KindOf(err))

	_, err = f.svc.MarkAttendance(ctx, ev.ID, organizer, 2, model.RegistrationAttended)
	assert.Equal(t, model.KindInvalidState, model.KindOf(err))

	_, err = f.svc.MarkAttendance(ctx, ev.ID, 2, 1, model.RegistrationAttended)
	assert.Equal(t, model.KindForbidden, model.KindOf(err))

	_, err = f.svc.MarkAttendance(ctx, ev.ID, organizer, 3, model.RegistrationAttended)
	assert.ErrorIs(t, err, model.ErrRegistrationNotFound)

	reg, err := f.svc.MarkAttendance(ctx, ev.ID, organizer, 1, model.RegistrationNoShow)
	require.NoError(t, err)
	assert.Equal(t, model.RegistrationNoShow, reg.Status)

	_, err = f.svc.MarkAttendance(ctx, ev.ID, organizer, 1, model.RegistrationAttended)
	assert.Equal(t, model.KindInvalidState, model.KindOf(err))
}

func TestMarkAttendanceRequiresRunningEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, repo.NewMemoryRepository())
	ev := f.event(nil, "")
	f.members(1)
	f.register(ev.ID, 1)
	_, err := f.svc.ChangeStatus(ctx, ev.ID, organizer, model.EventStatusCancelled)
	require.NoError(t, err)

	_, err = f.svc.MarkAttendance(ctx, ev.ID, organizer, 1, model.RegistrationAttended)
	assert.Equal(t, model.KindInvalidState, model.KindOf(err))
}

func TestEventStatsAndParticipants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, repo.NewMemoryRepository())
	ev := f.event(intPtr(2), "")
	f.members(1, 2, 3)
	f.register(ev.ID, 1)
	f.register(ev.ID, 2)
	f.register(ev.ID, 3)
	_, err := f.svc.MarkAttendance(ctx, ev.ID, organizer, 1, model.RegistrationAttended)
	require.NoError(t, err)

	stats, err := f.svc.EventStats(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EventStats{Registered: 1, Waitlisted: 1, Attended: 1, FreeSeats: 1}, *stats)

	all, err := f.svc.ListParticipants(ctx, ev.ID, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{all[0].UserID, all[1].UserID, all[2].UserID})

	waitlisted := model.RegistrationWaitlisted
	wl, err := f.svc.ListParticipants(ctx, ev.ID, &waitlisted)
	require.NoError(t, err)
	require.Len(t, wl, 1)
	assert.Equal(t, int64(3), wl[0].UserID)

	bad := model.RegistrationStatus("pending")
	_, err = f.svc.ListParticipants(ctx, ev.ID, &bad)
	assert.Equal(t, model.KindValidation, model.KindOf(err))

	_, err = f.svc.EventStats(ctx, ev.ID+1)
	assert.ErrorIs(t, err, model.ErrEventNotFound)
}

func TestListParticipantsWithContacts(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, b.open(t))
			ev := f.event(intPtr(1), "")
			f.members(1, 2)
			f.contact(model.Contact{UserID: 1, Email: "ann@example.com", FullName: "Ann Lee"})
			f.register(ev.ID, 1)
			f.register(ev.ID, 2)

			got, err := f.svc.ListParticipants(ctx, ev.ID, nil)
			require.NoError(t, err)
			require.Len(t, got, 2)

			assert.Equal(t, model.RegistrationRegistered, got[0].Status)
			assert.Equal(t, "ann@example.com", got[0].Email)
			assert.Equal(t, "Ann Lee", got[0].FullName)

			assert.Equal(t, int64(2), got[1].UserID)
			assert.Equal(t, model.RegistrationWaitlisted, got[1].Status)
			assert.Empty(t, got[1].Email)
			assert.Empty(t, got[1].FullName)
		})
	}
}

func TestSendReminders(t *testing.T) {
	ctx := context.Background()
	r := repo.NewMemoryRepository()
	f := newFixture(t, r)
	now := time.Now().UTC()

	soon := &model.Event{
		CommunityID: community, CreatorID: organizer, Title: "Soon", Type: model.EventTypeOnline,
		StartTime: now.Add(24*time.Hour + 10*time.Minute), EndTime: now.Add(26 * time.Hour),
		Status: model.EventStatusPublished,
	}
	later := &model.Event{
		CommunityID: community, CreatorID: organizer, Title: "Later", Type: model.EventTypeOnline,
		StartTime: now.Add(72 * time.Hour), EndTime: now.Add(73 * time.Hour),
		Status: model.EventStatusPublished,
	}
	require.NoError(t, r.CreateEvent(ctx, soon))
	require.NoError(t, r.CreateEvent(ctx, later))
	f.members(1, 2)
	f.register(soon.ID, 1)
	f.register(later.ID, 2)

	sent, err := f.svc.SendReminders(ctx, now, 24*time.Hour, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Contains(t, f.notes.kinds(1), model.NotifyEventReminder)
	assert.NotContains(t, f.notes.kinds(2), model.NotifyEventReminder)
}

func TestCompleteEndedEvents(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, b.open(t))
			now := time.Now().UTC()

			ended := &model.Event{
				CommunityID: community, CreatorID: organizer, Title: "Ended", Type: model.EventTypeOnline,
				StartTime: now.Add(-3 * time.Hour), EndTime: now.Add(-time.Hour),
				Status: model.EventStatusPublished,
			}
			draft := &model.Event{
				CommunityID: community, CreatorID: organizer, Title: "Draft", Type: model.EventTypeOnline,
				StartTime: now.Add(-3 * time.Hour), EndTime: now.Add(-time.Hour),
				Status: model.EventStatusDraft,
			}
			require.NoError(t, f.repo.CreateEvent(ctx, ended))
			require.NoError(t, f.repo.CreateEvent(ctx, draft))
			upcoming := f.event(nil, "")

			n, err := f.svc.CompleteEndedEvents(ctx, now)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			for id, want := range map[int64]model.EventStatus{
				ended.ID:    model.EventStatusCompleted,
				draft.ID:    model.EventStatusDraft,
				upcoming.ID: model.EventStatusPublished,
			} {
				got, err := f.repo.GetEventByID(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, want, got.Status, "event %d", id)
			}
		})
	}
}
