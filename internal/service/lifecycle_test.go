package service

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventAdmission/internal/authz"
	"eventAdmission/internal/cache"
	"eventAdmission/internal/model"
	"eventAdmission/internal/repo"
)

func TestCreateEventValidation(t *testing.T) {
	f := newFixture(t, repo.NewMemoryRepository())
	f.members(1)
	now := time.Now()

	valid := func() model.NewEvent {
		return model.NewEvent{
			CommunityID: community,
			CreatorID:   organizer,
			Title:       "Workshop",
			Type:        model.EventTypeHybrid,
			StartTime:   now.Add(time.Hour),
			EndTime:     now.Add(2 * time.Hour),
		}
	}

	tests := []struct {
		name   string
		mutate func(*model.NewEvent)
		kind   model.Kind
	}{
		{name: "start in the past", mutate: func(in *model.NewEvent) { in.StartTime = now.Add(-time.Minute) }, kind: model.KindValidation},
		{name: "end before start", mutate: func(in *model.NewEvent) { in.EndTime = in.StartTime.Add(-time.Minute) }, kind: model.KindValidation},
		{name: "end equals start", mutate: func(in *model.NewEvent) { in.EndTime = in.StartTime }, kind: model.KindValidation},
		{name: "zero limit", mutate: func(in *model.NewEvent) { in.ParticipantLimit = intPtr(0) }, kind: model.KindValidation},
		{name: "unknown type", mutate: func(in *model.NewEvent) { in.Type = "virtual" }, kind: model.KindValidation},
		{name: "empty title", mutate: func(in *model.NewEvent) { in.Title = "  " }, kind: model.KindValidation},
		{name: "created completed", mutate: func(in *model.NewEvent) { in.Status = model.EventStatusCompleted }, kind: model.KindValidation},
		{name: "plain member", mutate: func(in *model.NewEvent) { in.CreatorID = 1 }, kind: model.KindForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid()
			tt.mutate(&in)
			_, err := f.svc.CreateEvent(context.Background(), in)
			require.Error(t, err)
			assert.Equal(t, tt.kind, model.KindOf(err))
		})
	}

	ev, err := f.svc.CreateEvent(context.Background(), valid())
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusPublished, ev.Status)
	assert.NotZero(t, ev.ID)
}

func TestChangeStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, repo.NewMemoryRepository())

	ev := f.event(nil, model.EventStatusDraft)
	got, err := f.svc.ChangeStatus(ctx, ev.ID, organizer, model.EventStatusPublished)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusPublished, got.Status)

	_, err = f.svc.ChangeStatus(ctx, ev.ID, organizer, model.EventStatusCompleted)
	require.NoError(t, err)

	_, err = f.svc.ChangeStatus(ctx, ev.ID, organizer, model.EventStatusPublished)
	assert.ErrorIs(t, err, model.ErrInvalidState)

	stored, err := f.repo.GetEventByID(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusCompleted, stored.Status)

	f.members(5)
	_, err = f.svc.ChangeStatus(ctx, ev.ID, 5, model.EventStatusCancelled)
	assert.Equal(t, model.KindForbidden, model.KindOf(err))
}

func TestCancelNotifiesRegistrants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, repo.NewMemoryRepository())
	ev := f.event(intPtr(1), "")
	f.members(1, 2)
	f.register(ev.ID, 1)
	f.register(ev.ID, 2)

	_, err := f.svc.ChangeStatus(ctx, ev.ID, organizer, model.EventStatusCancelled)
	require.NoError(t, err)

	assert.Contains(t, f.notes.kinds(1), model.NotifyEventCancelled)
	assert.Contains(t, f.notes.kinds(2), model.NotifyEventCancelled)
}

func TestUpdateEventCapacity(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, b.open(t))
			ev := f.event(intPtr(1), "")
			f.members(1, 2, 3, 4)
			for i := int64(1); i <= 4; i++ {
				f.register(ev.ID, i)
			}

			got, err := f.svc.UpdateEvent(ctx, ev.ID, organizer, model.EventPatch{ParticipantLimit: intPtr(3)})
			require.NoError(t, err)
			require.NotNil(t, got.ParticipantLimit)
			assert.Equal(t, 3, *got.ParticipantLimit)
			assert.Equal(t, model.RegistrationRegistered, f.statusOf(ev.ID, 2))
			assert.Equal(t, model.RegistrationRegistered, f.statusOf(ev.ID, 3))
			assert.Equal(t, model.RegistrationWaitlisted, f.statusOf(ev.ID, 4))

			_, err = f.svc.UpdateEvent(ctx, ev.ID, organizer, model.EventPatch{ParticipantLimit: intPtr(2)})
			assert.Equal(t, model.KindValidation, model.KindOf(err))
			assert.Equal(t, 3, f.count(ev.ID, model.RegistrationRegistered))

			_, err = f.svc.UpdateEvent(ctx, ev.ID, organizer, model.EventPatch{ClearLimit: true})
			require.NoError(t, err)
			assert.Equal(t, 4, f.count(ev.ID, model.RegistrationRegistered))
			assert.Equal(t, 0, f.count(ev.ID, model.RegistrationWaitlisted))
		})
	}
}

func TestUpdateEventSchedule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, repo.NewMemoryRepository())
	ev := f.event(nil, "")

	before := ev.StartTime.Add(-time.Hour)
	_, err := f.svc.UpdateEvent(ctx, ev.ID, organizer, model.EventPatch{EndTime: &before})
	assert.ErrorIs(t, err, model.ErrInvalidTimeRange)

	past := time.Now().Add(-time.Hour)
	_, err = f.svc.UpdateEvent(ctx, ev.ID, organizer, model.EventPatch{StartTime: &past})
	assert.ErrorIs(t, err, model.ErrStartInPast)

	later := ev.EndTime.Add(time.Hour)
	title := "Go meetup #2"
	got, err := f.svc.UpdateEvent(ctx, ev.ID, organizer, model.EventPatch{EndTime: &later, Title: &title})
	require.NoError(t, err)
	assert.True(t, later.Equal(got.EndTime))
	assert.Equal(t, title, got.Title)

	_, err = f.svc.ChangeStatus(ctx, ev.ID, organizer, model.EventStatusCancelled)
	require.NoError(t, err)
	_, err = f.svc.UpdateEvent(ctx, ev.ID, organizer, model.EventPatch{Title: &title})
	assert.ErrorIs(t, err, model.ErrEventClosed)
}

func TestDeleteEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, repo.NewMemoryRepository())
	ev := f.event(nil, "")
	f.members(7)

	err := f.svc.DeleteEvent(ctx, ev.ID, 7)
	assert.Equal(t, model.KindForbidden, model.KindOf(err))

	require.NoError(t, f.svc.DeleteEvent(ctx, ev.ID, organizer))
	_, err = f.svc.GetEvent(ctx, ev.ID)
	assert.ErrorIs(t, err, model.ErrEventNotFound)
	err = f.svc.DeleteEvent(ctx, ev.ID, organizer)
	assert.ErrorIs(t, err, model.ErrEventNotFound)
}

func TestListCommunityEvents(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, b.open(t))
			f.members(1, 2)
			draftEv := f.event(nil, model.EventStatusDraft)
			older := f.event(nil, "")
			newer := f.event(nil, "")
			f.register(older.ID, 1)
			f.register(older.ID, 2)

			all, err := f.svc.ListCommunityEvents(ctx, community, nil, model.Page{})
			require.NoError(t, err)
			require.Len(t, all.Items, 3)
			assert.Equal(t, 1, all.Page)
			assert.Equal(t, model.DefaultPageSize, all.PageSize)
			assert.False(t, all.HasNext)
			assert.Equal(t, []int64{newer.ID, older.ID, draftEv.ID},
				[]int64{all.Items[0].ID, all.Items[1].ID, all.Items[2].ID})
			assert.Equal(t, []int{0, 2, 0},
				[]int{all.Items[0].RegisteredCount, all.Items[1].RegisteredCount, all.Items[2].RegisteredCount})

			draft := model.EventStatusDraft
			drafts, err := f.svc.ListCommunityEvents(ctx, community, &draft, model.Page{})
			require.NoError(t, err)
			require.Len(t, drafts.Items, 1)
			assert.Equal(t, draftEv.ID, drafts.Items[0].ID)

			none, err := f.svc.ListCommunityEvents(ctx, community+1, nil, model.Page{})
			require.NoError(t, err)
			assert.NotNil(t, none.Items)
			assert.Empty(t, none.Items)
		})
	}
}

func TestListCommunityEventsPaging(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, repo.NewMemoryRepository())
	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, f.event(nil, "").ID)
	}

	first, err := f.svc.ListCommunityEvents(ctx, community, nil, model.Page{Number: 1, Size: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.True(t, first.HasNext)
	assert.Equal(t, ids[4], first.Items[0].ID)

	second, err := f.svc.ListCommunityEvents(ctx, community, nil, model.Page{Number: 2, Size: 2})
	require.NoError(t, err)
	require.Len(t, second.Items, 2)
	assert.True(t, second.HasNext)
	assert.Equal(t, ids[2], second.Items[0].ID)

	last, err := f.svc.ListCommunityEvents(ctx, community, nil, model.Page{Number: 3, Size: 2})
	require.NoError(t, err)
	require.Len(t, last.Items, 1)
	assert.False(t, last.HasNext)
	assert.Equal(t, ids[0], last.Items[0].ID)

	exact, err := f.svc.ListCommunityEvents(ctx, community, nil, model.Page{Number: 1, Size: 5})
	require.NoError(t, err)
	assert.Len(t, exact.Items, 5)
	assert.False(t, exact.HasNext)
}

func TestListCommunityEventsValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, repo.NewMemoryRepository())
	bad := model.EventStatus("archived")

	tests := []struct {
		name   string
		status *model.EventStatus
		page   model.Page
	}{
		{name: "unknown status", status: &bad},
		{name: "negative page", page: model.Page{Number: -1}},
		{name: "page size too large", page: model.Page{Size: model.MaxPageSize + 1}},
		{name: "negative page size", page: model.Page{Size: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ListCommunityEvents(ctx, community, tt.status, tt.page)
			assert.Equal(t, model.KindValidation, model.KindOf(err))
		})
	}

	maxed, err := f.svc.ListCommunityEvents(ctx, community, nil, model.Page{Size: model.MaxPageSize})
	require.NoError(t, err)
	assert.Equal(t, model.MaxPageSize, maxed.PageSize)
}

// hookedCache runs beforeFill once, between GetEvent's store read and its
// cache fill.
type hookedCache struct {
	*cache.EventCache
	beforeFill func()
}

func (c *hookedCache) Fill(ctx context.Context, e *model.Event) error {
	if hook := c.beforeFill; hook != nil {
		c.beforeFill = nil
		hook()
	}
	return c.EventCache.Fill(ctx, e)
}

func newCachedFixture(t *testing.T, r repo.Repository) (*fixture, *hookedCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	ec := cache.NewEventCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	t.Cleanup(func() { _ = ec.Close() })

	c := &hookedCache{EventCache: ec}
	f := newFixture(t, r)
	logger := zerolog.Nop()
	f.svc = NewService(r, authz.NewChecker(r), f.notes, c, &logger)
	return f, c, mr
}

func TestGetEventUsesCache(t *testing.T) {
	ctx := context.Background()
	r := repo.NewMemoryRepository()
	f, _, mr := newCachedFixture(t, r)
	ev := f.event(nil, "")

	_, err := f.svc.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.True(t, mr.Exists("event:"+strconv.FormatInt(ev.ID, 10)))

	// A write that bypasses the service is not seen until the entry changes.
	err = r.WithinEvent(ctx, ev.ID, func(stored *model.Event, tx repo.Tx) error {
		stored.Title = "Edited directly"
		return tx.SaveEvent(ctx, stored)
	})
	require.NoError(t, err)
	got, err := f.svc.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "Go meetup", got.Title)

	title := "Renamed"
	_, err = f.svc.UpdateEvent(ctx, ev.ID, organizer, model.EventPatch{Title: &title})
	require.NoError(t, err)
	got, err = f.svc.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
}

func TestCacheFillRacingStatusChange(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			f, c, _ := newCachedFixture(t, b.open(t))
			ev := f.event(nil, "")

			c.beforeFill = func() {
				_, err := f.svc.ChangeStatus(ctx, ev.ID, organizer, model.EventStatusCancelled)
				require.NoError(t, err)
			}
			_, err := f.svc.GetEvent(ctx, ev.ID)
			require.NoError(t, err)

			got, err := f.svc.GetEvent(ctx, ev.ID)
			require.NoError(t, err)
			assert.Equal(t, model.EventStatusCancelled, got.Status)
		})
	}
}

func TestCacheFillRacingDelete(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			f, c, _ := newCachedFixture(t, b.open(t))
			ev := f.event(nil, "")

			c.beforeFill = func() {
				require.NoError(t, f.svc.DeleteEvent(ctx, ev.ID, organizer))
			}
			_, err := f.svc.GetEvent(ctx, ev.ID)
			require.NoError(t, err)

			_, err = f.svc.GetEvent(ctx, ev.ID)
			assert.ErrorIs(t, err, model.ErrEventNotFound)
		})
	}
}
