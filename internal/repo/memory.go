package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"eventAdmission/internal/model"
)

type memberKey struct {
	userID      int64
	communityID int64
}

// MemoryRepository keeps everything in process. The per-event section is the
// EventLocks table; writes made inside a section are staged and applied under
// the data lock on commit, so readers never see half of a decision.
type MemoryRepository struct {
	locks *EventLocks

	mu          sync.RWMutex
	events      map[int64]model.Event
	regs        map[int64]model.Registration
	byEvent     map[int64][]int64
	roles       map[memberKey]model.Role
	contacts    map[int64]model.Contact
	nextEventID int64
	nextRegID   int64

	now func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		locks:    NewEventLocks(),
		events:   make(map[int64]model.Event),
		regs:     make(map[int64]model.Registration),
		byEvent:  make(map[int64][]int64),
		roles:    make(map[memberKey]model.Role),
		contacts: make(map[int64]model.Contact),
		now:      time.Now,
	}
}

func (r *MemoryRepository) Close() error { return nil }

// SetRole records a community membership.
func (r *MemoryRepository) SetRole(userID, communityID int64, role model.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if role == model.RoleNone {
		delete(r.roles, memberKey{userID, communityID})
		return
	}
	r.roles[memberKey{userID, communityID}] = role
}

func (r *MemoryRepository) SetContact(c model.Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contacts[c.UserID] = c
}

func (r *MemoryRepository) RoleOf(_ context.Context, userID, communityID int64) (model.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[memberKey{userID, communityID}], nil
}

func (r *MemoryRepository) ContactOf(_ context.Context, userID int64) (*model.Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contacts[userID]
	if !ok {
		return nil, model.Errorf(model.KindNotFound, "no contact for user %d", userID)
	}
	return &c, nil
}

func (r *MemoryRepository) CreateEvent(_ context.Context, e *model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextEventID++
	e.ID = r.nextEventID
	now := r.now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	r.events[e.ID] = cloneEvent(*e)
	return nil
}

func (r *MemoryRepository) GetEventByID(_ context.Context, id int64) (*model.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.events[id]
	if !ok || e.Deleted() {
		return nil, model.ErrEventNotFound
	}
	out := cloneEvent(e)
	return &out, nil
}

func (r *MemoryRepository) ListEventsByCommunity(_ context.Context, communityID int64, status *model.EventStatus, limit, offset int) ([]model.Event, error) {
	events := r.filterEvents(func(e model.Event) bool {
		return e.CommunityID == communityID && (status == nil || e.Status == *status)
	})
	sort.Slice(events, func(i, j int) bool {
		if !events[i].StartTime.Equal(events[j].StartTime) {
			return events[i].StartTime.After(events[j].StartTime)
		}
		return events[i].ID > events[j].ID
	})
	if offset >= len(events) {
		return nil, nil
	}
	events = events[offset:]
	if limit < len(events) {
		events = events[:limit]
	}
	return events, nil
}

func (r *MemoryRepository) CountRegisteredByEvent(_ context.Context, eventIDs []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(eventIDs))
	for _, id := range eventIDs {
		if n := countStatus(r.committed(id), model.RegistrationRegistered); n > 0 {
			counts[id] = n
		}
	}
	return counts, nil
}

func (r *MemoryRepository) ListEventsStartingBetween(_ context.Context, status model.EventStatus, from, to time.Time) ([]model.Event, error) {
	return r.filterEvents(func(e model.Event) bool {
		return e.Status == status && !e.StartTime.Before(from) && e.StartTime.Before(to)
	}), nil
}

func (r *MemoryRepository) ListEventsEndedBefore(_ context.Context, status model.EventStatus, before time.Time) ([]model.Event, error) {
	return r.filterEvents(func(e model.Event) bool {
		return e.Status == status && e.EndTime.Before(before)
	}), nil
}

func (r *MemoryRepository) filterEvents(keep func(model.Event) bool) []model.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Event
	for _, e := range r.events {
		if !e.Deleted() && keep(e) {
			out = append(out, cloneEvent(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// committed returns the committed registrations of one event in ledger order.
func (r *MemoryRepository) committed(eventID int64) []model.Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byEvent[eventID]
	out := make([]model.Registration, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.regs[id])
	}
	sort.Slice(out, func(i, j int) bool { return lessRegistration(out[i], out[j]) })
	return out
}

func (r *MemoryRepository) CountByStatus(_ context.Context, eventID int64, status model.RegistrationStatus) (int, error) {
	return countStatus(r.committed(eventID), status), nil
}

func (r *MemoryRepository) GetFirstWaitlisted(_ context.Context, eventID int64) (*model.Registration, error) {
	return firstWithStatus(r.committed(eventID), model.RegistrationWaitlisted), nil
}

func (r *MemoryRepository) ListByEvent(_ context.Context, eventID int64, status *model.RegistrationStatus) ([]model.Registration, error) {
	return filterStatus(r.committed(eventID), status), nil
}

func (r *MemoryRepository) GetByEventAndUser(_ context.Context, eventID, userID int64) (*model.Registration, error) {
	return findUser(r.committed(eventID), userID), nil
}

func (r *MemoryRepository) WithinEvent(ctx context.Context, eventID int64, fn func(ev *model.Event, tx Tx) error) error {
	unlock := r.locks.Lock(eventID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	ev, err := r.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}
	tx := &memoryTx{
		repo:    r,
		eventID: eventID,
		deleted: make(map[int64]bool),
		updated: make(map[int64]model.RegistrationStatus),
	}
	if err := fn(ev, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memoryTx struct {
	repo     *MemoryRepository
	eventID  int64
	event    *model.Event
	inserted []model.Registration
	deleted  map[int64]bool
	updated  map[int64]model.RegistrationStatus
}

// view overlays the staged writes on the committed ledger.
func (t *memoryTx) view() []model.Registration {
	base := t.repo.committed(t.eventID)
	out := make([]model.Registration, 0, len(base)+len(t.inserted))
	for _, reg := range append(base, t.inserted...) {
		if t.deleted[reg.ID] {
			continue
		}
		if st, ok := t.updated[reg.ID]; ok {
			reg.Status = st
		}
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return lessRegistration(out[i], out[j]) })
	return out
}

func (t *memoryTx) CountByStatus(_ context.Context, eventID int64, status model.RegistrationStatus) (int, error) {
	if err := t.own(eventID); err != nil {
		return 0, err
	}
	return countStatus(t.view(), status), nil
}

func (t *memoryTx) GetFirstWaitlisted(_ context.Context, eventID int64) (*model.Registration, error) {
	if err := t.own(eventID); err != nil {
		return nil, err
	}
	return firstWithStatus(t.view(), model.RegistrationWaitlisted), nil
}

func (t *memoryTx) ListByEvent(_ context.Context, eventID int64, status *model.RegistrationStatus) ([]model.Registration, error) {
	if err := t.own(eventID); err != nil {
		return nil, err
	}
	return filterStatus(t.view(), status), nil
}

func (t *memoryTx) GetByEventAndUser(_ context.Context, eventID, userID int64) (*model.Registration, error) {
	if err := t.own(eventID); err != nil {
		return nil, err
	}
	return findUser(t.view(), userID), nil
}

func (t *memoryTx) InsertRegistration(_ context.Context, reg *model.Registration) error {
	if err := t.own(reg.EventID); err != nil {
		return err
	}
	if findUser(t.view(), reg.UserID) != nil {
		return model.ErrDuplicateRegistration
	}
	t.repo.mu.Lock()
	t.repo.nextRegID++
	reg.ID = t.repo.nextRegID
	t.repo.mu.Unlock()
	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = t.repo.now().UTC()
	}
	t.inserted = append(t.inserted, *reg)
	return nil
}

func (t *memoryTx) DeleteRegistration(_ context.Context, id int64) error {
	if t.find(id) == nil {
		return model.ErrRegistrationNotFound
	}
	t.deleted[id] = true
	return nil
}

func (t *memoryTx) SetRegistrationStatus(_ context.Context, id int64, status model.RegistrationStatus) error {
	if t.find(id) == nil {
		return model.ErrRegistrationNotFound
	}
	t.updated[id] = status
	return nil
}

func (t *memoryTx) SaveEvent(_ context.Context, e *model.Event) error {
	if err := t.own(e.ID); err != nil {
		return err
	}
	e.UpdatedAt = nextUpdatedAt(e.UpdatedAt, t.repo.now().UTC().Truncate(time.Microsecond), time.Microsecond)
	saved := cloneEvent(*e)
	t.event = &saved
	return nil
}

func (t *memoryTx) find(id int64) *model.Registration {
	for _, reg := range t.view() {
		if reg.ID == id {
			return &reg
		}
	}
	return nil
}

func (t *memoryTx) own(eventID int64) error {
	if eventID != t.eventID {
		return model.Errorf(model.KindInternal, "event %d is outside the section of event %d", eventID, t.eventID)
	}
	return nil
}

func (t *memoryTx) commit() {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.event != nil {
		r.events[t.event.ID] = *t.event
	}
	if len(t.deleted) > 0 {
		kept := r.byEvent[t.eventID][:0]
		for _, id := range r.byEvent[t.eventID] {
			if t.deleted[id] {
				delete(r.regs, id)
				continue
			}
			kept = append(kept, id)
		}
		r.byEvent[t.eventID] = kept
	}
	for id, st := range t.updated {
		if reg, ok := r.regs[id]; ok {
			reg.Status = st
			r.regs[id] = reg
		}
	}
	for _, reg := range t.inserted {
		if t.deleted[reg.ID] {
			continue
		}
		if st, ok := t.updated[reg.ID]; ok {
			reg.Status = st
		}
		r.regs[reg.ID] = reg
		r.byEvent[t.eventID] = append(r.byEvent[t.eventID], reg.ID)
	}
}

func cloneEvent(e model.Event) model.Event {
	if e.ParticipantLimit != nil {
		limit := *e.ParticipantLimit
		e.ParticipantLimit = &limit
	}
	if e.DeletedAt != nil {
		at := *e.DeletedAt
		e.DeletedAt = &at
	}
	return e
}

func countStatus(regs []model.Registration, status model.RegistrationStatus) int {
	n := 0
	for _, reg := range regs {
		if reg.Status == status {
			n++
		}
	}
	return n
}

func firstWithStatus(regs []model.Registration, status model.RegistrationStatus) *model.Registration {
	for _, reg := range regs {
		if reg.Status == status {
			return &reg
		}
	}
	return nil
}

func filterStatus(regs []model.Registration, status *model.RegistrationStatus) []model.Registration {
	if status == nil {
		return regs
	}
	out := make([]model.Registration, 0, len(regs))
	for _, reg := range regs {
		if reg.Status == *status {
			out = append(out, reg)
		}
	}
	return out
}

func findUser(regs []model.Registration, userID int64) *model.Registration {
	for _, reg := range regs {
		if reg.UserID == userID {
			return &reg
		}
	}
	return nil
}
