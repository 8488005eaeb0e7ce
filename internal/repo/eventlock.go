package repo

import "sync"

// EventLocks is a keyed lock table: one mutex per event id, created on first
// use and dropped when the last holder or waiter releases it.
type EventLocks struct {
	mu    sync.Mutex
	locks map[int64]*eventLock
}

type eventLock struct {
	mu   sync.Mutex
	refs int
}

func NewEventLocks() *EventLocks {
	return &EventLocks{locks: make(map[int64]*eventLock)}
}

// Lock blocks until the section for id is free and returns its release func.
func (l *EventLocks) Lock(id int64) (unlock func()) {
	l.mu.Lock()
	el, ok := l.locks[id]
	if !ok {
		el = &eventLock{}
		l.locks[id] = el
	}
	el.refs++
	l.mu.Unlock()

	el.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			el.mu.Unlock()
			l.mu.Lock()
			el.refs--
			if el.refs == 0 {
				delete(l.locks, id)
			}
			l.mu.Unlock()
		})
	}
}

// Len reports how many event ids currently have holders or waiters.
func (l *EventLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
