package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	now    time.Time
	lead   time.Duration
	window time.Duration
}

type fakeSweeper struct {
	mu        sync.Mutex
	reminders []call
	completes int
	err       error
}

func (f *fakeSweeper) SendReminders(_ context.Context, now time.Time, lead, window time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reminders = append(f.reminders, call{now: now, lead: lead, window: window})
	return 0, f.err
}

func (f *fakeSweeper) CompleteEndedEvents(context.Context, time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes++
	return 0, f.err
}

func (f *fakeSweeper) ticks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completes
}

func TestTickRunsBothSweeps(t *testing.T) {
	logger := zerolog.Nop()
	f := &fakeSweeper{err: errors.New("db down")}
	s := NewScheduler(f, Config{Interval: time.Minute, ReminderLead: 24 * time.Hour}, &logger)
	fixed := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.tick(context.Background())

	require.Len(t, f.reminders, 1)
	assert.Equal(t, call{now: fixed, lead: 24 * time.Hour, window: time.Minute}, f.reminders[0])
	assert.Equal(t, 1, f.completes)
}

func TestStartStopsOnCancel(t *testing.T) {
	logger := zerolog.Nop()
	f := &fakeSweeper{}
	s := NewScheduler(f, Config{Interval: 5 * time.Millisecond, ReminderLead: time.Hour}, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return f.ticks() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
