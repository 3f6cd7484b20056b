package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quantumlife/planner/internal/testutil"
)

var start = time.Date(2026, 3, 2, 8, 7, 0, 0, time.UTC)

func newTestScheduler(t *testing.T) (*Scheduler, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(start)
	s := NewScheduler(Config{Timezone: "UTC", Clock: clock})
	t.Cleanup(s.Stop)
	return s, clock
}

func noop(ctx context.Context) error { return nil }

func TestNewScheduler(t *testing.T) {
	t.Run("with valid timezone", func(t *testing.T) {
		s := NewScheduler(Config{Timezone: "America/New_York"})
		if s.timezone.String() != "America/New_York" {
			t.Errorf("timezone = %v", s.timezone)
		}
	})

	t.Run("with invalid timezone uses local", func(t *testing.T) {
		s := NewScheduler(Config{Timezone: "Invalid/Timezone"})
		if s.timezone != time.Local {
			t.Errorf("timezone = %v, want Local", s.timezone)
		}
	})
}

func TestScheduler_Register(t *testing.T) {
	s, _ := newTestScheduler(t)

	t.Run("valid task", func(t *testing.T) {
		task := NewTask("sync").Every(time.Minute).Handler(noop).Build()
		task.Timeout = 0

		if err := s.Register(task); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		if !s.Has("sync") {
			t.Error("task not found in scheduler")
		}
		if task.Timeout == 0 {
			t.Error("default timeout not set")
		}
		if !task.Enabled {
			t.Error("task should be enabled by default")
		}
		if task.NextRun == nil || !task.NextRun.Equal(start.Add(time.Minute)) {
			t.Errorf("NextRun = %v", task.NextRun)
		}
	})

	invalid := []struct {
		name string
		task *Task
	}{
		{"empty ID", &Task{Handler: noop, Schedule: Schedule{Type: ScheduleInterval, Interval: time.Minute}}},
		{"nil handler", &Task{ID: "x", Schedule: Schedule{Type: ScheduleInterval, Interval: time.Minute}}},
		{"zero interval", NewTask("x").Every(0).Handler(noop).Build()},
		{"bad cron", NewTask("x").Cron("every minute").Handler(noop).Build()},
		{"unknown type", &Task{ID: "x", Handler: noop, Schedule: Schedule{Type: "weekly"}}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Register(tt.task); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestScheduler_NextRun(t *testing.T) {
	tests := []struct {
		name string
		task *Task
		want time.Time
	}{
		{"interval", NewTask("a").Every(15 * time.Minute).Handler(noop).Build(), start.Add(15 * time.Minute)},
		{"cron", NewTask("b").Cron("*/15 * * * *").Handler(noop).Build(), time.Date(2026, 3, 2, 8, 15, 0, 0, time.UTC)},
		{"cron descriptor", NewTask("c").Cron("@hourly").Handler(noop).Build(), time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		{"daily later today", NewTask("d").Daily("21:30").Handler(noop).Build(), time.Date(2026, 3, 2, 21, 30, 0, 0, time.UTC)},
		{"daily tomorrow", NewTask("e").Daily("03:30").Handler(noop).Build(), time.Date(2026, 3, 3, 3, 30, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestScheduler(t)
			if err := s.Register(tt.task); err != nil {
				t.Fatalf("Register failed: %v", err)
			}
			got, _ := s.GetTask(tt.task.ID)
			if !got.NextRun.Equal(tt.want) {
				t.Errorf("NextRun = %v, want %v", got.NextRun, tt.want)
			}
		})
	}
}

func TestScheduler_TicksFollowClock(t *testing.T) {
	s, clock := newTestScheduler(t)

	var runs atomic.Int32
	err := s.Register(NewTask("tick").Every(time.Minute).Handler(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}).Build())
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, s.Start())

	for want := int32(1); want <= 3; want++ {
		testutil.Eventually(t, time.Second, func() bool { return clock.Waiters() == 1 }, "loop waiting for tick")
		clock.Advance(time.Minute)
		testutil.Eventually(t, time.Second, func() bool { return runs.Load() == want }, "tick ran")
	}

	// Less than an interval does nothing
	testutil.Eventually(t, time.Second, func() bool { return clock.Waiters() == 1 }, "loop waiting for tick")
	clock.Advance(30 * time.Second)
	time.Sleep(20 * time.Millisecond)
	testutil.AssertEqual(t, runs.Load(), int32(3))
}

func TestScheduler_UnregisterStopsTask(t *testing.T) {
	s, clock := newTestScheduler(t)

	var runs atomic.Int32
	err := s.Register(NewTask("tick").Every(time.Minute).Handler(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}).Build())
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, s.Start())
	testutil.Eventually(t, time.Second, func() bool { return clock.Waiters() == 1 }, "loop waiting for tick")

	s.Unregister("tick")
	if s.Has("tick") {
		t.Fatal("task still registered")
	}
	clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	testutil.AssertEqual(t, runs.Load(), int32(0))
}

func TestScheduler_RunNow(t *testing.T) {
	s, _ := newTestScheduler(t)

	done := make(chan struct{})
	err := s.Register(NewTask("manual").Every(time.Hour).Handler(func(ctx context.Context) error {
		close(done)
		return errors.New("provider unavailable")
	}).Build())
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, s.RunNow("manual"))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunNow did not execute the handler")
	}

	testutil.Eventually(t, time.Second, func() bool {
		task, _ := s.GetTask("manual")
		return task.ErrorCount == 1 && task.LastError == "provider unavailable"
	}, "error recorded")

	if err := s.RunNow("missing"); err == nil {
		t.Error("RunNow of an unknown task should fail")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s, _ := newTestScheduler(t)
	testutil.AssertNoError(t, s.Register(NewTask("a").Every(time.Minute).Handler(noop).Build()))

	testutil.AssertNoError(t, s.Start())
	if err := s.Start(); err == nil {
		t.Error("second Start should fail")
	}

	stats := s.GetStats()
	if !stats.Started || stats.TotalTasks != 1 || stats.RunningTasks != 1 {
		t.Errorf("stats = %+v", stats)
	}

	s.Stop()
	if s.GetStats().Started {
		t.Error("scheduler should be stopped")
	}
	// Restart after stop
	testutil.AssertNoError(t, s.Start())
}
