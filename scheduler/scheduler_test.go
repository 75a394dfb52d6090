package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"vinted_scrooper/config"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunOnceSkipsOverlap(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	s := New(config.SchedulerConfig{}, func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	})

	done := make(chan bool)
	go func() { done <- s.RunOnce(context.Background()) }()
	waitFor(t, s.Running)

	if s.RunOnce(context.Background()) {
		t.Fatal("expected overlapping run to be skipped")
	}
	close(release)
	if !<-done {
		t.Fatal("expected first run to report it ran")
	}
	if runs.Load() != 1 {
		t.Errorf("expected 1 run, got %d", runs.Load())
	}
	if s.Running() {
		t.Error("expected scheduler idle after the run")
	}
}

func TestRunOnceJobError(t *testing.T) {
	s := New(config.SchedulerConfig{}, func(ctx context.Context) error {
		return errors.New("catalogs unavailable")
	})
	if !s.RunOnce(context.Background()) {
		t.Fatal("expected a failing job to still count as a run")
	}
	if s.Running() {
		t.Error("expected running flag cleared after an error")
	}
}

func TestIntervalSchedule(t *testing.T) {
	var runs atomic.Int32
	s := New(config.SchedulerConfig{Interval: 10 * time.Millisecond}, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return runs.Load() >= 2 })
	s.Stop()

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	if runs.Load() != after {
		t.Error("expected no runs after Stop")
	}
}

func TestTrigger(t *testing.T) {
	var runs atomic.Int32
	s := New(config.SchedulerConfig{}, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	s.Trigger()
	waitFor(t, func() bool { return runs.Load() == 1 })
}

func TestInvalidCron(t *testing.T) {
	s := New(config.SchedulerConfig{Cron: "every tuesday"}, func(ctx context.Context) error { return nil })
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected invalid cron expression error")
	}
	s.Stop()
}

func TestValidCronStarts(t *testing.T) {
	s := New(config.SchedulerConfig{Cron: "0 */6 * * *"}, func(ctx context.Context) error { return nil })
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()
}
