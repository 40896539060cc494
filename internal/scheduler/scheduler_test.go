package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"megadata-go/internal/metrics"
)

// blockingJob runs until release is closed and counts its runs.
type blockingJob struct {
	runs    atomic.Int32
	started chan struct{}
	release chan struct{}
}

func newBlockingJob() *blockingJob {
	return &blockingJob{started: make(chan struct{}, 10), release: make(chan struct{})}
}

func (b *blockingJob) Run(ctx context.Context) error {
	b.runs.Add(1)
	b.started <- struct{}{}
	<-b.release
	return nil
}

func waitStarted(t *testing.T, b *blockingJob) {
	t.Helper()
	select {
	case <-b.started:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start")
	}
}

func TestTrigger_SingleFlight(t *testing.T) {
	m := metrics.New()
	s := New(nil, m)
	b := newBlockingJob()
	if err := s.Register(Job{Name: "sync", Interval: time.Hour, Run: b.Run}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	ctx := context.Background()

	started, err := s.Trigger(ctx, "sync")
	if err != nil || !started {
		t.Fatalf("Trigger() = %v, %v, want started", started, err)
	}
	waitStarted(t, b)

	started, err = s.Trigger(ctx, "sync")
	if err != nil {
		t.Fatalf("second Trigger() error = %v", err)
	}
	if started {
		t.Error("second Trigger() started a concurrent run")
	}
	if ran, _ := s.RunNow(ctx, "sync"); ran {
		t.Error("RunNow() ran while a run was in flight")
	}
	if !s.Running("sync") {
		t.Error("Running() = false during run")
	}

	close(b.release)
	deadline := time.Now().Add(2 * time.Second)
	for s.Running("sync") {
		if time.Now().After(deadline) {
			t.Fatal("latch not released after run")
		}
		time.Sleep(time.Millisecond)
	}
	if got := b.runs.Load(); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}

	if ran, err := s.RunNow(ctx, "sync"); !ran || err != nil {
		t.Errorf("RunNow() after release = %v, %v, want a run", ran, err)
	}
}

func TestRunNow_ReturnsJobError(t *testing.T) {
	s := New(nil, nil)
	want := errors.New("collection c1 failed")
	s.Register(Job{Name: "reconcile", Interval: time.Hour, Run: func(context.Context) error { return want }})

	started, err := s.RunNow(context.Background(), "reconcile")
	if !started || !errors.Is(err, want) {
		t.Errorf("RunNow() = %v, %v, want started with job error", started, err)
	}
}

func TestRunNow_RecoversPanic(t *testing.T) {
	s := New(nil, nil)
	calls := 0
	s.Register(Job{Name: "reconcile", Interval: time.Hour, Run: func(context.Context) error {
		calls++
		if calls == 1 {
			panic("nil map")
		}
		return nil
	}})
	ctx := context.Background()

	if _, err := s.RunNow(ctx, "reconcile"); err == nil {
		t.Error("RunNow() of panicking job returned nil error")
	}
	if started, err := s.RunNow(ctx, "reconcile"); !started || err != nil {
		t.Errorf("RunNow() after panic = %v, %v, want a clean run", started, err)
	}
}

func TestTrigger_UnknownJob(t *testing.T) {
	s := New(nil, nil)
	if _, err := s.Trigger(context.Background(), "nope"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Trigger() error = %v, want ErrUnknownJob", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	s := New(nil, nil)
	run := func(context.Context) error { return nil }

	if err := s.Register(Job{Name: "a", Interval: time.Second, Run: run}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	tests := []struct {
		name string
		job  Job
	}{
		{name: "duplicate", job: Job{Name: "a", Interval: time.Second, Run: run}},
		{name: "no interval", job: Job{Name: "b", Run: run}},
		{name: "no run", job: Job{Name: "c", Interval: time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Register(tt.job); err == nil {
				t.Error("Register() error = nil")
			}
		})
	}
}

func TestStart_FiresAndWaitsForInflight(t *testing.T) {
	s := New(nil, nil)
	var runs atomic.Int32
	var finished atomic.Bool
	s.Register(Job{Name: "tick", Interval: 5 * time.Millisecond, Immediate: true, Run: func(ctx context.Context) error {
		runs.Add(1)
		time.Sleep(20 * time.Millisecond)
		if ctx.Err() != nil {
			t.Error("run context cancelled by shutdown")
		}
		finished.Store(true)
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}

	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1 (overlapping firings dropped)", runs.Load())
	}
	if !finished.Load() {
		t.Error("Start() returned before the in-flight run finished")
	}
}
