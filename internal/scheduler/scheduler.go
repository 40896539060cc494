package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"megadata-go/internal/megadata"
	"megadata-go/internal/metrics"
)

var ErrUnknownJob = errors.New("unknown job")

// Job is a periodic task. Run receives a context that is not cancelled by
// scheduler shutdown; a started run always completes.
type Job struct {
	Name      string
	Interval  time.Duration
	Immediate bool // fire once when the scheduler starts
	Run       func(ctx context.Context) error
}

type job struct {
	Job
	latch *semaphore.Weighted
}

// Scheduler fires jobs on fixed intervals with at most one run in flight per
// job. A firing that finds its job running is dropped, not queued.
type Scheduler struct {
	mu       sync.Mutex
	jobs     map[string]*job
	order    []string
	inflight sync.WaitGroup
	log      megadata.Logger
	metrics  *metrics.Metrics
}

func New(log megadata.Logger, m *metrics.Metrics) *Scheduler {
	if log == nil {
		log = megadata.NewNopLogger()
	}
	return &Scheduler{jobs: map[string]*job{}, log: log, metrics: m}
}

// Register adds a job. Names must be unique.
func (s *Scheduler) Register(j Job) error {
	if j.Name == "" || j.Run == nil {
		return errors.New("job requires a name and a run function")
	}
	if j.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", j.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.Name]; ok {
		return fmt.Errorf("job %s already registered", j.Name)
	}
	s.jobs[j.Name] = &job{Job: j, latch: semaphore.NewWeighted(1)}
	s.order = append(s.order, j.Name)
	return nil
}

// Jobs returns the registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func (s *Scheduler) lookup(name string) (*job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownJob)
	}
	return j, nil
}

// Running reports whether a run of the named job is in flight.
func (s *Scheduler) Running(name string) bool {
	j, err := s.lookup(name)
	if err != nil {
		return false
	}
	if j.latch.TryAcquire(1) {
		j.latch.Release(1)
		return false
	}
	return true
}

// Trigger starts a run of the named job in the background. It returns false
// when a run is already in flight.
func (s *Scheduler) Trigger(ctx context.Context, name string) (bool, error) {
	j, err := s.lookup(name)
	if err != nil {
		return false, err
	}
	return s.fire(ctx, j), nil
}

// RunNow runs the named job in the calling goroutine and returns its error.
// started is false when a run was already in flight.
func (s *Scheduler) RunNow(ctx context.Context, name string) (started bool, err error) {
	j, err := s.lookup(name)
	if err != nil {
		return false, err
	}
	if !s.acquire(j) {
		return false, nil
	}
	s.inflight.Add(1)
	return true, s.run(ctx, j)
}

func (s *Scheduler) acquire(j *job) bool {
	if j.latch.TryAcquire(1) {
		return true
	}
	s.log.Debug("dropping firing, run in flight", "job", j.Name)
	s.metrics.Dropped(j.Name)
	return false
}

func (s *Scheduler) fire(ctx context.Context, j *job) bool {
	if !s.acquire(j) {
		return false
	}
	s.inflight.Add(1)
	go s.run(context.WithoutCancel(ctx), j)
	return true
}

// run executes one run holding the job's latch. Panics are recovered so the
// next firing is unaffected.
func (s *Scheduler) run(ctx context.Context, j *job) (err error) {
	start := time.Now()
	defer s.inflight.Done()
	defer j.latch.Release(1)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.Name, r)
			s.log.Error("job panicked", "job", j.Name, "panic", r)
			s.metrics.JobRun(j.Name, "panic")
		}
	}()

	s.log.Debug("job started", "job", j.Name)
	err = j.Run(ctx)
	if err != nil {
		s.log.Error("job finished with errors", "job", j.Name, "duration", time.Since(start), "error", err)
		s.metrics.JobRun(j.Name, "error")
		return err
	}
	s.log.Debug("job finished", "job", j.Name, "duration", time.Since(start))
	s.metrics.JobRun(j.Name, "ok")
	return nil
}

// Start fires every registered job on its interval until ctx is cancelled,
// then waits for in-flight runs to complete.
func (s *Scheduler) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range s.Jobs() {
		j, err := s.lookup(name)
		if err != nil {
			return err
		}
		g.Go(func() error {
			ticker := time.NewTicker(j.Interval)
			defer ticker.Stop()

			if j.Immediate {
				s.fire(gctx, j)
			}
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					s.fire(gctx, j)
				}
			}
		})
	}

	s.log.Info("scheduler started", "jobs", len(s.Jobs()))
	err := g.Wait()
	s.inflight.Wait()
	s.log.Info("scheduler stopped")
	return err
}
