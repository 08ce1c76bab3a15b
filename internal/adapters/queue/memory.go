package queue

import (
	"context"
	"sync"
	"time"

	"github.com/AlloPay/accountd/internal/usecase"
)

// MemoryScheduler is an in-process usecase.JobScheduler. It records jobs
// instead of running them, which makes it the scheduler of choice for
// tests and single-process tooling.
type MemoryScheduler struct {
	mu    sync.Mutex
	jobs  map[string]usecase.Job
	flows []usecase.Flow
}

// NewMemoryScheduler creates an empty in-memory scheduler.
func NewMemoryScheduler() *MemoryScheduler {
	return &MemoryScheduler{jobs: make(map[string]usecase.Job)}
}

// Enqueue records the job unless its id is already present.
func (s *MemoryScheduler) Enqueue(_ context.Context, job usecase.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		s.jobs[job.ID] = job
	}
	return nil
}

// SubmitFlow records the top-level flow and all jobs it contains.
func (s *MemoryScheduler) SubmitFlow(ctx context.Context, flow usecase.Flow) error {
	s.mu.Lock()
	s.flows = append(s.flows, flow)
	s.mu.Unlock()
	return s.enqueueFlow(ctx, flow)
}

func (s *MemoryScheduler) enqueueFlow(ctx context.Context, flow usecase.Flow) error {
	if err := s.Enqueue(ctx, flow.Job); err != nil {
		return err
	}
	for _, child := range flow.Children {
		if err := s.enqueueFlow(ctx, child); err != nil {
			return err
		}
	}
	return nil
}

// Remove forgets the job.
func (s *MemoryScheduler) Remove(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}

// ActiveJobIDs returns the ids of all recorded jobs.
func (s *MemoryScheduler) ActiveJobIDs(_ context.Context) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := make(map[string]struct{}, len(s.jobs))
	for id := range s.jobs {
		active[id] = struct{}{}
	}
	return active, nil
}

// Jobs returns a snapshot of the recorded jobs.
func (s *MemoryScheduler) Jobs() []usecase.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]usecase.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// Has reports whether a job with the given id is recorded.
func (s *MemoryScheduler) Has(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[jobID]
	return ok
}

// Flows returns the submitted flows in order.
func (s *MemoryScheduler) Flows() []usecase.Flow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]usecase.Flow(nil), s.flows...)
}

// MemoryLocker is an in-process usecase.Locker.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

// NewMemoryLocker creates an empty in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time), clock: time.Now}
}

// TryAcquire takes the named lock unless it is held and unexpired.
func (l *MemoryLocker) TryAcquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expiry, ok := l.held[key]; ok && l.clock().Before(expiry) {
		return nil, false, nil
	}

	l.held[key] = l.clock().Add(ttl)
	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}
	return release, true, nil
}
