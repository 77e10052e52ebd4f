package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"extrapl/api/internal/util"
)

// Job states.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var ErrNotFound = errors.New("job not found")

// Job is a snapshot of a background run. Result is whatever the job
// function produced; it is only set once the job completes.
type Job struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Result     any       `json:"result,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	StartedAt  time.Time `json:"startedAt,omitzero"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
}

// Func does the actual work. The returned value becomes the job's Result.
type Func func(ctx context.Context) (any, error)

// Manager runs jobs on a bounded worker group and keeps their state in
// memory. State does not survive a restart; callers that queued a job
// before a deploy simply re-submit.
type Manager struct {
	mu   sync.Mutex
	jobs map[string]*Job

	eg     *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	retention time.Duration
}

func NewManager(workers int) *Manager {
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	return &Manager{
		jobs:      make(map[string]*Job),
		eg:        eg,
		ctx:       gctx,
		cancel:    cancel,
		retention: time.Hour,
	}
}

// Submit queues fn and returns the job id immediately.
func (m *Manager) Submit(kind string, fn Func) string {
	id := util.NewID("job")
	job := &Job{ID: id, Kind: kind, Status: StatusQueued, CreatedAt: time.Now().UTC()}

	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()

	// eg.Go blocks once the worker limit is reached; dispatch from a
	// goroutine so Submit stays non-blocking and the job reads as queued.
	go m.eg.Go(func() error {
		m.setRunning(id)
		result, err := fn(m.ctx)
		m.setDone(id, result, err)
		// a failed job must not tear down the group
		return nil
	})
	return id
}

// Get returns a copy of the job's current state.
func (m *Manager) Get(id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *job, nil
}

// Shutdown stops accepting work and waits for running jobs to finish.
func (m *Manager) Shutdown() {
	m.cancel()
	m.eg.Wait()
}

func (m *Manager) setRunning(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.Status = StatusRunning
		job.StartedAt = time.Now().UTC()
	}
}

func (m *Manager) setDone(id string, result any, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	job.FinishedAt = time.Now().UTC()
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
	} else {
		job.Status = StatusCompleted
		job.Result = result
	}
	m.pruneLocked()
}

// pruneLocked drops finished jobs older than the retention window so the
// map does not grow without bound. Caller holds mu.
func (m *Manager) pruneLocked() {
	cutoff := time.Now().UTC().Add(-m.retention)
	for id, job := range m.jobs {
		if job.Status != StatusCompleted && job.Status != StatusFailed {
			continue
		}
		if job.FinishedAt.Before(cutoff) {
			delete(m.jobs, id)
		}
	}
}
