// Package jobs tracks long-running indexing work and runs it on a fixed
// pool of workers.
package jobs

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

func (s State) canMoveTo(next State) bool {
	switch s {
	case StatePending:
		return next == StateRunning || next.Terminal()
	case StateRunning:
		return next.Terminal()
	}
	return false
}

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrJobFinished is returned when cancelling a job that already ended.
	ErrJobFinished = errors.New("job already finished")
)

// FileError is a per-file failure reported by a job.
type FileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// JobInfo is a snapshot of a job.
type JobInfo struct {
	ID        string     `json:"job_id"`
	Kind      string     `json:"kind"`
	Path      string     `json:"path"`
	State     State      `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	Processed   int    `json:"processed_files"`
	Total       int    `json:"total_files"`
	Failed      int    `json:"failed_files"`
	CurrentFile string `json:"current_file,omitempty"`

	Error  string      `json:"error,omitempty"`
	Errors []FileError `json:"errors,omitempty"`
	Result any         `json:"result,omitempty"`
}

// Percent is the share of processed files, 0 when the total is unknown.
func (j JobInfo) Percent() float64 {
	if j.Total <= 0 {
		return 0
	}
	return float64(j.Processed) * 100 / float64(j.Total)
}

// Option mutates a job inside Update.
type Option func(*JobInfo)

// WithState moves the job to s. Invalid transitions are ignored.
func WithState(s State) Option {
	return func(j *JobInfo) {
		if !j.State.canMoveTo(s) {
			return
		}
		now := time.Now()
		if s == StateRunning {
			j.StartedAt = &now
		}
		if s.Terminal() {
			j.EndedAt = &now
			j.CurrentFile = ""
		}
		j.State = s
	}
}

// WithProgress records progress. Processed never decreases.
func WithProgress(p Progress) Option {
	return func(j *JobInfo) {
		if p.Processed > j.Processed {
			j.Processed = p.Processed
		}
		if p.Total > 0 {
			j.Total = p.Total
		}
		if p.Failed > j.Failed {
			j.Failed = p.Failed
		}
		if p.Current != "" {
			j.CurrentFile = p.Current
		}
		if p.FileError != nil {
			j.Errors = append(j.Errors, *p.FileError)
		}
	}
}

func WithError(msg string) Option {
	return func(j *JobInfo) { j.Error = msg }
}

func WithResult(v any) Option {
	return func(j *JobInfo) { j.Result = v }
}

// Manager is the process-wide job table.
type Manager struct {
	mu      sync.Mutex
	jobs    map[string]*JobInfo
	cancels map[string]func()
}

func NewManager() *Manager {
	return &Manager{
		jobs:    make(map[string]*JobInfo),
		cancels: make(map[string]func()),
	}
}

// Create registers a new pending job.
func (m *Manager) Create(kind, path string) JobInfo {
	j := &JobInfo{
		ID:        uuid.NewString(),
		Kind:      kind,
		Path:      path,
		State:     StatePending,
		CreatedAt: time.Now(),
	}
	m.mu.Lock()
	m.jobs[j.ID] = j
	m.mu.Unlock()
	return *j
}

// Update applies opts to job id. Unknown ids are ignored.
func (m *Manager) Update(id string, opts ...Option) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.State.Terminal() {
		delete(m.cancels, id)
	}
}

func (m *Manager) Get(id string) (JobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return JobInfo{}, fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	return snapshot(j), nil
}

// List returns every job, oldest first.
func (m *Manager) List() []JobInfo {
	m.mu.Lock()
	out := make([]JobInfo, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, snapshot(j))
	}
	m.mu.Unlock()
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

func snapshot(j *JobInfo) JobInfo {
	c := *j
	c.Errors = append([]FileError(nil), j.Errors...)
	return c
}

// Cleanup drops finished jobs that ended more than olderThan ago and
// returns how many were dropped.
func (m *Manager) Cleanup(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, j := range m.jobs {
		if j.State.Terminal() && j.EndedAt != nil && j.EndedAt.Before(cutoff) {
			delete(m.jobs, id)
			n++
		}
	}
	return n
}

// Cancel requests cancellation of a pending or running job. A pending job
// is cancelled at once; a running job stops at its next cancellation point.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	if j.State.Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrJobFinished)
	}
	cancel := m.cancels[id]
	if j.State == StatePending {
		WithState(StateCancelled)(j)
		delete(m.cancels, id)
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (m *Manager) setCancel(id string, cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok && !j.State.Terminal() {
		m.cancels[id] = cancel
	}
}
