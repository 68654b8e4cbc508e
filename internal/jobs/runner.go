package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"codegraph/internal/metrics"
)

// Progress is what a task reports while it runs.
type Progress struct {
	Processed int
	Total     int
	Failed    int
	Current   string
	FileError *FileError
}

// Task is the body of a job. It should return promptly once ctx is done.
type Task func(ctx context.Context, report func(Progress)) (any, error)

var ErrRunnerClosed = errors.New("runner closed")

type work struct {
	id   string
	kind string
	ctx  context.Context
	task Task
}

// Runner executes submitted tasks on a fixed number of workers.
type Runner struct {
	jobs  *Manager
	queue chan work
	log   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewRunner starts workers goroutines taking jobs from a queue of queueSize.
func NewRunner(m *Manager, workers, queueSize int) *Runner {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		jobs:   m,
		queue:  make(chan work, queueSize),
		log:    slog.Default().With("component", "jobs"),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

func (r *Runner) Manager() *Manager { return r.jobs }

// Submit registers a job for task and returns its id without waiting.
// When the queue is full or the runner is closed the job fails at once.
func (r *Runner) Submit(kind, path string, task Task) string {
	info := r.jobs.Create(kind, path)
	ctx, cancel := context.WithCancel(r.ctx)
	r.jobs.setCancel(info.ID, cancel)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		cancel()
		r.finish(info.ID, kind, StateFailed, WithError(ErrRunnerClosed.Error()))
		return info.ID
	}
	select {
	case r.queue <- work{id: info.ID, kind: kind, ctx: ctx, task: task}:
	default:
		cancel()
		r.finish(info.ID, kind, StateFailed, WithError("job queue is full"))
	}
	return info.ID
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for w := range r.queue {
		r.run(w)
	}
}

func (r *Runner) run(w work) {
	if info, err := r.jobs.Get(w.id); err != nil || info.State != StatePending {
		return
	}
	if w.ctx.Err() != nil {
		r.finish(w.id, w.kind, StateCancelled)
		return
	}
	r.jobs.Update(w.id, WithState(StateRunning))
	metrics.JobsRunning.Inc()
	defer metrics.JobsRunning.Dec()
	r.log.Info("job started", "id", w.id, "kind", w.kind)

	mailbox := make(chan Progress, 64)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for p := range mailbox {
			r.jobs.Update(w.id, WithProgress(p))
		}
	}()

	result, err := r.call(w, func(p Progress) { mailbox <- p })
	close(mailbox)
	<-drained

	switch {
	case err != nil && w.ctx.Err() != nil && errors.Is(err, context.Canceled):
		r.finish(w.id, w.kind, StateCancelled, WithResult(result))
	case err != nil:
		r.log.Warn("job failed", "id", w.id, "kind", w.kind, "error", err)
		r.finish(w.id, w.kind, StateFailed, WithError(err.Error()), WithResult(result))
	default:
		r.finish(w.id, w.kind, StateCompleted, WithResult(result))
	}
}

func (r *Runner) call(w work, report func(Progress)) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return w.task(w.ctx, report)
}

func (r *Runner) finish(id, kind string, s State, opts ...Option) {
	r.jobs.Update(id, append(opts, WithState(s))...)
	metrics.Jobs.WithLabelValues(kind, string(s)).Inc()
	if s != StateFailed {
		r.log.Info("job finished", "id", id, "kind", kind, "state", s)
	}
}

// StartJanitor drops finished jobs older than retention every interval
// until ctx is done.
func (r *Runner) StartJanitor(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.jobs.Cleanup(retention); n > 0 {
					r.log.Debug("dropped finished jobs", "count", n)
				}
			}
		}
	}()
}

// Close cancels running jobs and waits for the workers to exit.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.cancel()
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
}
