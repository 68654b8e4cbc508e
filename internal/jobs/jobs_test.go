package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, m *Manager, id string, want State) JobInfo {
	t.Helper()
	var info JobInfo
	require.Eventually(t, func() bool {
		var err error
		info, err = m.Get(id)
		return err == nil && info.State == want
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
	return info
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager()
	j := m.Create("index", "/repo")
	assert.Equal(t, StatePending, j.State)

	m.Update(j.ID, WithState(StateRunning))
	m.Update(j.ID, WithProgress(Progress{Processed: 3, Total: 10, Current: "/repo/a.py"}))
	m.Update(j.ID, WithProgress(Progress{Processed: 2, FileError: &FileError{Path: "/repo/b.py", Error: "boom"}}))

	got, err := m.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, got.State)
	assert.NotNil(t, got.StartedAt)
	assert.Equal(t, 3, got.Processed, "processed never decreases")
	assert.Equal(t, 10, got.Total)
	assert.InDelta(t, 30.0, got.Percent(), 0.001)
	assert.Len(t, got.Errors, 1)

	m.Update(j.ID, WithState(StateCompleted))
	m.Update(j.ID, WithState(StateRunning))
	got, _ = m.Get(j.ID)
	assert.Equal(t, StateCompleted, got.State, "terminal states are final")
	assert.NotNil(t, got.EndedAt)
	assert.Empty(t, got.CurrentFile)
}

func TestManagerUnknownJob(t *testing.T) {
	m := NewManager()
	m.Update("nope", WithState(StateRunning))
	_, err := m.Get("nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, m.Cancel("nope"), ErrJobNotFound)
}

func TestManagerListAndCleanup(t *testing.T) {
	m := NewManager()
	a := m.Create("index", "/a")
	time.Sleep(time.Millisecond)
	b := m.Create("index", "/b")

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)

	m.Update(a.ID, WithState(StateFailed))
	assert.Zero(t, m.Cleanup(time.Hour))
	assert.Equal(t, 1, m.Cleanup(0))
	assert.Len(t, m.List(), 1)
}

func TestRunnerCompletesWithProgress(t *testing.T) {
	m := NewManager()
	r := NewRunner(m, 2, 8)
	defer r.Close()

	id := r.Submit("index", "/repo", func(ctx context.Context, report func(Progress)) (any, error) {
		for i := 1; i <= 5; i++ {
			report(Progress{Processed: i, Total: 5})
		}
		return "done", nil
	})
	info := waitFor(t, m, id, StateCompleted)
	assert.Equal(t, 5, info.Processed)
	assert.Equal(t, "done", info.Result)
}

func TestRunnerRecordsFailure(t *testing.T) {
	m := NewManager()
	r := NewRunner(m, 1, 8)
	defer r.Close()

	id := r.Submit("index", "/repo", func(context.Context, func(Progress)) (any, error) {
		return nil, errors.New("disk on fire")
	})
	info := waitFor(t, m, id, StateFailed)
	assert.Equal(t, "disk on fire", info.Error)

	id = r.Submit("index", "/repo", func(context.Context, func(Progress)) (any, error) {
		panic("bad")
	})
	info = waitFor(t, m, id, StateFailed)
	assert.Contains(t, info.Error, "panicked")
}

func TestRunnerCancelRunningJob(t *testing.T) {
	m := NewManager()
	r := NewRunner(m, 1, 8)
	defer r.Close()

	started := make(chan struct{})
	id := r.Submit("index", "/repo", func(ctx context.Context, _ func(Progress)) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started
	require.NoError(t, m.Cancel(id))
	waitFor(t, m, id, StateCancelled)
	assert.ErrorIs(t, m.Cancel(id), ErrJobFinished)
}

func TestRunnerCancelPendingJob(t *testing.T) {
	m := NewManager()
	r := NewRunner(m, 1, 8)
	defer r.Close()

	release := make(chan struct{})
	blocker := r.Submit("index", "/a", func(ctx context.Context, _ func(Progress)) (any, error) {
		<-release
		return nil, nil
	})
	ran := false
	queued := r.Submit("index", "/b", func(context.Context, func(Progress)) (any, error) {
		ran = true
		return nil, nil
	})

	require.NoError(t, m.Cancel(queued))
	close(release)
	waitFor(t, m, blocker, StateCompleted)
	info := waitFor(t, m, queued, StateCancelled)
	assert.Nil(t, info.StartedAt)
	assert.False(t, ran)
}

func TestRunnerSubmitAfterClose(t *testing.T) {
	m := NewManager()
	r := NewRunner(m, 1, 1)
	r.Close()

	id := r.Submit("index", "/repo", func(context.Context, func(Progress)) (any, error) { return nil, nil })
	info, err := m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, info.State)
	assert.Equal(t, ErrRunnerClosed.Error(), info.Error)
}
