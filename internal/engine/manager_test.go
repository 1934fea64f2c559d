package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/datallboy/hlsget/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryHistory implements app.History in memory.
type memoryHistory struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{jobs: make(map[string]*domain.Job)}
}

func (h *memoryHistory) Save(job *domain.Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs[job.ID] = job
	return nil
}

func (h *memoryHistory) Get(id string) (*domain.Job, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.jobs[id], nil
}

func (h *memoryHistory) List() ([]*domain.Job, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*domain.Job
	for _, j := range h.jobs {
		out = append(out, j)
	}
	return out, nil
}

// stubRunner lets tests decide how each job run behaves.
type stubRunner struct {
	mu   sync.Mutex
	runs []string
	fn   func(ctx context.Context, job *domain.Job) error
}

func (r *stubRunner) RunJob(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	r.runs = append(r.runs, job.ID)
	r.mu.Unlock()
	if r.fn != nil {
		return r.fn(ctx, job)
	}
	return nil
}

func (r *stubRunner) ranJobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.runs...)
}

func waitForStatus(t *testing.T, hist *memoryHistory, id string, want domain.JobStatus) *domain.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, _ := hist.Get(id)
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := hist.Get(id)
	t.Fatalf("job %s never reached %s (last: %+v)", id, want, job)
	return nil
}

func TestManager_AddValidatesURL(t *testing.T) {
	m := NewManager(&stubRunner{}, newMemoryHistory(), testLogger())

	_, err := m.Add("not a url", "out.mp4", false)
	assert.Error(t, err)

	_, err = m.Add("ftp://h/v.m3u8", "out.mp4", false)
	assert.Error(t, err)

	job, err := m.Add("http://h/v.m3u8", "", false)
	require.NoError(t, err)
	assert.Equal(t, "output.mp4", job.Output)
	assert.Equal(t, domain.StatusPending, job.Status)
	assert.NotEmpty(t, job.ID)
}

func TestManager_ProcessesJobsInOrder(t *testing.T) {
	hist := newMemoryHistory()
	runner := &stubRunner{}
	m := NewManager(runner, hist, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx)

	first, err := m.Add("http://h/a.m3u8", "a.mp4", false)
	require.NoError(t, err)
	second, err := m.Add("http://h/b.m3u8", "b.mp4", true)
	require.NoError(t, err)

	waitForStatus(t, hist, first.ID, domain.StatusCompleted)
	waitForStatus(t, hist, second.ID, domain.StatusCompleted)

	assert.Equal(t, []string{first.ID, second.ID}, runner.ranJobs())
}

func TestManager_FailedRunMarksJobFailed(t *testing.T) {
	hist := newMemoryHistory()
	runner := &stubRunner{fn: func(ctx context.Context, job *domain.Job) error {
		return fmt.Errorf("segment fetch: segment 2: unexpected status 404")
	}}
	m := NewManager(runner, hist, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx)

	job, err := m.Add("http://h/a.m3u8", "a.mp4", false)
	require.NoError(t, err)

	final := waitForStatus(t, hist, job.ID, domain.StatusFailed)
	assert.Contains(t, final.Error, "segment 2")
}

func TestManager_CancelRunningJob(t *testing.T) {
	hist := newMemoryHistory()
	started := make(chan struct{})
	runner := &stubRunner{fn: func(ctx context.Context, job *domain.Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}
	m := NewManager(runner, hist, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx)

	job, err := m.Add("http://h/a.m3u8", "a.mp4", false)
	require.NoError(t, err)

	<-started
	require.True(t, m.Cancel(job.ID))

	final := waitForStatus(t, hist, job.ID, domain.StatusCancelled)
	assert.Equal(t, "cancelled by user", final.Error)
}

func TestManager_CancelPendingJob(t *testing.T) {
	hist := newMemoryHistory()
	m := NewManager(&stubRunner{}, hist, testLogger())

	// No Start loop: the job stays pending.
	job, err := m.Add("http://h/a.m3u8", "a.mp4", false)
	require.NoError(t, err)

	require.True(t, m.Cancel(job.ID))
	saved, _ := hist.Get(job.ID)
	assert.Equal(t, domain.StatusCancelled, saved.Status)

	// A finished job cannot be cancelled again.
	assert.False(t, m.Cancel(job.ID))
}

func TestManager_ItemFallsBackToHistory(t *testing.T) {
	hist := newMemoryHistory()
	m := NewManager(&stubRunner{}, hist, testLogger())

	old := domain.NewJob("http://h/old.m3u8", "old.mp4", false)
	old.Status = domain.StatusCompleted
	require.NoError(t, hist.Save(old))

	got, ok := m.Item(old.ID)
	require.True(t, ok)
	assert.Equal(t, old.ID, got.ID)

	_, ok = m.Item("missing")
	assert.False(t, ok)
}
