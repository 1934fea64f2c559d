package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/datallboy/hlsget/internal/app"
	"github.com/datallboy/hlsget/internal/domain"
	"github.com/datallboy/hlsget/internal/logger"
)

// Manager owns the serve-mode job queue: jobs come in over the API, run
// one at a time through the Runner, and every status transition is
// persisted so the queue's past survives a restart.
type Manager struct {
	mu      sync.RWMutex
	runner  app.Runner
	history app.History
	logger  *logger.Logger

	queue  []*domain.Job
	active *domain.Job

	newJobChan chan struct{}
}

func NewManager(runner app.Runner, hist app.History, log *logger.Logger) *Manager {
	return &Manager{
		runner:     runner,
		history:    hist,
		logger:     log,
		newJobChan: make(chan struct{}, 1),
	}
}

// Add validates the manifest URL, creates a pending job and signals the
// processing loop.
func (m *Manager) Add(rawURL, output string, compress bool) (*domain.Job, error) {
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("manifest URL %q is not an absolute HTTP(S) URL", rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if output == "" {
		output = "output.mp4"
	}

	job := domain.NewJob(rawURL, output, compress)

	if err := m.history.Save(job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	m.mu.Lock()
	m.queue = append(m.queue, job)
	m.mu.Unlock()

	// Signal the Start() loop that there is work to do
	select {
	case m.newJobChan <- struct{}{}:
	default:
		// Signal already pending, no need to block
	}

	return job, nil
}

// Start processes the queue until ctx is cancelled. Jobs run strictly one
// at a time; each gets its own cancellable context so the API can stop a
// single job without touching the rest.
func (m *Manager) Start(ctx context.Context) {
	for {
		var next *domain.Job

		m.mu.RLock()
		for _, job := range m.queue {
			if job.Status == domain.StatusPending {
				next = job
				break
			}
		}
		m.mu.RUnlock()

		if next == nil {
			select {
			case <-m.newJobChan:
				continue
			case <-ctx.Done():
				return
			}
		}

		m.mu.Lock()
		m.active = next
		jobCtx, cancel := context.WithCancel(ctx)
		next.CancelFunc = cancel
		m.mu.Unlock()

		m.updateStatus(next, domain.StatusDownloading)
		m.logger.Info("Starting job %s: %s", next.ID, next.URL)

		err := m.runner.RunJob(jobCtx, next)

		m.finalizeJob(next, err)
		cancel()

		if ctx.Err() != nil {
			return
		}
	}
}

// ActiveItem is what's currently running, or nil.
func (m *Manager) ActiveItem() *domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Item searches the live queue first and falls back to the history store.
func (m *Manager) Item(id string) (*domain.Job, bool) {
	m.mu.RLock()
	for _, job := range m.queue {
		if job.ID == id {
			m.mu.RUnlock()
			return job, true
		}
	}
	m.mu.RUnlock()

	job, err := m.history.Get(id)
	if err == nil && job != nil {
		return job, true
	}

	return nil, false
}

// Items returns a copy of the live queue slice.
func (m *Manager) Items() []*domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*domain.Job, len(m.queue))
	copy(jobs, m.queue)
	return jobs
}

// Cancel stops a running or pending job. Returns false when the id is
// unknown or the job already finished.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.queue {
		if job.ID != id {
			continue
		}
		if job.Status.Finished() {
			return false
		}

		if job.CancelFunc != nil {
			job.CancelFunc()
			return true
		}

		// Not started yet: finalize in place.
		job.Status = domain.StatusCancelled
		job.FinishedAt = time.Now()
		_ = m.history.Save(job)
		m.removeFromLiveQueue(job.ID)
		return true
	}
	return false
}

// updateStatus changes the status and saves immediately.
func (m *Manager) updateStatus(job *domain.Job, status domain.JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.Status = status
	_ = m.history.Save(job)
}

func (m *Manager) finalizeJob(job *domain.Job, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.FinishedAt = time.Now()

	switch {
	case err == nil:
		job.Status = domain.StatusCompleted
	case errors.Is(err, context.Canceled):
		job.Status = domain.StatusCancelled
		job.Error = "cancelled by user"
	default:
		job.Status = domain.StatusFailed
		job.Error = err.Error()
	}

	if err != nil {
		m.logger.Error("Job %s finished with error: %v", job.ID, err)
	} else {
		m.logger.Info("Job %s completed: %s", job.ID, job.Output)
	}

	// Persist the final outcome
	_ = m.history.Save(job)

	m.active = nil
	m.removeFromLiveQueue(job.ID)
}

// removeFromLiveQueue keeps the active slice small by removing finished jobs
func (m *Manager) removeFromLiveQueue(id string) {
	for i, job := range m.queue {
		if job.ID == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
}
