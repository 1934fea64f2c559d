package domain

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"
)

type JobStatus string

const (
	StatusPending     JobStatus = "pending"
	StatusDownloading JobStatus = "downloading"
	StatusMuxing      JobStatus = "muxing"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
	StatusCancelled   JobStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s JobStatus) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is one download request: a manifest URL plus the output it should
// produce. Jobs are created by the CLI for one-shot runs and by the queue
// manager in serve mode.
type Job struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Output   string `json:"output"`
	Compress bool   `json:"compress"`

	Status JobStatus `json:"status"`
	Error  string    `json:"error,omitempty"`

	TotalSegments int          `json:"total_segments"`
	SegmentsDone  atomic.Int64 `json:"-"`

	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	// Set by the queue manager while the job is running.
	CancelFunc context.CancelFunc `json:"-"`
}

// NewJob assigns a fresh ksuid so IDs sort chronologically.
func NewJob(url, output string, compress bool) *Job {
	return &Job{
		ID:        ksuid.New().String(),
		URL:       url,
		Output:    output,
		Compress:  compress,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}
