package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/datallboy/hlsget/internal/logger"
	"github.com/datallboy/hlsget/internal/playlist"
)

const (
	DefaultConcurrency = 10

	backoffBase = 200 * time.Millisecond
	backoffCap  = 5 * time.Second
)

// ByteFetcher is the slice of the HTTP fetcher the scheduler needs.
type ByteFetcher interface {
	Bytes(ctx context.Context, url string) ([]byte, error)
}

// SegmentSink accepts fetched segment bodies keyed by ordinal.
type SegmentSink interface {
	Put(ordinal int, srcURL string, data []byte) (string, error)
}

// Counter receives one Inc per successfully stored segment.
type Counter interface {
	Inc()
}

// Scheduler drains an ordered segment list through a fixed pool of fetch
// workers. At most `workers` fetches are in flight at any moment; dispatch
// follows ordinal order, completion order is whatever the network gives
// us, and ordering is recovered later from the sink's ordinal-derived
// record names.
type Scheduler struct {
	fetcher  ByteFetcher
	sink     SegmentSink
	reporter Counter
	logger   *logger.Logger
	workers  int
	attempts int
}

// NewScheduler wires the scheduler. attempts is the total number of fetch
// tries per segment; 1 disables retries.
func NewScheduler(f ByteFetcher, sink SegmentSink, rep Counter, log *logger.Logger, workers, attempts int) *Scheduler {
	if workers <= 0 {
		workers = DefaultConcurrency
	}
	if attempts < 1 {
		attempts = 1
	}
	return &Scheduler{
		fetcher:  f,
		sink:     sink,
		reporter: rep,
		logger:   log,
		workers:  workers,
		attempts: attempts,
	}
}

// Run returns once every segment has a terminal result. A failed segment
// does not cancel its peers; the first failure is reported after all
// dispatched units have settled, so the sink is quiescent on return.
func (s *Scheduler) Run(ctx context.Context, segments []playlist.Segment) error {
	total := len(segments)
	if total == 0 {
		return nil
	}

	// The jobs channel holds every reference up front, so enqueueing never
	// blocks and a retry always finds room (outstanding jobs never exceed
	// the original total).
	jobs := make(chan FetchJob, total)
	results := make(chan FetchResult, s.workers*2)

	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, jobs, results)
		}()
	}

	// Dispatch in ordinal order.
	for _, seg := range segments {
		jobs <- FetchJob{Segment: seg, Attempt: 1}
	}

	settled := 0
	var firstErr error

	for settled < total {
		res := <-results

		if res.Err != nil {
			if s.shouldRetry(ctx, res) {
				job := res.Job
				job.Attempt++
				delay := backoffFor(job.Attempt)

				s.logger.Warn("[Retry] Segment %d: attempt %d/%d in %s - %v",
					job.Segment.Ordinal, job.Attempt, s.attempts, delay, res.Err)

				// Re-queue via timer so this loop is never blocked waiting
				// on a backoff window.
				time.AfterFunc(delay, func() { jobs <- job })
				continue
			}

			s.logger.Error("[FAIL] Segment %d failed permanently: %v", res.Job.Segment.Ordinal, res.Err)
			if firstErr == nil {
				firstErr = fmt.Errorf("segment %d: %w", res.Job.Segment.Ordinal, res.Err)
			}
		}
		settled++
	}

	// All jobs settled, so no timer can re-queue anymore.
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// worker pulls jobs until the channel is closed. One fetch unit is
// fetch -> put -> inc; the slot frees when the result is delivered.
func (s *Scheduler) worker(ctx context.Context, jobs <-chan FetchJob, results chan<- FetchResult) {
	for job := range jobs {
		results <- s.process(ctx, job)
	}
}

func (s *Scheduler) process(ctx context.Context, job FetchJob) FetchResult {
	res := FetchResult{Job: job}

	data, err := s.fetcher.Bytes(ctx, job.Segment.URL)
	if err != nil {
		res.Err = fmt.Errorf("fetch: %w", err)
		res.Retryable = true
		return res
	}

	path, err := s.sink.Put(job.Segment.Ordinal, job.Segment.URL, data)
	if err != nil {
		res.Err = fmt.Errorf("write: %w", err)
		return res
	}

	res.Path = path
	res.Size = len(data)
	s.reporter.Inc()
	return res
}

// shouldRetry allows another attempt only for fetch-stage failures, within
// the attempt budget, and never once the run context is gone (a cancelled
// context would just fail again and delay the drain).
func (s *Scheduler) shouldRetry(ctx context.Context, res FetchResult) bool {
	if !res.Retryable || ctx.Err() != nil {
		return false
	}
	return res.Job.Attempt < s.attempts
}

// backoffFor returns the delay before the given attempt: 200ms, 400ms,
// 800ms... capped at 5s.
func backoffFor(attempt int) time.Duration {
	d := backoffBase
	for i := 2; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	if d > backoffCap {
		return backoffCap
	}
	return d
}
