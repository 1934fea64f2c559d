package engine

import "github.com/datallboy/hlsget/internal/playlist"

type FetchJob struct {
	Segment playlist.Segment
	Attempt int
}

type FetchResult struct {
	Job  FetchJob
	Path string
	Size int
	Err  error
	// Write failures are final; only fetch failures may be retried.
	Retryable bool
}
