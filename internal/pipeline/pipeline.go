// Package pipeline wires fetcher, parser, scheduler, store and muxer into
// the one operation this tool exists for: manifest URL in, container file
// out.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/datallboy/hlsget/internal/config"
	"github.com/datallboy/hlsget/internal/domain"
	"github.com/datallboy/hlsget/internal/engine"
	"github.com/datallboy/hlsget/internal/fetch"
	"github.com/datallboy/hlsget/internal/logger"
	"github.com/datallboy/hlsget/internal/mux"
	"github.com/datallboy/hlsget/internal/playlist"
	"github.com/datallboy/hlsget/internal/progress"
	"github.com/datallboy/hlsget/internal/segstore"
)

// Muxer is the external process boundary, kept as an interface so tests
// can swap in a fake instead of requiring ffmpeg on PATH.
type Muxer interface {
	Mux(ctx context.Context, listPath, output string, compress bool) error
}

type Options struct {
	Output   string
	Compress bool
	// WorkDir overrides the scratch directory; empty means a per-job
	// directory under the configured work root.
	WorkDir     string
	KeepWorkDir bool
	// Job, when set, receives live counters for the API to report.
	Job *domain.Job
	// ProgressOut receives progress bar renderings; nil disables the bar.
	ProgressOut io.Writer
}

type Service struct {
	cfg     *config.Config
	logger  *logger.Logger
	fetcher *fetch.Fetcher
	muxer   Muxer
}

func NewService(cfg *config.Config, log *logger.Logger, fetcher *fetch.Fetcher, muxer Muxer) *Service {
	return &Service{
		cfg:     cfg,
		logger:  log,
		fetcher: fetcher,
		muxer:   muxer,
	}
}

// RunJob adapts a queued job to Run. Each job gets its own scratch
// directory so concurrent processes cannot collide.
func (s *Service) RunJob(ctx context.Context, job *domain.Job) error {
	return s.Run(ctx, job.URL, Options{
		Output:      job.Output,
		Compress:    job.Compress,
		WorkDir:     filepath.Join(s.cfg.Download.WorkDir, job.ID),
		KeepWorkDir: s.cfg.Download.KeepWorkDir,
		Job:         job,
	})
}

// Run drives the full pipeline. Any failure surfaces with the phase that
// produced it; the scratch directory survives a failure (and, when
// keep-work-dir is set, a success) to aid debugging.
func (s *Service) Run(ctx context.Context, manifestURL string, opts Options) error {
	base, err := url.Parse(manifestURL)
	if err != nil || !base.IsAbs() || base.Host == "" {
		return fmt.Errorf("manifest URL %q is not an absolute HTTP(S) URL", manifestURL)
	}

	s.logger.Info("Fetching manifest %s", manifestURL)
	body, err := s.fetcher.Text(ctx, manifestURL)
	if err != nil {
		return fmt.Errorf("manifest fetch: %w", err)
	}

	segments, err := playlist.Parse(body, base)
	if err != nil {
		return fmt.Errorf("manifest parse: %w", err)
	}
	s.logger.Info("Manifest lists %d segments", len(segments))

	if opts.Job != nil {
		opts.Job.TotalSegments = len(segments)
	}

	workDir := opts.WorkDir
	if workDir == "" {
		workDir = s.cfg.Download.WorkDir
	}
	store, err := segstore.Open(workDir)
	if err != nil {
		return fmt.Errorf("segment store: %w", err)
	}

	bar := progress.New(len(segments))
	counter := &runCounter{bar: bar, job: opts.Job}

	renderCtx, stopRender := context.WithCancel(context.Background())
	renderDone := make(chan struct{})
	if opts.ProgressOut != nil {
		go func() {
			defer close(renderDone)
			bar.Loop(renderCtx, opts.ProgressOut, time.Second)
		}()
	} else {
		close(renderDone)
	}

	sched := engine.NewScheduler(s.fetcher, store, counter, s.logger,
		s.cfg.Download.Concurrency, s.cfg.Download.Attempts)
	schedErr := sched.Run(ctx, segments)

	stopRender()
	<-renderDone

	if schedErr != nil {
		return fmt.Errorf("segment fetch: %w", schedErr)
	}

	files, err := store.Enumerate()
	if err != nil {
		return fmt.Errorf("segment store: %w", err)
	}

	listPath := s.cfg.Download.FileList
	if err := mux.WriteFileList(listPath, files); err != nil {
		return fmt.Errorf("file list: %w", err)
	}

	if opts.Job != nil {
		opts.Job.Status = domain.StatusMuxing
	}
	s.logger.Info("Muxing %d segments into %s", len(files), opts.Output)
	if err := s.muxer.Mux(ctx, listPath, opts.Output, opts.Compress); err != nil {
		return fmt.Errorf("mux: %w", err)
	}

	if !opts.KeepWorkDir {
		if err := store.Remove(); err != nil {
			s.logger.Warn("Failed to remove work dir %s: %v", workDir, err)
		}
		if err := os.Remove(listPath); err != nil {
			s.logger.Warn("Failed to remove %s: %v", listPath, err)
		}
	}

	s.logger.Info("Created %s", opts.Output)
	return nil
}

// runCounter fans one successful-segment tick out to the progress bar and,
// when present, the live job counters.
type runCounter struct {
	bar *progress.Reporter
	job *domain.Job
}

func (c *runCounter) Inc() {
	c.bar.Inc()
	if c.job != nil {
		c.job.SegmentsDone.Add(1)
	}
}
