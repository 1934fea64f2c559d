package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/datallboy/hlsget/internal/api"
	"github.com/datallboy/hlsget/internal/app"
	"github.com/datallboy/hlsget/internal/config"
	"github.com/datallboy/hlsget/internal/domain"
	"github.com/datallboy/hlsget/internal/engine"
	"github.com/datallboy/hlsget/internal/fetch"
	"github.com/datallboy/hlsget/internal/history"
	"github.com/datallboy/hlsget/internal/logger"
	"github.com/datallboy/hlsget/internal/mux"
	"github.com/datallboy/hlsget/internal/pipeline"
	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	output      string
	compress    bool
	workDir     string
	concurrency int
	keepWorkDir bool
	ffmpegPath  string
	listenAddr  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "hlsget [url]",
		Short:        "Download an HLS stream into a single media file",
		Args:         cobra.ExactArgs(1),
		RunE:         runDownload,
		SilenceUsage: true,
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&output, "output", "o", "output.mp4", "Output file path")
	flags.BoolVarP(&compress, "compress", "c", false, "Re-encode with libx264/aac instead of stream copy")
	flags.StringVar(&workDir, "work-dir", "", "Scratch directory for segment files")
	flags.IntVar(&concurrency, "concurrency", 0, "Concurrent segment fetches (0 = config default)")
	flags.BoolVar(&keepWorkDir, "keep-work-dir", false, "Keep the scratch directory after muxing")
	flags.StringVar(&ffmpegPath, "ffmpeg", "", "Path to the ffmpeg binary")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml")

	serveCmd := &cobra.Command{
		Use:          "serve",
		Short:        "Run the download queue as an HTTP API",
		Args:         cobra.NoArgs,
		RunE:         runServe,
		SilenceUsage: true,
	}
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "Listen address (default :<port> from config)")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// bootstrap loads config, applies flag overrides and builds the shared
// services every mode needs.
func bootstrap(stdoutLogs bool) (*config.Config, *logger.Logger, *pipeline.Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	if concurrency > 0 {
		cfg.Download.Concurrency = concurrency
	}
	if keepWorkDir {
		cfg.Download.KeepWorkDir = true
	}
	if ffmpegPath != "" {
		cfg.Mux.FFmpegPath = ffmpegPath
	}

	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), stdoutLogs || cfg.Log.IncludeStdout)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	muxer, err := mux.New(cfg.Mux.FFmpegPath, log)
	if err != nil {
		return nil, nil, nil, err
	}

	fetcher := fetch.New(time.Duration(cfg.Download.TimeoutSeconds)*time.Second, cfg.Download.UserAgent)
	svc := pipeline.NewService(cfg, log, fetcher, muxer)

	return cfg, log, svc, nil
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, log, svc, err := bootstrap(false)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	job := domain.NewJob(args[0], output, compress)

	// Best-effort run record; a broken history file never blocks a
	// download.
	hist, histErr := history.Open(cfg.History.SQLitePath)
	if histErr != nil {
		log.Warn("History disabled: %v", histErr)
	} else {
		defer hist.Close()
		job.Status = domain.StatusDownloading
		_ = hist.Save(job)
	}

	opts := pipeline.Options{
		Output:      output,
		Compress:    compress,
		WorkDir:     workDir,
		KeepWorkDir: cfg.Download.KeepWorkDir,
		Job:         job,
		ProgressOut: os.Stdout,
	}
	if opts.WorkDir == "" {
		opts.WorkDir = cfg.Download.WorkDir
	}

	runErr := svc.Run(ctx, args[0], opts)

	job.FinishedAt = time.Now()
	if runErr != nil {
		job.Status = domain.StatusFailed
		job.Error = runErr.Error()
		if errors.Is(runErr, context.Canceled) {
			job.Status = domain.StatusCancelled
		}
	} else {
		job.Status = domain.StatusCompleted
	}
	if histErr == nil {
		_ = hist.Save(job)
	}

	if runErr != nil {
		return runErr
	}

	fmt.Printf("Successfully created %s\n", output)
	if compress {
		fmt.Println("Video compressed using libx264 and aac audio.")
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, svc, err := bootstrap(true)
	if err != nil {
		return err
	}

	hist, err := history.Open(cfg.History.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer hist.Close()

	// Jobs that were mid-flight when the last process died cannot be
	// resumed; close them out before accepting new work.
	if err := hist.FailUnfinished(); err != nil {
		log.Warn("Failed to clean up interrupted jobs: %v", err)
	}

	mgr := engine.NewManager(svc, hist, log)

	appCtx := &app.Context{
		Config:  cfg,
		Logger:  log,
		History: hist,
		Queue:   mgr,
	}

	e := echo.New()
	api.RegisterRoutes(e, appCtx)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go mgr.Start(ctx)

	addr := listenAddr
	if addr == "" {
		addr = ":" + cfg.Port
	}

	srv := &http.Server{Addr: addr, Handler: e}
	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	log.Info("Shutdown complete")
	return nil
}
