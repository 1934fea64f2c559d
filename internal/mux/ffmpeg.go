// Package mux hands the ordered segment list to an external ffmpeg process
// that concatenates (and optionally re-encodes) it into one container file.
package mux

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/datallboy/hlsget/internal/logger"
)

// WriteFileList emits a concat-demuxer input list: one `file '<path>'`
// line per segment, in the order given.
func WriteFileList(path string, files []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file list %s: %w", path, err)
	}

	w := bufio.NewWriter(f)
	for _, p := range files {
		fmt.Fprintf(w, "file '%s'\n", p)
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write file list %s: %w", path, err)
	}
	return f.Close()
}

type Muxer struct {
	binary string
	logger *logger.Logger
}

// New resolves the ffmpeg binary up front so a missing dependency fails
// before any network work.
func New(binaryPath string, log *logger.Logger) (*Muxer, error) {
	if binaryPath == "" {
		binaryPath = "ffmpeg"
	}
	path, err := exec.LookPath(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found in PATH: %w", err)
	}
	return &Muxer{binary: path, logger: log}, nil
}

func buildArgs(listPath, output string, compress bool) []string {
	args := []string{"-f", "concat", "-safe", "0", "-i", listPath}

	if compress {
		args = append(args,
			"-c:v", "libx264",
			"-crf", "23",
			"-preset", "medium",
			"-c:a", "aac",
			"-b:a", "128k",
		)
	} else {
		args = append(args, "-c", "copy")
	}

	return append(args, output)
}

// Mux runs ffmpeg and waits for it. Output is captured rather than
// streamed; on a non-zero exit the captured stderr is part of the error.
func (m *Muxer) Mux(ctx context.Context, listPath, output string, compress bool) error {
	args := buildArgs(listPath, output, compress)

	m.logger.Debug("Running %s %s", m.binary, strings.Join(args, " "))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, m.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			return fmt.Errorf("ffmpeg failed: %w", err)
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, detail)
	}

	return nil
}
