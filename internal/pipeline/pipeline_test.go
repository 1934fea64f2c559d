package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/datallboy/hlsget/internal/config"
	"github.com/datallboy/hlsget/internal/domain"
	"github.com/datallboy/hlsget/internal/fetch"
	"github.com/datallboy/hlsget/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMuxer concatenates the listed files instead of shelling out, which
// keeps ffmpeg off the test dependency list and makes the byte-level
// round trip checkable.
type fakeMuxer struct {
	mu       sync.Mutex
	invoked  int
	compress bool
}

func (m *fakeMuxer) Mux(ctx context.Context, listPath, output string, compress bool) error {
	m.mu.Lock()
	m.invoked++
	m.compress = compress
	m.mu.Unlock()

	list, err := os.ReadFile(listPath)
	if err != nil {
		return err
	}

	out, err := os.Create(output)
	if err != nil {
		return err
	}
	defer out.Close()

	for _, line := range splitLines(string(list)) {
		if line == "" {
			continue
		}
		// Lines look like: file '<path>'
		path := line[len("file '") : len(line)-1]
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
	}
	return nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func testService(t *testing.T, muxer Muxer) (*Service, *config.Config) {
	t.Helper()
	dir := t.TempDir()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Download.WorkDir = filepath.Join(dir, "work")
	cfg.Download.FileList = filepath.Join(dir, "file_list.txt")
	cfg.Download.Attempts = 1
	cfg.Download.Concurrency = 4

	log := logger.NewWriter(io.Discard, logger.LevelError)
	fetcher := fetch.New(5*time.Second, "")

	return NewService(cfg, log, fetcher, muxer), cfg
}

// happyServer serves a two-segment playlist with relative URIs and bodies
// "A" and "B".
func happyServer() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/p/v.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXTINF:4,\n0.ts\n#EXTINF:4,\n1.ts\n#EXT-X-ENDLIST\n")
	})
	mux.HandleFunc("/p/0.ts", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "A")
	})
	mux.HandleFunc("/p/1.ts", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "B")
	})
	return httptest.NewServer(mux)
}

func TestRun_HappyPathRelativeURIs(t *testing.T) {
	server := happyServer()
	defer server.Close()

	muxer := &fakeMuxer{}
	svc, cfg := testService(t, muxer)
	output := filepath.Join(t.TempDir(), "out.mp4")

	err := svc.Run(context.Background(), server.URL+"/p/v.m3u8", Options{Output: output})
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "AB", string(data))
	assert.Equal(t, 1, muxer.invoked)

	// Scratch dir and list removed on success by default.
	_, err = os.Stat(cfg.Download.WorkDir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(cfg.Download.FileList)
	assert.True(t, os.IsNotExist(err))
}

func TestRun_OrderingUnderReorderedCompletion(t *testing.T) {
	bodies := map[string]string{"/0.ts": "b0", "/1.ts": "b1", "/2.ts": "b2"}
	delays := map[string]time.Duration{"/0.ts": 200 * time.Millisecond, "/1.ts": 200 * time.Millisecond}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v.m3u8" {
			fmt.Fprint(w, "0.ts\n1.ts\n2.ts\n")
			return
		}
		time.Sleep(delays[r.URL.Path])
		fmt.Fprint(w, bodies[r.URL.Path])
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	muxer := &fakeMuxer{}
	svc, _ := testService(t, muxer)
	output := filepath.Join(t.TempDir(), "out.mp4")

	err := svc.Run(context.Background(), server.URL+"/v.m3u8", Options{Output: output})
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "b0b1b2", string(data))
}

func TestRun_SegmentFailureSkipsMuxer(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v.m3u8":
			fmt.Fprint(w, "0.ts\n1.ts\n2.ts\n3.ts\n4.ts\n")
		case "/2.ts":
			w.WriteHeader(http.StatusNotFound)
		default:
			fmt.Fprint(w, "x")
		}
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	muxer := &fakeMuxer{}
	svc, _ := testService(t, muxer)

	err := svc.Run(context.Background(), server.URL+"/v.m3u8", Options{
		Output: filepath.Join(t.TempDir(), "out.mp4"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "segment 2")
	assert.Contains(t, err.Error(), "segment fetch")
	assert.Equal(t, 0, muxer.invoked)
}

func TestRun_EmptyPlaylistFailsBeforeFetching(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-ENDLIST\n")
	}))
	defer server.Close()

	muxer := &fakeMuxer{}
	svc, _ := testService(t, muxer)

	err := svc.Run(context.Background(), server.URL+"/v.m3u8", Options{
		Output: filepath.Join(t.TempDir(), "out.mp4"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest parse")
	assert.Equal(t, 0, muxer.invoked)
}

func TestRun_InvalidManifestURL(t *testing.T) {
	svc, _ := testService(t, &fakeMuxer{})
	err := svc.Run(context.Background(), "not-a-url", Options{Output: "out.mp4"})
	assert.Error(t, err)
}

func TestRun_ManifestFetchErrorNamed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	svc, _ := testService(t, &fakeMuxer{})
	err := svc.Run(context.Background(), server.URL+"/v.m3u8", Options{Output: "out.mp4"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest fetch")
}

func TestRun_KeepWorkDir(t *testing.T) {
	server := happyServer()
	defer server.Close()

	muxer := &fakeMuxer{}
	svc, cfg := testService(t, muxer)
	output := filepath.Join(t.TempDir(), "out.mp4")

	err := svc.Run(context.Background(), server.URL+"/p/v.m3u8", Options{
		Output:      output,
		KeepWorkDir: true,
	})
	require.NoError(t, err)

	entries, err := os.ReadDir(cfg.Download.WorkDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRun_CompressFlagReachesMuxer(t *testing.T) {
	server := happyServer()
	defer server.Close()

	muxer := &fakeMuxer{}
	svc, _ := testService(t, muxer)

	err := svc.Run(context.Background(), server.URL+"/p/v.m3u8", Options{
		Output:   filepath.Join(t.TempDir(), "out.mp4"),
		Compress: true,
	})
	require.NoError(t, err)
	assert.True(t, muxer.compress)
}

func TestRunJob_UpdatesJobCounters(t *testing.T) {
	server := happyServer()
	defer server.Close()

	muxer := &fakeMuxer{}
	svc, _ := testService(t, muxer)

	job := domain.NewJob(server.URL+"/p/v.m3u8", filepath.Join(t.TempDir(), "out.mp4"), false)
	err := svc.RunJob(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, 2, job.TotalSegments)
	assert.Equal(t, int64(2), job.SegmentsDone.Load())
}
