// Package segstore persists fetched segments under ordinal-derived names
// so that a plain lexicographic listing reproduces manifest order. Server
// filenames are not trusted for ordering: HLS does not promise that
// "10.ts" sorts after "2.ts".
package segstore

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

const recordPrefix = "segment_"

// Store owns one scratch directory for the lifetime of a pipeline run.
// Concurrent Put calls are safe as long as each writer uses a distinct
// ordinal, which the scheduler guarantees.
type Store struct {
	dir string
}

func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create segment directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Put writes data to the record path derived from ordinal and returns that
// path. The write goes to a temp file first and is renamed into place, so
// an enumeration running concurrently never sees a partial record. A retry
// for the same ordinal lands on the same path.
func (s *Store) Put(ordinal int, srcURL string, data []byte) (string, error) {
	name := fmt.Sprintf("%s%05d%s", recordPrefix, ordinal, extensionFor(srcURL))
	final := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, ".seg-*")
	if err != nil {
		return "", fmt.Errorf("segment %d: %w", ordinal, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("segment %d: %w", ordinal, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("segment %d: %w", ordinal, err)
	}

	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("segment %d: %w", ordinal, err)
	}

	return final, nil
}

// Enumerate returns all record paths in ordinal order. The zero-padded
// prefix makes the sort stable against mixed extensions.
func (s *Store) Enumerate() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate segments: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), recordPrefix) {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, e.Name()))
	}

	sort.Strings(paths)
	return paths, nil
}

// Remove deletes the scratch directory. Called after the muxer has
// consumed the records, so no writer is active anymore.
func (s *Store) Remove() error {
	return os.RemoveAll(s.dir)
}

func extensionFor(srcURL string) string {
	if u, err := url.Parse(srcURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" {
			return ext
		}
	}
	return ".ts"
}
