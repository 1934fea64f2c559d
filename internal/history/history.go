// Package history keeps a sqlite record of every download job so serve
// mode can answer "what happened to job X" across restarts. It never
// resumes a download; it only remembers outcomes.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/datallboy/hlsget/internal/domain"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id             TEXT PRIMARY KEY,
	url            TEXT NOT NULL,
	output         TEXT NOT NULL,
	compress       INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL,
	total_segments INTEGER NOT NULL DEFAULT 0,
	segments_done  INTEGER NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL,
	finished_at    TEXT NOT NULL DEFAULT ''
);`

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Ping makes sure the file is actually accessible and the DSN is valid
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Save(job *domain.Job) error {
	query := `INSERT OR REPLACE INTO jobs
		(id, url, output, compress, status, total_segments, segments_done, error, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		job.ID,
		job.URL,
		job.Output,
		boolToInt(job.Compress),
		string(job.Status),
		job.TotalSegments,
		job.SegmentsDone.Load(),
		job.Error,
		job.CreatedAt.UTC().Format(time.RFC3339Nano),
		formatTime(job.FinishedAt),
	)
	return err
}

// Get returns (nil, nil) when the id is unknown.
func (s *Store) Get(id string) (*domain.Job, error) {
	row := s.db.QueryRow(
		`SELECT id, url, output, compress, status, total_segments, segments_done, error, created_at, finished_at
		 FROM jobs WHERE id = ? LIMIT 1`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch job %s: %w", id, err)
	}
	return job, nil
}

// List returns every recorded job, oldest first (ksuid ids sort
// chronologically).
func (s *Store) List() ([]*domain.Job, error) {
	rows, err := s.db.Query(
		`SELECT id, url, output, compress, status, total_segments, segments_done, error, created_at, finished_at
		 FROM jobs ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// FailUnfinished marks any job that was mid-flight when the previous
// process died. Downloads are not resumable, so those jobs are over.
func (s *Store) FailUnfinished() error {
	_, err := s.db.Exec(
		`UPDATE jobs SET status = ?, error = 'interrupted by shutdown'
		 WHERE status NOT IN (?, ?, ?)`,
		string(domain.StatusFailed),
		string(domain.StatusCompleted), string(domain.StatusFailed), string(domain.StatusCancelled))
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	job := &domain.Job{}
	var compress int
	var status string
	var done int64
	var createdAt, finishedAt string

	err := row.Scan(&job.ID, &job.URL, &job.Output, &compress, &status,
		&job.TotalSegments, &done, &job.Error, &createdAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	job.Compress = compress != 0
	job.Status = domain.JobStatus(status)
	job.SegmentsDone.Store(done)
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if finishedAt != "" {
		job.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt)
	}

	return job, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
