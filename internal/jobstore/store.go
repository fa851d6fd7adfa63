package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"clipfit/internal/config"
)

// ErrNotFound is returned when no record matches an ID.
var ErrNotFound = errors.New("job not found")

// Store manages job history backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// timeLayout keeps a fixed fraction width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const recordColumns = "id, requester_id, source_url, kind, status, stage, progress_message, title, correlation_id, attempts, final_size, file_name, error_kind, error_message, created_at, updated_at, finished_at"

// interruptedMessage is recorded for jobs that were running when the
// process died.
const interruptedMessage = "interrupted by restart"

// Open initializes or connects to the job database under the state directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.DatabasePath())
}

// OpenPath opens the database at path, creating the schema when needed.
func OpenPath(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Insert records a newly submitted job as running.
func (s *Store) Insert(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("job id is required")
	}
	now := s.timestamp()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	return s.execWithoutResultRetry(ctx, `INSERT INTO jobs (
            id, requester_id, source_url, kind, status, stage, progress_message, correlation_id, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.RequesterID,
		rec.SourceURL,
		rec.Kind,
		string(StatusRunning),
		nullableString(rec.Stage),
		nullableString(rec.ProgressMessage),
		nullableString(rec.CorrelationID),
		rec.CreatedAt.UTC().Format(timeLayout),
		now,
	)
}

// UpdateProgress stores the job's current stage and status line.
func (s *Store) UpdateProgress(ctx context.Context, id, stage, message string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET stage = ?, progress_message = ?, updated_at = ? WHERE id = ? AND status = ?`,
		nullableString(stage), nullableString(message), s.timestamp(), id, string(StatusRunning),
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetTitle records the source title once the manifest is known.
func (s *Store) SetTitle(ctx context.Context, id, title string) error {
	return s.execWithoutResultRetry(ctx,
		`UPDATE jobs SET title = ?, updated_at = ? WHERE id = ?`,
		nullableString(title), s.timestamp(), id,
	)
}

// Finish writes the terminal outcome of a job.
func (s *Store) Finish(ctx context.Context, id string, out Outcome) error {
	if !out.Status.Finished() {
		return fmt.Errorf("finish requires a terminal status, got %q", out.Status)
	}
	now := s.timestamp()
	res, err := s.execWithRetry(ctx, `UPDATE jobs SET
            status = ?, title = COALESCE(?, title), attempts = ?, final_size = ?, file_name = ?,
            error_kind = ?, error_message = ?, updated_at = ?, finished_at = ?
        WHERE id = ?`,
		string(out.Status),
		nullableString(out.Title),
		out.Attempts,
		out.FinalSize,
		nullableString(out.FileName),
		nullableString(out.ErrorKind),
		nullableString(out.ErrorMessage),
		now,
		now,
		id,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Get fetches one record.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), "SELECT "+recordColumns+" FROM jobs WHERE id = ?", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return rec, nil
}

// List returns the newest records first, optionally filtered by status.
// A limit <= 0 returns every match.
func (s *Store) List(ctx context.Context, limit int, statuses ...Status) ([]*Record, error) {
	query := "SELECT " + recordColumns + " FROM jobs"
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		query += " WHERE status IN (" + makePlaceholders(len(statuses)) + ")"
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Counts returns the number of records per status.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), "SELECT status, COUNT(1) FROM jobs GROUP BY status")
	if err != nil {
		return Counts{}, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	var counts Counts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, fmt.Errorf("scan count: %w", err)
		}
		switch Status(status) {
		case StatusRunning:
			counts.Running = n
		case StatusCompleted:
			counts.Completed = n
		case StatusFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

// ClearFinished removes completed and failed records and returns how many
// were deleted.
func (s *Store) ClearFinished(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, "DELETE FROM jobs WHERE status IN (?, ?)",
		string(StatusCompleted), string(StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("clear finished jobs: %w", err)
	}
	return res.RowsAffected()
}

// MarkInterrupted fails every record still marked running. It runs once at
// daemon startup, before any job can be submitted.
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	now := s.timestamp()
	res, err := s.execWithRetry(ctx, `UPDATE jobs SET
            status = ?, error_kind = ?, error_message = ?, updated_at = ?, finished_at = ?
        WHERE status = ?`,
		string(StatusFailed), "interrupted", interruptedMessage, now, now, string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("mark interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
