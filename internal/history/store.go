package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DefaultLimit caps List when no limit is given.
const DefaultLimit = 50

// Store persists history entries in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or connects to the ledger at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
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
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts entry. A missing run ID is generated.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	if entry.RunID == "" {
		entry.RunID = uuid.NewString()
	}
	if entry.Outcome != OutcomeDone && entry.Outcome != OutcomeFailed {
		return fmt.Errorf("record history: unknown outcome %q", entry.Outcome)
	}
	if entry.FinishedAt.IsZero() {
		entry.FinishedAt = time.Now()
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = entry.FinishedAt
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO job_runs (
            run_id, worker_id, job, outcome, started_at, finished_at, duration_ms,
            result_dir, error_message, vanished, arbitration_losses
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.WorkerID,
		entry.Job,
		string(entry.Outcome),
		formatTime(entry.StartedAt),
		formatTime(entry.FinishedAt),
		entry.Duration().Milliseconds(),
		nullableString(entry.ResultDir),
		nullableString(entry.Error),
		entry.Vanished,
		entry.ArbitrationLosses,
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, run_id, worker_id, job, outcome, started_at, finished_at,
            result_dir, error_message, vanished, arbitration_losses
        FROM job_runs ORDER BY finished_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Summary counts entries per outcome.
func (s *Store) Summary(ctx context.Context) (map[Outcome]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(1) FROM job_runs GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("history summary: %w", err)
	}
	defer rows.Close()

	counts := make(map[Outcome]int)
	for rows.Next() {
		var outcome Outcome
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, err
		}
		counts[outcome] = count
	}
	return counts, rows.Err()
}

// Clear deletes every entry and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_runs`)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return removed, nil
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (Entry, error) {
	var (
		entry      Entry
		outcome    string
		startedAt  string
		finishedAt string
		resultDir  sql.NullString
		errMessage sql.NullString
	)
	if err := scanner.Scan(
		&entry.ID,
		&entry.RunID,
		&entry.WorkerID,
		&entry.Job,
		&outcome,
		&startedAt,
		&finishedAt,
		&resultDir,
		&errMessage,
		&entry.Vanished,
		&entry.ArbitrationLosses,
	); err != nil {
		return Entry{}, fmt.Errorf("scan history entry: %w", err)
	}
	entry.Outcome = Outcome(outcome)
	if t, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		entry.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, finishedAt); err == nil {
		entry.FinishedAt = t
	}
	entry.ResultDir = resultDir.String
	entry.Error = errMessage.String
	return entry, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// timeLayout is fixed width so finished_at orders correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
