package jobs

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
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
    id                TEXT PRIMARY KEY,
    status            TEXT NOT NULL,
    progress          INTEGER NOT NULL DEFAULT 0,
    message           TEXT NOT NULL DEFAULT '',
    original_filename TEXT NOT NULL DEFAULT '',
    upload_time       TEXT NOT NULL,
    completion_time   TEXT,
    error_time        TEXT,
    instance          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`

const selectColumns = `id, status, progress, message, original_filename, upload_time, completion_time, error_time, instance`

// SQLiteRegistry persists records in a single SQLite table so state survives
// restarts.
type SQLiteRegistry struct {
	db   *sql.DB
	path string
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteRegistry, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create registry dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if err := migrateInstanceColumn(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteRegistry{db: db, path: path}, nil
}

func (s *SQLiteRegistry) Path() string { return s.path }

func (s *SQLiteRegistry) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteRegistry) Create(ctx context.Context, id, originalFilename string) (Record, error) {
	rec := newRecord(id, originalFilename, now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, status, progress, message, original_filename, upload_time)
         VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.State), rec.Progress, rec.Message, rec.OriginalFilename, formatTime(rec.UploadTime),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return Record{}, fmt.Errorf("%w: %s", ErrExists, id)
		}
		return Record{}, fmt.Errorf("insert job: %w", err)
	}
	return rec, nil
}

func (s *SQLiteRegistry) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM jobs WHERE id = ?`, id)
	return scanRecord(row)
}

func (s *SQLiteRegistry) Update(ctx context.Context, id string, mutate Mutator) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return Record{}, err
	}
	next, err := applyMutator(current, mutate)
	if err != nil {
		return Record{}, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, progress = ?, message = ?, original_filename = ?,
                completion_time = ?, error_time = ?, instance = ?
         WHERE id = ?`,
		string(next.State), next.Progress, next.Message, next.OriginalFilename,
		nullableTime(next.CompletionTime), nullableTime(next.ErrorTime), next.Instance, id,
	)
	if err != nil {
		return Record{}, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit update: %w", err)
	}
	return next, nil
}

func (s *SQLiteRegistry) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteRegistry) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM jobs ORDER BY upload_time`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec        Record
		state      string
		uploadTime string
		completed  sql.NullString
		failed     sql.NullString
	)
	err := row.Scan(&rec.ID, &state, &rec.Progress, &rec.Message, &rec.OriginalFilename, &uploadTime, &completed, &failed, &rec.Instance)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("scan job: %w", err)
	}
	rec.State = State(state)
	rec.UploadTime = parseTime(uploadTime)
	if completed.Valid {
		t := parseTime(completed.String)
		rec.CompletionTime = &t
	}
	if failed.Valid {
		t := parseTime(failed.String)
		rec.ErrorTime = &t
	}
	return rec, nil
}

// migrateInstanceColumn adds the instance column to databases created before
// it existed.
func migrateInstanceColumn(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `PRAGMA table_info(jobs)`)
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	found := false
	for rows.Next() {
		var (
			cid      int
			name     string
			colType  string
			notNull  int
			defValue sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defValue, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("inspect schema: %w", err)
		}
		if name == "instance" {
			found = true
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	if found {
		return nil
	}
	if _, err := db.ExecContext(ctx, `ALTER TABLE jobs ADD COLUMN instance TEXT NOT NULL DEFAULT ''`); err != nil {
		return fmt.Errorf("add instance column: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
