package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/docforge/docforge/constants"
	"github.com/docforge/docforge/internal/entity"
)

// SQLiteStore is a SQLite-backed Store for local and embedded deployments.
// SQLite has no row locks; transactions are opened in immediate mode so the
// database write lock serializes all mutations, which satisfies the Store
// exclusivity contract.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath and runs
// migrations. busyTimeout bounds how long a writer waits on the database
// lock before failing with ErrLockTimeout.
func NewSQLiteStore(dbPath string, busyTimeout time.Duration, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		dbPath, busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	s := &SQLiteStore{db: db, log: logger}
	if err = s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id              TEXT PRIMARY KEY,
			job_type        TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'pending',
			input_ref       TEXT NOT NULL,
			options         TEXT,
			result          TEXT,
			error_message   TEXT,
			error_class     TEXT,
			retry_count     INTEGER NOT NULL DEFAULT 0,
			dispatch_handle TEXT,
			created_at      DATETIME NOT NULL,
			updated_at      DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_status     ON jobs(status);
		CREATE INDEX IF NOT EXISTS idx_jobs_updated_at ON jobs(status, updated_at);
		CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	`)
	return err
}

const sqliteJobColumns = `id, job_type, status, input_ref, options, result,
	error_message, error_class, retry_count, dispatch_handle, created_at, updated_at`

func (s *SQLiteStore) CreateIfAbsent(ctx context.Context, j *entity.Job) (*entity.Job, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, s.mapErr("begin create", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO jobs
			(id, job_type, status, input_ref, options, result, error_message,
			 error_class, retry_count, dispatch_handle, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NULL, NULL, NULL, 0, NULL, ?, ?)
	`,
		j.ID.String(), string(j.JobType), string(j.Status), j.InputRef,
		nullableJSON(j.Options), j.CreatedAt.UTC(), j.UpdatedAt.UTC(),
	)
	if err != nil {
		return nil, false, s.mapErr("insert job", err)
	}
	n, _ := res.RowsAffected()

	row := tx.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM jobs WHERE id = ?`, j.ID.String())
	stored, err := scanSQLiteJob(row)
	if err != nil {
		return nil, false, s.mapErr("read back job", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, s.mapErr("commit create", err)
	}
	return stored, n > 0, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM jobs WHERE id = ?`, id.String())
	j, err := scanSQLiteJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, s.mapErr(fmt.Sprintf("get job %s", id), err)
	}
	return j, nil
}

func (s *SQLiteStore) Mutate(ctx context.Context, id uuid.UUID, fn func(j *entity.Job) error) (*entity.Job, error) {
	// _txlock=immediate: BeginTx takes the database write lock, so the row
	// is exclusively ours until commit or rollback.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.mapErr("begin mutate", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM jobs WHERE id = ?`, id.String())
	j, err := scanSQLiteJob(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, s.mapErr("load job for mutation", err)
	}

	if err := fn(j); err != nil {
		return nil, err
	}
	j.UpdatedAt = time.Now().UTC()

	var errMsg, errClass any
	if j.Error != nil {
		errMsg, errClass = j.Error.Message, j.Error.Classification
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?, result = ?, error_message = ?, error_class = ?,
			retry_count = ?, dispatch_handle = ?, updated_at = ?
		WHERE id = ?
	`,
		string(j.Status), nullableJSON(j.Result), errMsg, errClass,
		j.RetryCount, nullableStr(j.DispatchHandle), j.UpdatedAt, id.String(),
	)
	if err != nil {
		return nil, s.mapErr("update job", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, s.mapErr("commit mutate", err)
	}
	return j, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id.String())
	if err != nil {
		return false, s.mapErr(fmt.Sprintf("delete job %s", id), err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) List(ctx context.Context, status *constants.JobStatus, limit, offset int) ([]*entity.Job, int, error) {
	limit, offset = clampPage(limit, offset)

	where, args := "", []any{}
	if status != nil {
		where = ` WHERE status = ?`
		args = append(args, string(*status))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`+where, args...).Scan(&total); err != nil {
		return nil, 0, s.mapErr("count jobs", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteJobColumns+` FROM jobs`+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, s.mapErr("list jobs", err)
	}
	defer rows.Close()

	var out []*entity.Job
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, 0, s.mapErr("scan job", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, s.mapErr("iterate jobs", err)
	}
	return out, total, nil
}

func (s *SQLiteStore) ListOlderThan(ctx context.Context, status constants.JobStatus, cutoff time.Time, limit int) ([]*entity.Job, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteJobColumns+` FROM jobs
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC
		LIMIT ?
	`, string(status), cutoff.UTC(), limit)
	if err != nil {
		return nil, s.mapErr("list stale jobs", err)
	}
	defer rows.Close()

	var out []*entity.Job
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, s.mapErr("scan stale job", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// mapErr converts driver busy errors to ErrLockTimeout and wraps the rest.
func (s *SQLiteStore) mapErr(op string, err error) error {
	if isSQLiteBusy(err) {
		return fmt.Errorf("%s: %w", op, ErrLockTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(r rowScanner) (*entity.Job, error) {
	var (
		j                entity.Job
		idStr            string
		jobType, status  string
		options, result  sql.NullString
		errMsg, errClass sql.NullString
		dispatchHandle   sql.NullString
		created, updated time.Time
	)
	err := r.Scan(&idStr, &jobType, &status, &j.InputRef, &options, &result,
		&errMsg, &errClass, &j.RetryCount, &dispatchHandle, &created, &updated)
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", idStr, err)
	}
	j.ID = id
	j.JobType = constants.JobType(jobType)
	j.Status = constants.JobStatus(status)
	j.CreatedAt = created.UTC()
	j.UpdatedAt = updated.UTC()
	if options.Valid {
		j.Options = json.RawMessage(options.String)
	}
	if result.Valid {
		j.Result = json.RawMessage(result.String)
	}
	if errMsg.Valid || errClass.Valid {
		j.Error = &entity.JobError{Message: errMsg.String, Classification: errClass.String}
	}
	if dispatchHandle.Valid {
		h := dispatchHandle.String
		j.DispatchHandle = &h
	}
	return &j, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
