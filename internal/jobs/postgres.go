package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docforge/docforge/constants"
	"github.com/docforge/docforge/internal/entity"
)

const pgLockNotAvailable = "55P03" // SQLSTATE for lock_timeout expiry

// PostgresConfig mirrors the database section of the application config.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
	LockTimeout     time.Duration
}

// PostgresStore is the production Store. Mutations take a SELECT ... FOR
// UPDATE row lock inside a transaction, so concurrent mutators of the same
// job id serialize on the database.
type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	log         *slog.Logger
}

// NewPostgresStore creates a pgx pool, pings it, and runs migrations.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("connecting to database", "dsn", cfg.DSN)
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to parse database config", "error", err)
		return nil, err
	}

	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "docforge"

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	s := &PostgresStore{pool: pool, lockTimeout: lockTimeout, log: logger}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("successfully connected to database")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS jobs (
			id              UUID PRIMARY KEY,
			job_type        TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'pending',
			input_ref       TEXT NOT NULL,
			options         JSONB,
			result          JSONB,
			error_message   TEXT,
			error_class     TEXT,
			retry_count     INT NOT NULL DEFAULT 0,
			dispatch_handle TEXT,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_status     ON jobs(status);
		CREATE INDEX IF NOT EXISTS idx_jobs_updated_at ON jobs(status, updated_at);
		CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	`)
	return err
}

const pgJobColumns = `id, job_type, status, input_ref, options, result,
	error_message, error_class, retry_count, dispatch_handle, created_at, updated_at`

func (s *PostgresStore) CreateIfAbsent(ctx context.Context, j *entity.Job) (*entity.Job, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, s.mapErr("begin create", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO jobs
			(id, job_type, status, input_ref, options, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`,
		j.ID, string(j.JobType), string(j.Status), j.InputRef,
		rawOrNil(j.Options), j.CreatedAt.UTC(), j.UpdatedAt.UTC(),
	)
	if err != nil {
		return nil, false, s.mapErr("insert job", err)
	}

	row := tx.QueryRow(ctx, `SELECT `+pgJobColumns+` FROM jobs WHERE id = $1`, j.ID)
	stored, err := scanPGJob(row)
	if err != nil {
		return nil, false, s.mapErr("read back job", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, s.mapErr("commit create", err)
	}
	return stored, tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgJobColumns+` FROM jobs WHERE id = $1`, id)
	j, err := scanPGJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, s.mapErr(fmt.Sprintf("get job %s", id), err)
	}
	return j, nil
}

func (s *PostgresStore) Mutate(ctx context.Context, id uuid.UUID, fn func(j *entity.Job) error) (*entity.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, s.mapErr("begin mutate", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Bound the lock wait; expiry surfaces as SQLSTATE 55P03.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return nil, s.mapErr("set lock_timeout", err)
	}

	row := tx.QueryRow(ctx, `SELECT `+pgJobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
	j, err := scanPGJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, s.mapErr("lock job for mutation", err)
	}

	if err := fn(j); err != nil {
		return nil, err
	}
	j.UpdatedAt = time.Now().UTC()

	var errMsg, errClass *string
	if j.Error != nil {
		errMsg, errClass = &j.Error.Message, &j.Error.Classification
	}
	_, err = tx.Exec(ctx, `
		UPDATE jobs SET
			status = $2, result = $3, error_message = $4, error_class = $5,
			retry_count = $6, dispatch_handle = $7, updated_at = $8
		WHERE id = $1
	`,
		id, string(j.Status), rawOrNil(j.Result), errMsg, errClass,
		j.RetryCount, j.DispatchHandle, j.UpdatedAt,
	)
	if err != nil {
		return nil, s.mapErr("update job", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, s.mapErr("commit mutate", err)
	}
	return j, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return false, s.mapErr(fmt.Sprintf("delete job %s", id), err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) List(ctx context.Context, status *constants.JobStatus, limit, offset int) ([]*entity.Job, int, error) {
	limit, offset = clampPage(limit, offset)

	where, args := "", []any{}
	if status != nil {
		where = ` WHERE status = $1`
		args = append(args, string(*status))
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs`+where, args...).Scan(&total); err != nil {
		return nil, 0, s.mapErr("count jobs", err)
	}

	query := fmt.Sprintf(`SELECT `+pgJobColumns+` FROM jobs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	rows, err := s.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, s.mapErr("list jobs", err)
	}
	defer rows.Close()

	var out []*entity.Job
	for rows.Next() {
		j, err := scanPGJob(rows)
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

func (s *PostgresStore) ListOlderThan(ctx context.Context, status constants.JobStatus, cutoff time.Time, limit int) ([]*entity.Job, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgJobColumns+` FROM jobs
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, string(status), cutoff.UTC(), limit)
	if err != nil {
		return nil, s.mapErr("list stale jobs", err)
	}
	defer rows.Close()

	var out []*entity.Job
	for rows.Next() {
		j, err := scanPGJob(rows)
		if err != nil {
			return nil, s.mapErr("scan stale job", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Ping checks connectivity, used by startup health checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool gracefully.
func (s *PostgresStore) Close() error {
	s.log.Info("closing database connections")
	s.pool.Close()
	return nil
}

func (s *PostgresStore) mapErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return fmt.Errorf("%s: %w", op, ErrLockTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func scanPGJob(r pgx.Row) (*entity.Job, error) {
	var (
		j                entity.Job
		jobType, status  string
		options, result  []byte
		errMsg, errClass *string
	)
	err := r.Scan(&j.ID, &jobType, &status, &j.InputRef, &options, &result,
		&errMsg, &errClass, &j.RetryCount, &j.DispatchHandle, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.JobType = constants.JobType(jobType)
	j.Status = constants.JobStatus(status)
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	if len(options) > 0 {
		j.Options = json.RawMessage(options)
	}
	if len(result) > 0 {
		j.Result = json.RawMessage(result)
	}
	if errMsg != nil || errClass != nil {
		e := &entity.JobError{}
		if errMsg != nil {
			e.Message = *errMsg
		}
		if errClass != nil {
			e.Classification = *errClass
		}
		j.Error = e
	}
	return &j, nil
}

func rawOrNil(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
