package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/jobkeeper/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Jobs ---

const jobColumns = `id, type, identifier, slug, state, status, duration_ns, created_at, closure`

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO jobs (type, identifier, slug, state, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		job.Type, job.Identifier, job.Slug, int(job.State), int(job.Status), job.Timestamp,
	).Scan(&job.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) FinalizeJob(ctx context.Context, job *models.Job, files []*models.DataFile) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("finalize job: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE jobs SET closure = $2 WHERE id = $1`, job.ID, job.Closure)
	if err != nil {
		return fmt.Errorf("finalize job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	for _, f := range files {
		err := tx.QueryRow(ctx,
			`INSERT INTO data_files (job_id, field, path, created_at)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			f.JobID, f.Field, f.Path, f.CreatedAt,
		).Scan(&f.ID)
		if err != nil {
			if isDuplicateKeyError(err) {
				return ErrDuplicateKey
			}
			return fmt.Errorf("finalize job: insert data file %s: %w", f.Field, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("finalize job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	return s.getJob(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
}

func (s *PostgresStore) GetJobBySlug(ctx context.Context, slug string) (*models.Job, error) {
	return s.getJob(ctx, `SELECT `+jobColumns+` FROM jobs WHERE slug = $1`, slug)
}

func (s *PostgresStore) getJob(ctx context.Context, query string, arg any) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, query, arg)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var state, status int
	var durNS *int64
	err := row.Scan(&j.ID, &j.Type, &j.Identifier, &j.Slug, &state, &status,
		&durNS, &j.Timestamp, &j.Closure)
	if err != nil {
		return nil, err
	}
	j.State = models.State(state)
	j.Status = models.Status(status)
	if durNS != nil {
		d := time.Duration(*durNS)
		j.Duration = &d
	}
	return &j, nil
}

// validStateTransitions is forward-only: Created → Submitted → Running → Completed.
var validStateTransitions = map[models.State]models.State{
	models.StateCreated:   models.StateSubmitted,
	models.StateSubmitted: models.StateRunning,
	models.StateRunning:   models.StateCompleted,
}

func (s *PostgresStore) UpdateJobState(ctx context.Context, id int64, state models.State) error {
	var current int
	err := s.pool.QueryRow(ctx, `SELECT state FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job state: %w", err)
	}

	if validStateTransitions[models.State(current)] != state {
		return fmt.Errorf("%w: state %s -> %s", ErrInvalidTransition, models.State(current), state)
	}

	if _, err := s.pool.Exec(ctx,
		`UPDATE jobs SET state = $2 WHERE id = $1`, id, int(state)); err != nil {
		return fmt.Errorf("update job state: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id int64, status models.Status, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	if status != models.StatusSucceeded && status != models.StatusFailed {
		return fmt.Errorf("%w: status must be terminal, got %s", ErrInvalidTransition, status)
	}

	var current int
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	if models.Status(current) != models.StatusActive {
		return fmt.Errorf("%w: status %s is terminal", ErrInvalidTransition, models.Status(current))
	}

	query := `UPDATE jobs SET status = $2`
	args := []any{id, int(status)}
	if params.Duration != nil {
		query += `, duration_ns = $3`
		args = append(args, params.Duration.Nanoseconds())
	}
	query += ` WHERE id = $1`

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDataFiles(ctx context.Context, jobID int64) ([]*models.DataFile, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, field, path, created_at FROM data_files
		 WHERE job_id = $1 ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list data files: %w", err)
	}
	defer rows.Close()

	var files []*models.DataFile
	for rows.Next() {
		var f models.DataFile
		if err := rows.Scan(&f.ID, &f.JobID, &f.Field, &f.Path, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan data file: %w", err)
		}
		files = append(files, &f)
	}
	return files, rows.Err()
}

func (s *PostgresStore) ListExpiredJobs(ctx context.Context, before time.Time, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE closure IS NOT NULL AND closure < $1 ORDER BY closure LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()
	return collectAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()
	return collectAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
