package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"vidbot/internal/jobs"
)

// Store is the durable mirror of the job pipeline: every state change
// is written through to Postgres so that jobs survive a process
// restart and stay inspectable after completion.
type Store struct {
	DB *sql.DB
}

// New creates a new Store that uses a shared *sql.DB with pooling.
func New(database *sql.DB) *Store {
	return &Store{DB: database}
}

const jobColumns = `id, fingerprint, requester, source_url, format, platform, state, attempts, result_ref, error_detail, created_at, updated_at`

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, j *jobs.Job) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		j.ID, j.Fingerprint, j.Requester, j.SourceURL, j.Format, string(j.Platform),
		string(j.State), j.Attempts, nullable(j.ResultRef), nullable(j.ErrorDetail),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob writes the mutable fields of a job row.
func (s *Store) UpdateJob(ctx context.Context, j *jobs.Job) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE jobs
		SET state = $2, attempts = $3, result_ref = $4, error_detail = $5, updated_at = $6
		WHERE id = $1`,
		j.ID, string(j.State), j.Attempts, nullable(j.ResultRef), nullable(j.ErrorDetail),
		j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// GetJobByID fetches one job row.
func (s *Store) GetJobByID(ctx context.Context, id uuid.UUID) (jobs.Job, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// ListActiveJobs returns every non-terminal job, used to rebuild the
// in-memory pipeline state at startup.
func (s *Store) ListActiveJobs(ctx context.Context) ([]jobs.Job, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE state IN ('queued', 'running')
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// JobListFilter narrows ListJobs results.
type JobListFilter struct {
	State     string
	Requester string
	Limit     int32
	Offset    int32
}

// ListJobs returns jobs newest-first, optionally filtered by state and
// requester.
func (s *Store) ListJobs(ctx context.Context, f JobListFilter) ([]jobs.Job, error) {
	var (
		where []string
		args  []any
	)
	if f.State != "" {
		args = append(args, f.State)
		where = append(where, "state = $"+strconv.Itoa(len(args)))
	}
	if f.Requester != "" {
		args = append(args, f.Requester)
		where = append(where, "requester = $"+strconv.Itoa(len(args)))
	}

	q := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	q += " LIMIT $" + strconv.Itoa(len(args))
	args = append(args, f.Offset)
	q += " OFFSET $" + strconv.Itoa(len(args))

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// DeleteExpiredJobs removes terminal jobs whose last update is older
// than cutoff. Non-terminal jobs are never deleted.
func (s *Store) DeleteExpiredJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE state IN ('succeeded', 'failed', 'cancelled') AND updated_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (jobs.Job, error) {
	var (
		j           jobs.Job
		platform    string
		state       string
		resultRef   sql.NullString
		errorDetail sql.NullString
	)
	err := r.Scan(&j.ID, &j.Fingerprint, &j.Requester, &j.SourceURL, &j.Format,
		&platform, &state, &j.Attempts, &resultRef, &errorDetail,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return jobs.Job{}, err
	}
	j.Platform = jobs.Platform(platform)
	j.State = jobs.State(state)
	j.ResultRef = resultRef.String
	j.ErrorDetail = errorDetail.String
	return j, nil
}

func scanJobs(rows *sql.Rows) ([]jobs.Job, error) {
	var out []jobs.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
