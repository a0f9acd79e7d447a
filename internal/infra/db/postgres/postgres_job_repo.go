package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"pixelmint/internal/domain"
	"pixelmint/internal/domain/model"
	"pixelmint/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct{ pool *pgxpool.Pool }

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

const jobColumns = `id, owner_id, kind, state, external_job_id, provider, model_version, input, result_urls, thumbnail_urls, credits_reserved, error_message, eta, created_at, updated_at, completed_at`

// Save upserts the job. The ON CONFLICT WHERE clause keeps terminal states
// sticky at the database level: a late writer racing a webhook or sweep that
// already finished the job updates zero rows instead of clobbering it.
func (r *jobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	const q = `
INSERT INTO jobs (` + jobColumns + `)
VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (id) DO UPDATE SET
  state = EXCLUDED.state,
  external_job_id = EXCLUDED.external_job_id,
  result_urls = EXCLUDED.result_urls,
  thumbnail_urls = EXCLUDED.thumbnail_urls,
  error_message = EXCLUDED.error_message,
  eta = EXCLUDED.eta,
  updated_at = EXCLUDED.updated_at,
  completed_at = EXCLUDED.completed_at
WHERE jobs.state NOT IN ('completed','failed','cancelled');`

	_, err := execSQL(ctx, r.pool, tx, q,
		job.ID, job.OwnerID, job.Kind, job.State, job.ExternalJobID, job.Provider, job.ModelVersion,
		job.Input, job.ResultURLs, job.ThumbnailURLs, job.CreditsReserved, job.ErrorMessage,
		job.ETA, job.CreatedAt, job.UpdatedAt, job.CompletedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	return r.scanOne(ctx, tx, q+";", id)
}

func (r *jobRepo) FindByExternalID(ctx context.Context, tx repository.Tx, externalID string) (*model.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE external_job_id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	return r.scanOne(ctx, tx, q+";", externalID)
}

func (r *jobRepo) ListInFlightOlderThan(ctx context.Context, tx repository.Tx, kind model.JobKind, cutoff time.Time, limit int) ([]*model.Job, error) {
	const q = `
SELECT ` + jobColumns + ` FROM jobs
WHERE kind=$1
  AND state IN ('pending','starting','processing')
  AND external_job_id IS NOT NULL
  AND created_at < $2
ORDER BY created_at
LIMIT $3;`
	rows, err := pickRows(ctx, r.pool, tx, q, kind, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *jobRepo) ListByOwner(ctx context.Context, tx repository.Tx, ownerID string, limit int) ([]*model.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM jobs WHERE owner_id=$1 ORDER BY created_at DESC LIMIT $2;`
	rows, err := pickRows(ctx, r.pool, tx, q, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *jobRepo) scanOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	job, err := scanJob(row)
	if err != nil {
		return nil, translateNoRows(err)
	}
	return job, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	j := &model.Job{}
	var externalID *string
	err := row.Scan(&j.ID, &j.OwnerID, &j.Kind, &j.State, &externalID, &j.Provider, &j.ModelVersion,
		&j.Input, &j.ResultURLs, &j.ThumbnailURLs, &j.CreditsReserved, &j.ErrorMessage,
		&j.ETA, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	if externalID != nil {
		j.ExternalJobID = *externalID
	}
	return j, nil
}

func scanJobs(rows pgx.Rows) ([]*model.Job, error) {
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
