package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tryon-server/internal/domain"
)

// TryOnJobRepositoryPG implements domain.TryOnJobRepository.
type TryOnJobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewTryOnJobRepository creates a job repository backed by PostgreSQL.
func NewTryOnJobRepository(pool *pgxpool.Pool) *TryOnJobRepositoryPG {
	return &TryOnJobRepositoryPG{pool: pool}
}

const jobColumns = `
id, user_id, garment_id, user_photo_id, status, provider,
COALESCE(provider_job_id, ''), COALESCE(result_image_key, ''),
COALESCE(error_message, ''), quality_report, created_at, completed_at
`

// Create inserts a new job record.
func (r *TryOnJobRepositoryPG) Create(ctx context.Context, job *domain.TryOnJob) error {
	query := `
INSERT INTO tryon_jobs (id, user_id, garment_id, user_photo_id, status, provider, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.GarmentID,
		job.UserPhotoID,
		job.Status,
		job.Provider,
		job.CreatedAt,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *TryOnJobRepositoryPG) GetByID(ctx context.Context, id string) (*domain.TryOnJob, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM tryon_jobs WHERE id = $1;`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListByUser returns the user's jobs, newest first. An empty status matches
// all statuses.
func (r *TryOnJobRepositoryPG) ListByUser(ctx context.Context, userID string, status domain.TryOnStatus) ([]domain.TryOnJob, error) {
	query := `
SELECT ` + jobColumns + `
FROM tryon_jobs
WHERE user_id = $1 AND ($2 = '' OR status = $2)
ORDER BY created_at DESC;
`
	rows, err := r.pool.Query(ctx, query, userID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListByStatus returns every job in the given status, oldest first, for
// startup recovery sweeps.
func (r *TryOnJobRepositoryPG) ListByStatus(ctx context.Context, status domain.TryOnStatus) ([]domain.TryOnJob, error) {
	query := `SELECT ` + jobColumns + ` FROM tryon_jobs WHERE status = $1 ORDER BY created_at ASC;`
	rows, err := r.pool.Query(ctx, query, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// MarkProcessing records the provider handle and moves the job to processing.
func (r *TryOnJobRepositoryPG) MarkProcessing(ctx context.Context, id, providerJobID string) error {
	query := `
UPDATE tryon_jobs
SET status = $2, provider_job_id = $3
WHERE id = $1 AND status = $4;
`
	tag, err := r.pool.Exec(ctx, query, id, domain.TryOnStatusProcessing, providerJobID, domain.TryOnStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Finalize performs the terminal-state compare-and-set: the row is written
// only while the job is still pending or processing. It reports whether this
// call performed the transition.
func (r *TryOnJobRepositoryPG) Finalize(ctx context.Context, id string, status domain.TryOnStatus, resultKey, errMsg string, completedAt time.Time) (bool, error) {
	query := `
UPDATE tryon_jobs
SET status = $2,
    result_image_key = NULLIF($3, ''),
    error_message = NULLIF($4, ''),
    completed_at = $5
WHERE id = $1 AND status IN ($6, $7);
`
	tag, err := r.pool.Exec(ctx, query, id, status, resultKey, errMsg, completedAt,
		domain.TryOnStatusPending, domain.TryOnStatusProcessing)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		// Either already terminal or missing; distinguish for the caller.
		if _, err := r.GetByID(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// AttachQuality stores the validation report on the job. The report is
// replaced wholesale when validation is re-run.
func (r *TryOnJobRepositoryPG) AttachQuality(ctx context.Context, id string, report *domain.QualityReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode quality report: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE tryon_jobs SET quality_report = $2 WHERE id = $1;`, id, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes the job record. The quality report lives on the row, so it
// goes with it.
func (r *TryOnJobRepositoryPG) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tryon_jobs WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.TryOnJob, error) {
	var job domain.TryOnJob
	var qualityJSON []byte
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.GarmentID,
		&job.UserPhotoID,
		&job.Status,
		&job.Provider,
		&job.ProviderJobID,
		&job.ResultImageKey,
		&job.ErrorMessage,
		&qualityJSON,
		&job.CreatedAt,
		&job.CompletedAt,
	); err != nil {
		return nil, err
	}
	if len(qualityJSON) > 0 {
		var report domain.QualityReport
		if err := json.Unmarshal(qualityJSON, &report); err != nil {
			return nil, fmt.Errorf("decode quality report: %w", err)
		}
		job.Quality = &report
	}
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]domain.TryOnJob, error) {
	var jobs []domain.TryOnJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}
