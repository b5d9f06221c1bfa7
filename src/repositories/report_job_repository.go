package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"reportserver/src/models"
)

var ErrJobNotFound = errors.New("repositories: report job not found")

type ReportJobRepository interface {
	ListDue(ctx context.Context, now time.Time) ([]models.ScheduledReportJob, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID, scheduled, ranAt, nextRun time.Time) (bool, error)
	Create(ctx context.Context, job *models.ScheduledReportJob) error
	Update(ctx context.Context, job *models.ScheduledReportJob, reschedule bool) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.ScheduledReportJob, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.ScheduledReportJob, error)
}

type reportJobRepo struct {
	DB *pgxpool.Pool
}

func NewReportJobRepository(db *pgxpool.Pool) ReportJobRepository {
	return &reportJobRepo{DB: db}
}

const reportJobColumns = `
	id,
	tenant_id,
	name,
	data_source,
	columns,
	filter,
	sort,
	recipients,
	frequency,
	delivery_time,
	day_of_week,
	day_of_month,
	active,
	last_run,
	next_run,
	created_by,
	created_at,
	updated_at`

func scanReportJob(row pgx.Row) (*models.ScheduledReportJob, error) {
	var job models.ScheduledReportJob
	err := row.Scan(
		&job.ID,
		&job.TenantID,
		&job.Name,
		&job.DataSource,
		&job.Columns,
		&job.Filter,
		&job.Sort,
		&job.Recipients,
		&job.Frequency,
		&job.DeliveryTime,
		&job.DayOfWeek,
		&job.DayOfMonth,
		&job.Active,
		&job.LastRun,
		&job.NextRun,
		&job.CreatedBy,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.NextRun = job.NextRun.UTC()
	if job.LastRun != nil {
		lastRun := job.LastRun.UTC()
		job.LastRun = &lastRun
	}
	return &job, nil
}

func (r *reportJobRepo) queryJobs(ctx context.Context, query string, args ...interface{}) ([]models.ScheduledReportJob, error) {
	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []models.ScheduledReportJob{}
	for rows.Next() {
		job, err := scanReportJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListDue returns the active jobs whose next_run is not after now.
func (r *reportJobRepo) ListDue(ctx context.Context, now time.Time) ([]models.ScheduledReportJob, error) {
	return r.queryJobs(ctx, `
		SELECT`+reportJobColumns+`
		FROM scheduled_report_jobs
		WHERE active AND next_run <= $1
		ORDER BY next_run, id`, now.UTC())
}

// MarkSucceeded advances the schedule of a delivered job from the occurrence
// it was scanned at. last_run never moves backwards. A job deactivated or
// rescheduled while its report was being produced is left alone and false is
// returned.
func (r *reportJobRepo) MarkSucceeded(ctx context.Context, id uuid.UUID, scheduled, ranAt, nextRun time.Time) (bool, error) {
	tag, err := r.DB.Exec(ctx, `
		UPDATE scheduled_report_jobs
		SET last_run = GREATEST(COALESCE(last_run, $3), $3),
			next_run = $4,
			updated_at = NOW()
		WHERE id = $1 AND active AND next_run = $2`, id, scheduled.UTC(), ranAt.UTC(), nextRun.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *reportJobRepo) Create(ctx context.Context, job *models.ScheduledReportJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	err := r.DB.QueryRow(ctx, `
		INSERT INTO scheduled_report_jobs (
			id, tenant_id, name, data_source, columns, filter, sort, recipients,
			frequency, delivery_time, day_of_week, day_of_month, active, next_run, created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`,
		job.ID,
		job.TenantID,
		job.Name,
		job.DataSource,
		string(job.Columns),
		nullableJSON(job.Filter),
		nullableJSON(job.Sort),
		job.Recipients,
		string(job.Frequency),
		job.DeliveryTime,
		job.DayOfWeek,
		job.DayOfMonth,
		job.Active,
		job.NextRun.UTC(),
		job.CreatedBy,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting report job: %w", err)
	}
	return nil
}

// Update writes every definition field together with active. next_run is only
// written when reschedule is set, otherwise the stored value is kept and read
// back into job. last_run is owned by MarkSucceeded and is never written here.
func (r *reportJobRepo) Update(ctx context.Context, job *models.ScheduledReportJob, reschedule bool) error {
	err := r.DB.QueryRow(ctx, `
		UPDATE scheduled_report_jobs
		SET name = $3,
			data_source = $4,
			columns = $5,
			filter = $6,
			sort = $7,
			recipients = $8,
			frequency = $9,
			delivery_time = $10,
			day_of_week = $11,
			day_of_month = $12,
			active = $13,
			next_run = CASE WHEN $15::boolean THEN $14 ELSE next_run END,
			updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		RETURNING next_run, last_run, updated_at`,
		job.TenantID,
		job.ID,
		job.Name,
		job.DataSource,
		string(job.Columns),
		nullableJSON(job.Filter),
		nullableJSON(job.Sort),
		job.Recipients,
		string(job.Frequency),
		job.DeliveryTime,
		job.DayOfWeek,
		job.DayOfMonth,
		job.Active,
		job.NextRun.UTC(),
		reschedule,
	).Scan(&job.NextRun, &job.LastRun, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	if err != nil {
		return err
	}
	job.NextRun = job.NextRun.UTC()
	if job.LastRun != nil {
		lastRun := job.LastRun.UTC()
		job.LastRun = &lastRun
	}
	return nil
}

func (r *reportJobRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.ScheduledReportJob, error) {
	job, err := scanReportJob(r.DB.QueryRow(ctx, `
		SELECT`+reportJobColumns+`
		FROM scheduled_report_jobs
		WHERE tenant_id = $1 AND id = $2`, tenantID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, err
}

func (r *reportJobRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.ScheduledReportJob, error) {
	return r.queryJobs(ctx, `
		SELECT`+reportJobColumns+`
		FROM scheduled_report_jobs
		WHERE tenant_id = $1
		ORDER BY created_at, id`, tenantID)
}

// nullableJSON maps an empty payload to SQL NULL.
func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
