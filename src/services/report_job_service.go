package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"reportserver/src/models"
	"reportserver/src/repositories"
	"reportserver/src/scheduler"
	"reportserver/src/schemas"
	"reportserver/src/utils"
)

var ErrInvalidJob = errors.New("services: invalid report job")

type ReportJobServiceI interface {
	CreateJob(ctx context.Context, req *schemas.CreateReportJobRequest) (*schemas.ReportJobResponse, error)
	UpdateJob(ctx context.Context, req *schemas.UpdateReportJobRequest) (*schemas.ReportJobResponse, error)
	DeactivateJob(ctx context.Context, tenantID, id uuid.UUID) (*schemas.ReportJobResponse, error)
	ReactivateJob(ctx context.Context, tenantID, id uuid.UUID) (*schemas.ReportJobResponse, error)
	GetJob(ctx context.Context, tenantID, id uuid.UUID) (*schemas.ReportJobResponse, error)
	ListJobs(ctx context.Context, tenantID uuid.UUID) ([]*schemas.ReportJobResponse, error)
}

// ReportJobService owns report job definitions. It is the only writer of
// active and, outside of the poller, of next_run.
type ReportJobService struct {
	Repo repositories.ReportJobRepository
	Now  func() time.Time
}

func NewReportJobService(repo repositories.ReportJobRepository) *ReportJobService {
	return &ReportJobService{Repo: repo, Now: time.Now}
}

func (s *ReportJobService) CreateJob(ctx context.Context, req *schemas.CreateReportJobRequest) (*schemas.ReportJobResponse, error) {
	job := &models.ScheduledReportJob{
		TenantID:     req.TenantID,
		Name:         strings.TrimSpace(req.Name),
		DataSource:   req.DataSource,
		Recipients:   req.Recipients,
		Frequency:    models.Frequency(strings.ToUpper(string(req.Frequency))),
		DeliveryTime: req.DeliveryTime,
		DayOfWeek:    req.DayOfWeek,
		DayOfMonth:   req.DayOfMonth,
		Active:       true,
		CreatedBy:    req.CreatedBy,
	}
	if err := s.applyDefinition(job, req.Columns, req.Filter, req.Sort); err != nil {
		return nil, err
	}
	if err := s.schedule(job); err != nil {
		return nil, err
	}

	if err := s.Repo.Create(ctx, job); err != nil {
		return nil, err
	}
	utils.LoggerFromContext(ctx).WithField("job_id", job.ID.String()).
		WithField("next_run", job.NextRun.Format(time.RFC3339)).
		Info("Report job created")
	return ToReportJobResponse(job)
}

// UpdateJob applies the non-nil fields of req. Changing any recurrence field,
// or reactivating the job, reschedules it from now. Any other edit keeps the
// stored next_run, which the poller may have advanced since the job was read.
func (s *ReportJobService) UpdateJob(ctx context.Context, req *schemas.UpdateReportJobRequest) (*schemas.ReportJobResponse, error) {
	job, err := s.Repo.GetByID(ctx, req.TenantID, req.ID)
	if err != nil {
		return nil, err
	}
	payload, err := schemas.DecodeJobPayload(job)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		job.Name = strings.TrimSpace(*req.Name)
	}
	if req.DataSource != nil {
		job.DataSource = *req.DataSource
	}
	if req.Columns != nil {
		payload.Columns = *req.Columns
	}
	if req.Filter != nil {
		payload.Filter = req.Filter
	}
	if req.Sort != nil {
		payload.Sort = req.Sort
	}
	if req.Recipients != nil {
		job.Recipients = *req.Recipients
	}
	if req.Frequency != nil {
		job.Frequency = models.Frequency(strings.ToUpper(string(*req.Frequency)))
	}
	if req.DeliveryTime != nil {
		job.DeliveryTime = *req.DeliveryTime
	}
	if req.DayOfWeek != nil {
		job.DayOfWeek = req.DayOfWeek
	}
	if req.DayOfMonth != nil {
		job.DayOfMonth = req.DayOfMonth
	}

	if err := s.applyDefinition(job, payload.Columns, payload.Filter, payload.Sort); err != nil {
		return nil, err
	}

	reactivated := req.Active != nil && *req.Active && !job.Active
	if req.Active != nil {
		job.Active = *req.Active
	}
	reschedule := req.ChangesRecurrence() || reactivated
	if reschedule {
		if err := s.schedule(job); err != nil {
			return nil, err
		}
	}

	if err := s.Repo.Update(ctx, job, reschedule); err != nil {
		return nil, err
	}
	return ToReportJobResponse(job)
}

func (s *ReportJobService) DeactivateJob(ctx context.Context, tenantID, id uuid.UUID) (*schemas.ReportJobResponse, error) {
	active := false
	return s.UpdateJob(ctx, &schemas.UpdateReportJobRequest{ID: id, TenantID: tenantID, Active: &active})
}

func (s *ReportJobService) ReactivateJob(ctx context.Context, tenantID, id uuid.UUID) (*schemas.ReportJobResponse, error) {
	active := true
	return s.UpdateJob(ctx, &schemas.UpdateReportJobRequest{ID: id, TenantID: tenantID, Active: &active})
}

func (s *ReportJobService) GetJob(ctx context.Context, tenantID, id uuid.UUID) (*schemas.ReportJobResponse, error) {
	job, err := s.Repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return ToReportJobResponse(job)
}

func (s *ReportJobService) ListJobs(ctx context.Context, tenantID uuid.UUID) ([]*schemas.ReportJobResponse, error) {
	jobs, err := s.Repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	responses := make([]*schemas.ReportJobResponse, 0, len(jobs))
	for i := range jobs {
		response, err := ToReportJobResponse(&jobs[i])
		if err != nil {
			return nil, err
		}
		responses = append(responses, response)
	}
	return responses, nil
}

// applyDefinition validates the definition fields of job and stores the
// encoded payloads on it.
func (s *ReportJobService) applyDefinition(job *models.ScheduledReportJob, columns []string, filter *schemas.Filter, sort *schemas.Sort) error {
	if job.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidJob)
	}
	if len(job.Recipients) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrInvalidJob)
	}
	for _, recipient := range job.Recipients {
		if _, err := mail.ParseAddress(recipient); err != nil {
			return fmt.Errorf("%w: recipient %q is not an email address", ErrInvalidJob, recipient)
		}
	}
	if filter.Empty() {
		filter = nil
	}
	if sort != nil && len(sort.Fields) == 0 {
		sort = nil
	}

	err := ValidateReportQuery(scheduler.ReportQuery{
		TenantID:   job.TenantID,
		DataSource: job.DataSource,
		Columns:    columns,
		Filter:     filter,
		Sort:       sort,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	job.Columns, job.Filter, job.Sort, err = schemas.EncodeJobPayload(columns, filter, sort)
	return err
}

// schedule validates the recurrence of job, drops day fields that do not
// apply to its frequency and sets next_run from now.
func (s *ReportJobService) schedule(job *models.ScheduledReportJob) error {
	switch job.Frequency {
	case models.FrequencyDaily:
		job.DayOfWeek, job.DayOfMonth = nil, nil
	case models.FrequencyWeekly:
		job.DayOfMonth = nil
	case models.FrequencyMonthly:
		job.DayOfWeek = nil
	}

	rec, err := scheduler.RecurrenceOf(job)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	job.DeliveryTime = rec.DeliveryTime.String()
	job.NextRun, err = scheduler.ComputeNextRun(rec, s.Now())
	return err
}

func ToReportJobResponse(job *models.ScheduledReportJob) (*schemas.ReportJobResponse, error) {
	payload, err := schemas.DecodeJobPayload(job)
	if err != nil {
		return nil, err
	}
	return &schemas.ReportJobResponse{
		ID:           job.ID,
		TenantID:     job.TenantID,
		Name:         job.Name,
		DataSource:   job.DataSource,
		Columns:      payload.Columns,
		Filter:       payload.Filter,
		Sort:         payload.Sort,
		Recipients:   job.Recipients,
		Frequency:    job.Frequency,
		DeliveryTime: job.DeliveryTime,
		DayOfWeek:    job.DayOfWeek,
		DayOfMonth:   job.DayOfMonth,
		Active:       job.Active,
		LastRun:      job.LastRun,
		NextRun:      job.NextRun,
		CreatedBy:    job.CreatedBy,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}, nil
}
