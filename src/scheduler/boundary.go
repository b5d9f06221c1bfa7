package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"reportserver/src/models"
	"reportserver/src/schemas"
)

var (
	ErrExtraction  = errors.New("scheduler: extraction failed")
	ErrExport      = errors.New("scheduler: export failed")
	ErrDelivery    = errors.New("scheduler: delivery failed")
	ErrSettle      = errors.New("scheduler: could not persist schedule")
	ErrInterrupted = errors.New("scheduler: job interrupted before settling")
	ErrJobPanicked = errors.New("scheduler: job panicked")
)

// JobStore is the narrow persistence contract the poller depends on.
type JobStore interface {
	// ListDue returns every active job with next_run <= now.
	ListDue(ctx context.Context, now time.Time) ([]models.ScheduledReportJob, error)
	// MarkSucceeded sets last_run and next_run of an active job whose next_run
	// is still scheduled. It reports false, without error, when the job was
	// deactivated or rescheduled in the meantime.
	MarkSucceeded(ctx context.Context, id uuid.UUID, scheduled, ranAt, nextRun time.Time) (bool, error)
}

// ReportQuery is everything an Extractor needs to produce the rows of one
// report. TenantID is mandatory: rows of other tenants must never leak.
type ReportQuery struct {
	TenantID   uuid.UUID
	DataSource string
	Columns    []string
	Filter     *schemas.Filter
	Sort       *schemas.Sort
}

// Row maps a selected column to its display value.
type Row map[string]interface{}

type Extractor interface {
	Extract(ctx context.Context, query ReportQuery) ([]Row, error)
}

// Exporter renders rows as a spreadsheet, columns in the given order, stamped
// with generatedAt.
type Exporter interface {
	Export(ctx context.Context, rows []Row, columns []string, title string, generatedAt time.Time) ([]byte, error)
}

// Delivery is one report ready to be sent.
type Delivery struct {
	Recipients    []string
	ReportName    string
	DataSource    string
	TenantName    string
	FilterSummary string
	GeneratedAt   time.Time
	Filename      string
	Content       []byte
}

// Notifier sends a delivery to all recipients. A nil error means every
// recipient was handed the report.
type Notifier interface {
	Notify(ctx context.Context, delivery Delivery) error
}

type TenantDirectory interface {
	TenantName(ctx context.Context, id uuid.UUID) (string, error)
}

// DeliveryLedger remembers deliveries that went out for a given occurrence of
// a job, so a job whose schedule could not be persisted is not sent twice.
type DeliveryLedger interface {
	Delivered(ctx context.Context, key string) (bool, error)
	Record(ctx context.Context, key string) error
}

// DeliveryKey identifies one occurrence of a job.
func DeliveryKey(jobID uuid.UUID, occurrence time.Time) string {
	return fmt.Sprintf("report-delivery:%s:%d", jobID, occurrence.Unix())
}

// stageError tags err with the pipeline stage it came from, unless it is
// already tagged.
func stageError(stage error, err error) error {
	if errors.Is(err, stage) {
		return err
	}
	return fmt.Errorf("%w: %w", stage, err)
}
