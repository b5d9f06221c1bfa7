package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	default:
		return false
	}
}

// ScheduledReportJob is a tenant-owned recurring report definition together
// with its schedule state. Columns, Filter and Sort hold the raw JSON payloads
// stored in the database; they are decoded only when the job is dispatched.
type ScheduledReportJob struct {
	ID           uuid.UUID       `db:"id"`
	TenantID     uuid.UUID       `db:"tenant_id"`
	Name         string          `db:"name"`
	DataSource   string          `db:"data_source"`
	Columns      json.RawMessage `db:"columns"`
	Filter       json.RawMessage `db:"filter"`
	Sort         json.RawMessage `db:"sort"`
	Recipients   []string        `db:"recipients"`
	Frequency    Frequency       `db:"frequency"`
	DeliveryTime string          `db:"delivery_time"`
	DayOfWeek    *int            `db:"day_of_week"`
	DayOfMonth   *int            `db:"day_of_month"`
	Active       bool            `db:"active"`
	LastRun      *time.Time      `db:"last_run"`
	NextRun      time.Time       `db:"next_run"`
	CreatedBy    string          `db:"created_by"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

func (ScheduledReportJob) TableName() string {
	return "scheduled_report_jobs"
}
