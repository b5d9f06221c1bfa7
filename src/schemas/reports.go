package schemas

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"reportserver/src/models"
)

type FilterOperator string

const (
	OpEquals      FilterOperator = "eq"
	OpNotEquals   FilterOperator = "neq"
	OpGreater     FilterOperator = "gt"
	OpGreaterOrEq FilterOperator = "gte"
	OpLess        FilterOperator = "lt"
	OpLessOrEq    FilterOperator = "lte"
	OpContains    FilterOperator = "contains"
	OpIn          FilterOperator = "in"
)

// Condition is a single column predicate. Value is whatever JSON scalar (or
// list, for "in") the administrator supplied.
type Condition struct {
	Column   string         `json:"column"`
	Operator FilterOperator `json:"operator"`
	Value    interface{}    `json:"value"`
}

// Filter is the structured filter payload of a report job. Conditions are
// combined with AND.
type Filter struct {
	Conditions []Condition `json:"conditions"`
}

func (f *Filter) Empty() bool {
	return f == nil || len(f.Conditions) == 0
}

// Summary renders the filter for humans, e.g. "status eq active; value gt 100".
func (f *Filter) Summary() string {
	if f.Empty() {
		return "No filters"
	}
	parts := make([]string, 0, len(f.Conditions))
	for _, c := range f.Conditions {
		parts = append(parts, fmt.Sprintf("%s %s %v", c.Column, c.Operator, c.Value))
	}
	return strings.Join(parts, "; ")
}

type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

type SortField struct {
	Column    string        `json:"column"`
	Direction SortDirection `json:"direction"`
}

// Sort is the structured sort payload of a report job, applied in order.
type Sort struct {
	Fields []SortField `json:"fields"`
}

// CreateReportJobRequest represents the request schema for creating a new scheduled report job.
type CreateReportJobRequest struct {
	TenantID     uuid.UUID        `json:"-"`
	Name         string           `json:"name" validate:"required"`
	DataSource   string           `json:"data_source" validate:"required"`
	Columns      []string         `json:"columns" validate:"required"`
	Filter       *Filter          `json:"filter,omitempty"`
	Sort         *Sort            `json:"sort,omitempty"`
	Recipients   []string         `json:"recipients" validate:"required"`
	Frequency    models.Frequency `json:"frequency" validate:"required"`
	DeliveryTime string           `json:"delivery_time" validate:"required"`
	DayOfWeek    *int             `json:"day_of_week,omitempty"`
	DayOfMonth   *int             `json:"day_of_month,omitempty"`
	CreatedBy    string           `json:"created_by"`
}

// UpdateReportJobRequest represents the request schema for updating an existing
// scheduled report job. Nil fields are left untouched.
type UpdateReportJobRequest struct {
	ID           uuid.UUID         `json:"-"`
	TenantID     uuid.UUID         `json:"-"`
	Name         *string           `json:"name"`
	DataSource   *string           `json:"data_source"`
	Columns      *[]string         `json:"columns"`
	Filter       *Filter           `json:"filter"`
	Sort         *Sort             `json:"sort"`
	Recipients   *[]string         `json:"recipients"`
	Frequency    *models.Frequency `json:"frequency"`
	DeliveryTime *string           `json:"delivery_time"`
	DayOfWeek    *int              `json:"day_of_week"`
	DayOfMonth   *int              `json:"day_of_month"`
	Active       *bool             `json:"active"`
}

// ChangesRecurrence reports whether any field governing the cadence is set.
func (r *UpdateReportJobRequest) ChangesRecurrence() bool {
	return r.Frequency != nil || r.DeliveryTime != nil || r.DayOfWeek != nil || r.DayOfMonth != nil
}

// ReportJobResponse represents the response schema for scheduled report job data.
type ReportJobResponse struct {
	ID           uuid.UUID        `json:"id"`
	TenantID     uuid.UUID        `json:"tenant_id"`
	Name         string           `json:"name"`
	DataSource   string           `json:"data_source"`
	Columns      []string         `json:"columns"`
	Filter       *Filter          `json:"filter,omitempty"`
	Sort         *Sort            `json:"sort,omitempty"`
	Recipients   []string         `json:"recipients"`
	Frequency    models.Frequency `json:"frequency"`
	DeliveryTime string           `json:"delivery_time"`
	DayOfWeek    *int             `json:"day_of_week,omitempty"`
	DayOfMonth   *int             `json:"day_of_month,omitempty"`
	Active       bool             `json:"active"`
	LastRun      *time.Time       `json:"last_run"`
	NextRun      time.Time        `json:"next_run"`
	CreatedBy    string           `json:"created_by"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}
