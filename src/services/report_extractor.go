package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"reportserver/src/scheduler"
	"reportserver/src/schemas"
)

var (
	ErrUnknownDataSource   = errors.New("services: unknown data source")
	ErrUnknownColumn       = errors.New("services: unknown column")
	ErrUnsupportedOperator = errors.New("services: unsupported filter operator")
	ErrInvalidFilterValue  = errors.New("services: invalid filter value")
)

type dataSource struct {
	table   string
	columns map[string]bool
}

func newDataSource(table string, columns ...string) dataSource {
	allowed := make(map[string]bool, len(columns))
	for _, c := range columns {
		allowed[c] = true
	}
	return dataSource{table: table, columns: allowed}
}

// reportDataSources lists every table a report may read and the columns it
// may select, filter or sort on.
var reportDataSources = map[string]dataSource{
	"assets": newDataSource("assets",
		"id", "name", "category", "status", "location", "value", "acquired_at", "created_at"),
	"shipments": newDataSource("shipments",
		"id", "reference", "origin", "destination", "carrier", "status", "shipped_at", "delivered_at", "created_at"),
	"lots": newDataSource("lots",
		"id", "code", "product", "quantity", "unit", "status", "expires_at", "created_at"),
	"vendors": newDataSource("vendors",
		"id", "name", "country", "contact_email", "rating", "status", "created_at"),
}

// DataSources returns the known data source ids, sorted.
func DataSources() []string {
	names := make([]string, 0, len(reportDataSources))
	for name := range reportDataSources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateReportQuery checks a query against the data source registry without
// touching the database.
func ValidateReportQuery(query scheduler.ReportQuery) error {
	source, ok := reportDataSources[query.DataSource]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDataSource, query.DataSource)
	}
	if len(query.Columns) == 0 {
		return fmt.Errorf("%w: no columns selected", ErrUnknownColumn)
	}
	for _, c := range query.Columns {
		if !source.columns[c] {
			return fmt.Errorf("%w: %q in %s", ErrUnknownColumn, c, query.DataSource)
		}
	}
	if query.Filter != nil {
		for _, cond := range query.Filter.Conditions {
			if !source.columns[cond.Column] {
				return fmt.Errorf("%w: filter on %q in %s", ErrUnknownColumn, cond.Column, query.DataSource)
			}
			if _, err := conditionExpression(cond); err != nil {
				return err
			}
		}
	}
	if query.Sort != nil {
		for _, field := range query.Sort.Fields {
			if !source.columns[field.Column] {
				return fmt.Errorf("%w: sort on %q in %s", ErrUnknownColumn, field.Column, query.DataSource)
			}
			if field.Direction != "" && field.Direction != schemas.SortAsc && field.Direction != schemas.SortDesc {
				return fmt.Errorf("%w: sort direction %q", ErrUnsupportedOperator, field.Direction)
			}
		}
	}
	return nil
}

// ReportExtractor reads report rows with GORM. Every query is scoped to the
// requesting tenant.
type ReportExtractor struct {
	DB *gorm.DB
	// MaxRows caps the rows of one report; zero means no cap.
	MaxRows int
}

func NewReportExtractor(db *gorm.DB, maxRows int) *ReportExtractor {
	return &ReportExtractor{DB: db, MaxRows: maxRows}
}

func (e *ReportExtractor) Extract(ctx context.Context, query scheduler.ReportQuery) ([]scheduler.Row, error) {
	if err := ValidateReportQuery(query); err != nil {
		return nil, fmt.Errorf("%w: %w", scheduler.ErrExtraction, err)
	}
	source := reportDataSources[query.DataSource]

	tx := e.DB.WithContext(ctx).
		Table(source.table).
		Select(query.Columns).
		Where("tenant_id = ?", query.TenantID.String())

	if query.Filter != nil {
		for _, cond := range query.Filter.Conditions {
			expr, _ := conditionExpression(cond)
			tx = tx.Where(expr)
		}
	}
	if query.Sort != nil {
		for _, field := range query.Sort.Fields {
			tx = tx.Order(clause.OrderByColumn{
				Column: clause.Column{Name: field.Column},
				Desc:   field.Direction == schemas.SortDesc,
			})
		}
	}
	if e.MaxRows > 0 {
		tx = tx.Limit(e.MaxRows)
	}

	var records []map[string]interface{}
	if err := tx.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("%w: querying %s: %w", scheduler.ErrExtraction, source.table, err)
	}

	rows := make([]scheduler.Row, 0, len(records))
	for _, record := range records {
		row := make(scheduler.Row, len(query.Columns))
		for _, c := range query.Columns {
			row[c] = displayValue(record[c])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func conditionExpression(cond schemas.Condition) (clause.Expression, error) {
	column := clause.Column{Name: cond.Column}
	switch cond.Operator {
	case schemas.OpEquals:
		return clause.Eq{Column: column, Value: cond.Value}, nil
	case schemas.OpNotEquals:
		return clause.Neq{Column: column, Value: cond.Value}, nil
	case schemas.OpGreater:
		return clause.Gt{Column: column, Value: cond.Value}, nil
	case schemas.OpGreaterOrEq:
		return clause.Gte{Column: column, Value: cond.Value}, nil
	case schemas.OpLess:
		return clause.Lt{Column: column, Value: cond.Value}, nil
	case schemas.OpLessOrEq:
		return clause.Lte{Column: column, Value: cond.Value}, nil
	case schemas.OpContains:
		text, ok := cond.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: contains on %q needs a string", ErrInvalidFilterValue, cond.Column)
		}
		return clause.Expr{SQL: "? ILIKE ?", Vars: []interface{}{column, "%" + text + "%"}}, nil
	case schemas.OpIn:
		values, ok := cond.Value.([]interface{})
		if !ok || len(values) == 0 {
			return nil, fmt.Errorf("%w: in on %q needs a non-empty list", ErrInvalidFilterValue, cond.Column)
		}
		return clause.IN{Column: column, Values: values}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedOperator, cond.Operator)
	}
}

func displayValue(v interface{}) interface{} {
	switch value := v.(type) {
	case []byte:
		return string(value)
	default:
		return value
	}
}
