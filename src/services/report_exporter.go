package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"reportserver/src/scheduler"
	"reportserver/src/utils"
)

const (
	headerRow     = 5
	maxSheetName  = 31
	dataColWidth  = 18
	titleColWidth = 28
)

const sheetNameCutset = " '"

var invalidSheetChars = strings.NewReplacer(
	":", " ", "\\", " ", "/", " ", "?", " ", "*", " ", "[", " ", "]", " ",
)

// ReportExporter renders report rows as a single-sheet xlsx workbook: a short
// title block followed by the header row and one row per record.
type ReportExporter struct{}

func NewReportExporter() *ReportExporter {
	return &ReportExporter{}
}

func (rs *ReportExporter) Export(ctx context.Context, rows []scheduler.Row, columns []string, title string, generatedAt time.Time) ([]byte, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: no columns to export", scheduler.ErrExport)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := rs.sheetName(title)
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("%w: %w", scheduler.ErrExport, err)
	}

	if err := rs.writeReport(f, sheetName, rows, columns, title, generatedAt); err != nil {
		return nil, fmt.Errorf("%w: %w", scheduler.ErrExport, err)
	}
	if err := rs.applyStyles(f, sheetName, len(columns), len(rows)); err != nil {
		return nil, fmt.Errorf("%w: %w", scheduler.ErrExport, err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", scheduler.ErrExport, err)
	}
	utils.LoggerFromContext(ctx).WithField("rows", len(rows)).Debug("Report workbook generated")
	return buf.Bytes(), nil
}

func (rs *ReportExporter) writeReport(f *excelize.File, sheetName string, rows []scheduler.Row, columns []string, title string, generatedAt time.Time) error {
	meta := [][2]interface{}{
		{"A1", title},
		{"A2", "Generated: " + generatedAt.UTC().Format(utils.ReportTimestampLayout)},
		{"A3", fmt.Sprintf("Records: %d", len(rows))},
	}
	for _, m := range meta {
		if err := f.SetCellValue(sheetName, m[0].(string), m[1]); err != nil {
			return err
		}
	}

	for colIndex, column := range columns {
		cell := fmt.Sprintf("%s%d", rs.toAlphaString(colIndex+1), headerRow)
		if err := f.SetCellValue(sheetName, cell, column); err != nil {
			return err
		}
	}

	for rowIndex, row := range rows {
		for colIndex, column := range columns {
			cell := fmt.Sprintf("%s%d", rs.toAlphaString(colIndex+1), headerRow+1+rowIndex)
			if err := f.SetCellValue(sheetName, cell, cellValue(row[column])); err != nil {
				return err
			}
		}
	}
	return nil
}

func (rs *ReportExporter) applyStyles(f *excelize.File, sheetName string, colCount, rowCount int) error {
	titleStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 14},
	})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, "A1", "A1", titleStyle); err != nil {
		return err
	}

	border := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6E6E6"},
			Pattern: 1,
		},
		Border: border,
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return err
	}
	lastCol := rs.toAlphaString(colCount)
	err = f.SetCellStyle(sheetName, fmt.Sprintf("A%d", headerRow), fmt.Sprintf("%s%d", lastCol, headerRow), headerStyle)
	if err != nil {
		return err
	}

	if rowCount > 0 {
		dataStyle, err := f.NewStyle(&excelize.Style{Border: border})
		if err != nil {
			return err
		}
		err = f.SetCellStyle(sheetName, fmt.Sprintf("A%d", headerRow+1), fmt.Sprintf("%s%d", lastCol, headerRow+rowCount), dataStyle)
		if err != nil {
			return err
		}
	}

	if err := f.SetColWidth(sheetName, "A", "A", titleColWidth); err != nil {
		return err
	}
	if colCount > 1 {
		if err := f.SetColWidth(sheetName, "B", lastCol, dataColWidth); err != nil {
			return err
		}
	}
	return nil
}

// sheetName turns a report title into a name Excel accepts: no reserved
// characters, no leading or trailing apostrophe, at most 31 characters.
func (rs *ReportExporter) sheetName(title string) string {
	name := strings.Trim(invalidSheetChars.Replace(title), sheetNameCutset)
	if r := []rune(name); len(r) > maxSheetName {
		name = strings.Trim(string(r[:maxSheetName]), sheetNameCutset)
	}
	if name == "" {
		return "Report"
	}
	return name
}

func (rs *ReportExporter) toAlphaString(column int) string {
	result := ""
	for column > 0 {
		column--
		result = string(rune('A'+column%26)) + result
		column /= 26
	}
	return result
}

// cellValue maps a row value to what is written in the sheet: nothing for
// nil, the date for midnight values, date and time for other timestamps and
// the printed form for everything else.
func cellValue(v interface{}) interface{} {
	switch value := v.(type) {
	case nil:
		return ""
	case time.Time:
		return formatTime(value)
	case *time.Time:
		if value == nil {
			return ""
		}
		return formatTime(*value)
	case string:
		return value
	default:
		return fmt.Sprint(value)
	}
}

func formatTime(t time.Time) string {
	t = t.UTC()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(utils.ShortDashDateLayout)
	}
	return t.Format(utils.ReportTimestampLayout)
}
