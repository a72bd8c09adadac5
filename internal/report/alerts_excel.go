package report

import (
	"fmt"
	"io"
	"time"

	"wisefido-alerting/internal/models"

	"github.com/xuri/excelize/v2"
)

// SheetName 报警历史工作表名
const SheetName = "Alerts"

// AlertExportHeader 报警历史导出表头
var AlertExportHeader = []string{
	"Alert ID",
	"Subject Type",
	"Subject ID",
	"Device ID",
	"Alert Type",
	"Alarm Level",
	"Status",
	"Created At",
	"Last Occurred At",
	"Occurrences",
	"Escalations",
	"Acknowledged By",
	"Acknowledged At",
	"Resolved By",
	"Resolved At",
	"Resolve Note",
	"Delivery Failures",
}

var columnWidths = []float64{38, 12, 38, 38, 24, 12, 14, 20, 20, 12, 12, 38, 20, 38, 20, 30, 16}

const timeLayout = "2006-01-02 15:04:05"

// ExportAlerts 把报警列表写成 xlsx；loc 为 nil 时使用 UTC
func ExportAlerts(w io.Writer, alerts []*models.Alert, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range AlertExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(SheetName, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(SheetName, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(SheetName, name, name, columnWidths[col]); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, a := range alerts {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		row := alertRow(a, loc)
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	// 冻结表头
	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func alertRow(a *models.Alert, loc *time.Location) []interface{} {
	return []interface{}{
		a.ID,
		string(a.Subject.Type),
		a.Subject.ID,
		a.DeviceID,
		a.AlertType,
		string(a.Level),
		string(a.Status),
		formatTime(&a.CreatedAt, loc),
		formatTime(&a.LastOccurredAt, loc),
		a.OccurrenceCount,
		a.EscalationCount,
		deref(a.AcknowledgedBy),
		formatTime(a.AcknowledgedAt, loc),
		deref(a.ResolvedBy),
		formatTime(a.ResolvedAt, loc),
		deref(a.ResolveNote),
		len(a.DeliveryFailures),
	}
}

func formatTime(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.In(loc).Format(timeLayout)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
