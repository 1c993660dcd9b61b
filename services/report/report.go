// Package reportsvc builds the xlsx workbooks admins export from the
// dashboard.
package reportsvc

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/chuoapp/chuo/core/application"
	"github.com/chuoapp/chuo/core/complaint"
)

const timeLayout = "2006-01-02 15:04"

// WriteApplicationsReport writes one sheet of application rows and one of
// summary stats.
func WriteApplicationsReport(w io.Writer, apps []application.Application, stats application.Stats) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Applications"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"ID", "Owner", "Category", "Subject", "Amount", "Priority", "Status", "Reviewed At", "Created At"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, app := range apps {
		row := i + 2
		setRow(f, sheet, row,
			app.ID,
			app.OwnerName,
			app.Category,
			app.Subject,
			app.Amount,
			app.Priority,
			app.Status,
			formatTimePtr(app.ReviewedAt),
			app.CreatedAt.Format(timeLayout),
		)
	}

	statsSheet := "Stats"
	_, err := f.NewSheet(statsSheet)
	if err != nil {
		return err
	}
	setStat(f, statsSheet, 1, "Total", stats.Total)
	setStat(f, statsSheet, 2, "Pending", stats.Pending)
	setStat(f, statsSheet, 3, "Approved", stats.Approved)
	setStat(f, statsSheet, 4, "Rejected", stats.Rejected)
	setStat(f, statsSheet, 5, "High Priority", stats.HighPriority)
	setStat(f, statsSheet, 6, "Today", stats.Today)
	setStat(f, statsSheet, 7, "Avg Resolution Time", stats.AverageResolutionTime)

	_, err = f.WriteTo(w)
	return err
}

// WriteComplaintsReport writes one sheet of complaint rows and one of
// summary stats.
func WriteComplaintsReport(w io.Writer, complaints []complaint.Complaint, stats complaint.Stats) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Complaints"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"ID", "Owner", "Category", "Subject", "Status", "Resolved At", "Created At"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, c := range complaints {
		row := i + 2
		setRow(f, sheet, row,
			c.ID,
			c.OwnerName,
			c.Category,
			c.Subject,
			c.Status,
			formatTimePtr(c.ResolvedAt),
			c.CreatedAt.Format(timeLayout),
		)
	}

	statsSheet := "Stats"
	_, err := f.NewSheet(statsSheet)
	if err != nil {
		return err
	}
	setStat(f, statsSheet, 1, "Total", stats.Total)
	setStat(f, statsSheet, 2, "Pending", stats.Pending)
	setStat(f, statsSheet, 3, "In Progress", stats.InProgress)
	setStat(f, statsSheet, 4, "Resolved", stats.Resolved)
	setStat(f, statsSheet, 5, "Rejected", stats.Rejected)
	setStat(f, statsSheet, 6, "Today", stats.Today)
	setStat(f, statsSheet, 7, "Avg Resolution Time", stats.AverageResolutionTime)

	_, err = f.WriteTo(w)
	return err
}

func setRow(f *excelize.File, sheet string, row int, values ...interface{}) {
	for i, val := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, val)
	}
}

func setStat(f *excelize.File, sheet string, row int, label string, val interface{}) {
	_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), label)
	_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), val)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(timeLayout)
}
