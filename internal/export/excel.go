// Package export renders booking reports as xlsx files. It takes plain
// booking slices and has no reach into storage.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"leihsy/internal/derive"
	"leihsy/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const reportSheet = "Bookings"

type Exporter struct {
	path   string
	logger *zerolog.Logger
}

func NewExporter(path string, logger *zerolog.Logger) *Exporter {
	return &Exporter{path: path, logger: logger}
}

// BookingsReport writes every booking whose rental window overlaps
// [from, to] into a spreadsheet and returns the file path.
func (e *Exporter) BookingsReport(bookings []models.Booking, from, to time.Time) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(reportSheet)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(reportSheet, "A1", fmt.Sprintf("Bookings %s - %s",
		from.Format("2006-01-02"), to.Format("2006-01-02")))
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(reportSheet, "A1", "A1", titleStyle)
	_ = f.MergeCell(reportSheet, "A1", "L1")

	headers := []string{
		"ID", "Requester", "Lender", "Product", "Inventory", "Status",
		"Start", "End", "Pickup", "Distributed", "Returned", "Days overdue",
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(reportSheet, cell, h)
		_ = f.SetCellStyle(reportSheet, cell, cell, headerStyle)
	}

	now := time.Now()
	row := 3
	for i := range bookings {
		b := &bookings[i]
		if b.EndDate.Before(from) || b.StartDate.After(to) {
			continue
		}

		values := []interface{}{
			b.ID,
			b.UserName,
			b.LenderName,
			b.ProductName,
			b.ItemInvNumber,
			models.StatusInfoFor(b.Status).Label,
			b.StartDate.Format("2006-01-02"),
			b.EndDate.Format("2006-01-02"),
			b.ConfirmedPickup,
			formatOptional(b.DistributionDate),
			formatOptional(b.ReturnDate),
			derive.DaysOverdue(b, now),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(reportSheet, cell, v)
		}
		row++
	}

	_ = f.SetColWidth(reportSheet, "A", "A", 8)
	_ = f.SetColWidth(reportSheet, "B", "L", 20)
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("bookings_%s_to_%s.xlsx",
		from.Format("2006-01-02"), to.Format("2006-01-02"))
	filePath := filepath.Join(e.path, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Msg("bookings report created")
	return filePath, nil
}

func formatOptional(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}
