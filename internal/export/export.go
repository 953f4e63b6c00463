package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tripline/internal/config"
	"tripline/internal/domain"
	"tripline/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Bookings"

// Exporter writes the user's cached bookings to an XLSX file. The export
// reads the local mirror only, so it works offline too.
type Exporter struct {
	cache  domain.LocalCache
	path   string
	logger *zerolog.Logger
}

func NewExporter(cache domain.LocalCache, cfg config.ExportConfig, logger *zerolog.Logger) *Exporter {
	return &Exporter{
		cache:  cache,
		path:   cfg.Path,
		logger: logger,
	}
}

var columns = []string{"ID", "Service", "Type", "Location", "Customer", "Start", "End", "Guests", "Amount", "Currency", "Status", "Payment", "Synced"}

// ExportBookings renders the cached list into a spreadsheet and returns the
// file path.
func (e *Exporter) ExportBookings(ctx context.Context, userID string) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	bookings, err := e.cache.LoadUserBookings(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("error loading bookings: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Bookings for %s, exported %s",
		userID, time.Now().Format("02.01.2006 15:04")))

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})

	for i, title := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, title)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for i, booking := range bookings {
		e.writeBookingRow(f, i+3, &booking)
	}

	_ = f.SetColWidth(sheetName, "A", "A", 24)
	_ = f.SetColWidth(sheetName, "B", "E", 22)
	_ = f.SetColWidth(sheetName, "F", "M", 14)

	lastCol, _ := excelize.CoordinatesToCellName(len(columns), 1)
	_ = f.MergeCell(sheetName, "A1", lastCol)

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("bookings_%s_%s.xlsx", userID, time.Now().Format("2006-01-02"))
	filePath := filepath.Join(e.path, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("bookings", len(bookings)).Msg("export file created")
	return filePath, nil
}

func (e *Exporter) writeBookingRow(f *excelize.File, row int, booking *models.Booking) {
	end := ""
	if booking.EndDate != nil {
		end = booking.EndDate.Format("2006-01-02")
	}
	synced := "yes"
	if booking.Pending {
		synced = "queued"
	}

	values := []any{
		booking.Key(),
		booking.ServiceName,
		booking.ServiceType,
		booking.Location,
		booking.CustomerName,
		booking.StartDate.Format("2006-01-02"),
		end,
		booking.Guests,
		booking.Amount,
		booking.Currency,
		booking.Status,
		booking.PaymentStatus,
		synced,
	}
	for i, value := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheetName, cell, value)
	}
}
