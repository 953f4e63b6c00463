package export

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tripline/internal/config"
	"tripline/internal/database"
	"tripline/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestExportBookings(t *testing.T) {
	dir := t.TempDir()

	store, err := database.NewStore(filepath.Join(dir, "tripline.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	bookings := []models.Booking{
		{
			ID: "srv-1", UserID: "user-1", ServiceName: "Douro Wine Tour", ServiceType: "event",
			CustomerName: "Joana Reis", CustomerEmail: "joana@example.com",
			StartDate: time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC),
			Guests:    2, Amount: 120, Currency: "EUR",
			Status: models.StatusConfirmed, PaymentStatus: models.PaymentPaid,
		},
		{
			LocalKey: "local-1", UserID: "user-1", ServiceName: "Porto Apartment", ServiceType: "stay",
			CustomerName: "Joana Reis", CustomerEmail: "joana@example.com",
			StartDate: time.Date(2026, 10, 6, 0, 0, 0, 0, time.UTC),
			Guests:    2, Amount: 300, Currency: "EUR",
			Status: models.StatusPending, PaymentStatus: models.PaymentPending,
			Pending: true,
		},
	}
	require.NoError(t, store.ReplaceUserBookings(ctx, "user-1", bookings))

	logger := zerolog.Nop()
	exporter := NewExporter(store, config.ExportConfig{Path: filepath.Join(dir, "exports")}, &logger)

	path, err := exporter.ExportBookings(ctx, "user-1")
	require.NoError(t, err)
	assert.FileExists(t, path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4) // title, header, two bookings

	assert.Equal(t, "ID", rows[1][0])
	assert.Equal(t, "srv-1", rows[2][0])
	assert.Equal(t, "yes", rows[2][12])
	assert.Equal(t, "local-1", rows[3][0])
	assert.Equal(t, "queued", rows[3][12])
}

func TestExportBookings_EmptyCache(t *testing.T) {
	dir := t.TempDir()

	store, err := database.NewStore(filepath.Join(dir, "tripline.db"))
	require.NoError(t, err)
	defer store.Close()

	logger := zerolog.Nop()
	exporter := NewExporter(store, config.ExportConfig{Path: filepath.Join(dir, "exports")}, &logger)

	path, err := exporter.ExportBookings(context.Background(), "user-1")
	require.NoError(t, err)
	assert.FileExists(t, path)
}
