package export

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"casitas/internal/models"
	"casitas/internal/storage"
)

func newTestSource(t *testing.T) *storage.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := storage.NewMemory(&logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestWriteHistory(t *testing.T) {
	db := newTestSource(t)
	ctx := context.Background()

	cabin := &models.Property{Name: "Домик у озера", IsActive: true}
	require.NoError(t, db.CreateProperty(ctx, cabin))
	house := &models.Property{Name: "Большой дом", IsActive: true}
	require.NoError(t, db.CreateProperty(ctx, house))

	price := 3000.0
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := &models.Booking{
		ID:          models.NewBookingID(),
		PropertyID:  cabin.ID,
		RequesterID: 42,
		Date:        time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		Shift:       models.ShiftNight,
		Status:      models.StatusPending,
		Price:       &price,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	require.NoError(t, db.CreateBookingSlot(ctx, b))

	logger := zerolog.Nop()
	exp := NewExporter(db, &logger)

	var buf bytes.Buffer
	require.NoError(t, exp.WriteHistory(ctx, &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t, []string{"Домик у озера", "Большой дом"}, f.GetSheetList())

	rows, err := f.GetRows("Домик у озера")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, historyColumns, rows[0])
	assert.Equal(t, b.ID, rows[1][0])
	assert.Equal(t, "2025-06-10", rows[1][1])
	assert.Equal(t, "night", rows[1][2])
	assert.Equal(t, "3000.00", rows[1][5])

	// Property without bookings still gets a header-only sheet.
	empty, err := f.GetRows("Большой дом")
	require.NoError(t, err)
	assert.Len(t, empty, 1)
}

func TestWriteHistory_NoProperties(t *testing.T) {
	db := newTestSource(t)
	logger := zerolog.Nop()
	exp := NewExporter(db, &logger)

	var buf bytes.Buffer
	assert.Error(t, exp.WriteHistory(context.Background(), &buf))
}

func TestGenerateFilename(t *testing.T) {
	assert.Equal(t, "Июнь_2025.xlsx", GenerateFilename(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Январь_2026.xlsx", GenerateFilename(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestSheetWriter_SheetNameTruncated(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	w := &sheetWriter{file: f}
	long := "a very long property name that does not fit the excel limit"
	require.NoError(t, w.addSheet(long))
	assert.LessOrEqual(t, len(w.currentSheet), 31)
}
