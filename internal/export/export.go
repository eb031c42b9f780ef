// Package export produces xlsx reports of the booking history for
// managers.
package export

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"casitas/internal/models"
)

// Source supplies the data to export.
type Source interface {
	ListActiveProperties(ctx context.Context) ([]models.Property, error)
	ListPropertyBookings(ctx context.Context, propertyID int64) ([]models.Booking, error)
}

// Exporter writes one sheet per property with the full booking history.
type Exporter struct {
	source Source
	logger *zerolog.Logger
}

// NewExporter builds the exporter.
func NewExporter(source Source, logger *zerolog.Logger) *Exporter {
	return &Exporter{source: source, logger: logger}
}

var historyColumns = []string{"Заявка", "Дата", "Смена", "Статус", "Заявитель", "Стоимость", "Создана", "Обновлена"}

// WriteHistory streams the workbook into w.
func (e *Exporter) WriteHistory(ctx context.Context, w io.Writer) error {
	f, err := e.buildWorkbook(ctx)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// SaveHistory writes the workbook to disk.
func (e *Exporter) SaveHistory(ctx context.Context, path string) error {
	f, err := e.buildWorkbook(ctx)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(path)
}

func (e *Exporter) buildWorkbook(ctx context.Context) (*excelize.File, error) {
	props, err := e.source.ListActiveProperties(ctx)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	if len(props) == 0 {
		return nil, fmt.Errorf("no active properties to export")
	}

	f := excelize.NewFile()
	wr := &sheetWriter{file: f}
	for _, p := range props {
		bookings, err := e.source.ListPropertyBookings(ctx, p.ID)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("list bookings for property %d: %w", p.ID, err)
		}

		if err := wr.addSheet(p.Name); err != nil {
			f.Close()
			return nil, err
		}
		if err := wr.writeHeader(historyColumns); err != nil {
			f.Close()
			return nil, err
		}
		for i := range bookings {
			if err := wr.writeRow(historyRow(&bookings[i])); err != nil {
				f.Close()
				return nil, err
			}
		}
		e.logger.Debug().
			Int64("property_id", p.ID).
			Int("bookings", len(bookings)).
			Msg("export sheet written")
	}
	return f, nil
}

func historyRow(b *models.Booking) []interface{} {
	price := ""
	if b.Price != nil {
		price = fmt.Sprintf("%.2f", *b.Price)
	}
	return []interface{}{
		b.ID,
		b.Date.Format("2006-01-02"),
		string(b.Shift),
		b.Status,
		b.RequesterID,
		price,
		b.CreatedAt.Format("2006-01-02 15:04:05"),
		b.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
}

// sheetWriter tracks the cursor while filling a workbook.
type sheetWriter struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

func (w *sheetWriter) addSheet(name string) error {
	// Excel caps sheet names at 31 chars.
	if len(name) > 31 {
		name = name[:31]
	}

	if w.currentSheet == "" {
		w.file.SetSheetName("Sheet1", name)
	} else {
		if _, err := w.file.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	w.currentSheet = name
	w.currentRow = 1
	return nil
}

func (w *sheetWriter) writeHeader(columns []string) error {
	row := make([]interface{}, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	if err := w.writeCells(row); err != nil {
		return err
	}

	style, err := w.file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	if err == nil {
		startCell, _ := excelize.CoordinatesToCellName(1, w.currentRow)
		endCell, _ := excelize.CoordinatesToCellName(len(columns), w.currentRow)
		_ = w.file.SetCellStyle(w.currentSheet, startCell, endCell, style)
	}

	w.currentRow++
	return nil
}

func (w *sheetWriter) writeRow(row []interface{}) error {
	if err := w.writeCells(row); err != nil {
		return err
	}
	w.currentRow++
	return nil
}

func (w *sheetWriter) writeCells(values []interface{}) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, w.currentRow)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(w.currentSheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

// MonthNames in Russian for filename generation.
var MonthNames = map[time.Month]string{
	time.January:   "Январь",
	time.February:  "Февраль",
	time.March:     "Март",
	time.April:     "Апрель",
	time.May:       "Май",
	time.June:      "Июнь",
	time.July:      "Июль",
	time.August:    "Август",
	time.September: "Сентябрь",
	time.October:   "Октябрь",
	time.November:  "Ноябрь",
	time.December:  "Декабрь",
}

// GenerateFilename creates a filename like "Январь_2026.xlsx".
func GenerateFilename(t time.Time) string {
	return fmt.Sprintf("%s_%d.xlsx", MonthNames[t.Month()], t.Year())
}
