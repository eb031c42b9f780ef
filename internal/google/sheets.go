// Package google mirrors the booking ledger into a Google Spreadsheet so
// managers can watch it outside Telegram.
package google

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"casitas/internal/models"
)

const (
	ledgerSheet   = "Бронирования"
	scheduleSheet = "Календарь"
)

var ledgerHeaders = []interface{}{
	"ID", "Объект", "Дата", "Смена", "Статус", "Заявитель", "Стоимость", "Создана", "Обновлена",
}

// SheetsService mirrors bookings into one spreadsheet. All writes are best
// effort; the reservation core never depends on the mirror.
type SheetsService struct {
	srv           *sheets.Service
	spreadsheetID string
	logger        *zerolog.Logger

	// rowCache maps booking id to its 1-based row on the ledger sheet.
	mu       sync.Mutex
	rowCache map[string]int
}

// NewSheetsService builds the mirror from a service account credentials file.
func NewSheetsService(ctx context.Context, credentialsFile, spreadsheetID string, logger *zerolog.Logger) (*SheetsService, error) {
	srv, err := sheets.NewService(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	return &SheetsService{
		srv:           srv,
		spreadsheetID: spreadsheetID,
		logger:        logger,
		rowCache:      make(map[string]int),
	}, nil
}

// NewSheetsServiceFromJSON builds the mirror from in-memory service account
// credentials, for deployments that inject secrets via the environment.
func NewSheetsServiceFromJSON(ctx context.Context, credentialsJSON []byte, spreadsheetID string, logger *zerolog.Logger) (*SheetsService, error) {
	cfg, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	srv, err := sheets.NewService(ctx, option.WithTokenSource(cfg.TokenSource(ctx)))
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	return &SheetsService{
		srv:           srv,
		spreadsheetID: spreadsheetID,
		logger:        logger,
		rowCache:      make(map[string]int),
	}, nil
}

// SyncBooking upserts one booking row on the ledger sheet.
func (s *SheetsService) SyncBooking(ctx context.Context, b *models.Booking, propertyName string) error {
	row, ok := s.getCachedRow(b.ID)
	if !ok {
		var err error
		row, err = s.findRow(ctx, b.ID)
		if err != nil {
			return err
		}
	}

	values := bookingRowValues(b, propertyName)
	if row == 0 {
		appended, err := s.srv.Spreadsheets.Values.Append(
			s.spreadsheetID,
			ledgerSheet+"!A:I",
			&sheets.ValueRange{Values: [][]interface{}{values}},
		).ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("append booking row: %w", err)
		}
		if appended.Updates != nil {
			if n := parseRowFromRange(appended.Updates.UpdatedRange); n > 0 {
				s.setCachedRow(b.ID, n)
			}
		}
		return nil
	}

	_, err := s.srv.Spreadsheets.Values.Update(
		s.spreadsheetID,
		fmt.Sprintf("%s!A%d:I%d", ledgerSheet, row, row),
		&sheets.ValueRange{Values: [][]interface{}{values}},
	).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		s.deleteCacheRow(b.ID)
		return fmt.Errorf("update booking row %d: %w", row, err)
	}
	s.setCachedRow(b.ID, row)
	return nil
}

// SyncAll rewrites the ledger sheet from scratch. Terminal-but-recent rows
// are kept so managers see the outcome, not just open requests.
func (s *SheetsService) SyncAll(ctx context.Context, bookings []models.Booking, propertyNames map[int64]string) error {
	values := [][]interface{}{ledgerHeaders}
	s.ClearCache()
	for i := range bookings {
		b := &bookings[i]
		values = append(values, bookingRowValues(b, propertyNames[b.PropertyID]))
		s.setCachedRow(b.ID, len(values))
	}

	_, err := s.srv.Spreadsheets.Values.Update(
		s.spreadsheetID,
		ledgerSheet+"!A1",
		&sheets.ValueRange{Values: values},
	).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		s.ClearCache()
		return fmt.Errorf("rewrite ledger: %w", err)
	}
	s.logger.Info().Int("rows", len(values)-1).Msg("sheets ledger synced")
	return nil
}

// WriteSchedule renders the occupancy grid: one row per property, one
// column per date, a cell lists the claimed shifts.
func (s *SheetsService) WriteSchedule(ctx context.Context, props []models.Property, bookings []models.Booking, start, end time.Time) error {
	headers, cols := s.prepareDateHeaders(start, end)
	bookings = s.filterActiveBookings(bookings)

	values := [][]interface{}{headers}
	for _, p := range props {
		row := make([]interface{}, 0, cols+1)
		row = append(row, p.Name)
		for d := 0; d < cols; d++ {
			day := models.DateOnly(start.AddDate(0, 0, d))
			cell, _ := s.formatScheduleCell(p, bookingsFor(bookings, p.ID, day))
			row = append(row, cell)
		}
		values = append(values, row)
	}

	_, err := s.srv.Spreadsheets.Values.Update(
		s.spreadsheetID,
		scheduleSheet+"!A1",
		&sheets.ValueRange{Values: values},
	).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write schedule: %w", err)
	}
	return nil
}

// findRow scans the id column for the booking. Returns 0 when absent.
func (s *SheetsService) findRow(ctx context.Context, bookingID string) (int, error) {
	resp, err := s.srv.Spreadsheets.Values.Get(s.spreadsheetID, ledgerSheet+"!A:A").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read id column: %w", err)
	}
	for i, row := range resp.Values {
		if len(row) > 0 && fmt.Sprint(row[0]) == bookingID {
			return i + 1, nil
		}
	}
	return 0, nil
}

func (s *SheetsService) filterActiveBookings(bookings []models.Booking) []models.Booking {
	active := make([]models.Booking, 0, len(bookings))
	for _, b := range bookings {
		if b.OccupiesSlot() {
			active = append(active, b)
		}
	}
	return active
}

func (s *SheetsService) prepareDateHeaders(start, end time.Time) ([]interface{}, int) {
	headers := []interface{}{"Объект"}
	cols := 0
	for d := models.DateOnly(start); !d.After(models.DateOnly(end)); d = d.AddDate(0, 0, 1) {
		headers = append(headers, d.Format("02.01"))
		cols++
	}
	return headers, cols
}

// formatScheduleCell summarizes one property day. The color mirrors the
// load: nil for free, amber for partially claimed, red for a full-unit
// shift.
func (s *SheetsService) formatScheduleCell(p models.Property, dayBookings []models.Booking) (string, *sheets.Color) {
	if len(dayBookings) == 0 {
		return "—", nil
	}

	full := false
	parts := make([]string, 0, len(dayBookings))
	for i := range dayBookings {
		b := &dayBookings[i]
		if b.Shift == models.ShiftFullDay || b.Shift == models.ShiftFullNight {
			full = true
		}
		parts = append(parts, string(b.Shift))
	}

	if full {
		return strings.Join(parts, ", "), &sheets.Color{Red: 0.9, Green: 0.4, Blue: 0.4}
	}
	return strings.Join(parts, ", "), &sheets.Color{Red: 0.98, Green: 0.85, Blue: 0.4}
}

func bookingsFor(bookings []models.Booking, propertyID int64, day time.Time) []models.Booking {
	var out []models.Booking
	for _, b := range bookings {
		if b.PropertyID == propertyID && b.OccupiesSlot() && models.DateOnly(b.Date).Equal(day) {
			out = append(out, b)
		}
	}
	return out
}

func bookingRowValues(b *models.Booking, propertyName string) []interface{} {
	price := ""
	if b.Price != nil {
		price = fmt.Sprintf("%.2f", *b.Price)
	}
	return []interface{}{
		b.ID,
		propertyName,
		b.Date.Format("2006-01-02"),
		string(b.Shift),
		b.Status,
		b.RequesterID,
		price,
		b.CreatedAt.Format("2006-01-02 15:04:05"),
		b.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
}

// parseRowFromRange extracts the row number from a range like
// "Бронирования!A12:I12".
func parseRowFromRange(rng string) int {
	idx := strings.LastIndex(rng, "!A")
	if idx < 0 {
		return 0
	}
	rest := rng[idx+2:]
	n := 0
	for _, r := range rest {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func (s *SheetsService) getCachedRow(id string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *SheetsService) setCachedRow(id string, row int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowCache[id] = row
}

func (s *SheetsService) deleteCacheRow(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rowCache, id)
}

// ClearCache drops the row cache; the next sync rebuilds it.
func (s *SheetsService) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowCache = make(map[string]int)
}
