package bot

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casitas/internal/clock"
	"casitas/internal/models"
	"casitas/internal/service"
	"casitas/internal/session"
	"casitas/internal/storage"
)

type fakeTelegram struct {
	mu   sync.Mutex
	sent []tgbotapi.Chattable
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeTelegram) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeTelegram) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeTelegram) SelfUser() tgbotapi.User {
	return tgbotapi.User{UserName: "casitas_test_bot"}
}

func (f *fakeTelegram) lastMessageText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if m, ok := f.sent[i].(tgbotapi.MessageConfig); ok {
			return m.Text
		}
	}
	return ""
}

const managerID = int64(999)

func newTestBot(t *testing.T) (*Bot, *fakeTelegram, *storage.DB) {
	t.Helper()
	logger := zerolog.Nop()
	db, err := storage.NewMemory(&logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.CreateProperty(context.Background(), &models.Property{
		Name: "Домик у озера", IsActive: true,
	}))

	svc := service.NewReservationService(db, nil, nil, clock.Real{}, &logger)
	tg := &fakeTelegram{}
	b, err := NewWithTelegramClient(tg, svc, db, session.NewStore(time.Minute), nil, []int64{managerID}, &logger)
	require.NoError(t, err)
	return b, tg, db
}

func callback(userID, chatID int64, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "cq",
		From:    &tgbotapi.User{ID: userID},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	}
}

func TestDialogFlow_CreatesPendingBooking(t *testing.T) {
	b, tg, db := newTestBot(t)
	ctx := context.Background()
	userID := int64(42)
	date := time.Now().AddDate(0, 0, 3).Format("2006-01-02")

	b.startReservationFlow(ctx, userID, userID)
	b.handleCallback(ctx, callback(userID, userID, "prop:1"))
	b.handleCallback(ctx, callback(userID, userID, "date:"+date))
	b.handleCallback(ctx, callback(userID, userID, "shift:day"))
	b.handleCallback(ctx, callback(userID, userID, "confirm"))

	assert.Contains(t, tg.lastMessageText(), "Заявка создана")

	bookings, err := db.ListRequesterBookings(ctx, userID, 0)
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, models.StatusPending, bookings[0].Status)
	assert.Equal(t, models.ShiftDay, bookings[0].Shift)
}

func TestDialogFlow_OccupiedSlotStaysInDialog(t *testing.T) {
	b, tg, _ := newTestBot(t)
	ctx := context.Background()
	date := time.Now().AddDate(0, 0, 3)

	_, err := b.reservations.Reserve(ctx, 1, 7, date, models.ShiftNight)
	require.NoError(t, err)

	userID := int64(42)
	dateStr := date.Format("2006-01-02")
	b.startReservationFlow(ctx, userID, userID)
	b.handleCallback(ctx, callback(userID, userID, "prop:1"))
	b.handleCallback(ctx, callback(userID, userID, "date:"+dateStr))
	b.handleCallback(ctx, callback(userID, userID, "shift:night"))
	b.handleCallback(ctx, callback(userID, userID, "confirm"))

	// Slot was taken: dialog offers the shift picker again.
	s := b.sessions.Get(userID)
	require.NotNil(t, s)
	assert.Equal(t, session.StateAskShift, s.GetState())

	bookings, err := b.reservations.UserBookings(ctx, userID, 0)
	require.NoError(t, err)
	assert.Empty(t, bookings)
	assert.Contains(t, tg.lastMessageText(), "Выберите смену")
}

func TestManagerVerdict(t *testing.T) {
	b, tg, _ := newTestBot(t)
	ctx := context.Background()
	date := time.Now().AddDate(0, 0, 3)

	created, err := b.reservations.Reserve(ctx, 1, 42, date, models.ShiftFullDay)
	require.NoError(t, err)

	b.handleCallback(ctx, callback(managerID, managerID, "mgr:confirm:"+created.ID))
	assert.Contains(t, tg.lastMessageText(), "подтверждена")

	got, err := b.reservations.Lookup(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)

	// Repeating the verdict is a no-op, not an error.
	b.handleCallback(ctx, callback(managerID, managerID, "mgr:confirm:"+created.ID))
	assert.Contains(t, tg.lastMessageText(), "подтверждена")
}

func TestManagerVerdict_IgnoresNonManager(t *testing.T) {
	b, _, _ := newTestBot(t)
	ctx := context.Background()
	date := time.Now().AddDate(0, 0, 3)

	created, err := b.reservations.Reserve(ctx, 1, 42, date, models.ShiftDay)
	require.NoError(t, err)

	b.handleCallback(ctx, callback(42, 42, "mgr:reject:"+created.ID))

	got, err := b.reservations.Lookup(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestShiftLabel(t *testing.T) {
	for _, s := range models.Shifts {
		assert.NotEqual(t, string(s), shiftLabel(s), "shift %s has no label", s)
	}
	assert.Equal(t, "brunch", shiftLabel(models.Shift("brunch")))
}

func TestFormatBookingLine(t *testing.T) {
	price := 4500.0
	bk := &models.Booking{
		ID:     "0195f1f4-0000-7000-8000-000000000000",
		Date:   time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		Shift:  models.ShiftNight,
		Status: models.StatusConfirmed,
		Price:  &price,
	}
	line := formatBookingLine(bk)
	assert.Contains(t, line, "#0195f1f4")
	assert.Contains(t, line, "10.06")
	assert.Contains(t, line, "4500.00")
}

func TestGenerateCalendarKeyboard(t *testing.T) {
	markup := GenerateCalendarKeyboard(2025, 6, nil)

	// Header + weekday row + week rows + back row.
	require.GreaterOrEqual(t, len(markup.InlineKeyboard), 7)

	var dates int
	for _, row := range markup.InlineKeyboard {
		for _, btn := range row {
			if btn.CallbackData != nil && len(*btn.CallbackData) > 5 && (*btn.CallbackData)[:5] == "date:" {
				dates++
			}
		}
	}
	assert.Equal(t, 30, dates)
}

func TestFormatPendingDigest(t *testing.T) {
	pending := []models.Booking{
		{ID: "aaaaaaaa-1111", Date: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), Shift: models.ShiftDay, Status: models.StatusPending},
		{ID: "bbbbbbbb-2222", Date: time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC), Shift: models.ShiftNight, Status: models.StatusPending},
	}
	text := formatPendingDigest(pending)
	assert.Contains(t, text, "Заявок без решения: 2")
	assert.Contains(t, text, "#aaaaaaaa")
	assert.Contains(t, text, "#bbbbbbbb")
}

func TestTimeUntilNextHour(t *testing.T) {
	d := timeUntilNextHour(9)
	assert.Greater(t, d, time.Duration(0))
	assert.LessOrEqual(t, d, 24*time.Hour)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "#abc", shortID("abc"))
	assert.Equal(t, fmt.Sprintf("#%s", "12345678"), shortID("123456789-abcdef"))
}
