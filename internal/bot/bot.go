// Package bot is the Telegram channel for the reservation engine. It walks a
// requester through property, date and shift selection, then hands the
// collected parameters to the coordinator.
package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"casitas/internal/export"
	"casitas/internal/models"
	"casitas/internal/repository"
	"casitas/internal/service"
	"casitas/internal/session"
)

// Bot wraps the Telegram transport around the reservation dialog.
type Bot struct {
	tg           telegramClient
	reservations Coordinator
	properties   PropertySource
	sessions     *session.Store
	fsm          *session.FSM
	states       repository.StateRepository // nil disables persistence
	managers     map[int64]struct{}
	limiter      *rate.Limiter
	logger       *zerolog.Logger

	pendingWindow time.Duration
	exporter      *export.Exporter // nil disables /export
}

// SetPendingWindow aligns the copy about automatic expiry with the sweeper
// configuration.
func (b *Bot) SetPendingWindow(d time.Duration) {
	if d > 0 {
		b.pendingWindow = d
	}
}

// SetExporter enables the /export manager command.
func (b *Bot) SetExporter(e *export.Exporter) {
	b.exporter = e
}

// New connects to Telegram and builds the bot.
func New(
	token string,
	reservations Coordinator,
	properties PropertySource,
	sessions *session.Store,
	states repository.StateRepository,
	managers []int64,
	logger *zerolog.Logger,
) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return newBot(&realTelegramClient{api: api}, reservations, properties, sessions, states, managers, logger)
}

// NewWithTelegramClient allows injecting a mocked Telegram client for tests.
func NewWithTelegramClient(
	tg telegramClient,
	reservations Coordinator,
	properties PropertySource,
	sessions *session.Store,
	states repository.StateRepository,
	managers []int64,
	logger *zerolog.Logger,
) (*Bot, error) {
	return newBot(tg, reservations, properties, sessions, states, managers, logger)
}

func newBot(
	tg telegramClient,
	reservations Coordinator,
	properties PropertySource,
	sessions *session.Store,
	states repository.StateRepository,
	managers []int64,
	logger *zerolog.Logger,
) (*Bot, error) {
	if tg == nil {
		return nil, fmt.Errorf("telegram client is nil")
	}
	mgrs := make(map[int64]struct{})
	for _, id := range managers {
		mgrs[id] = struct{}{}
	}
	return &Bot{
		tg:           tg,
		reservations: reservations,
		properties:   properties,
		sessions:     sessions,
		fsm:          session.NewFSM(),
		states:       states,
		managers:     mgrs,
		// Telegram caps bots around 30 messages per second.
		limiter:       rate.NewLimiter(rate.Limit(25), 5),
		logger:        logger,
		pendingWindow: 15 * time.Minute,
	}, nil
}

var (
	mainMenu = tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("🗓 Забронировать"),
			tgbotapi.NewKeyboardButton("📌 Мои брони"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("ℹ️ Помощь"),
		),
	)

	managerMenu = tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("🗓 Забронировать"),
			tgbotapi.NewKeyboardButton("📌 Мои брони"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("📥 Заявки"),
			tgbotapi.NewKeyboardButton("ℹ️ Помощь"),
		),
	)
)

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.tg.GetUpdatesChan(u)
	b.logger.Info().Str("username", b.tg.SelfUser().UserName).Msg("bot authorized")

	for {
		select {
		case <-ctx.Done():
			return
		case update := <-updates:
			requestID := uuid.New().String()
			l := b.logger.With().Str("request_id", requestID).Logger()
			b.handleUpdate(l.WithContext(ctx), &update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update *tgbotapi.Update) {
	l := zerolog.Ctx(ctx)
	if update.CallbackQuery != nil {
		l.Debug().
			Int64("user_id", update.CallbackQuery.From.ID).
			Str("data", update.CallbackQuery.Data).
			Msg("handling callback query")
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	if update.Message != nil {
		l.Debug().
			Int64("user_id", update.Message.From.ID).
			Str("text", update.Message.Text).
			Msg("handling message")
		b.handleMessage(ctx, update.Message)
		return
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg == nil || msg.From == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)

	switch {
	case strings.HasPrefix(text, "/start"):
		b.resetDialog(ctx, msg.From.ID)
		b.sendMainMenu(ctx, msg.Chat.ID, msg.From.ID)
	case text == "🗓 Забронировать" || strings.HasPrefix(text, "/book"):
		b.startReservationFlow(ctx, msg.Chat.ID, msg.From.ID)
	case text == "📌 Мои брони" || strings.HasPrefix(text, "/my_bookings"):
		b.handleMyBookings(ctx, msg.Chat.ID, msg.From.ID)
	case text == "📥 Заявки" && b.isManager(msg.From.ID):
		b.handlePendingRequests(ctx, msg.Chat.ID)
	case strings.HasPrefix(text, "/export") && b.isManager(msg.From.ID):
		b.handleExport(ctx, msg.Chat.ID)
	case text == "ℹ️ Помощь" || strings.HasPrefix(text, "/help"):
		b.reply(ctx, msg.Chat.ID, "Команды: /book — новая бронь, /my_bookings — мои брони, /cancel — прервать диалог")
	case strings.HasPrefix(text, "/cancel"):
		b.resetDialog(ctx, msg.From.ID)
		b.reply(ctx, msg.Chat.ID, "Операция отменена.")
		b.sendMainMenu(ctx, msg.Chat.ID, msg.From.ID)
	default:
		b.reply(ctx, msg.Chat.ID, "Не понимаю. Нажмите /start для меню.")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq == nil || cq.Message == nil {
		return
	}
	data := cq.Data
	_ = b.answerCallback(cq.ID)
	if data == "noop" {
		return
	}

	userID := cq.From.ID
	chatID := cq.Message.Chat.ID

	switch {
	case strings.HasPrefix(data, "prop:"):
		b.handlePropertyCallback(ctx, chatID, userID, strings.TrimPrefix(data, "prop:"))
	case strings.HasPrefix(data, "date:"):
		b.handleDateCallback(ctx, chatID, userID, strings.TrimPrefix(data, "date:"))
	case strings.HasPrefix(data, "shift:"):
		b.handleShiftCallback(ctx, chatID, userID, strings.TrimPrefix(data, "shift:"))
	case strings.HasPrefix(data, "back:"):
		b.handleBack(ctx, chatID, userID, strings.TrimPrefix(data, "back:"))
	case data == "confirm":
		b.handleConfirmCallback(ctx, chatID, userID)
	case data == "cancel":
		b.resetDialog(ctx, userID)
		b.reply(ctx, chatID, "Ок, отменено. /book чтобы начать заново")
	case strings.HasPrefix(data, "mgr:"):
		b.handleManagerVerdict(ctx, chatID, userID, data)
	}
}

func (b *Bot) startReservationFlow(ctx context.Context, chatID, userID int64) {
	s := b.sessions.Reset(userID)
	b.saveDialog(ctx, s)
	b.sendProperties(ctx, chatID)
}

func (b *Bot) handlePropertyCallback(ctx context.Context, chatID, userID int64, idStr string) {
	propertyID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		b.reply(ctx, chatID, "Некорректный объект")
		return
	}
	p, err := b.properties.GetProperty(ctx, propertyID)
	if err != nil {
		b.reply(ctx, chatID, "Не удалось загрузить объект")
		return
	}

	s := b.dialog(ctx, userID)
	if !b.fsm.Transition(s, session.StateAskDate) {
		b.reply(ctx, chatID, "Сценарий устарел, начните заново: /book")
		return
	}
	s.Data.PropertyID = p.ID
	s.Data.PropertyName = p.Name
	b.saveDialog(ctx, s)
	b.sendCalendar(ctx, chatID)
}

func (b *Bot) handleDateCallback(ctx context.Context, chatID, userID int64, dateStr string) {
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		b.reply(ctx, chatID, "Некорректная дата")
		return
	}
	if models.DateOnly(date).Before(models.DateOnly(time.Now())) {
		b.reply(ctx, chatID, "Эта дата уже прошла. Выберите другую.")
		return
	}

	s := b.dialog(ctx, userID)
	if !b.fsm.Transition(s, session.StateAskShift) {
		b.reply(ctx, chatID, "Сценарий устарел, начните заново: /book")
		return
	}
	s.Data.Date = models.DateOnly(date)
	b.saveDialog(ctx, s)
	b.sendShifts(ctx, chatID, s)
}

func (b *Bot) handleShiftCallback(ctx context.Context, chatID, userID int64, raw string) {
	shift, err := models.ParseShift(raw)
	if err != nil {
		b.reply(ctx, chatID, "Некорректная смена")
		return
	}

	s := b.dialog(ctx, userID)
	if !b.fsm.Transition(s, session.StateConfirm) {
		b.reply(ctx, chatID, "Сценарий устарел, начните заново: /book")
		return
	}
	s.Data.Shift = shift
	b.saveDialog(ctx, s)
	b.sendConfirm(ctx, chatID, s)
}

func (b *Bot) handleBack(ctx context.Context, chatID, userID int64, step string) {
	s := b.dialog(ctx, userID)
	switch step {
	case "prop":
		if b.fsm.Transition(s, session.StateAskProperty) {
			b.saveDialog(ctx, s)
			b.sendProperties(ctx, chatID)
			return
		}
	case "date":
		if b.fsm.Transition(s, session.StateAskDate) {
			b.saveDialog(ctx, s)
			b.sendCalendar(ctx, chatID)
			return
		}
	case "shift":
		if b.fsm.Transition(s, session.StateAskShift) {
			b.saveDialog(ctx, s)
			b.sendShifts(ctx, chatID, s)
			return
		}
	}
	b.startReservationFlow(ctx, chatID, userID)
}

func (b *Bot) handleConfirmCallback(ctx context.Context, chatID, userID int64) {
	s := b.dialog(ctx, userID)
	if s.GetState() != session.StateConfirm {
		b.reply(ctx, chatID, "Сценарий устарел, начните заново: /book")
		return
	}

	created, err := b.reservations.Reserve(ctx, s.Data.PropertyID, userID, s.Data.Date, s.Data.Shift)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSlotUnavailable):
			b.reply(ctx, chatID, "Этот слот уже занят. Выберите другую смену или дату.")
			if b.fsm.Transition(s, session.StateAskShift) {
				b.saveDialog(ctx, s)
				b.sendShifts(ctx, chatID, s)
			}
		case service.IsValidation(err):
			b.reply(ctx, chatID, "Заявка не прошла проверку: "+err.Error())
		default:
			// Storage trouble is not "slot taken"; the requester may retry
			// the same slot later.
			b.reply(ctx, chatID, "⚠️ Сервис временно недоступен, бронь не создана. Попробуйте ещё раз через пару минут.")
		}
		return
	}

	b.fsm.Transition(s, session.StateComplete)
	b.resetDialog(ctx, userID)

	price := ""
	if created.Price != nil {
		price = fmt.Sprintf("\nСтоимость: %.2f", *created.Price)
	}
	b.reply(ctx, chatID, fmt.Sprintf(
		"Заявка создана ✅\n\nОбъект: %s\nДата: %s\nСмена: %s%s\n\nСтатус: %s\nМенеджер рассмотрит заявку в течение %d минут, иначе она истечёт автоматически.",
		s.Data.PropertyName,
		created.Date.Format("02.01.2006"),
		shiftLabel(created.Shift),
		price,
		statusLabel(created.Status),
		int(b.pendingWindow.Minutes()),
	))
}

func (b *Bot) handleManagerVerdict(ctx context.Context, chatID, userID int64, data string) {
	if !b.isManager(userID) {
		return
	}

	var verdict, bookingID string
	switch {
	case strings.HasPrefix(data, "mgr:confirm:"):
		verdict = models.StatusConfirmed
		bookingID = strings.TrimPrefix(data, "mgr:confirm:")
	case strings.HasPrefix(data, "mgr:reject:"):
		verdict = models.StatusRejected
		bookingID = strings.TrimPrefix(data, "mgr:reject:")
	default:
		return
	}

	bk, err := b.reservations.SetVerdict(ctx, bookingID, verdict)
	switch {
	case err == nil:
		b.reply(ctx, chatID, fmt.Sprintf("Заявка %s: %s", shortID(bookingID), statusLabel(bk.Status)))
	case errors.Is(err, service.ErrInvalidTransition):
		b.reply(ctx, chatID, "Заявка уже обработана или истекла.")
	case errors.Is(err, service.ErrNotFound):
		b.reply(ctx, chatID, "Заявка не найдена.")
	default:
		b.reply(ctx, chatID, "Не удалось применить решение, попробуйте позже.")
	}
}

func (b *Bot) handleMyBookings(ctx context.Context, chatID, requesterID int64) {
	bookings, err := b.reservations.UserBookings(ctx, requesterID, 10)
	if err != nil {
		b.reply(ctx, chatID, "Не удалось получить брони")
		return
	}
	if len(bookings) == 0 {
		b.reply(ctx, chatID, "У вас пока нет броней")
		return
	}

	var sb strings.Builder
	sb.WriteString("Ваши брони:\n")
	for i := range bookings {
		sb.WriteString(formatBookingLine(&bookings[i]))
		sb.WriteByte('\n')
	}
	b.reply(ctx, chatID, sb.String())
}

func (b *Bot) handlePendingRequests(ctx context.Context, chatID int64) {
	pending, err := b.properties.ListPendingOlderThan(ctx, time.Now())
	if err != nil {
		b.reply(ctx, chatID, "Ошибка получения заявок")
		return
	}
	if len(pending) == 0 {
		b.reply(ctx, chatID, "Нет новых заявок")
		return
	}

	for i := range pending {
		bk := &pending[i]
		b.sendManagerDecisionMessage(ctx, chatID, bk.ID, b.formatRequestInfo(ctx, bk))
	}
}

func (b *Bot) handleExport(ctx context.Context, chatID int64) {
	if b.exporter == nil {
		b.reply(ctx, chatID, "Экспорт не настроен.")
		return
	}

	var buf bytes.Buffer
	if err := b.exporter.WriteHistory(ctx, &buf); err != nil {
		b.logger.Error().Err(err).Msg("history export failed")
		b.reply(ctx, chatID, "Не удалось собрать отчёт.")
		return
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{
		Name:   export.GenerateFilename(time.Now()),
		Reader: &buf,
	})
	doc.Caption = "История бронирований"
	b.send(ctx, doc)
}

func (b *Bot) sendManagerDecisionMessage(ctx context.Context, chatID int64, bookingID, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Подтвердить", "mgr:confirm:"+bookingID),
			tgbotapi.NewInlineKeyboardButtonData("❌ Отклонить", "mgr:reject:"+bookingID),
		),
	)
	b.send(ctx, msg)
}

func (b *Bot) sendProperties(ctx context.Context, chatID int64) {
	props, err := b.properties.ListActiveProperties(ctx)
	if err != nil {
		b.reply(ctx, chatID, "Не удалось загрузить объекты")
		return
	}
	if len(props) == 0 {
		b.reply(ctx, chatID, "Нет доступных объектов")
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, p := range props {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(p.Name, fmt.Sprintf("prop:%d", p.ID)),
		))
	}

	msg := tgbotapi.NewMessage(chatID, "Выберите объект:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.send(ctx, msg)
}

func (b *Bot) sendCalendar(ctx context.Context, chatID int64) {
	now := time.Now()
	out := tgbotapi.NewMessage(chatID, "Выберите дату:")
	out.ReplyMarkup = GenerateCalendarKeyboard(now.Year(), int(now.Month()), nil)
	b.send(ctx, out)
}

func (b *Bot) sendShifts(ctx context.Context, chatID int64, s *session.Session) {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(models.Shifts)+1)
	for _, shift := range models.Shifts {
		label := shiftLabel(shift)
		if free, err := b.reservations.IsAvailable(ctx, s.Data.PropertyID, s.Data.Date, shift); err == nil {
			if free {
				label += " ✅"
			} else {
				label += " ❌"
			}
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, "shift:"+string(shift)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", "back:date"),
	))

	out := tgbotapi.NewMessage(chatID, fmt.Sprintf("Выберите смену на %s:", s.Data.Date.Format("02.01.2006")))
	out.ReplyMarkup = tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
	b.send(ctx, out)
}

func (b *Bot) sendConfirm(ctx context.Context, chatID int64, s *session.Session) {
	text := fmt.Sprintf("Проверьте данные:\n\nОбъект: %s\nДата: %s\nСмена: %s\n\nОтправить заявку?",
		s.Data.PropertyName, s.Data.Date.Format("02.01.2006"), shiftLabel(s.Data.Shift))

	rows := [][]tgbotapi.InlineKeyboardButton{
		{
			tgbotapi.NewInlineKeyboardButtonData("✅ Подтвердить", "confirm"),
			tgbotapi.NewInlineKeyboardButtonData("❌ Отмена", "cancel"),
		},
		{
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", "back:shift"),
		},
	}
	out := tgbotapi.NewMessage(chatID, text)
	out.ReplyMarkup = tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
	b.send(ctx, out)
}

func (b *Bot) sendMainMenu(ctx context.Context, chatID, userID int64) {
	msg := tgbotapi.NewMessage(chatID, "Выберите действие:")
	if b.isManager(userID) {
		msg.ReplyMarkup = managerMenu
	} else {
		msg.ReplyMarkup = mainMenu
	}
	b.send(ctx, msg)
}

func (b *Bot) formatRequestInfo(ctx context.Context, bk *models.Booking) string {
	propName := fmt.Sprintf("объект #%d", bk.PropertyID)
	if p, err := b.properties.GetProperty(ctx, bk.PropertyID); err == nil && p != nil {
		propName = p.Name
	}
	return fmt.Sprintf(
		"🆕 ЗАЯВКА %s\n🏠 Объект: %s\n📅 Дата: %s\n🕐 Смена: %s\n👤 Заявитель: %d\n⏳ Создана: %s",
		shortID(bk.ID), propName, bk.Date.Format("2006-01-02"), shiftLabel(bk.Shift),
		bk.RequesterID, bk.CreatedAt.Format("15:04:05"),
	)
}

// dialog returns the live session, restoring a persisted snapshot when the
// in-memory store lost it (process restart).
func (b *Bot) dialog(ctx context.Context, userID int64) *session.Session {
	if s := b.sessions.Get(userID); s != nil {
		return s
	}
	s := b.sessions.GetOrCreate(userID)
	if b.states == nil {
		return s
	}
	snap, err := b.states.GetState(ctx, userID)
	if err != nil || snap == nil {
		return s
	}
	s.SetState(snap.State)
	s.Data = snap.Data
	return s
}

func (b *Bot) saveDialog(ctx context.Context, s *session.Session) {
	if b.states == nil {
		return
	}
	snap := &repository.DialogState{
		RequesterID: s.Data.RequesterID,
		State:       s.GetState(),
		Data:        s.Data,
		UpdatedAt:   time.Now(),
	}
	if err := b.states.SetState(ctx, snap); err != nil {
		b.logger.Warn().Err(err).Int64("requester_id", snap.RequesterID).Msg("dialog state not persisted")
	}
}

func (b *Bot) resetDialog(ctx context.Context, userID int64) {
	b.sessions.Delete(userID)
	if b.states != nil {
		_ = b.states.ClearState(ctx, userID)
	}
}

func (b *Bot) isManager(id int64) bool {
	_, ok := b.managers[id]
	return ok
}

func (b *Bot) answerCallback(id string) error {
	_, err := b.tg.Request(tgbotapi.NewCallback(id, ""))
	return err
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	b.send(ctx, tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) {
	if err := b.limiter.Wait(ctx); err != nil {
		return
	}
	if _, err := b.tg.Send(c); err != nil {
		b.logger.Warn().Err(err).Msg("telegram send failed")
	}
}

func formatBookingLine(bk *models.Booking) string {
	line := fmt.Sprintf("%s %s | %s | %s",
		shortID(bk.ID), bk.Date.Format("02.01"), shiftLabel(bk.Shift), statusLabel(bk.Status))
	if bk.Price != nil {
		line += fmt.Sprintf(" | %.2f", *bk.Price)
	}
	return line
}

func shiftLabel(s models.Shift) string {
	switch s {
	case models.ShiftDay:
		return "☀️ День"
	case models.ShiftNight:
		return "🌙 Ночь"
	case models.ShiftFullDay:
		return "🏠 Сутки (с утра)"
	case models.ShiftFullNight:
		return "🌌 Сутки (с вечера)"
	default:
		return string(s)
	}
}

func statusLabel(status string) string {
	switch status {
	case models.StatusPending:
		return "⏳ ожидает подтверждения"
	case models.StatusConfirmed:
		return "✅ подтверждена"
	case models.StatusRejected:
		return "❌ отклонена"
	case models.StatusExpired:
		return "⌛ истекла"
	default:
		return status
	}
}

// shortID keeps messages readable; full ids stay in logs and storage.
func shortID(id string) string {
	if len(id) <= 8 {
		return "#" + id
	}
	return "#" + id[:8]
}
