package bot

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"casitas/internal/models"
)

// Coordinator is the reservation core surface the bot drives.
type Coordinator interface {
	Reserve(ctx context.Context, propertyID, requesterID int64, date time.Time, shift models.Shift) (*models.Booking, error)
	SetVerdict(ctx context.Context, bookingID, verdict string) (*models.Booking, error)
	Lookup(ctx context.Context, bookingID string) (*models.Booking, error)
	UserBookings(ctx context.Context, requesterID int64, limit int) ([]models.Booking, error)
	IsAvailable(ctx context.Context, propertyID int64, date time.Time, shift models.Shift) (bool, error)
}

// PropertySource lists the units offered in the dialog.
type PropertySource interface {
	GetProperty(ctx context.Context, id int64) (*models.Property, error)
	ListActiveProperties(ctx context.Context) ([]models.Property, error)
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]models.Booking, error)
}

// TelegramSender is the outbound half of the Telegram client.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type telegramClient interface {
	Send(tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	SelfUser() tgbotapi.User
}

type realTelegramClient struct {
	api *tgbotapi.BotAPI
}

func (c *realTelegramClient) Send(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	return c.api.Send(msg)
}

func (c *realTelegramClient) Request(msg tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return c.api.Request(msg)
}

func (c *realTelegramClient) GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return c.api.GetUpdatesChan(cfg)
}

func (c *realTelegramClient) SelfUser() tgbotapi.User {
	return c.api.Self
}
