package bot

import (
	"context"
	"fmt"
	"time"

	"casitas/internal/events"
	"casitas/internal/models"
)

// SubscribeNotifications wires booking lifecycle events to Telegram
// messages: managers hear about new requests, requesters hear about
// verdicts and expiry. Works for reservations created on any channel.
func (b *Bot) SubscribeNotifications(ctx context.Context, bus *events.Bus) {
	bus.Subscribe(events.TypeBookingCreated, func(ev events.Event) error {
		bk := ev.Booking
		text := b.formatRequestInfo(ctx, &bk)
		for mgrID := range b.managers {
			b.sendManagerDecisionMessage(ctx, mgrID, bk.ID, text)
		}
		return nil
	})

	notifyRequester := func(ev events.Event) error {
		bk := ev.Booking
		b.reply(ctx, bk.RequesterID, fmt.Sprintf(
			"Заявка %s на %s (%s): %s",
			shortID(bk.ID), bk.Date.Format("02.01.2006"), shiftLabel(bk.Shift), statusLabel(bk.Status),
		))
		return nil
	}
	bus.Subscribe(events.TypeBookingConfirmed, notifyRequester)
	bus.Subscribe(events.TypeBookingRejected, notifyRequester)
	bus.Subscribe(events.TypeBookingExpired, notifyRequester)
}

// StartPendingDigest reminds managers once a day about requests still
// waiting for a verdict.
func (b *Bot) StartPendingDigest(ctx context.Context, hour int) {
	go func() {
		timer := time.NewTimer(timeUntilNextHour(hour))
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				b.sendPendingDigest(ctx)
				timer.Reset(24 * time.Hour)
			}
		}
	}()
}

func (b *Bot) sendPendingDigest(ctx context.Context) {
	pending, err := b.properties.ListPendingOlderThan(ctx, time.Now())
	if err != nil {
		b.logger.Warn().Err(err).Msg("pending digest: list failed")
		return
	}
	if len(pending) == 0 {
		return
	}

	text := formatPendingDigest(pending)
	for mgrID := range b.managers {
		b.reply(ctx, mgrID, text)
	}
}

func formatPendingDigest(pending []models.Booking) string {
	text := fmt.Sprintf("📥 Заявок без решения: %d\n", len(pending))
	for i := range pending {
		text += formatBookingLine(&pending[i]) + "\n"
	}
	return text + "\nОткройте «Заявки», чтобы обработать."
}

func timeUntilNextHour(hour int) time.Duration {
	now := time.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
