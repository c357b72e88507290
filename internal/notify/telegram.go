// Package notify pushes booking lifecycle notifications to a Telegram chat.
package notify

import (
	"encoding/json"
	"fmt"

	"leihsy/internal/config"
	"leihsy/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender is the slice of tgbotapi.BotAPI the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Notifier struct {
	sender Sender
	chatID int64
	logger *zerolog.Logger
}

// NewTelegramNotifier dials the Telegram API with the configured token.
func NewTelegramNotifier(cfg config.TelegramConfig, logger *zerolog.Logger) (*Notifier, error) {
	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}
	botAPI.Debug = cfg.Debug
	logger.Info().Str("bot_name", botAPI.Self.UserName).Msg("telegram notifier connected")
	return NewNotifier(botAPI, cfg.ChatID, logger), nil
}

func NewNotifier(sender Sender, chatID int64, logger *zerolog.Logger) *Notifier {
	return &Notifier{sender: sender, chatID: chatID, logger: logger}
}

// SubscribeTo wires the notifier into the event bus. Handlers never fail
// the publisher; send errors are only logged.
func (n *Notifier) SubscribeTo(bus *events.EventBus) {
	for _, eventType := range []string{
		events.EventBookingCreated,
		events.EventBookingConfirmed,
		events.EventBookingRejected,
		events.EventBookingCancelled,
		events.EventBookingPickedUp,
		events.EventBookingReturned,
		events.EventBookingExpired,
		events.EventPickupProposed,
		events.EventPickupSelected,
	} {
		bus.Subscribe(eventType, n.handleEvent)
	}
}

func (n *Notifier) handleEvent(event *events.Event) error {
	var payload events.BookingEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		n.logger.Error().Err(err).Str("event_type", event.Type).Msg("error decoding event payload")
		return nil
	}

	text := messageFor(event.Type, &payload)
	if text == "" {
		return nil
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.sender.Send(msg); err != nil {
		n.logger.Error().Err(err).
			Int64("booking_id", payload.BookingID).
			Str("event_type", event.Type).
			Msg("error sending telegram notification")
	}
	return nil
}

func messageFor(eventType string, p *events.BookingEventPayload) string {
	item := p.ProductName
	if p.ItemInvNumber != "" {
		item = fmt.Sprintf("%s (%s)", p.ProductName, p.ItemInvNumber)
	}

	switch eventType {
	case events.EventBookingCreated:
		return fmt.Sprintf("📝 New booking #%d: %s requests %s from %s",
			p.BookingID, p.UserName, item, p.LenderName)
	case events.EventBookingConfirmed:
		return fmt.Sprintf("✅ Booking #%d confirmed for %s, pickup %s",
			p.BookingID, p.UserName, p.ConfirmedPickup)
	case events.EventBookingRejected:
		return fmt.Sprintf("❌ Booking #%d for %s was rejected", p.BookingID, p.UserName)
	case events.EventBookingCancelled:
		return fmt.Sprintf("🚫 Booking #%d for %s was cancelled", p.BookingID, p.UserName)
	case events.EventBookingPickedUp:
		return fmt.Sprintf("📦 Booking #%d: %s picked up %s", p.BookingID, p.UserName, item)
	case events.EventBookingReturned:
		return fmt.Sprintf("📥 Booking #%d: %s returned %s", p.BookingID, p.UserName, item)
	case events.EventBookingExpired:
		return fmt.Sprintf("⏰ Booking #%d expired, pickup was never completed", p.BookingID)
	case events.EventPickupProposed:
		return fmt.Sprintf("📅 Booking #%d: new pickup dates proposed for %s", p.BookingID, p.UserName)
	case events.EventPickupSelected:
		return fmt.Sprintf("📅 Booking #%d: pickup agreed at %s", p.BookingID, p.ConfirmedPickup)
	default:
		return ""
	}
}
