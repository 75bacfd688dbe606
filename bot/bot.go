// Package bot wires Telegram commands to the waitlist services: it parses
// incoming messages and dispatches to enrollment, the store, and the booking
// client, replying through the telegram gateway.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/abinpaul1/BookMyShow-ticket-notifier-telegram-bot/booking"
	"github.com/abinpaul1/BookMyShow-ticket-notifier-telegram-bot/enroll"
	"github.com/abinpaul1/BookMyShow-ticket-notifier-telegram-bot/pkg/waitlist"
	"github.com/abinpaul1/BookMyShow-ticket-notifier-telegram-bot/telegram"
)

// internalErrorText is the generic reply for anything that is not a user
// mistake. Specific messages are reserved for validation errors.
const internalErrorText = "Error : Internal error. Please try again"

// Enroller runs the enrollment workflow.
type Enroller interface {
	Enroll(ctx context.Context, chatID int64, movieCode, venueCode, dateStr string) error
}

// Store is the read-only store surface the command handlers need.
type Store interface {
	SubscriptionsOf(ctx context.Context, chatID int64) ([]waitlist.Event, error)
	LookupVenueName(ctx context.Context, code string) (string, bool, error)
}

// Booking lists regions and venues for the browse commands.
type Booking interface {
	ListRegions() []booking.Region
	ListVenues(ctx context.Context, regionCode string) ([]booking.Venue, error)
}

// Bot reads updates from the Telegram API and handles commands.
type Bot struct {
	api      *tgbotapi.BotAPI
	enroller Enroller
	store    Store
	booking  Booking
	sender   *telegram.Sender
	logger   *slog.Logger
}

// New creates a bot.
func New(api *tgbotapi.BotAPI, enroller Enroller, store Store, bookingClient Booking, sender *telegram.Sender, logger *slog.Logger) *Bot {
	return &Bot{
		api:      api,
		enroller: enroller,
		store:    store,
		booking:  bookingClient,
		sender:   sender,
		logger:   logger,
	}
}

// Run consumes updates until ctx is cancelled. Non-text updates are ignored.
func (b *Bot) Run(ctx context.Context) {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 30
	updates := b.api.GetUpdatesChan(updateConfig)

	b.logger.Info("bot update loop started", "username", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("bot update loop stopped", "error", ctx.Err())
			return
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			b.handleMessage(ctx, update.Message.Chat.ID, update.Message.Text)
		}
	}
}

// parseCommand splits a message into its command and arguments. The command
// may carry a @BotName suffix when sent in a group.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	command, _, _ := strings.Cut(fields[0], "@")
	return command, fields[1:]
}

func (b *Bot) handleMessage(ctx context.Context, chatID int64, text string) {
	command, args := parseCommand(text)
	b.logger.Info("command received", "chat_id", chatID, "command", command, "args", len(args))

	switch command {
	case "/enroll":
		if len(args) != 3 {
			b.logger.Warn("/enroll invalid arguments", "chat_id", chatID)
			b.reply(ctx, chatID, b.sender.SendHelp(ctx, chatID))
			return
		}
		b.handleEnroll(ctx, chatID, strings.ToUpper(args[0]), strings.ToUpper(args[1]), args[2])

	case "/wl":
		b.handleWaitlist(ctx, chatID)

	case "/list_locations":
		b.reply(ctx, chatID, b.sender.SendRegions(ctx, chatID, b.booking.ListRegions()))

	case "/list_venues":
		if len(args) != 1 {
			b.logger.Warn("/list_venues invalid arguments", "chat_id", chatID)
			b.reply(ctx, chatID, b.sender.SendHelp(ctx, chatID))
			return
		}
		b.handleListVenues(ctx, chatID, strings.ToUpper(args[0]))

	default:
		b.reply(ctx, chatID, b.sender.SendHelp(ctx, chatID))
	}
}

func (b *Bot) handleEnroll(ctx context.Context, chatID int64, movieCode, venueCode, dateStr string) {
	err := b.enroller.Enroll(ctx, chatID, movieCode, venueCode, dateStr)
	if err == nil {
		// Confirmation was sent by the workflow itself.
		return
	}

	if enroll.IsValidationError(err) {
		b.reply(ctx, chatID, b.sender.Send(ctx, chatID, validationText(err)))
		return
	}

	b.logger.Error("enrollment failed", "chat_id", chatID, "error", err)
	b.reply(ctx, chatID, b.sender.Send(ctx, chatID, internalErrorText))
}

// validationText maps a validation error to its user-facing message.
func validationText(err error) string {
	switch {
	case errors.Is(err, enroll.ErrLimitReached):
		return "Error : You can only have 3 active enrollments"
	case errors.Is(err, enroll.ErrInvalidDate):
		return "Error : Provided date format is invalid"
	case errors.Is(err, enroll.ErrOutsideHorizon):
		return "Error : Date is not within next 2 weeks"
	case errors.Is(err, enroll.ErrUnknownMovie):
		return "Error : Movie code is wrong"
	case errors.Is(err, enroll.ErrUnknownVenue):
		return "Error : Venue code is wrong"
	default:
		return internalErrorText
	}
}

func (b *Bot) handleWaitlist(ctx context.Context, chatID int64) {
	events, err := b.store.SubscriptionsOf(ctx, chatID)
	if err != nil {
		b.logger.Error("waitlist lookup failed", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, b.sender.Send(ctx, chatID, internalErrorText))
		return
	}

	entries := make([]telegram.WaitlistEntry, 0, len(events))
	for _, event := range events {
		venueName, ok, err := b.store.LookupVenueName(ctx, event.VenueCode)
		if err != nil || !ok {
			// Directory is best effort; show the raw code.
			venueName = event.VenueCode
		}
		entries = append(entries, telegram.WaitlistEntry{
			Movie: event.MovieName,
			Venue: venueName,
			Date:  event.DateString,
		})
	}
	b.reply(ctx, chatID, b.sender.SendWaitlist(ctx, chatID, entries))
}

func (b *Bot) handleListVenues(ctx context.Context, chatID int64, regionCode string) {
	venues, err := b.booking.ListVenues(ctx, regionCode)
	if err != nil {
		b.logger.Error("venue listing failed", "chat_id", chatID, "region_code", regionCode, "error", err)
		b.reply(ctx, chatID, b.sender.Send(ctx, chatID, internalErrorText))
		return
	}
	b.reply(ctx, chatID, b.sender.SendVenues(ctx, chatID, regionCode, venues))
}

// reply logs a failed outbound delivery. Command replies are best effort;
// the user can always retry the command.
func (b *Bot) reply(ctx context.Context, chatID int64, err error) {
	if err != nil && ctx.Err() == nil {
		b.logger.Warn("reply delivery failed", "chat_id", chatID, "error", err)
	}
}
