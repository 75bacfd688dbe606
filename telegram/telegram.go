package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/abinpaul1/BookMyShow-ticket-notifier-telegram-bot/booking"
)

// maxChunkLen is the safe message size. Telegram caps messages at 4096
// characters; long listings are split below that with headroom.
const maxChunkLen = 3500

// WaitlistEntry is one line of a subscriber's waitlist display.
type WaitlistEntry struct {
	Movie string
	Venue string
	Date  string
}

// Sender formats notification and listing texts and delivers them through a
// pluggable provider.
type Sender struct {
	provider Provider
	logger   *slog.Logger
}

// New creates a sender with the given provider.
func New(provider Provider, logger *slog.Logger) *Sender {
	return &Sender{provider: provider, logger: logger}
}

// Send delivers text to a chat, splitting it into chunks under the transport
// limit. Splits happen on line boundaries; a single oversized line is sent
// as its own chunk and truncated by the transport if need be.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) error {
	if len(text) <= maxChunkLen {
		return s.provider.Deliver(ctx, chatID, text)
	}

	var chunk strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		if chunk.Len() > 0 && chunk.Len()+len(line) > maxChunkLen {
			if err := s.provider.Deliver(ctx, chatID, chunk.String()); err != nil {
				return err
			}
			chunk.Reset()
		}
		chunk.WriteString(line)
	}
	if chunk.Len() > 0 {
		return s.provider.Deliver(ctx, chatID, chunk.String())
	}
	return nil
}

// NotifyBookingStarted tells a subscriber that booking has opened for a
// watched event.
func (s *Sender) NotifyBookingStarted(ctx context.Context, chatID int64, movie, venue, date string) error {
	text := fmt.Sprintf("Booking for %s at %s on %s has started", movie, venue, date)
	return s.Send(ctx, chatID, text)
}

// NotifyEnrollmentSuccess confirms an enrollment with the resolved
// human-readable names, not the raw codes.
func (s *Sender) NotifyEnrollmentSuccess(ctx context.Context, chatID int64, movie, venue, date string) error {
	text := fmt.Sprintf("You will be notified via a message here when booking opens for %s at %s on %s", movie, venue, date)
	return s.Send(ctx, chatID, text)
}

// SendRegions sends the list of supported regions.
func (s *Sender) SendRegions(ctx context.Context, chatID int64, regions []booking.Region) error {
	var b strings.Builder
	b.WriteString("Available locations are: \n\n")
	for i, region := range regions {
		fmt.Fprintf(&b, "%d. %s - %s\n", i+1, region.Name, region.Code)
	}
	return s.Send(ctx, chatID, b.String())
}

// SendVenues sends the venues available in a region.
func (s *Sender) SendVenues(ctx context.Context, chatID int64, regionCode string, venues []booking.Venue) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Available venues at %s are: \n\n", regionCode)
	for i, venue := range venues {
		fmt.Fprintf(&b, "%d. %s - %s\n\n", i+1, venue.Name, venue.Code)
	}
	return s.Send(ctx, chatID, b.String())
}

// SendWaitlist sends a subscriber's current waitlist.
func (s *Sender) SendWaitlist(ctx context.Context, chatID int64, entries []WaitlistEntry) error {
	if len(entries) == 0 {
		return s.Send(ctx, chatID, "Your waiting list is empty")
	}
	var b strings.Builder
	b.WriteString("Your waiting list is: \n\n")
	for i, entry := range entries {
		fmt.Fprintf(&b, "%d. %s at %s on %s\n\n", i+1, entry.Movie, entry.Venue, entry.Date)
	}
	return s.Send(ctx, chatID, b.String())
}

// SendHelp sends the command reference.
func (s *Sender) SendHelp(ctx context.Context, chatID int64) error {
	text := "Available commands are:\n\n" +
		"/wl - Get your waiting list\n\n" +
		"/list_locations - List all available locations\n\n" +
		"/list_venues <location_code> - List all available venues at given location\n\n" +
		"/enroll <movie_code> <venue_code> <date_string> - Enroll for notification for given movie at given venue on given date\n" +
		"Example Usage: /enroll ET00310790 PVKC 22-04-2021\n\n" +
		"Movie code is present in the URL of the movie's page on in.bookmyshow.com\n" +
		"Sample URL with movie code : https://in.bookmyshow.com/kochi/movies/spider-man-no-way-home/ET00310790"
	return s.Send(ctx, chatID, text)
}
