// Package enroll implements the subscription enrollment workflow: validate
// the request, resolve codes to display names, and record the subscription.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/abinpaul1/BookMyShow-ticket-notifier-telegram-bot/booking"
	"github.com/abinpaul1/BookMyShow-ticket-notifier-telegram-bot/match"
	"github.com/abinpaul1/BookMyShow-ticket-notifier-telegram-bot/pkg/waitlist"
)

// MaxActiveSubscriptions caps how many events one subscriber may watch at a
// time. The cap is enforced here at enrollment, not in the storage layer.
const MaxActiveSubscriptions = 3

// callTimeout bounds each outbound booking API call so an unresponsive
// service cannot stall the workflow indefinitely.
const callTimeout = 30 * time.Second

// Validation errors. User-visible, never logged as faults, never retried.
var (
	ErrLimitReached   = errors.New("enroll: subscription limit reached")
	ErrInvalidDate    = errors.New("enroll: invalid date")
	ErrOutsideHorizon = errors.New("enroll: date outside booking horizon")
	ErrUnknownMovie   = errors.New("enroll: unknown movie code")
	ErrUnknownVenue   = errors.New("enroll: unknown venue code")
)

// Store is the subscription store surface the workflow needs.
type Store interface {
	CountSubscriptions(ctx context.Context, chatID int64) (int, error)
	AddSubscription(ctx context.Context, chatID int64, event waitlist.Event) error
	UpsertVenueName(ctx context.Context, code, name string) error
}

// Booking resolves external codes to display names.
type Booking interface {
	ResolveMovieName(ctx context.Context, movieCode string) (string, error)
	ResolveVenueName(ctx context.Context, venueCode string) (string, error)
}

// Messenger confirms a successful enrollment to the subscriber.
type Messenger interface {
	NotifyEnrollmentSuccess(ctx context.Context, chatID int64, movie, venue, date string) error
}

// Service runs the enrollment workflow.
type Service struct {
	store     Store
	booking   Booking
	messenger Messenger
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an enrollment service.
func New(store Store, booking Booking, messenger Messenger, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		booking:   booking,
		messenger: messenger,
		logger:    logger,
		now:       time.Now,
	}
}

// Enroll validates and records one subscription request. The returned error
// is one of the exported validation errors for user mistakes, or a wrapped
// internal error otherwise. The watched event and the subscription link are
// committed together; a failure anywhere leaves no visible partial state.
func (s *Service) Enroll(ctx context.Context, chatID int64, movieCode, venueCode, dateStr string) error {
	s.logger.Info("enrollment requested",
		"chat_id", chatID, "movie_code", movieCode, "venue_code", venueCode, "date", dateStr)

	count, err := s.store.CountSubscriptions(ctx, chatID)
	if err != nil {
		return fmt.Errorf("count subscriptions: %w", err)
	}
	if count >= MaxActiveSubscriptions {
		return ErrLimitReached
	}

	date, err := match.ParseDate(dateStr)
	if err != nil {
		return ErrInvalidDate
	}
	if !match.WithinHorizon(date, s.now()) {
		return ErrOutsideHorizon
	}

	movieName, err := s.resolveMovie(ctx, movieCode)
	if err != nil {
		return err
	}
	venueName, err := s.resolveVenue(ctx, venueCode)
	if err != nil {
		return err
	}

	if err := s.store.UpsertVenueName(ctx, venueCode, venueName); err != nil {
		return fmt.Errorf("cache venue name: %w", err)
	}

	event := waitlist.NewEvent(movieName, venueCode, dateStr)
	if err := s.store.AddSubscription(ctx, chatID, event); err != nil {
		return fmt.Errorf("add subscription: %w", err)
	}

	s.logger.Info("enrollment recorded",
		"chat_id", chatID, "event_id", event.ID(), "movie", movieName, "venue", venueName, "date", dateStr)

	// The subscription is durable at this point. A lost confirmation is
	// logged, not surfaced as a failed enrollment.
	if err := s.messenger.NotifyEnrollmentSuccess(ctx, chatID, movieName, venueName, dateStr); err != nil {
		s.logger.Warn("enrollment confirmation delivery failed", "chat_id", chatID, "error", err)
	}
	return nil
}

func (s *Service) resolveMovie(ctx context.Context, movieCode string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	name, err := s.booking.ResolveMovieName(callCtx, movieCode)
	if err != nil {
		if booking.IsNotFound(err) {
			return "", ErrUnknownMovie
		}
		return "", fmt.Errorf("resolve movie %s: %w", movieCode, err)
	}
	return name, nil
}

func (s *Service) resolveVenue(ctx context.Context, venueCode string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	name, err := s.booking.ResolveVenueName(callCtx, venueCode)
	if err != nil {
		if booking.IsNotFound(err) {
			return "", ErrUnknownVenue
		}
		return "", fmt.Errorf("resolve venue %s: %w", venueCode, err)
	}
	return name, nil
}

// IsValidationError reports whether err is a user mistake rather than an
// internal fault. Validation errors map to specific user-facing messages;
// everything else gets the generic internal-error reply.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrLimitReached) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrOutsideHorizon) ||
		errors.Is(err, ErrUnknownMovie) ||
		errors.Is(err, ErrUnknownVenue)
}
