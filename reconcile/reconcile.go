// Package reconcile implements the periodic poll-and-match loop: it snapshots
// the watched events, asks the booking service what is showing, and notifies
// subscribers when a watched title appears.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/abinpaul1/BookMyShow-ticket-notifier-telegram-bot/match"
	"github.com/abinpaul1/BookMyShow-ticket-notifier-telegram-bot/pkg/waitlist"
)

// DefaultInterval is how often a cycle runs.
const DefaultInterval = 5 * time.Minute

// callTimeout bounds each outbound call so one unresponsive venue query or
// delivery cannot stall the whole cycle.
const callTimeout = 30 * time.Second

// ErrCheckInProgress is returned when a cycle is requested while the
// previous one is still running. Cycles never overlap.
var ErrCheckInProgress = errors.New("reconcile: check already in progress")

// Store is the subscription store surface the loop needs.
type Store interface {
	Snapshot(ctx context.Context) ([]waitlist.Watched, error)
	RemoveEvent(ctx context.Context, eventID string) error
	LookupVenueName(ctx context.Context, code string) (string, bool, error)
}

// Booking lists the show titles offered at a venue on a date.
type Booking interface {
	ListTitles(ctx context.Context, venueCode string, date time.Time) ([]string, error)
}

// Messenger notifies a subscriber that booking has opened.
type Messenger interface {
	NotifyBookingStarted(ctx context.Context, chatID int64, movie, venue, date string) error
}

// Monitor runs reconciliation cycles against the store.
type Monitor struct {
	store     Store
	booking   Booking
	messenger Messenger
	logger    *slog.Logger
	now       func() time.Time

	// checkMu is the run-in-progress guard. Overlap prevention relies on
	// this lock, not on timer accuracy.
	checkMu sync.Mutex
}

// New creates a reconciliation monitor.
func New(store Store, booking Booking, messenger Messenger, logger *slog.Logger) *Monitor {
	return &Monitor{
		store:     store,
		booking:   booking,
		messenger: messenger,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes a cycle every interval until ctx is cancelled. Cycle errors
// are logged; the loop itself never stops on them.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m.logger.Info("reconciliation loop started", "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("reconciliation loop stopped", "error", ctx.Err())
			return
		case <-ticker.C:
			if err := m.CheckAll(ctx); err != nil {
				m.logger.Error("reconciliation cycle failed", "error", err)
			}
		}
	}
}

// CheckAll runs one reconciliation cycle. Events are processed
// independently: a failure or match on one never prevents processing the
// rest. Returns ErrCheckInProgress if a previous cycle is still running.
func (m *Monitor) CheckAll(ctx context.Context) error {
	if !m.checkMu.TryLock() {
		return ErrCheckInProgress
	}
	defer m.checkMu.Unlock()

	watched, err := m.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot watched events: %w", err)
	}

	m.logger.Info("reconciliation cycle started", "watched_events", len(watched))

	var matched, expired, skipped int
	for i := range watched {
		select {
		case <-ctx.Done():
			m.logger.Info("context cancelled, stopping cycle", "error", ctx.Err())
			return ctx.Err()
		default:
		}

		switch outcome := m.checkEvent(ctx, &watched[i]); outcome {
		case outcomeMatched:
			matched++
		case outcomeExpired:
			expired++
		case outcomeSkipped:
			skipped++
		case outcomeWatching:
		}
	}

	m.logger.Info("reconciliation cycle completed",
		"watched_events", len(watched),
		"matched", matched,
		"expired", expired,
		"skipped", skipped)
	return nil
}

type outcome int

const (
	outcomeWatching outcome = iota // no match yet, keep watching
	outcomeMatched                 // booking started, notified and removed
	outcomeExpired                 // date passed, removed without notification
	outcomeSkipped                 // transient failure, retry next cycle
)

func (m *Monitor) checkEvent(ctx context.Context, w *waitlist.Watched) outcome {
	event := w.Event
	eventID := event.ID()

	date, err := match.ParseDate(event.DateString)
	if err != nil {
		// Dates are validated at enrollment; an unparseable stored date is
		// a corrupt row. Leave it alone and keep serving the others.
		m.logger.Error("stored event has unparseable date",
			"event_id", eventID, "date", event.DateString, "error", err)
		return outcomeSkipped
	}

	// A passed date can never start booking.
	if match.IsPast(date, m.now()) {
		m.logger.Info("event date has passed, removing",
			"event_id", eventID, "movie", event.MovieName, "date", event.DateString)
		if err := m.store.RemoveEvent(ctx, eventID); err != nil {
			m.logger.Error("failed to remove expired event", "event_id", eventID, "error", err)
			return outcomeSkipped
		}
		return outcomeExpired
	}

	titles, err := m.listTitles(ctx, event.VenueCode, date)
	if err != nil {
		// Transient: the event stays watched and is retried next cycle.
		m.logger.Warn("venue query failed, will retry next cycle",
			"event_id", eventID, "venue_code", event.VenueCode, "error", err)
		return outcomeSkipped
	}

	for _, title := range titles {
		if match.SameShow(event.MovieName, title) {
			m.logger.Info("booking started",
				"event_id", eventID,
				"movie", event.MovieName,
				"matched_title", title,
				"similarity", fmt.Sprintf("%.2f", match.Similarity(event.MovieName, title)),
				"subscribers", len(w.Subscribers))
			m.bookingStarted(ctx, w, eventID)
			return outcomeMatched
		}
	}
	return outcomeWatching
}

// bookingStarted notifies every subscriber, then removes the event so it is
// never matched again. Individual delivery failures are logged and do not
// block the remaining subscribers or the removal.
func (m *Monitor) bookingStarted(ctx context.Context, w *waitlist.Watched, eventID string) {
	event := w.Event
	venueName := m.venueName(ctx, event.VenueCode)

	for _, chatID := range w.Subscribers {
		if err := m.notify(ctx, chatID, event.MovieName, venueName, event.DateString); err != nil {
			m.logger.Warn("booking-started delivery failed",
				"event_id", eventID, "chat_id", chatID, "error", err)
		}
	}

	if err := m.store.RemoveEvent(ctx, eventID); err != nil {
		// Next cycle will match again and retry the delete; subscribers may
		// see a duplicate notification, which at-least-once allows.
		m.logger.Error("failed to remove matched event", "event_id", eventID, "error", err)
	}
}

// venueName returns the cached display name for a venue, falling back to the
// raw code when the directory has no entry.
func (m *Monitor) venueName(ctx context.Context, code string) string {
	name, ok, err := m.store.LookupVenueName(ctx, code)
	if err != nil {
		m.logger.Warn("venue name lookup failed", "venue_code", code, "error", err)
		return code
	}
	if !ok {
		return code
	}
	return name
}

func (m *Monitor) listTitles(ctx context.Context, venueCode string, date time.Time) ([]string, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return m.booking.ListTitles(callCtx, venueCode, date)
}

func (m *Monitor) notify(ctx context.Context, chatID int64, movie, venue, date string) error {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return m.messenger.NotifyBookingStarted(callCtx, chatID, movie, venue, date)
}
