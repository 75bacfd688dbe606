package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abinpaul1/BookMyShow-ticket-notifier-telegram-bot/pkg/waitlist"
	"github.com/abinpaul1/BookMyShow-ticket-notifier-telegram-bot/store"
)

type fakeStore struct {
	watched     []waitlist.Watched
	snapshotErr error
	removed     []string
	removeErr   error
	venueNames  map[string]string
}

func (f *fakeStore) Snapshot(_ context.Context) ([]waitlist.Watched, error) {
	return f.watched, f.snapshotErr
}

func (f *fakeStore) RemoveEvent(_ context.Context, eventID string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, eventID)
	return nil
}

func (f *fakeStore) LookupVenueName(_ context.Context, code string) (string, bool, error) {
	name, ok := f.venueNames[code]
	return name, ok, nil
}

type fakeBooking struct {
	titles map[string][]string
	err    error
}

func (f *fakeBooking) ListTitles(_ context.Context, venueCode string, _ time.Time) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.titles[venueCode], nil
}

type fakeMessenger struct {
	notified []string
	err      error
}

func (f *fakeMessenger) NotifyBookingStarted(_ context.Context, chatID int64, movie, venue, date string) error {
	f.notified = append(f.notified, fmt.Sprintf("%d:%s:%s:%s", chatID, movie, venue, date))
	return f.err
}

func newTestMonitor(st Store, bkg Booking, messenger Messenger) *Monitor {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	m := New(st, bkg, messenger, logger)
	m.now = func() time.Time {
		return time.Date(2025, time.April, 20, 12, 0, 0, 0, time.UTC)
	}
	return m
}

func watchedEvent(movie, venue, date string, subscribers ...int64) waitlist.Watched {
	return waitlist.Watched{
		Event:       waitlist.NewEvent(movie, venue, date),
		Subscribers: subscribers,
	}
}

func TestCheckAllMatchNotifiesAndRemoves(t *testing.T) {
	w := watchedEvent("Spider-Man: No Way Home", "PVKC", "22-04-2025", 42, 43)
	st := &fakeStore{
		watched:    []waitlist.Watched{w},
		venueNames: map[string]string{"PVKC": "PVR Kochi"},
	}
	// The venue lists a near-identical title, close enough to match.
	bkg := &fakeBooking{titles: map[string][]string{
		"PVKC": {"Dune", "Spider Man No Way Home"},
	}}
	messenger := &fakeMessenger{}
	m := newTestMonitor(st, bkg, messenger)

	if err := m.CheckAll(context.Background()); err != nil {
		t.Fatalf("CheckAll: %v", err)
	}

	if len(messenger.notified) != 2 {
		t.Fatalf("notified %d subscribers, want 2", len(messenger.notified))
	}
	want := "42:Spider-Man: No Way Home:PVR Kochi:22-04-2025"
	if messenger.notified[0] != want {
		t.Errorf("notification = %q, want %q", messenger.notified[0], want)
	}
	if len(st.removed) != 1 || st.removed[0] != w.Event.ID() {
		t.Errorf("removed = %v, want [%s]", st.removed, w.Event.ID())
	}
}

func TestCheckAllNoMatchKeepsWatching(t *testing.T) {
	w := watchedEvent("Spider-Man: No Way Home", "PVKC", "22-04-2025", 42)
	st := &fakeStore{watched: []waitlist.Watched{w}}
	bkg := &fakeBooking{titles: map[string][]string{"PVKC": {"Dune", "Tenet"}}}
	messenger := &fakeMessenger{}
	m := newTestMonitor(st, bkg, messenger)

	if err := m.CheckAll(context.Background()); err != nil {
		t.Fatalf("CheckAll: %v", err)
	}
	if len(messenger.notified) != 0 {
		t.Errorf("notified on non-match: %v", messenger.notified)
	}
	if len(st.removed) != 0 {
		t.Errorf("removed on non-match: %v", st.removed)
	}
}

func TestCheckAllExpiredRemovedSilently(t *testing.T) {
	w := watchedEvent("Old Movie", "PVKC", "19-04-2025", 42) // yesterday
	st := &fakeStore{watched: []waitlist.Watched{w}}
	bkg := &fakeBooking{titles: map[string][]string{"PVKC": {"Old Movie"}}}
	messenger := &fakeMessenger{}
	m := newTestMonitor(st, bkg, messenger)

	if err := m.CheckAll(context.Background()); err != nil {
		t.Fatalf("CheckAll: %v", err)
	}
	if len(st.removed) != 1 {
		t.Fatalf("expired event not removed: %v", st.removed)
	}
	if len(messenger.notified) != 0 {
		t.Errorf("expired event triggered notifications: %v", messenger.notified)
	}
}

func TestCheckAllQueryFailureRetainsEvent(t *testing.T) {
	w := watchedEvent("Dune", "PVKC", "22-04-2025", 42)
	st := &fakeStore{watched: []waitlist.Watched{w}}
	bkg := &fakeBooking{err: fmt.Errorf("connection refused")}
	messenger := &fakeMessenger{}
	m := newTestMonitor(st, bkg, messenger)

	if err := m.CheckAll(context.Background()); err != nil {
		t.Fatalf("CheckAll returned error for a per-event failure: %v", err)
	}
	if len(st.removed) != 0 {
		t.Errorf("event removed after query failure: %v", st.removed)
	}
	if len(messenger.notified) != 0 {
		t.Errorf("notified after query failure: %v", messenger.notified)
	}
}

func TestCheckAllFailureOnOneEventDoesNotBlockOthers(t *testing.T) {
	broken := watchedEvent("Dune", "DOWN", "22-04-2025", 1)
	healthy := watchedEvent("Tenet", "PVKC", "22-04-2025", 2)
	st := &fakeStore{watched: []waitlist.Watched{broken, healthy}}
	bkg := &venueSelectiveBooking{
		failing: "DOWN",
		titles:  map[string][]string{"PVKC": {"Tenet"}},
	}
	messenger := &fakeMessenger{}
	m := newTestMonitor(st, bkg, messenger)

	if err := m.CheckAll(context.Background()); err != nil {
		t.Fatalf("CheckAll: %v", err)
	}
	if len(messenger.notified) != 1 {
		t.Fatalf("healthy event not processed: %v", messenger.notified)
	}
	if len(st.removed) != 1 || st.removed[0] != healthy.Event.ID() {
		t.Errorf("removed = %v, want only the matched event", st.removed)
	}
}

type venueSelectiveBooking struct {
	failing string
	titles  map[string][]string
}

func (f *venueSelectiveBooking) ListTitles(_ context.Context, venueCode string, _ time.Time) ([]string, error) {
	if venueCode == f.failing {
		return nil, fmt.Errorf("venue %s unavailable", venueCode)
	}
	return f.titles[venueCode], nil
}

func TestCheckAllDeliveryFailureStillRemoves(t *testing.T) {
	w := watchedEvent("Dune", "PVKC", "22-04-2025", 42, 43)
	st := &fakeStore{watched: []waitlist.Watched{w}}
	bkg := &fakeBooking{titles: map[string][]string{"PVKC": {"Dune"}}}
	messenger := &fakeMessenger{err: fmt.Errorf("telegram unavailable")}
	m := newTestMonitor(st, bkg, messenger)

	if err := m.CheckAll(context.Background()); err != nil {
		t.Fatalf("CheckAll: %v", err)
	}
	// Both deliveries are attempted even though the first fails.
	if len(messenger.notified) != 2 {
		t.Errorf("attempted %d deliveries, want 2", len(messenger.notified))
	}
	if len(st.removed) != 1 {
		t.Errorf("matched event not removed after delivery failures: %v", st.removed)
	}
}

func TestCheckAllVenueNameFallsBackToCode(t *testing.T) {
	w := watchedEvent("Dune", "PVKC", "22-04-2025", 42)
	st := &fakeStore{watched: []waitlist.Watched{w}} // no venueNames entry
	bkg := &fakeBooking{titles: map[string][]string{"PVKC": {"Dune"}}}
	messenger := &fakeMessenger{}
	m := newTestMonitor(st, bkg, messenger)

	if err := m.CheckAll(context.Background()); err != nil {
		t.Fatalf("CheckAll: %v", err)
	}
	want := "42:Dune:PVKC:22-04-2025"
	if len(messenger.notified) != 1 || messenger.notified[0] != want {
		t.Errorf("notified = %v, want [%s]", messenger.notified, want)
	}
}

func TestCheckAllSnapshotFailure(t *testing.T) {
	st := &fakeStore{snapshotErr: fmt.Errorf("database locked")}
	m := newTestMonitor(st, &fakeBooking{}, &fakeMessenger{})

	if err := m.CheckAll(context.Background()); err == nil {
		t.Fatal("expected error when snapshot fails")
	}
}

func TestCheckAllNeverOverlaps(t *testing.T) {
	m := newTestMonitor(&fakeStore{}, &fakeBooking{}, &fakeMessenger{})

	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	if err := m.CheckAll(context.Background()); !errors.Is(err, ErrCheckInProgress) {
		t.Errorf("err = %v, want ErrCheckInProgress", err)
	}
}

func TestCheckAllStopsOnCancelledContext(t *testing.T) {
	st := &fakeStore{watched: []waitlist.Watched{
		watchedEvent("Dune", "PVKC", "22-04-2025", 42),
	}}
	messenger := &fakeMessenger{}
	m := newTestMonitor(st, &fakeBooking{}, messenger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.CheckAll(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(messenger.notified) != 0 {
		t.Errorf("processed events after cancellation: %v", messenger.notified)
	}
}

// Full cycle against a real on-disk store: enroll, match, notify once, and
// never match again.
func TestReconcileAgainstRealStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "waitlist.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	event := waitlist.NewEvent("Spider-Man: No Way Home", "PVKC", "22-04-2025")
	if err := st.AddSubscription(ctx, 42, event); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}
	if err := st.UpsertVenueName(ctx, "PVKC", "PVR Kochi"); err != nil {
		t.Fatalf("UpsertVenueName: %v", err)
	}

	bkg := &fakeBooking{titles: map[string][]string{
		"PVKC": {"Dune", "Spider Man No Way Home"},
	}}
	messenger := &fakeMessenger{}
	m := newTestMonitor(st, bkg, messenger)

	if err := m.CheckAll(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	want := "42:Spider-Man: No Way Home:PVR Kochi:22-04-2025"
	if len(messenger.notified) != 1 || messenger.notified[0] != want {
		t.Fatalf("notified = %v, want [%s]", messenger.notified, want)
	}

	// The event is gone; a second cycle finds nothing to do.
	if err := m.CheckAll(ctx); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if len(messenger.notified) != 1 {
		t.Errorf("duplicate notification on second cycle: %v", messenger.notified)
	}
}
