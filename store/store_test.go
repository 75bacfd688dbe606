package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/abinpaul1/BookMyShow-ticket-notifier-telegram-bot/pkg/waitlist"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "waitlist.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func testEvent() waitlist.Event {
	return waitlist.NewEvent("Spider-Man: No Way Home", "PVKC", "22-04-2025")
}

func TestUpsertEventIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	event := testEvent()

	first, err := s.UpsertEvent(ctx, event)
	if err != nil {
		t.Fatalf("UpsertEvent: %v", err)
	}
	second, err := s.UpsertEvent(ctx, event)
	if err != nil {
		t.Fatalf("UpsertEvent (duplicate): %v", err)
	}
	if first != second {
		t.Errorf("ids differ across upserts: %s vs %s", first, second)
	}
	if first != event.ID() {
		t.Errorf("id = %s, want %s", first, event.ID())
	}
}

func TestAddSubscriptionIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	event := testEvent()

	if err := s.AddSubscription(ctx, 42, event); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}
	if err := s.AddSubscription(ctx, 42, event); err != nil {
		t.Fatalf("AddSubscription (duplicate): %v", err)
	}

	count, err := s.CountSubscriptions(ctx, 42)
	if err != nil {
		t.Fatalf("CountSubscriptions: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 after duplicate enrollment", count)
	}

	watched, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(watched) != 1 {
		t.Fatalf("snapshot has %d events, want 1", len(watched))
	}
	if len(watched[0].Subscribers) != 1 || watched[0].Subscribers[0] != 42 {
		t.Errorf("subscribers = %v, want [42]", watched[0].Subscribers)
	}
}

func TestRemoveEventCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	event := testEvent()

	if err := s.AddSubscription(ctx, 42, event); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}
	if err := s.AddSubscription(ctx, 43, event); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}
	if err := s.UpsertVenueName(ctx, "PVKC", "PVR Kochi"); err != nil {
		t.Fatalf("UpsertVenueName: %v", err)
	}

	if err := s.RemoveEvent(ctx, event.ID()); err != nil {
		t.Fatalf("RemoveEvent: %v", err)
	}

	subscribers, err := s.SubscribersOf(ctx, event.ID())
	if err != nil {
		t.Fatalf("SubscribersOf: %v", err)
	}
	if len(subscribers) != 0 {
		t.Errorf("subscribers remain after cascade: %v", subscribers)
	}

	watched, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(watched) != 0 {
		t.Errorf("snapshot not empty after removal: %d events", len(watched))
	}

	// The venue directory never participates in the cascade.
	name, ok, err := s.LookupVenueName(ctx, "PVKC")
	if err != nil {
		t.Fatalf("LookupVenueName: %v", err)
	}
	if !ok || name != "PVR Kochi" {
		t.Errorf("venue directory entry lost: name=%q ok=%v", name, ok)
	}
}

func TestRemoveEventMissingIsNoOp(t *testing.T) {
	s := openTestStore(t)

	if err := s.RemoveEvent(context.Background(), "deadbeef"); err != nil {
		t.Errorf("RemoveEvent on missing event: %v, want nil", err)
	}
}

func TestSubscriptionsOfOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	events := []waitlist.Event{
		waitlist.NewEvent("Dune", "PVKC", "10-04-2025"),
		waitlist.NewEvent("Oppenheimer", "INOX", "11-04-2025"),
		waitlist.NewEvent("Tenet", "PVKC", "12-04-2025"),
	}
	for _, event := range events {
		if err := s.AddSubscription(ctx, 7, event); err != nil {
			t.Fatalf("AddSubscription(%s): %v", event.MovieName, err)
		}
	}

	got, err := s.SubscriptionsOf(ctx, 7)
	if err != nil {
		t.Fatalf("SubscriptionsOf: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("got %d events, want %d", len(got), len(events))
	}
	for i, event := range events {
		if got[i].MovieName != event.MovieName {
			t.Errorf("position %d = %q, want %q (insertion order)", i, got[i].MovieName, event.MovieName)
		}
	}
}

func TestSnapshotGroupsSubscribers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	shared := waitlist.NewEvent("Dune", "PVKC", "10-04-2025")
	solo := waitlist.NewEvent("Tenet", "INOX", "12-04-2025")

	for _, chatID := range []int64{1, 2, 3} {
		if err := s.AddSubscription(ctx, chatID, shared); err != nil {
			t.Fatalf("AddSubscription: %v", err)
		}
	}
	if err := s.AddSubscription(ctx, 9, solo); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}

	watched, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(watched) != 2 {
		t.Fatalf("snapshot has %d events, want 2", len(watched))
	}

	byMovie := make(map[string][]int64)
	for _, w := range watched {
		byMovie[w.Event.MovieName] = w.Subscribers
	}
	if len(byMovie["Dune"]) != 3 {
		t.Errorf("Dune subscribers = %v, want 3", byMovie["Dune"])
	}
	if len(byMovie["Tenet"]) != 1 || byMovie["Tenet"][0] != 9 {
		t.Errorf("Tenet subscribers = %v, want [9]", byMovie["Tenet"])
	}
}

func TestVenueDirectory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LookupVenueName(ctx, "PVKC")
	if err != nil {
		t.Fatalf("LookupVenueName: %v", err)
	}
	if ok {
		t.Error("lookup of unknown venue reported found")
	}

	if err := s.UpsertVenueName(ctx, "PVKC", "PVR Kochi"); err != nil {
		t.Fatalf("UpsertVenueName: %v", err)
	}
	// Re-resolving replaces the cached name.
	if err := s.UpsertVenueName(ctx, "PVKC", "PVR Lulu Kochi"); err != nil {
		t.Fatalf("UpsertVenueName (replace): %v", err)
	}

	name, ok, err := s.LookupVenueName(ctx, "PVKC")
	if err != nil {
		t.Fatalf("LookupVenueName: %v", err)
	}
	if !ok || name != "PVR Lulu Kochi" {
		t.Errorf("name = %q ok = %v, want replaced entry", name, ok)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "waitlist.db")

	s, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	event := testEvent()
	if err := s.AddSubscription(ctx, 42, event); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	watched, err := reopened.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot after reopen: %v", err)
	}
	if len(watched) != 1 || len(watched[0].Subscribers) != 1 {
		t.Fatalf("subscription lost across restart: %+v", watched)
	}
	if watched[0].Event != event {
		t.Errorf("event round-trip mismatch: got %+v, want %+v", watched[0].Event, event)
	}
}
