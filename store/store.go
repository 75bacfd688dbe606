// Package store persists watched events, subscriptions, and the venue name
// directory in SQLite.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/abinpaul1/BookMyShow-ticket-notifier-telegram-bot/pkg/waitlist"
)

// schema holds the three relations. event ids are hex BLAKE3 digests of the
// (movie, venue, date) triple; subscriptions reference them and cascade is
// handled explicitly (dependents first) so an interrupted delete never leaves
// a dangling subscription.
const schema = `
	CREATE TABLE IF NOT EXISTS events (
		event_id    TEXT PRIMARY KEY,
		movie_name  TEXT NOT NULL,
		venue_code  TEXT NOT NULL,
		date_string TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS subscriptions (
		event_id   TEXT NOT NULL REFERENCES events(event_id),
		chat_id    INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (event_id, chat_id)
	);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_chat ON subscriptions(chat_id);

	CREATE TABLE IF NOT EXISTS venues (
		venue_code TEXT PRIMARY KEY,
		venue_name TEXT NOT NULL
	);
`

// Store is a fixed-size pool of SQLite connections over the waitlist
// database. Safe for concurrent use; the enrollment path and the
// reconciliation loop share one Store. Writers are serialized by SQLite
// itself, with busy_timeout providing the brief wait-and-retry on
// contention.
type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Config holds the parameters for opening a store. Path is required.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The parent
	// directory must exist; the file is created if it does not.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to 4 if
	// zero or negative. Writes are serialized by SQLite regardless; extra
	// connections only help concurrent reads.
	PoolSize int

	// Logger receives operational messages. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Open opens the database, applies the standard pragmas to every connection,
// and creates the schema if missing. The caller must call Close when done.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", cfg.Path, err)
	}

	s := &Store{pool: pool, logger: logger, path: cfg.Path}

	conn, err := pool.Take(context.Background())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: take for schema init: %w", err)
	}
	defer pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: creating schema: %w", err)
	}

	logger.Info("store opened", "path", cfg.Path, "pool_size", poolSize)
	return s, nil
}

// prepareConn applies standard pragmas once per pooled connection. WAL keeps
// readers unblocked by the single writer; busy_timeout makes a writer wait
// briefly instead of failing when another writer holds the lock.
func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	return nil
}

// Close closes all connections in the pool. Blocks until borrowed
// connections are returned.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("store: closing %s: %w", s.path, err)
	}
	s.logger.Info("store closed", "path", s.path)
	return nil
}

// UpsertEvent inserts the event if it is not already present and returns its
// deterministic id either way. Never fails on a duplicate.
func (s *Store) UpsertEvent(ctx context.Context, event waitlist.Event) (string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", fmt.Errorf("store: upsert event: %w", err)
	}
	defer s.pool.Put(conn)

	id := event.ID()
	if err := insertEvent(conn, id, event); err != nil {
		return "", err
	}
	return id, nil
}

func insertEvent(conn *sqlite.Conn, id string, event waitlist.Event) error {
	err := sqlitex.Execute(conn,
		`INSERT OR IGNORE INTO events (event_id, movie_name, venue_code, date_string)
		 VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{id, event.MovieName, event.VenueCode, event.DateString},
		})
	if err != nil {
		return fmt.Errorf("store: insert event %s: %w", id, err)
	}
	return nil
}

// RemoveEvent deletes the event and every subscription to it in one
// transaction. Removing an event that does not exist is a no-op, so a
// retried delete always succeeds. The venue directory is never touched.
func (s *Store) RemoveEvent(ctx context.Context, eventID string) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: remove event: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	// Dependents before the parent.
	err = sqlitex.Execute(conn, `DELETE FROM subscriptions WHERE event_id = ?`,
		&sqlitex.ExecOptions{Args: []any{eventID}})
	if err != nil {
		return fmt.Errorf("store: delete subscriptions for %s: %w", eventID, err)
	}

	err = sqlitex.Execute(conn, `DELETE FROM events WHERE event_id = ?`,
		&sqlitex.ExecOptions{Args: []any{eventID}})
	if err != nil {
		return fmt.Errorf("store: delete event %s: %w", eventID, err)
	}

	s.logger.Info("event removed", "event_id", eventID)
	return nil
}

// AddSubscription links a chat id to an event, inserting the event first if
// needed. Both writes happen in one transaction so a caller never observes a
// subscription without its event or a half-done enrollment. A second
// identical call has no effect.
func (s *Store) AddSubscription(ctx context.Context, chatID int64, event waitlist.Event) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: add subscription: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	id := event.ID()
	if err = insertEvent(conn, id, event); err != nil {
		return err
	}

	err = sqlitex.Execute(conn,
		`INSERT OR IGNORE INTO subscriptions (event_id, chat_id, created_at) VALUES (?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{id, chatID, time.Now().Unix()}})
	if err != nil {
		return fmt.Errorf("store: insert subscription %s/%d: %w", id, chatID, err)
	}

	s.logger.Info("subscription added", "event_id", id, "chat_id", chatID,
		"movie", event.MovieName, "venue", event.VenueCode, "date", event.DateString)
	return nil
}

// CountSubscriptions returns the number of active subscriptions a chat id
// holds. The enrollment cap is enforced on this count at enrollment time,
// not here.
func (s *Store) CountSubscriptions(ctx context.Context, chatID int64) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: count subscriptions: %w", err)
	}
	defer s.pool.Put(conn)

	var count int
	err = sqlitex.Execute(conn,
		`SELECT COUNT(*) FROM subscriptions WHERE chat_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{chatID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("store: count subscriptions for %d: %w", chatID, err)
	}
	return count, nil
}

// SubscriptionsOf returns the events a chat id is waiting on, in enrollment
// order. For display only; the ordering is not guaranteed stable across
// calls if rows change underneath.
func (s *Store) SubscriptionsOf(ctx context.Context, chatID int64) ([]waitlist.Event, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: subscriptions of: %w", err)
	}
	defer s.pool.Put(conn)

	var events []waitlist.Event
	err = sqlitex.Execute(conn,
		`SELECT e.movie_name, e.venue_code, e.date_string
		 FROM events e JOIN subscriptions s ON s.event_id = e.event_id
		 WHERE s.chat_id = ?
		 ORDER BY s.created_at, s.rowid`,
		&sqlitex.ExecOptions{
			Args: []any{chatID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				events = append(events, waitlist.Event{
					MovieName:  stmt.ColumnText(0),
					VenueCode:  stmt.ColumnText(1),
					DateString: stmt.ColumnText(2),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: subscriptions of %d: %w", chatID, err)
	}
	return events, nil
}

// SubscribersOf returns the chat ids subscribed to an event.
func (s *Store) SubscribersOf(ctx context.Context, eventID string) ([]int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: subscribers of: %w", err)
	}
	defer s.pool.Put(conn)

	var chatIDs []int64
	err = sqlitex.Execute(conn,
		`SELECT chat_id FROM subscriptions WHERE event_id = ? ORDER BY rowid`,
		&sqlitex.ExecOptions{
			Args: []any{eventID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				chatIDs = append(chatIDs, stmt.ColumnInt64(0))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: subscribers of %s: %w", eventID, err)
	}
	return chatIDs, nil
}

// Snapshot returns every watched event with its subscribers, the working set
// for one reconciliation cycle. The join runs as a single statement, so the
// snapshot never contains an event without at least one subscriber.
func (s *Store) Snapshot(ctx context.Context) ([]waitlist.Watched, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: snapshot: %w", err)
	}
	defer s.pool.Put(conn)

	var (
		watched []waitlist.Watched
		lastID  string
	)
	err = sqlitex.Execute(conn,
		`SELECT e.event_id, e.movie_name, e.venue_code, e.date_string, s.chat_id
		 FROM events e JOIN subscriptions s ON s.event_id = e.event_id
		 ORDER BY e.event_id, s.rowid`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				id := stmt.ColumnText(0)
				if id != lastID {
					watched = append(watched, waitlist.Watched{
						Event: waitlist.Event{
							MovieName:  stmt.ColumnText(1),
							VenueCode:  stmt.ColumnText(2),
							DateString: stmt.ColumnText(3),
						},
					})
					lastID = id
				}
				last := &watched[len(watched)-1]
				last.Subscribers = append(last.Subscribers, stmt.ColumnInt64(4))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: snapshot: %w", err)
	}
	return watched, nil
}

// UpsertVenueName records the resolved display name for a venue code,
// replacing any previous entry. The directory is a best-effort cache; the
// booking service stays authoritative.
func (s *Store) UpsertVenueName(ctx context.Context, code, name string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: upsert venue: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`REPLACE INTO venues (venue_code, venue_name) VALUES (?, ?)`,
		&sqlitex.ExecOptions{Args: []any{code, name}})
	if err != nil {
		return fmt.Errorf("store: upsert venue %s: %w", code, err)
	}
	return nil
}

// LookupVenueName returns the cached display name for a venue code. The
// second return value is false when the code has never been resolved;
// callers fall back to showing the raw code.
func (s *Store) LookupVenueName(ctx context.Context, code string) (string, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", false, fmt.Errorf("store: lookup venue: %w", err)
	}
	defer s.pool.Put(conn)

	var (
		name  string
		found bool
	)
	err = sqlitex.Execute(conn,
		`SELECT venue_name FROM venues WHERE venue_code = ?`,
		&sqlitex.ExecOptions{
			Args: []any{code},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				name = stmt.ColumnText(0)
				found = true
				return nil
			},
		})
	if err != nil {
		return "", false, fmt.Errorf("store: lookup venue %s: %w", code, err)
	}
	return name, found, nil
}
