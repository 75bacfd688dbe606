// Package waitlist contains the core domain types for the booking waitlist
// notification service.
package waitlist

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// eventDomainKey is the 32-byte BLAKE3 key used for event identity digests.
// Domain separation keeps event ids distinct from any other hash the service
// might ever persist. The bytes are the ASCII domain name, zero-padded, so
// the key is inspectable in hex dumps.
var eventDomainKey = [32]byte{
	't', 'e', 'l', 'l', 'm', 'y', 's', 'h', 'o', 'w', '.',
	'e', 'v', 'e', 'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Event identifies a single show instance a subscriber is waiting on: the
// movie name as resolved from the booking service, the canonical uppercase
// venue code, and the calendar date in dd-mm-yyyy form. Two events with the
// same triple are the same event no matter how they were created.
type Event struct {
	MovieName  string `json:"movie_name"`
	VenueCode  string `json:"venue_code"`
	DateString string `json:"date_string"`
}

// NewEvent builds an Event with the venue code normalized to its canonical
// uppercase form.
func NewEvent(movieName, venueCode, dateString string) Event {
	return Event{
		MovieName:  strings.TrimSpace(movieName),
		VenueCode:  strings.ToUpper(strings.TrimSpace(venueCode)),
		DateString: strings.TrimSpace(dateString),
	}
}

// ID returns the deterministic storage key for the event: the hex-encoded
// keyed BLAKE3 digest of the triple. Fields are separated by a NUL byte so
// adjacent fields cannot be resliced into a colliding triple. Stable across
// process restarts.
func (e Event) ID() string {
	hasher, err := blake3.NewKeyed(eventDomainKey[:])
	if err != nil {
		// NewKeyed only fails on a wrong key length, which the fixed-size
		// array rules out.
		panic("waitlist: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(e.MovieName))
	hasher.Write([]byte{0})
	hasher.Write([]byte(e.VenueCode))
	hasher.Write([]byte{0})
	hasher.Write([]byte(e.DateString))
	return hex.EncodeToString(hasher.Sum(nil))
}

// Watched pairs an event with the set of chat ids waiting on it. This is the
// unit the reconciliation loop works on.
type Watched struct {
	Event       Event
	Subscribers []int64
}
