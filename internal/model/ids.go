// Package model defines the entities, events, edges, and sessions that make
// up the daemon's data plane, along with the closed enumerations that tag
// them.
package model

import (
	"crypto/rand"
	"database/sql/driver"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid"
)

// entropy is a process-wide monotonic ULID source so that two ids minted in
// the same process within the same millisecond still sort distinctly.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newULID() ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// EntityId identifies an Entity. Wire-represented as a 26-character
// Crockford base32 ULID string.
type EntityId ulid.ULID

// EventId identifies an Event.
type EventId ulid.ULID

// EdgeId identifies an Edge.
type EdgeId ulid.ULID

// NewEntityId mints a new time-ordered EntityId.
func NewEntityId() EntityId { return EntityId(newULID()) }

// NewEventId mints a new time-ordered EventId.
func NewEventId() EventId { return EventId(newULID()) }

// NewEdgeId mints a new time-ordered EdgeId.
func NewEdgeId() EdgeId { return EdgeId(newULID()) }

// NewULIDString mints a new time-ordered ULID as a string, for ids that
// don't belong to one of the closed id types above (e.g. Session.ID).
func NewULIDString() string { return newULID().String() }

func (id EntityId) String() string { return ulid.ULID(id).String() }
func (id EventId) String() string  { return ulid.ULID(id).String() }
func (id EdgeId) String() string   { return ulid.ULID(id).String() }

func (id EntityId) IsZero() bool { return ulid.ULID(id) == ulid.ULID{} }

// ParseEntityId parses a 26-character ULID string.
func ParseEntityId(s string) (EntityId, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return EntityId{}, fmt.Errorf("invalid entity id %q: %w", s, err)
	}
	return EntityId(u), nil
}

// ParseEventId parses a 26-character ULID string.
func ParseEventId(s string) (EventId, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return EventId{}, fmt.Errorf("invalid event id %q: %w", s, err)
	}
	return EventId(u), nil
}

// ParseEdgeId parses a 26-character ULID string.
func ParseEdgeId(s string) (EdgeId, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return EdgeId{}, fmt.Errorf("invalid edge id %q: %w", s, err)
	}
	return EdgeId(u), nil
}

// MarshalJSON/UnmarshalJSON render ids as their 26-character text form.

func (id EntityId) MarshalJSON() ([]byte, error) { return marshalID(ulid.ULID(id)) }
func (id EventId) MarshalJSON() ([]byte, error)  { return marshalID(ulid.ULID(id)) }
func (id EdgeId) MarshalJSON() ([]byte, error)   { return marshalID(ulid.ULID(id)) }

func (id *EntityId) UnmarshalJSON(b []byte) error {
	u, err := unmarshalID(b)
	if err != nil {
		return err
	}
	*id = EntityId(u)
	return nil
}

func (id *EventId) UnmarshalJSON(b []byte) error {
	u, err := unmarshalID(b)
	if err != nil {
		return err
	}
	*id = EventId(u)
	return nil
}

func (id *EdgeId) UnmarshalJSON(b []byte) error {
	u, err := unmarshalID(b)
	if err != nil {
		return err
	}
	*id = EdgeId(u)
	return nil
}

func marshalID(u ulid.ULID) ([]byte, error) {
	return []byte(`"` + u.String() + `"`), nil
}

func unmarshalID(b []byte) (ulid.ULID, error) {
	s := string(b)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return ulid.ULID{}, fmt.Errorf("invalid id literal %q", s)
	}
	return ulid.ParseStrict(s[1 : len(s)-1])
}

// Value/Scan let ids be bound directly as SQLite TEXT columns.

func (id EntityId) Value() (driver.Value, error) { return id.String(), nil }
func (id EventId) Value() (driver.Value, error)  { return id.String(), nil }
func (id EdgeId) Value() (driver.Value, error)   { return id.String(), nil }

func (id *EntityId) Scan(src interface{}) error { return scanID((*ulid.ULID)(id), src) }
func (id *EventId) Scan(src interface{}) error  { return scanID((*ulid.ULID)(id), src) }
func (id *EdgeId) Scan(src interface{}) error   { return scanID((*ulid.ULID)(id), src) }

func scanID(dst *ulid.ULID, src interface{}) error {
	s, ok := src.(string)
	if !ok {
		if b, ok := src.([]byte); ok {
			s = string(b)
		} else {
			return fmt.Errorf("cannot scan %T into id", src)
		}
	}
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return fmt.Errorf("invalid id in database %q: %w", s, err)
	}
	*dst = u
	return nil
}
