package model

import (
	"encoding/json"
	"time"
)

// Timestamp is milliseconds since the Unix epoch, UTC.
type Timestamp int64

// Now returns the current time as a Timestamp.
func Now() Timestamp { return Timestamp(time.Now().UnixMilli()) }

// Attributes is a schemaless JSON object, used for both entity attributes
// and event metadata. No schema is enforced ahead of time; callers treat it
// as an opaque map of string to JSON value.
type Attributes map[string]json.RawMessage

// Clone returns a shallow copy of the map (the json.RawMessage values
// themselves are immutable once parsed, so a shallow copy is sufficient).
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// String extracts a string-valued attribute, mirroring how the aggregator
// reads metadata["window_title"].
func (a Attributes) String(key string) (string, bool) {
	raw, ok := a[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Entity models a noun the user interacts with: a file, a project, an app,
// and so on. (kind, name) is a natural key — at most one entity exists per
// pair, enforced by the repository's find-or-create path in the linker.
type Entity struct {
	ID         EntityId   `json:"id"`
	Kind       EntityKind `json:"kind"`
	Name       string     `json:"name"`
	Attributes Attributes `json:"attributes"`
	FirstSeen  Timestamp  `json:"first_seen"`
	LastSeen   Timestamp  `json:"last_seen"`
}

// EntityRef is an unresolved reference to an entity, as carried on the wire
// by a raw Event before the linker resolves it against the repository.
type EntityRef struct {
	Kind       EntityKind `json:"kind"`
	Identity   string     `json:"identity"`
	Attributes Attributes `json:"attributes"`
}
