// Package store provides the SQLite-backed repository: the daemon's sole
// owner of durable state (entities, events, edges, sessions, and the
// full-text index over entity names/attributes).
package store

import "github.com/homardcloud/cronos/internal/model"

// StoredEvent is an event as persisted, with its subject already resolved
// to an entity id rather than carried as an unresolved EntityRef.
type StoredEvent struct {
	ID        model.EventId
	Timestamp model.Timestamp
	Source    model.CollectorSource
	Kind      model.EventKind
	SubjectID model.EntityId
	Metadata  model.Attributes
}

// entityRow mirrors the entities table's column order for scanning.
type entityRow struct {
	id         string
	kind       string
	name       string
	attributes string
	firstSeen  int64
	lastSeen   int64
}

// eventRow mirrors the events table's column order for scanning.
type eventRow struct {
	id        string
	timestamp int64
	source    string
	kind      string
	subjectID string
	metadata  string
}

// edgeRow mirrors the edges table's column order for scanning.
type edgeRow struct {
	id             string
	fromID         string
	toID           string
	relation       string
	strength       float64
	createdAt      int64
	lastReinforced int64
}

// sessionRow mirrors the sessions table's column order for scanning.
type sessionRow struct {
	id           string
	appName      string
	windowTitles string
	project      *string
	category     string
	startTime    int64
	endTime      int64
	durationSecs int64
	eventCount   int64
	metadata     string
}
