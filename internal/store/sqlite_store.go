// Package store provides SQLite-backed persistence for cronos.
// Uses ncruces/go-sqlite3/driver which provides a database/sql interface.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/homardcloud/cronos/internal/model"
)

// Repository is the daemon's sole owner of durable state: a single
// *sql.DB handle held open for the process lifetime, never pooled
// across multiple connections (SetMaxOpenConns(1) below), guarded by
// an RWMutex the way the teacher guards its SQLiteStore.
type Repository struct {
	mu sync.RWMutex
	db *sql.DB
}

// OpenInMemory opens a throwaway repository backed by an in-memory
// database, for tests and one-shot tooling.
func OpenInMemory() (*Repository, error) {
	return Open(":memory:")
}

// Open opens (and migrates) the repository at path. A single connection
// is held for the lifetime of the process, per the invariant that the
// repository is the sole writer of the database file.
func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Close()
}

// =============================================================================
// Entities
// =============================================================================

// InsertEntity upserts an entity keyed by id: on conflict, name and
// attributes are refreshed and last_seen advances, but first_seen never
// moves backward. The FTS shadow row is kept in sync via the same rowid
// the entities table assigns.
func (r *Repository) InsertEntity(e *model.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return fmt.Errorf("store: marshal entity attributes: %w", err)
	}

	// FTS5 virtual tables cannot be upserted: drop the index entry for the
	// row's current values (if the row exists) before they change.
	_, err = r.db.Exec(`
		INSERT INTO entities_fts(entities_fts, rowid, name, attributes)
		SELECT 'delete', rowid, name, attributes FROM entities WHERE id = ?
	`, e.ID)
	if err != nil {
		return fmt.Errorf("store: unindex entity: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO entities (id, kind, name, attributes, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			attributes = excluded.attributes,
			last_seen = excluded.last_seen
	`, e.ID, e.Kind.String(), e.Name, string(attrs), int64(e.FirstSeen), int64(e.LastSeen))
	if err != nil {
		return fmt.Errorf("store: insert entity: %w", err)
	}

	var rowid int64
	if err := r.db.QueryRow(`SELECT rowid FROM entities WHERE id = ?`, e.ID).Scan(&rowid); err != nil {
		return fmt.Errorf("store: locate entity rowid: %w", err)
	}
	_, err = r.db.Exec(`
		INSERT INTO entities_fts(rowid, name, attributes) VALUES (?, ?, ?)
	`, rowid, e.Name, string(attrs))
	if err != nil {
		return fmt.Errorf("store: index entity: %w", err)
	}
	return nil
}

// GetEntity returns the entity with the given id, or (nil, nil) if none
// exists.
func (r *Repository) GetEntity(id model.EntityId) (*model.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row := r.db.QueryRow(`SELECT id, kind, name, attributes, first_seen, last_seen FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// FindEntityByKindAndName looks up an entity by its natural key. Returns
// (nil, nil) when no match exists.
func (r *Repository) FindEntityByKindAndName(kind model.EntityKind, name string) (*model.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row := r.db.QueryRow(`
		SELECT id, kind, name, attributes, first_seen, last_seen
		FROM entities WHERE kind = ? AND name = ?
	`, kind.String(), name)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// AllEntities returns every entity, ordered by first_seen, for graph
// rebuilds.
func (r *Repository) AllEntities() ([]*model.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows, err := r.db.Query(`SELECT id, kind, name, attributes, first_seen, last_seen FROM entities ORDER BY first_seen`)
	if err != nil {
		return nil, fmt.Errorf("store: list entities: %w", err)
	}
	defer rows.Close()

	var out []*model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EntityCount returns the number of entities on record.
func (r *Repository) EntityCount() (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n uint64
	err := r.db.QueryRow(`SELECT COUNT(*) FROM entities`).Scan(&n)
	return n, err
}

// SearchEntities runs an FTS5 MATCH query over entity name/attributes,
// returning at most limit entities ranked by bm25.
func (r *Repository) SearchEntities(query string, limit uint32) ([]*model.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows, err := r.db.Query(`
		SELECT e.id, e.kind, e.name, e.attributes, e.first_seen, e.last_seen
		FROM entities_fts f
		JOIN entities e ON e.rowid = f.rowid
		WHERE entities_fts MATCH ?
		ORDER BY bm25(entities_fts)
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search entities: %w", err)
	}
	defer rows.Close()

	var out []*model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row scannable) (*model.Entity, error) {
	var rec entityRow
	if err := row.Scan(&rec.id, &rec.kind, &rec.name, &rec.attributes, &rec.firstSeen, &rec.lastSeen); err != nil {
		return nil, err
	}
	id, err := model.ParseEntityId(rec.id)
	if err != nil {
		return nil, fmt.Errorf("store: corrupt entity id: %w", err)
	}
	kind, err := model.ParseEntityKind(rec.kind)
	if err != nil {
		return nil, fmt.Errorf("store: corrupt entity kind: %w", err)
	}
	var attrs model.Attributes
	if err := json.Unmarshal([]byte(rec.attributes), &attrs); err != nil {
		return nil, fmt.Errorf("store: corrupt entity attributes: %w", err)
	}
	return &model.Entity{
		ID:         id,
		Kind:       kind,
		Name:       rec.name,
		Attributes: attrs,
		FirstSeen:  model.Timestamp(rec.firstSeen),
		LastSeen:   model.Timestamp(rec.lastSeen),
	}, nil
}

// =============================================================================
// Events
// =============================================================================

// InsertEvent persists an event and its context links. subjectID and
// every id in contextIDs must already exist as entities.
func (r *Repository) InsertEvent(e *model.Event, subjectID model.EntityId, contextIDs []model.EntityId) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal event metadata: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO events (id, timestamp, source, kind, subject_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, int64(e.Timestamp), e.Source.String(), e.Kind.String(), subjectID, string(meta))
	if err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}

	for _, ctxID := range contextIDs {
		_, err := r.db.Exec(`
			INSERT OR IGNORE INTO event_context (event_id, entity_id) VALUES (?, ?)
		`, e.ID, ctxID)
		if err != nil {
			return fmt.Errorf("store: link event context: %w", err)
		}
	}
	return nil
}

// EventsInRange returns events with timestamp in [start, end], ascending.
func (r *Repository) EventsInRange(start, end model.Timestamp) ([]*StoredEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows, err := r.db.Query(`
		SELECT id, timestamp, source, kind, subject_id, metadata
		FROM events WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`, int64(start), int64(end))
	if err != nil {
		return nil, fmt.Errorf("store: events in range: %w", err)
	}
	defer rows.Close()
	return scanStoredEvents(rows)
}

// RecentEvents returns the most recent events, newest first, capped at
// limit.
func (r *Repository) RecentEvents(limit uint32) ([]*StoredEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows, err := r.db.Query(`
		SELECT id, timestamp, source, kind, subject_id, metadata
		FROM events ORDER BY timestamp DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent events: %w", err)
	}
	defer rows.Close()
	return scanStoredEvents(rows)
}

// EventCount returns the number of events on record.
func (r *Repository) EventCount() (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n uint64
	err := r.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

func scanStoredEvents(rows *sql.Rows) ([]*StoredEvent, error) {
	var out []*StoredEvent
	for rows.Next() {
		var rec eventRow
		if err := rows.Scan(&rec.id, &rec.timestamp, &rec.source, &rec.kind, &rec.subjectID, &rec.metadata); err != nil {
			return nil, err
		}
		ev, err := storedEventFromRow(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func storedEventFromRow(rec eventRow) (*StoredEvent, error) {
	id, err := model.ParseEventId(rec.id)
	if err != nil {
		return nil, fmt.Errorf("store: corrupt event id: %w", err)
	}
	subjectID, err := model.ParseEntityId(rec.subjectID)
	if err != nil {
		return nil, fmt.Errorf("store: corrupt event subject id: %w", err)
	}
	source, err := parseSourceExported(rec.source)
	if err != nil {
		return nil, err
	}
	kind, err := parseEventKindExported(rec.kind)
	if err != nil {
		return nil, err
	}
	var meta model.Attributes
	if err := json.Unmarshal([]byte(rec.metadata), &meta); err != nil {
		return nil, fmt.Errorf("store: corrupt event metadata: %w", err)
	}
	return &StoredEvent{
		ID:        id,
		Timestamp: model.Timestamp(rec.timestamp),
		Source:    source,
		Kind:      kind,
		SubjectID: subjectID,
		Metadata:  meta,
	}, nil
}

// =============================================================================
// Edges
// =============================================================================

// InsertEdge upserts an edge keyed by id: on conflict, strength and
// last_reinforced are refreshed (the linker's reinforcement path).
func (r *Repository) InsertEdge(e *model.Edge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.db.Exec(`
		INSERT INTO edges (id, from_id, to_id, relation, strength, created_at, last_reinforced)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			strength = excluded.strength,
			last_reinforced = excluded.last_reinforced
	`, e.ID, e.From, e.To, e.Relation.String(), float64(e.Strength), int64(e.CreatedAt), int64(e.LastReinforced))
	if err != nil {
		return fmt.Errorf("store: insert edge: %w", err)
	}
	return nil
}

// FindEdge looks up an edge by its natural key (from, to, relation).
// Returns (nil, nil) when no match exists.
func (r *Repository) FindEdge(from, to model.EntityId, relation model.Relation) (*model.Edge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row := r.db.QueryRow(`
		SELECT id, from_id, to_id, relation, strength, created_at, last_reinforced
		FROM edges WHERE from_id = ? AND to_id = ? AND relation = ?
	`, from, to, relation.String())
	e, err := scanEdge(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// EdgesFrom returns every edge originating at entityID.
func (r *Repository) EdgesFrom(entityID model.EntityId) ([]*model.Edge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows, err := r.db.Query(`
		SELECT id, from_id, to_id, relation, strength, created_at, last_reinforced
		FROM edges WHERE from_id = ?
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("store: edges from: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// AllEdges returns every edge, for graph rebuilds.
func (r *Repository) AllEdges() ([]*model.Edge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows, err := r.db.Query(`SELECT id, from_id, to_id, relation, strength, created_at, last_reinforced FROM edges`)
	if err != nil {
		return nil, fmt.Errorf("store: list edges: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// EdgeCount returns the number of edges on record.
func (r *Repository) EdgeCount() (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n uint64
	err := r.db.QueryRow(`SELECT COUNT(*) FROM edges`).Scan(&n)
	return n, err
}

func scanEdges(rows *sql.Rows) ([]*model.Edge, error) {
	var out []*model.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEdge(row scannable) (*model.Edge, error) {
	var rec edgeRow
	if err := row.Scan(&rec.id, &rec.fromID, &rec.toID, &rec.relation, &rec.strength, &rec.createdAt, &rec.lastReinforced); err != nil {
		return nil, err
	}
	id, err := model.ParseEdgeId(rec.id)
	if err != nil {
		return nil, fmt.Errorf("store: corrupt edge id: %w", err)
	}
	from, err := model.ParseEntityId(rec.fromID)
	if err != nil {
		return nil, fmt.Errorf("store: corrupt edge from id: %w", err)
	}
	to, err := model.ParseEntityId(rec.toID)
	if err != nil {
		return nil, fmt.Errorf("store: corrupt edge to id: %w", err)
	}
	relation, err := parseRelationExported(rec.relation)
	if err != nil {
		return nil, err
	}
	return &model.Edge{
		ID:             id,
		From:           from,
		To:             to,
		Relation:       relation,
		Strength:       float32(rec.strength),
		CreatedAt:      model.Timestamp(rec.createdAt),
		LastReinforced: model.Timestamp(rec.lastReinforced),
	}, nil
}

// =============================================================================
// Sessions
//
// These three operations have no counterpart in the retrieved repo.rs
// snapshot (see DESIGN.md); they are implemented against the sessions
// table defined by migrateV2 and the call signatures aggregator.rs uses.
// =============================================================================

// InsertSession persists a newly aggregated session.
func (r *Repository) InsertSession(s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	titles, err := json.Marshal(s.WindowTitles)
	if err != nil {
		return fmt.Errorf("store: marshal window titles: %w", err)
	}
	meta, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal session metadata: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO sessions (id, app_name, window_titles, project, category,
			start_time, end_time, duration_secs, event_count, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.AppName, string(titles), s.Project, s.Category,
		int64(s.StartTime), int64(s.EndTime), s.DurationSecs, s.EventCount, string(meta))
	if err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}
	return nil
}

// LastSessionEndTime returns the latest session end_time on record, the
// aggregator's watermark. Returns 0 when no sessions exist yet.
func (r *Repository) LastSessionEndTime() (model.Timestamp, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var end sql.NullInt64
	err := r.db.QueryRow(`SELECT MAX(end_time) FROM sessions`).Scan(&end)
	if err != nil {
		return 0, fmt.Errorf("store: last session end time: %w", err)
	}
	return model.Timestamp(end.Int64), nil
}

// SessionsInRange returns sessions overlapping [from, to], newest first,
// capped at limit. limit == 0 means unlimited.
func (r *Repository) SessionsInRange(from, to model.Timestamp, limit uint32) ([]*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sqlLimit := int64(-1)
	if limit > 0 {
		sqlLimit = int64(limit)
	}
	rows, err := r.db.Query(`
		SELECT id, app_name, window_titles, project, category,
			start_time, end_time, duration_secs, event_count, metadata
		FROM sessions
		WHERE start_time <= ? AND end_time >= ?
		ORDER BY start_time DESC
		LIMIT ?
	`, int64(to), int64(from), sqlLimit)
	if err != nil {
		return nil, fmt.Errorf("store: sessions in range: %w", err)
	}
	defer rows.Close()

	var out []*model.Session
	for rows.Next() {
		var rec sessionRow
		if err := rows.Scan(&rec.id, &rec.appName, &rec.windowTitles, &rec.project, &rec.category,
			&rec.startTime, &rec.endTime, &rec.durationSecs, &rec.eventCount, &rec.metadata); err != nil {
			return nil, err
		}
		s, err := sessionFromRow(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func sessionFromRow(rec sessionRow) (*model.Session, error) {
	var titles []string
	if err := json.Unmarshal([]byte(rec.windowTitles), &titles); err != nil {
		return nil, fmt.Errorf("store: corrupt session window titles: %w", err)
	}
	var meta model.Attributes
	if err := json.Unmarshal([]byte(rec.metadata), &meta); err != nil {
		return nil, fmt.Errorf("store: corrupt session metadata: %w", err)
	}
	return &model.Session{
		ID:           rec.id,
		AppName:      rec.appName,
		WindowTitles: titles,
		Project:      rec.project,
		Category:     rec.category,
		StartTime:    model.Timestamp(rec.startTime),
		EndTime:      model.Timestamp(rec.endTime),
		DurationSecs: rec.durationSecs,
		EventCount:   rec.eventCount,
		Metadata:     meta,
	}, nil
}

// parseSourceExported/parseEventKindExported/parseRelationExported adapt
// model's unexported-tag enums back from their stored string form; model
// only exposes ParseEntityKind publicly, so the others are reconstructed
// via JSON round trip rather than duplicating model's parse tables here.
// Custom variants are stored as "custom:<tag>" and rebuilt directly.

func parseSourceExported(s string) (model.CollectorSource, error) {
	if strings.HasPrefix(s, "custom:") {
		return model.CustomSource(strings.TrimPrefix(s, "custom:")), nil
	}
	var src model.CollectorSource
	if err := json.Unmarshal([]byte(`"`+s+`"`), &src); err != nil {
		return model.CollectorSource{}, fmt.Errorf("store: corrupt collector source %q: %w", s, err)
	}
	return src, nil
}

func parseEventKindExported(s string) (model.EventKind, error) {
	if strings.HasPrefix(s, "custom:") {
		return model.CustomEventKind(strings.TrimPrefix(s, "custom:")), nil
	}
	var k model.EventKind
	if err := json.Unmarshal([]byte(`"`+s+`"`), &k); err != nil {
		return model.EventKind{}, fmt.Errorf("store: corrupt event kind %q: %w", s, err)
	}
	return k, nil
}

func parseRelationExported(s string) (model.Relation, error) {
	if strings.HasPrefix(s, "custom:") {
		return model.CustomRelation(strings.TrimPrefix(s, "custom:")), nil
	}
	var rel model.Relation
	if err := json.Unmarshal([]byte(`"`+s+`"`), &rel); err != nil {
		return model.Relation{}, fmt.Errorf("store: corrupt relation %q: %w", s, err)
	}
	return rel, nil
}
