// Package engine wires the daemon's components together: the repository,
// the in-memory context graph, the ingest/linker pipeline, and the
// implicit mention scanner. It is the single entry point the server and
// cmd/cronosd call into to handle a decoded protocol message.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/homardcloud/cronos/internal/aggregator"
	"github.com/homardcloud/cronos/internal/graph"
	"github.com/homardcloud/cronos/internal/implicit"
	"github.com/homardcloud/cronos/internal/ingest"
	"github.com/homardcloud/cronos/internal/linker"
	"github.com/homardcloud/cronos/internal/model"
	"github.com/homardcloud/cronos/internal/proto"
	"github.com/homardcloud/cronos/internal/store"
)

// Engine holds every long-lived component the daemon needs to answer a
// message: repository and graph locks are always acquired in that
// order (repository, then graph) to avoid deadlocks between the
// ingest/link path and queries.
type Engine struct {
	repoMu  sync.Mutex
	repo    *store.Repository
	graphMu sync.Mutex
	graph   *graph.ContextGraph

	ingestMu sync.Mutex
	ingest   *ingest.Pipeline

	linker   *linker.Linker
	implicit *implicit.Scanner

	collectorsMu sync.Mutex
	collectors   map[string]*proto.CollectorInfo

	pausedMu sync.Mutex
	paused   bool

	startTime time.Time
}

// Open opens (creating if absent) the SQLite database at dbPath,
// rebuilds the in-memory graph from its contents, and returns a ready
// Engine. dedupWindowMs and temporalWindowMs are threaded in from
// config, mirroring the original daemon's engine::open.
func Open(dbPath string, dedupWindowMs, temporalWindowMs int64) (*Engine, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("engine: create db dir: %w", err)
		}
	}

	repo, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("engine: open repository: %w", err)
	}

	entities, err := repo.AllEntities()
	if err != nil {
		return nil, fmt.Errorf("engine: load entities: %w", err)
	}
	edges, err := repo.AllEdges()
	if err != nil {
		return nil, fmt.Errorf("engine: load edges: %w", err)
	}
	g := graph.Rebuild(entities, edges)

	scanner := implicit.New()
	if err := scanner.Refresh(entities); err != nil {
		return nil, fmt.Errorf("engine: build implicit scanner: %w", err)
	}

	log.Info().Int("entities", len(entities)).Int("edges", len(edges)).Msg("rebuilt in-memory graph")

	return &Engine{
		repo:       repo,
		graph:      g,
		ingest:     ingest.New(dedupWindowMs),
		linker:     linker.New(temporalWindowMs),
		implicit:   scanner,
		collectors: make(map[string]*proto.CollectorInfo),
		startTime:  time.Now(),
	}, nil
}

// Close releases the repository's database handle.
func (e *Engine) Close() error {
	return e.repo.Close()
}

// HandleMessage dispatches a decoded message to the matching handler
// and returns the response to send back.
func (e *Engine) HandleMessage(msg *proto.Message) *proto.Message {
	switch k := msg.Kind.(type) {
	case proto.EmitEvent:
		return e.handleEmitEvent(msg.ID, k.Event)
	case proto.CollectorHandshake:
		return e.handleHandshake(msg.ID, k)
	case proto.Heartbeat:
		return proto.NewAck(msg.ID)
	case proto.Query:
		return e.handleQuery(msg.ID, k.Query)
	case proto.Status:
		return e.handleStatus(msg.ID)
	case proto.ListCollectors:
		return e.handleListCollectors(msg.ID)
	case proto.SetTrackingPaused:
		return e.handleSetTrackingPaused(msg.ID, k)
	default:
		return proto.NewError(msg.ID, proto.ErrorCodeBadRequest, "unexpected message type")
	}
}

func (e *Engine) handleEmitEvent(requestID string, event model.Event) *proto.Message {
	e.pausedMu.Lock()
	paused := e.paused
	e.pausedMu.Unlock()
	if paused {
		return proto.NewAck(requestID)
	}

	e.ingestMu.Lock()
	processed, ok := e.ingest.Process(event)
	e.ingestMu.Unlock()
	if !ok {
		return proto.NewAck(requestID)
	}

	implicitRefs := e.implicit.Scan(processed.Metadata)

	e.repoMu.Lock()
	e.graphMu.Lock()
	err := e.linker.Link(&processed, implicitRefs, e.repo, e.graph)
	e.graphMu.Unlock()
	e.repoMu.Unlock()

	if err != nil {
		return proto.NewError(requestID, proto.ErrorCodeInternalError, err.Error())
	}

	e.collectorsMu.Lock()
	for _, info := range e.collectors {
		if info.Source == processed.Source {
			info.EventsSent++
		}
	}
	e.collectorsMu.Unlock()

	return proto.NewAck(requestID)
}

func (e *Engine) handleHandshake(requestID string, hs proto.CollectorHandshake) *proto.Message {
	now := model.Now()
	e.collectorsMu.Lock()
	e.collectors[hs.Name] = &proto.CollectorInfo{
		Name:          hs.Name,
		Source:        hs.Source,
		Connected:     true,
		LastHeartbeat: &now,
		EventsSent:    0,
	}
	e.collectorsMu.Unlock()
	return proto.NewAck(requestID)
}

// handleSetTrackingPaused sets the paused flag and reports it back.
// While paused, handleEmitEvent acks incoming events without ingesting,
// linking, or persisting them.
func (e *Engine) handleSetTrackingPaused(requestID string, msg proto.SetTrackingPaused) *proto.Message {
	e.pausedMu.Lock()
	e.paused = msg.Paused
	e.pausedMu.Unlock()
	return proto.NewMessage(requestID, proto.TrackingStatus{Paused: msg.Paused})
}

func (e *Engine) handleQuery(requestID string, query proto.QueryRequest) *proto.Message {
	response, err := e.dispatchQuery(query.Kind)
	if err != nil {
		if code, ok := err.(*queryError); ok {
			return proto.NewError(requestID, code.code, code.message)
		}
		return proto.NewError(requestID, proto.ErrorCodeInternalError, err.Error())
	}
	return proto.NewMessage(requestID, proto.QueryResult{Response: response})
}

// queryError carries an explicit error code for a query failure, as
// opposed to an unexpected internal error.
type queryError struct {
	code    proto.ErrorCode
	message string
}

func (q *queryError) Error() string { return q.message }

func (e *Engine) dispatchQuery(kind proto.QueryKind) (proto.QueryResponse, error) {
	switch q := kind.(type) {
	case proto.SearchQuery:
		e.repoMu.Lock()
		entities, err := e.repo.SearchEntities(q.Text, q.Limit)
		e.repoMu.Unlock()
		if err != nil {
			return proto.QueryResponse{}, err
		}
		return proto.QueryResponse{Entities: derefEntities(entities)}, nil

	case proto.RecentQuery:
		e.repoMu.Lock()
		stored, err := e.repo.RecentEvents(q.Limit)
		events, convErr := e.resolveStoredEvents(stored)
		e.repoMu.Unlock()
		if err != nil {
			return proto.QueryResponse{}, err
		}
		if convErr != nil {
			return proto.QueryResponse{}, convErr
		}
		return proto.QueryResponse{Events: events}, nil

	case proto.TimelineQuery:
		e.repoMu.Lock()
		stored, err := e.repo.EventsInRange(q.From, q.To)
		events, convErr := e.resolveStoredEvents(stored)
		e.repoMu.Unlock()
		if err != nil {
			return proto.QueryResponse{}, err
		}
		if convErr != nil {
			return proto.QueryResponse{}, convErr
		}
		return proto.QueryResponse{Events: events}, nil

	case proto.RelatedQuery:
		e.graphMu.Lock()
		relatedIDs := e.graph.Related(q.EntityID, q.Depth)
		e.graphMu.Unlock()

		e.repoMu.Lock()
		defer e.repoMu.Unlock()
		entities := make([]model.Entity, 0, len(relatedIDs))
		for _, id := range relatedIDs {
			entity, err := e.repo.GetEntity(id)
			if err != nil {
				return proto.QueryResponse{}, err
			}
			if entity != nil {
				entities = append(entities, *entity)
			}
		}
		return proto.QueryResponse{Entities: entities}, nil

	case proto.SessionsQuery:
		e.repoMu.Lock()
		sessions, err := e.repo.SessionsInRange(q.From, q.To, q.Limit)
		e.repoMu.Unlock()
		if err != nil {
			return proto.QueryResponse{}, err
		}
		return proto.QueryResponse{Sessions: toSessionInfos(sessions)}, nil

	case proto.DaySummaryQuery:
		return e.handleDaySummary(q.Date)

	default:
		return proto.QueryResponse{}, &queryError{code: proto.ErrorCodeBadRequest, message: "unknown query kind"}
	}
}

// handleDaySummary parses date as YYYY-MM-DD, computes the
// [midnight UTC, next midnight UTC) window for that day, and returns
// both the events and the sessions overlapping it.
func (e *Engine) handleDaySummary(date string) (proto.QueryResponse, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return proto.QueryResponse{}, &queryError{code: proto.ErrorCodeBadRequest, message: fmt.Sprintf("invalid date %q: %v", date, err)}
	}
	start := model.Timestamp(day.UTC().UnixMilli())
	// The range queries include their end bound, so stop 1 ms short of
	// the next midnight.
	end := model.Timestamp(day.UTC().AddDate(0, 0, 1).UnixMilli()) - 1

	e.repoMu.Lock()
	stored, err := e.repo.EventsInRange(start, end)
	var events []model.Event
	var convErr error
	if err == nil {
		events, convErr = e.resolveStoredEvents(stored)
	}
	var sessions []*model.Session
	var sessErr error
	if err == nil && convErr == nil {
		sessions, sessErr = e.repo.SessionsInRange(start, end, 0)
	}
	e.repoMu.Unlock()

	if err != nil {
		return proto.QueryResponse{}, err
	}
	if convErr != nil {
		return proto.QueryResponse{}, convErr
	}
	if sessErr != nil {
		return proto.QueryResponse{}, sessErr
	}

	return proto.QueryResponse{Events: events, Sessions: toSessionInfos(sessions)}, nil
}

func (e *Engine) handleStatus(requestID string) *proto.Message {
	e.repoMu.Lock()
	entityCount, _ := e.repo.EntityCount()
	edgeCount, _ := e.repo.EdgeCount()
	eventCount, _ := e.repo.EventCount()
	e.repoMu.Unlock()

	e.collectorsMu.Lock()
	connected := uint32(len(e.collectors))
	e.collectorsMu.Unlock()

	info := proto.StatusInfo{
		UptimeSecs:          uint64(time.Since(e.startTime).Seconds()),
		EntityCount:         entityCount,
		EdgeCount:           edgeCount,
		EventCount:          eventCount,
		ConnectedCollectors: connected,
	}
	return proto.NewMessage(requestID, proto.StatusResult{Info: info})
}

func (e *Engine) handleListCollectors(requestID string) *proto.Message {
	e.collectorsMu.Lock()
	collectors := make([]proto.CollectorInfo, 0, len(e.collectors))
	for _, info := range e.collectors {
		collectors = append(collectors, *info)
	}
	e.collectorsMu.Unlock()
	return proto.NewMessage(requestID, proto.CollectorList{Collectors: collectors})
}

// RunAggregation locks the repository and runs one aggregation pass,
// refreshing the implicit scanner's dictionary afterward so newly
// created entities become scannable. Called on a timer by cmd/cronosd.
func (e *Engine) RunAggregation(agg *aggregator.Aggregator) (int, error) {
	e.repoMu.Lock()
	count, err := agg.Aggregate(e.repo)
	var entities []*model.Entity
	if err == nil {
		entities, err = e.repo.AllEntities()
	}
	e.repoMu.Unlock()
	if err != nil {
		return 0, err
	}
	if refreshErr := e.implicit.Refresh(entities); refreshErr != nil {
		log.Warn().Err(refreshErr).Msg("failed to refresh implicit scanner dictionary")
	}
	return count, nil
}

// resolveStoredEvents reconstructs Events from StoredEvents by looking
// up each subject entity. Events whose subject entity no longer exists
// are skipped. Context is always empty on reconstruction: the
// event_context join table is not traversed here. Callers must hold
// repoMu.
func (e *Engine) resolveStoredEvents(stored []*store.StoredEvent) ([]model.Event, error) {
	events := make([]model.Event, 0, len(stored))
	for _, se := range stored {
		entity, err := e.repo.GetEntity(se.SubjectID)
		if err != nil {
			return nil, err
		}
		if entity == nil {
			continue
		}
		events = append(events, model.Event{
			ID:        se.ID,
			Timestamp: se.Timestamp,
			Source:    se.Source,
			Kind:      se.Kind,
			Subject: model.EntityRef{
				Kind:       entity.Kind,
				Identity:   entity.Name,
				Attributes: entity.Attributes,
			},
			Context:  []model.EntityRef{},
			Metadata: se.Metadata,
		})
	}
	return events, nil
}

func derefEntities(entities []*model.Entity) []model.Entity {
	out := make([]model.Entity, len(entities))
	for i, e := range entities {
		out[i] = *e
	}
	return out
}

func toSessionInfos(sessions []*model.Session) []proto.SessionInfo {
	out := make([]proto.SessionInfo, len(sessions))
	for i, s := range sessions {
		out[i] = proto.SessionInfo{
			ID:           s.ID,
			AppName:      s.AppName,
			WindowTitles: s.WindowTitles,
			Project:      s.Project,
			Category:     s.Category,
			StartTime:    s.StartTime,
			EndTime:      s.EndTime,
			DurationSecs: s.DurationSecs,
			EventCount:   s.EventCount,
		}
	}
	return out
}
