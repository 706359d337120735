package engine

import (
	"path/filepath"
	"testing"

	"github.com/homardcloud/cronos/internal/aggregator"
	"github.com/homardcloud/cronos/internal/model"
	"github.com/homardcloud/cronos/internal/proto"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	e, err := Open(dbPath, 1000, 300_000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func makeEmitEvent(id, identity string) *proto.Message {
	event := model.Event{
		ID:        model.NewEventId(),
		Timestamp: model.Now(),
		Source:    model.SourceFilesystem,
		Kind:      model.EventKindFileModified,
		Subject:   model.EntityRef{Kind: model.EntityKindFile, Identity: identity, Attributes: model.Attributes{}},
		Context:   []model.EntityRef{{Kind: model.EntityKindProject, Identity: "test-project", Attributes: model.Attributes{}}},
		Metadata:  model.Attributes{},
	}
	return proto.NewMessage(id, proto.EmitEvent{Event: event})
}

func TestEngineOpensAndHandlesStatus(t *testing.T) {
	e := newTestEngine(t)
	resp := e.HandleMessage(proto.NewMessage("s1", proto.Status{}))
	result, ok := resp.Kind.(proto.StatusResult)
	if !ok {
		t.Fatalf("expected StatusResult, got %T", resp.Kind)
	}
	if result.Info.EntityCount != 0 || result.Info.EdgeCount != 0 || result.Info.EventCount != 0 || result.Info.ConnectedCollectors != 0 {
		t.Fatalf("unexpected status: %+v", result.Info)
	}
}

func TestEngineHandlesHeartbeat(t *testing.T) {
	e := newTestEngine(t)
	resp := e.HandleMessage(proto.NewMessage("h1", proto.Heartbeat{}))
	ack, ok := resp.Kind.(proto.Ack)
	if !ok || ack.RequestID != "h1" {
		t.Fatalf("expected Ack(h1), got %+v", resp.Kind)
	}
}

func TestEngineHandlesCollectorHandshake(t *testing.T) {
	e := newTestEngine(t)
	hsMsg := proto.NewMessage("c1", proto.CollectorHandshake{Name: "fs-collector", CollectorVersion: "0.1.0", Source: model.SourceFilesystem})
	resp := e.HandleMessage(hsMsg)
	if ack, ok := resp.Kind.(proto.Ack); !ok || ack.RequestID != "c1" {
		t.Fatalf("expected Ack(c1), got %+v", resp.Kind)
	}

	listResp := e.HandleMessage(proto.NewMessage("c2", proto.ListCollectors{}))
	list, ok := listResp.Kind.(proto.CollectorList)
	if !ok {
		t.Fatalf("expected CollectorList, got %T", listResp.Kind)
	}
	if len(list.Collectors) != 1 || list.Collectors[0].Name != "fs-collector" || !list.Collectors[0].Connected {
		t.Fatalf("unexpected collectors: %+v", list.Collectors)
	}
}

func TestEngineHandlesEmitEvent(t *testing.T) {
	e := newTestEngine(t)
	resp := e.HandleMessage(makeEmitEvent("e1", "/src/main.rs"))
	if _, ok := resp.Kind.(proto.Ack); !ok {
		t.Fatalf("expected Ack, got %+v", resp.Kind)
	}

	statusResp := e.HandleMessage(proto.NewMessage("s1", proto.Status{}))
	info := statusResp.Kind.(proto.StatusResult).Info
	if info.EntityCount != 2 {
		t.Fatalf("expected 2 entities (file + project), got %d", info.EntityCount)
	}
	if info.EventCount != 1 {
		t.Fatalf("expected 1 event, got %d", info.EventCount)
	}
	if info.EdgeCount != 1 {
		t.Fatalf("expected 1 edge, got %d", info.EdgeCount)
	}
}

func TestEngineHandlesSearchQuery(t *testing.T) {
	e := newTestEngine(t)
	e.HandleMessage(makeEmitEvent("e1", "/src/main.rs"))

	resp := e.HandleMessage(proto.NewMessage("q1", proto.Query{Query: proto.QueryRequest{Kind: proto.SearchQuery{Text: "main", Limit: 10}}}))
	result, ok := resp.Kind.(proto.QueryResult)
	if !ok {
		t.Fatalf("expected QueryResult, got %T", resp.Kind)
	}
	if len(result.Response.Entities) == 0 {
		t.Fatal("expected at least one matching entity")
	}
}

func TestEngineHandlesRecentQuery(t *testing.T) {
	e := newTestEngine(t)
	e.HandleMessage(makeEmitEvent("e1", "/src/lib.rs"))

	resp := e.HandleMessage(proto.NewMessage("q2", proto.Query{Query: proto.QueryRequest{Kind: proto.RecentQuery{Limit: 10}}}))
	result := resp.Kind.(proto.QueryResult)
	if len(result.Response.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(result.Response.Events))
	}
}

func TestEngineHandlesRelatedQuery(t *testing.T) {
	e := newTestEngine(t)
	e.HandleMessage(makeEmitEvent("e1", "/src/main.rs"))

	statusResp := e.HandleMessage(proto.NewMessage("s1", proto.Status{}))
	_ = statusResp

	searchResp := e.HandleMessage(proto.NewMessage("q1", proto.Query{Query: proto.QueryRequest{Kind: proto.SearchQuery{Text: "main", Limit: 10}}}))
	entities := searchResp.Kind.(proto.QueryResult).Response.Entities
	if len(entities) == 0 {
		t.Fatal("expected search to find the file entity")
	}

	relResp := e.HandleMessage(proto.NewMessage("q2", proto.Query{Query: proto.QueryRequest{Kind: proto.RelatedQuery{EntityID: entities[0].ID, Depth: 1}}}))
	result, ok := relResp.Kind.(proto.QueryResult)
	if !ok {
		t.Fatalf("expected QueryResult, got %T", relResp.Kind)
	}
	if len(result.Response.Entities) != 1 {
		t.Fatalf("expected 1 related entity, got %d", len(result.Response.Entities))
	}
}

func TestEngineHandlesSetTrackingPaused(t *testing.T) {
	e := newTestEngine(t)

	pauseResp := e.HandleMessage(proto.NewMessage("p1", proto.SetTrackingPaused{Paused: true}))
	status, ok := pauseResp.Kind.(proto.TrackingStatus)
	if !ok || !status.Paused {
		t.Fatalf("expected TrackingStatus{true}, got %+v", pauseResp.Kind)
	}

	e.HandleMessage(makeEmitEvent("e1", "/src/main.rs"))
	statusResp := e.HandleMessage(proto.NewMessage("s1", proto.Status{}))
	info := statusResp.Kind.(proto.StatusResult).Info
	if info.EventCount != 0 {
		t.Fatalf("expected events to be dropped while paused, got %d", info.EventCount)
	}

	resumeResp := e.HandleMessage(proto.NewMessage("p2", proto.SetTrackingPaused{Paused: false}))
	status, ok = resumeResp.Kind.(proto.TrackingStatus)
	if !ok || status.Paused {
		t.Fatalf("expected TrackingStatus{false}, got %+v", resumeResp.Kind)
	}

	e.HandleMessage(makeEmitEvent("e2", "/src/lib.rs"))
	statusResp = e.HandleMessage(proto.NewMessage("s2", proto.Status{}))
	info = statusResp.Kind.(proto.StatusResult).Info
	if info.EventCount != 1 {
		t.Fatalf("expected event to be recorded after resuming, got %d", info.EventCount)
	}
}

func TestEngineHandlesUnexpectedMessage(t *testing.T) {
	e := newTestEngine(t)
	resp := e.HandleMessage(proto.NewMessage("x1", proto.Ack{RequestID: "x"}))
	errMsg, ok := resp.Kind.(proto.ErrorMessage)
	if !ok || errMsg.Code != proto.ErrorCodeBadRequest {
		t.Fatalf("expected bad_request Error, got %+v", resp.Kind)
	}
}

func TestEngineDaySummaryRejectsBadDate(t *testing.T) {
	e := newTestEngine(t)
	resp := e.HandleMessage(proto.NewMessage("d1", proto.Query{Query: proto.QueryRequest{Kind: proto.DaySummaryQuery{Date: "not-a-date"}}}))
	errMsg, ok := resp.Kind.(proto.ErrorMessage)
	if !ok || errMsg.Code != proto.ErrorCodeBadRequest {
		t.Fatalf("expected bad_request Error, got %+v", resp.Kind)
	}
}

func TestEngineRunAggregationCreatesSessions(t *testing.T) {
	e := newTestEngine(t)

	appEvent := func(ts model.Timestamp) *proto.Message {
		event := model.Event{
			ID:        model.NewEventId(),
			Timestamp: ts,
			Source:    model.SourceAppMonitor,
			Kind:      model.EventKindAppFocused,
			Subject:   model.EntityRef{Kind: model.EntityKindApp, Identity: "VS Code", Attributes: model.Attributes{}},
			Context:   []model.EntityRef{},
			Metadata:  model.Attributes{},
		}
		return proto.NewMessage("e", proto.EmitEvent{Event: event})
	}

	e.HandleMessage(appEvent(1000))
	e.HandleMessage(appEvent(4000))
	e.HandleMessage(appEvent(7000))

	agg := aggregator.New(30_000)
	count, err := e.RunAggregation(agg)
	if err != nil {
		t.Fatalf("RunAggregation: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 session, got %d", count)
	}

	resp := e.HandleMessage(proto.NewMessage("q1", proto.Query{Query: proto.QueryRequest{Kind: proto.SessionsQuery{From: 0, To: model.Now() + 1, Limit: 10}}}))
	result := resp.Kind.(proto.QueryResult)
	if len(result.Response.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(result.Response.Sessions))
	}
}
