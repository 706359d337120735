package store

import (
	"testing"

	"github.com/homardcloud/cronos/internal/model"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	r, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestMigrationsRunOnFreshDB(t *testing.T) {
	newTestRepo(t) // Open already migrates; failure would have fatal'd above
}

func TestMigrationsAreIdempotent(t *testing.T) {
	r := newTestRepo(t)
	if err := runMigrations(r.db); err != nil {
		t.Fatalf("second runMigrations: %v", err)
	}
}

func TestInsertAndGetEntity(t *testing.T) {
	r := newTestRepo(t)
	e := &model.Entity{
		ID:         model.NewEntityId(),
		Kind:       model.EntityKindProject,
		Name:       "cronos",
		Attributes: model.Attributes{},
		FirstSeen:  1000,
		LastSeen:   1000,
	}
	if err := r.InsertEntity(e); err != nil {
		t.Fatalf("InsertEntity: %v", err)
	}
	got, err := r.GetEntity(e.ID)
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if got == nil {
		t.Fatal("expected entity, got nil")
	}
	if got.Name != "cronos" || got.Kind != model.EntityKindProject {
		t.Fatalf("unexpected entity: %+v", got)
	}
}

func TestInsertEntityUpsertsLastSeen(t *testing.T) {
	r := newTestRepo(t)
	id := model.NewEntityId()
	e := &model.Entity{ID: id, Kind: model.EntityKindFile, Name: "main.go", Attributes: model.Attributes{}, FirstSeen: 1000, LastSeen: 1000}
	if err := r.InsertEntity(e); err != nil {
		t.Fatalf("InsertEntity: %v", err)
	}
	e.LastSeen = 2000
	e.Name = "main.go"
	if err := r.InsertEntity(e); err != nil {
		t.Fatalf("InsertEntity update: %v", err)
	}
	got, err := r.GetEntity(id)
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if got.FirstSeen != 1000 {
		t.Fatalf("expected first_seen to stay 1000, got %d", got.FirstSeen)
	}
	if got.LastSeen != 2000 {
		t.Fatalf("expected last_seen 2000, got %d", got.LastSeen)
	}
}

func TestFindEntityByKindAndName(t *testing.T) {
	r := newTestRepo(t)
	e := &model.Entity{ID: model.NewEntityId(), Kind: model.EntityKindApp, Name: "vscode", Attributes: model.Attributes{}, FirstSeen: 1, LastSeen: 1}
	if err := r.InsertEntity(e); err != nil {
		t.Fatalf("InsertEntity: %v", err)
	}
	got, err := r.FindEntityByKindAndName(model.EntityKindApp, "vscode")
	if err != nil {
		t.Fatalf("FindEntityByKindAndName: %v", err)
	}
	if got == nil || got.ID != e.ID {
		t.Fatalf("expected to find entity %v, got %+v", e.ID, got)
	}
	miss, err := r.FindEntityByKindAndName(model.EntityKindApp, "nope")
	if err != nil {
		t.Fatalf("FindEntityByKindAndName miss: %v", err)
	}
	if miss != nil {
		t.Fatalf("expected no match, got %+v", miss)
	}
}

func TestEntityCountWorks(t *testing.T) {
	r := newTestRepo(t)
	for i := 0; i < 3; i++ {
		e := &model.Entity{ID: model.NewEntityId(), Kind: model.EntityKindFile, Name: "f", Attributes: model.Attributes{}, FirstSeen: 1, LastSeen: 1}
		if err := r.InsertEntity(e); err != nil {
			t.Fatalf("InsertEntity: %v", err)
		}
	}
	n, err := r.EntityCount()
	if err != nil {
		t.Fatalf("EntityCount: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 entities, got %d", n)
	}
}

func TestInsertAndGetEvent(t *testing.T) {
	r := newTestRepo(t)
	subject := &model.Entity{ID: model.NewEntityId(), Kind: model.EntityKindFile, Name: "main.go", Attributes: model.Attributes{}, FirstSeen: 1, LastSeen: 1}
	if err := r.InsertEntity(subject); err != nil {
		t.Fatalf("InsertEntity: %v", err)
	}
	ev := &model.Event{
		ID:        model.NewEventId(),
		Timestamp: 5000,
		Source:    model.SourceFilesystem,
		Kind:      model.EventKindFileModified,
		Metadata:  model.Attributes{},
	}
	if err := r.InsertEvent(ev, subject.ID, nil); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}
	events, err := r.RecentEvents(10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].SubjectID != subject.ID {
		t.Fatalf("expected subject %v, got %v", subject.ID, events[0].SubjectID)
	}
	count, err := r.EventCount()
	if err != nil {
		t.Fatalf("EventCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}
}

func TestEventsInRangeOrdersAscending(t *testing.T) {
	r := newTestRepo(t)
	subject := &model.Entity{ID: model.NewEntityId(), Kind: model.EntityKindFile, Name: "main.go", Attributes: model.Attributes{}, FirstSeen: 1, LastSeen: 1}
	if err := r.InsertEntity(subject); err != nil {
		t.Fatalf("InsertEntity: %v", err)
	}
	for _, ts := range []model.Timestamp{300, 100, 200} {
		ev := &model.Event{ID: model.NewEventId(), Timestamp: ts, Source: model.SourceFilesystem, Kind: model.EventKindFileModified, Metadata: model.Attributes{}}
		if err := r.InsertEvent(ev, subject.ID, nil); err != nil {
			t.Fatalf("InsertEvent: %v", err)
		}
	}
	events, err := r.EventsInRange(0, 1000)
	if err != nil {
		t.Fatalf("EventsInRange: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Timestamp != 100 || events[1].Timestamp != 200 || events[2].Timestamp != 300 {
		t.Fatalf("expected ascending order, got %v %v %v", events[0].Timestamp, events[1].Timestamp, events[2].Timestamp)
	}
}

func TestInsertAndGetEdge(t *testing.T) {
	r := newTestRepo(t)
	from := model.NewEntityId()
	to := model.NewEntityId()
	for _, id := range []model.EntityId{from, to} {
		if err := r.InsertEntity(&model.Entity{ID: id, Kind: model.EntityKindFile, Name: id.String(), Attributes: model.Attributes{}, FirstSeen: 1, LastSeen: 1}); err != nil {
			t.Fatalf("InsertEntity: %v", err)
		}
	}
	edge := &model.Edge{
		ID:             model.NewEdgeId(),
		From:           from,
		To:             to,
		Relation:       model.RelationBelongsTo,
		Strength:       model.InitialEdgeStrength,
		CreatedAt:      100,
		LastReinforced: 100,
	}
	if err := r.InsertEdge(edge); err != nil {
		t.Fatalf("InsertEdge: %v", err)
	}
	got, err := r.FindEdge(from, to, model.RelationBelongsTo)
	if err != nil {
		t.Fatalf("FindEdge: %v", err)
	}
	if got == nil {
		t.Fatal("expected edge, got nil")
	}
	if got.Strength != model.InitialEdgeStrength {
		t.Fatalf("expected strength %v, got %v", model.InitialEdgeStrength, got.Strength)
	}
	count, err := r.EdgeCount()
	if err != nil {
		t.Fatalf("EdgeCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected edge count 1, got %d", count)
	}
}

func TestInsertEdgeUpsertsStrength(t *testing.T) {
	r := newTestRepo(t)
	id := model.NewEdgeId()
	from := model.NewEntityId()
	to := model.NewEntityId()
	for _, eid := range []model.EntityId{from, to} {
		if err := r.InsertEntity(&model.Entity{ID: eid, Kind: model.EntityKindFile, Name: eid.String(), Attributes: model.Attributes{}, FirstSeen: 1, LastSeen: 1}); err != nil {
			t.Fatalf("InsertEntity: %v", err)
		}
	}
	edge := &model.Edge{ID: id, From: from, To: to, Relation: model.RelationContains, Strength: 0.5, CreatedAt: 1, LastReinforced: 1}
	if err := r.InsertEdge(edge); err != nil {
		t.Fatalf("InsertEdge: %v", err)
	}
	edge.Strength = 0.6
	edge.LastReinforced = 2
	if err := r.InsertEdge(edge); err != nil {
		t.Fatalf("InsertEdge reinforce: %v", err)
	}
	got, err := r.FindEdge(from, to, model.RelationContains)
	if err != nil {
		t.Fatalf("FindEdge: %v", err)
	}
	if got.Strength != 0.6 || got.LastReinforced != 2 {
		t.Fatalf("expected reinforced edge, got %+v", got)
	}
}

func TestSearchEntitiesMatchesName(t *testing.T) {
	r := newTestRepo(t)
	e := &model.Entity{ID: model.NewEntityId(), Kind: model.EntityKindProject, Name: "billing-service", Attributes: model.Attributes{}, FirstSeen: 1, LastSeen: 1}
	if err := r.InsertEntity(e); err != nil {
		t.Fatalf("InsertEntity: %v", err)
	}
	results, err := r.SearchEntities("billing", 10)
	if err != nil {
		t.Fatalf("SearchEntities: %v", err)
	}
	if len(results) != 1 || results[0].ID != e.ID {
		t.Fatalf("expected to find billing-service, got %+v", results)
	}
}

func TestSessionLifecycle(t *testing.T) {
	r := newTestRepo(t)
	watermark, err := r.LastSessionEndTime()
	if err != nil {
		t.Fatalf("LastSessionEndTime: %v", err)
	}
	if watermark != 0 {
		t.Fatalf("expected watermark 0 on empty db, got %d", watermark)
	}

	session := &model.Session{
		ID:           "sess-1",
		AppName:      "vscode",
		WindowTitles: []string{"main.go — cronos"},
		Category:     "coding",
		StartTime:    1000,
		EndTime:      5000,
		DurationSecs: 4,
		EventCount:   2,
		Metadata:     model.Attributes{},
	}
	if err := r.InsertSession(session); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}

	watermark, err = r.LastSessionEndTime()
	if err != nil {
		t.Fatalf("LastSessionEndTime after insert: %v", err)
	}
	if watermark != 5000 {
		t.Fatalf("expected watermark 5000, got %d", watermark)
	}

	sessions, err := r.SessionsInRange(0, 10000, 50)
	if err != nil {
		t.Fatalf("SessionsInRange: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "sess-1" {
		t.Fatalf("expected 1 session, got %+v", sessions)
	}
	if len(sessions[0].WindowTitles) != 1 || sessions[0].WindowTitles[0] != "main.go — cronos" {
		t.Fatalf("unexpected window titles: %+v", sessions[0].WindowTitles)
	}
}
