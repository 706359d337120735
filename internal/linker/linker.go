// Package linker resolves raw events against the repository: every
// entity reference becomes a durable entity (creating one on first
// sight), every (subject, context) pair becomes a reinforced edge, and
// the resolved event is persisted.
package linker

import (
	"fmt"

	"github.com/homardcloud/cronos/internal/graph"
	"github.com/homardcloud/cronos/internal/model"
	"github.com/homardcloud/cronos/internal/store"
)

// Linker holds no mutable state of its own; every method takes the
// repository and graph it should act against, so a single Linker can be
// shared across the engine's lifetime.
type Linker struct {
	// temporalWindowMs is reserved for a future near-duplicate entity
	// merge pass; the resolution algorithm below does not use it yet.
	temporalWindowMs int64
}

// New returns a linker. temporalWindowMs is currently unused by
// resolution but threaded through from config for that future pass.
func New(temporalWindowMs int64) *Linker {
	return &Linker{temporalWindowMs: temporalWindowMs}
}

// ResolveEntityRef finds the entity matching ref's (kind, identity), or
// creates one if none exists. Either way last_seen advances to
// timestamp and the entity is registered in graph.
func (l *Linker) ResolveEntityRef(ref model.EntityRef, timestamp model.Timestamp, repo *store.Repository, g *graph.ContextGraph) (*model.Entity, error) {
	existing, err := repo.FindEntityByKindAndName(ref.Kind, ref.Identity)
	if err != nil {
		return nil, fmt.Errorf("linker: find entity: %w", err)
	}
	if existing != nil {
		existing.LastSeen = timestamp
		if err := repo.InsertEntity(existing); err != nil {
			return nil, fmt.Errorf("linker: refresh entity: %w", err)
		}
		g.AddEntity(existing.ID)
		return existing, nil
	}

	entity := &model.Entity{
		ID:         model.NewEntityId(),
		Kind:       ref.Kind,
		Name:       ref.Identity,
		Attributes: ref.Attributes,
		FirstSeen:  timestamp,
		LastSeen:   timestamp,
	}
	if err := repo.InsertEntity(entity); err != nil {
		return nil, fmt.Errorf("linker: create entity: %w", err)
	}
	g.AddEntity(entity.ID)
	return entity, nil
}

// Link resolves event's subject and every context ref, ensures an edge
// between the subject and each context entity, and persists the
// resolved event. implicitRefs are additional refs discovered by the
// implicit mention scanner; they always get a related_to edge
// regardless of kind, and are never persisted as declared context.
func (l *Linker) Link(event *model.Event, implicitRefs []model.EntityRef, repo *store.Repository, g *graph.ContextGraph) error {
	now := event.Timestamp
	subject, err := l.ResolveEntityRef(event.Subject, now, repo, g)
	if err != nil {
		return err
	}

	contextIDs := make([]model.EntityId, 0, len(event.Context))
	for _, ctxRef := range event.Context {
		ctxEntity, err := l.ResolveEntityRef(ctxRef, now, repo, g)
		if err != nil {
			return err
		}
		contextIDs = append(contextIDs, ctxEntity.ID)

		relation := model.InferRelation(event.Subject.Kind, ctxRef.Kind)
		if err := l.ensureEdge(subject.ID, ctxEntity.ID, relation, now, repo, g); err != nil {
			return err
		}
	}

	for _, implicitRef := range implicitRefs {
		implicitEntity, err := l.ResolveEntityRef(implicitRef, now, repo, g)
		if err != nil {
			return err
		}
		if err := l.ensureEdge(subject.ID, implicitEntity.ID, model.RelationRelatedTo, now, repo, g); err != nil {
			return err
		}
	}

	if err := repo.InsertEvent(event, subject.ID, contextIDs); err != nil {
		return fmt.Errorf("linker: insert event: %w", err)
	}
	return nil
}

func (l *Linker) ensureEdge(from, to model.EntityId, relation model.Relation, timestamp model.Timestamp, repo *store.Repository, g *graph.ContextGraph) error {
	existing, err := repo.FindEdge(from, to, relation)
	if err != nil {
		return fmt.Errorf("linker: find edge: %w", err)
	}
	if existing != nil {
		existing.Reinforce(timestamp)
		if err := repo.InsertEdge(existing); err != nil {
			return fmt.Errorf("linker: reinforce edge: %w", err)
		}
		g.AddEdge(existing)
		return nil
	}

	edge := &model.Edge{
		ID:             model.NewEdgeId(),
		From:           from,
		To:             to,
		Relation:       relation,
		Strength:       model.InitialEdgeStrength,
		CreatedAt:      timestamp,
		LastReinforced: timestamp,
	}
	if err := repo.InsertEdge(edge); err != nil {
		return fmt.Errorf("linker: create edge: %w", err)
	}
	g.AddEdge(edge)
	return nil
}
