// Package graph holds the in-memory context graph: the daemon's working
// copy of the entity/edge relation data used to answer Related queries
// without round-tripping through SQLite on every request.
package graph

import (
	"container/list"

	"github.com/homardcloud/cronos/internal/model"
)

// edgeInfo is the weight carried on a graph edge.
type edgeInfo struct {
	edgeID   model.EdgeId
	relation model.Relation
	strength float32
}

type node struct {
	id  model.EntityId
	out map[model.EntityId][]edgeInfo
	in  map[model.EntityId][]edgeInfo
}

// ContextGraph is a directed multigraph over entity ids, kept in sync
// with the repository as events are linked. It is not safe for
// concurrent use; callers (the engine) are expected to hold their own
// lock around graph mutation and traversal.
type ContextGraph struct {
	nodes map[model.EntityId]*node
}

// New returns an empty graph.
func New() *ContextGraph {
	return &ContextGraph{nodes: make(map[model.EntityId]*node)}
}

// Rebuild constructs a fresh graph from the full set of stored entities
// and edges, as done on daemon startup.
func Rebuild(entities []*model.Entity, edges []*model.Edge) *ContextGraph {
	g := New()
	for _, e := range entities {
		g.AddEntity(e.ID)
	}
	for _, e := range edges {
		g.AddEdge(e)
	}
	return g
}

// AddEntity registers id as a node, a no-op if it already exists.
func (g *ContextGraph) AddEntity(id model.EntityId) {
	if _, ok := g.nodes[id]; ok {
		return
	}
	g.nodes[id] = &node{
		id:  id,
		out: make(map[model.EntityId][]edgeInfo),
		in:  make(map[model.EntityId][]edgeInfo),
	}
}

// AddEdge adds edge to the graph, creating its endpoints if necessary.
// An edge already present (matched by edge id between the same
// endpoints) has its strength refreshed in place rather than being
// duplicated.
func (g *ContextGraph) AddEdge(edge *model.Edge) {
	g.AddEntity(edge.From)
	g.AddEntity(edge.To)

	from := g.nodes[edge.From]
	for i, ei := range from.out[edge.To] {
		if ei.edgeID == edge.ID {
			from.out[edge.To][i].strength = edge.Strength
			to := g.nodes[edge.To]
			for j, inEi := range to.in[edge.From] {
				if inEi.edgeID == edge.ID {
					to.in[edge.From][j].strength = edge.Strength
				}
			}
			return
		}
	}

	info := edgeInfo{edgeID: edge.ID, relation: edge.Relation, strength: edge.Strength}
	from.out[edge.To] = append(from.out[edge.To], info)
	to := g.nodes[edge.To]
	to.in[edge.From] = append(to.in[edge.From], info)
}

type queueEntry struct {
	id    model.EntityId
	depth uint8
}

// Related returns every entity reachable from entityID within depth
// hops, treating edges as undirected (both outgoing and incoming
// neighbors are visited), excluding entityID itself.
func (g *ContextGraph) Related(entityID model.EntityId, depth uint8) []model.EntityId {
	start, ok := g.nodes[entityID]
	if !ok {
		return nil
	}

	visited := map[model.EntityId]uint8{start.id: 0}
	queue := list.New()
	queue.PushBack(queueEntry{id: start.id, depth: 0})

	for queue.Len() > 0 {
		front := queue.Remove(queue.Front()).(queueEntry)
		if front.depth >= depth {
			continue
		}
		n := g.nodes[front.id]
		for neighbor := range n.out {
			if _, seen := visited[neighbor]; !seen {
				visited[neighbor] = front.depth + 1
				queue.PushBack(queueEntry{id: neighbor, depth: front.depth + 1})
			}
		}
		for neighbor := range n.in {
			if _, seen := visited[neighbor]; !seen {
				visited[neighbor] = front.depth + 1
				queue.PushBack(queueEntry{id: neighbor, depth: front.depth + 1})
			}
		}
	}

	out := make([]model.EntityId, 0, len(visited)-1)
	for id := range visited {
		if id != start.id {
			out = append(out, id)
		}
	}
	return out
}

// EntityCount returns the number of nodes in the graph.
func (g *ContextGraph) EntityCount() int { return len(g.nodes) }

// EdgeCount returns the total number of edges in the graph.
func (g *ContextGraph) EdgeCount() int {
	n := 0
	for _, nd := range g.nodes {
		for _, infos := range nd.out {
			n += len(infos)
		}
	}
	return n
}

// HasEntity reports whether id is present as a node.
func (g *ContextGraph) HasEntity(id model.EntityId) bool {
	_, ok := g.nodes[id]
	return ok
}
