package graph

import (
	"fmt"

	"github.com/google/uuid"

	"cm.lsst.io/model"
)

// MutationPlan describes the edge-level effects of a mutation so the
// caller's store transaction can persist exactly these changes under
// row-level locks, without re-deriving them. Applying a plan to the
// in-memory Graph is done by the Graph methods below; store.Store replays
// the same plan as SQL inside one transaction.
type MutationPlan struct {
	RemoveEdges []uuid.UUID
	AddEdges    []*model.Edge
	// RemoveNode is set for Delete.
	RemoveNode *uuid.UUID
}

func (g *Graph) isSentinel(id uuid.UUID) bool {
	n, ok := g.Nodes[id]
	return ok && (n.Kind == model.KindStart || n.Kind == model.KindEnd)
}

// Replace rewires every (_, n0) edge to (_, n1) and every (n0, _) edge to
// (n1, _), per §4.2. Rejects if n0 or n1 is a sentinel, or if the
// resulting graph would contain a cycle.
func (g *Graph) Replace(n0, n1 uuid.UUID) (*MutationPlan, error) {
	if g.isSentinel(n0) || g.isSentinel(n1) {
		return nil, fmt.Errorf("graph: replace: START/END cannot be graph-mutated")
	}
	if _, ok := g.Nodes[n0]; !ok {
		return nil, fmt.Errorf("graph: replace: node %s not found", n0)
	}
	if _, ok := g.Nodes[n1]; !ok {
		return nil, fmt.Errorf("graph: replace: node %s not found", n1)
	}

	plan := &MutationPlan{}
	for _, e := range g.Edges {
		switch {
		case e.Target == n0:
			plan.RemoveEdges = append(plan.RemoveEdges, e.ID)
			plan.AddEdges = append(plan.AddEdges, newEdge(g.Namespace, e.Source, n1))
		case e.Source == n0:
			plan.RemoveEdges = append(plan.RemoveEdges, e.ID)
			plan.AddEdges = append(plan.AddEdges, newEdge(g.Namespace, n1, e.Target))
		}
	}

	if err := g.wouldCycle(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// Insert retargets every (n0, x) edge to (n1, x) and inserts (n0, n1), per
// §4.2 ("insert n1 downstream of n0").
func (g *Graph) Insert(n0, n1 uuid.UUID) (*MutationPlan, error) {
	if _, ok := g.Nodes[n0]; !ok {
		return nil, fmt.Errorf("graph: insert: node %s not found", n0)
	}
	if _, ok := g.Nodes[n1]; !ok {
		return nil, fmt.Errorf("graph: insert: node %s not found", n1)
	}

	plan := &MutationPlan{}
	for _, e := range g.Edges {
		if e.Source == n0 {
			plan.RemoveEdges = append(plan.RemoveEdges, e.ID)
			plan.AddEdges = append(plan.AddEdges, newEdge(g.Namespace, n1, e.Target))
		}
	}
	plan.AddEdges = append(plan.AddEdges, newEdge(g.Namespace, n0, n1))

	if err := g.wouldCycle(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// Append creates n1 with the same predecessor and successor set as n0,
// per §4.2. Forbidden if n0 is START or END.
func (g *Graph) Append(n0, n1 uuid.UUID) (*MutationPlan, error) {
	if g.isSentinel(n0) {
		return nil, fmt.Errorf("graph: append: START/END cannot be graph-mutated")
	}
	if _, ok := g.Nodes[n0]; !ok {
		return nil, fmt.Errorf("graph: append: node %s not found", n0)
	}
	if _, ok := g.Nodes[n1]; !ok {
		return nil, fmt.Errorf("graph: append: node %s not found", n1)
	}

	plan := &MutationPlan{}
	for _, p := range g.in[n0] {
		plan.AddEdges = append(plan.AddEdges, newEdge(g.Namespace, p, n1))
	}
	for _, s := range g.out[n0] {
		plan.AddEdges = append(plan.AddEdges, newEdge(g.Namespace, n1, s))
	}
	return plan, nil
}

// Delete removes n0. With heal=true, for every (p, n0) and (n0, s) it
// creates (p, s) if not already present, before removing n0's incident
// edges (and, if removeNode, the node itself), per §4.2.
func (g *Graph) Delete(n0 uuid.UUID, heal, removeNode bool) (*MutationPlan, error) {
	if g.isSentinel(n0) {
		return nil, fmt.Errorf("graph: delete: START/END cannot be graph-mutated")
	}
	if _, ok := g.Nodes[n0]; !ok {
		return nil, fmt.Errorf("graph: delete: node %s not found", n0)
	}

	plan := &MutationPlan{}
	existing := make(map[[2]uuid.UUID]bool, len(g.Edges))
	for _, e := range g.Edges {
		existing[[2]uuid.UUID{e.Source, e.Target}] = true
	}

	if heal {
		for _, p := range g.in[n0] {
			for _, s := range g.out[n0] {
				key := [2]uuid.UUID{p, s}
				if !existing[key] {
					plan.AddEdges = append(plan.AddEdges, newEdge(g.Namespace, p, s))
					existing[key] = true
				}
			}
		}
	}

	for _, e := range g.Edges {
		if e.Source == n0 || e.Target == n0 {
			plan.RemoveEdges = append(plan.RemoveEdges, e.ID)
		}
	}
	if removeNode {
		id := n0
		plan.RemoveNode = &id
	}

	if err := g.wouldCycle(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// wouldCycle simulates plan against the current edge set and returns an
// error if the result is cyclic, without mutating g.
func (g *Graph) wouldCycle(plan *MutationPlan) error {
	removed := make(map[uuid.UUID]bool, len(plan.RemoveEdges))
	for _, id := range plan.RemoveEdges {
		removed[id] = true
	}
	out := make(map[uuid.UUID][]uuid.UUID, len(g.out))
	for id, targets := range g.out {
		out[id] = append([]uuid.UUID(nil), targets...)
	}
	// Rebuild out from scratch honoring removals, since out is keyed by
	// source and doesn't carry edge ids directly.
	out = make(map[uuid.UUID][]uuid.UUID, len(g.Edges))
	for _, e := range g.Edges {
		if removed[e.ID] {
			continue
		}
		out[e.Source] = append(out[e.Source], e.Target)
	}
	for _, e := range plan.AddEdges {
		out[e.Source] = append(out[e.Source], e.Target)
	}

	const white, gray, black = 0, 1, 2
	color := make(map[uuid.UUID]int, len(g.Nodes))
	var visit func(id uuid.UUID) error
	visit = func(id uuid.UUID) error {
		color[id] = gray
		for _, next := range out[id] {
			switch color[next] {
			case gray:
				return fmt.Errorf("graph: mutation would create a cycle through %s", next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for id := range g.Nodes {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Apply mutates g in-memory to reflect plan, after the caller's store
// transaction has durably committed the same plan.
func (g *Graph) Apply(plan *MutationPlan) {
	for _, id := range plan.RemoveEdges {
		delete(g.Edges, id)
	}
	for _, e := range plan.AddEdges {
		g.Edges[e.ID] = e
	}
	if plan.RemoveNode != nil {
		delete(g.Nodes, *plan.RemoveNode)
	}
	// Rebuild adjacency from the edge set.
	g.out = make(map[uuid.UUID][]uuid.UUID)
	g.in = make(map[uuid.UUID][]uuid.UUID)
	for _, e := range g.Edges {
		g.out[e.Source] = append(g.out[e.Source], e.Target)
		g.in[e.Target] = append(g.in[e.Target], e.Source)
	}
}

func newEdge(namespace, source, target uuid.UUID) *model.Edge {
	return &model.Edge{
		ID:        model.EdgeID(namespace, source, target),
		Namespace: namespace,
		Source:    source,
		Target:    target,
	}
}
