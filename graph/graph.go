// Package graph implements the Graph Engine (§4.2): building an in-memory
// DAG from persisted edges and active nodes, validating structural
// invariants, computing the processable set, and performing in-place
// mutations. It generalizes the teacher's graph.ValidateDAG/
// GetExecutionOrder (Kahn's-algorithm topological sort, DFS cycle
// detection over a flat ActionRepository) from a single dependency list to
// a full node/edge DAG with versioned nodes.
package graph

import (
	"fmt"

	"github.com/google/uuid"

	"cm.lsst.io/model"
)

// Graph is an in-memory view of one campaign's active nodes and edges.
type Graph struct {
	Namespace uuid.UUID
	Nodes     map[uuid.UUID]*model.Node
	// out/in are adjacency lists keyed by node id.
	out map[uuid.UUID][]uuid.UUID
	in  map[uuid.UUID][]uuid.UUID
	// Edges indexed by (source,target) for mutation bookkeeping.
	Edges map[uuid.UUID]*model.Edge
}

// Build constructs a Graph from a namespace's active Node rows and Edge
// rows (store.Store is responsible for "active" meaning "newest version
// per name", per §3 invariant 5).
func Build(namespace uuid.UUID, nodes []*model.Node, edges []*model.Edge) *Graph {
	g := &Graph{
		Namespace: namespace,
		Nodes:     make(map[uuid.UUID]*model.Node, len(nodes)),
		out:       make(map[uuid.UUID][]uuid.UUID),
		in:        make(map[uuid.UUID][]uuid.UUID),
		Edges:     make(map[uuid.UUID]*model.Edge, len(edges)),
	}
	for _, n := range nodes {
		g.Nodes[n.ID] = n
	}
	for _, e := range edges {
		g.Edges[e.ID] = e
		g.out[e.Source] = append(g.out[e.Source], e.Target)
		g.in[e.Target] = append(g.in[e.Target], e.Source)
	}
	return g
}

// Successors returns the node ids directly downstream of n.
func (g *Graph) Successors(n uuid.UUID) []uuid.UUID { return g.out[n] }

// Predecessors returns the node ids directly upstream of n.
func (g *Graph) Predecessors(n uuid.UUID) []uuid.UUID { return g.in[n] }

func (g *Graph) findByKind(kind model.NodeKind) ([]*model.Node, error) {
	var found []*model.Node
	for _, n := range g.Nodes {
		if n.Kind == kind {
			found = append(found, n)
		}
	}
	return found, nil
}

// Validate checks every structural invariant in §3 and that at least one
// start→end path exists, implementing validate_graph(g, start, end) (§4.2).
func (g *Graph) Validate() error {
	starts, _ := g.findByKind(model.KindStart)
	ends, _ := g.findByKind(model.KindEnd)
	if len(starts) != 1 {
		return fmt.Errorf("graph: expected exactly one start node, found %d", len(starts))
	}
	if len(ends) != 1 {
		return fmt.Errorf("graph: expected exactly one end node, found %d", len(ends))
	}
	start, end := starts[0], ends[0]
	if len(g.in[start.ID]) != 0 {
		return fmt.Errorf("graph: start node %s has incoming edges", start.ID)
	}
	if len(g.out[end.ID]) != 0 {
		return fmt.Errorf("graph: end node %s has outgoing edges", end.ID)
	}

	if err := g.checkAcyclic(); err != nil {
		return err
	}

	reachableFromStart := g.bfs(start.ID, g.out)
	for id := range g.Nodes {
		if id == start.ID {
			continue
		}
		if !reachableFromStart[id] {
			return fmt.Errorf("graph: node %s is not reachable from start", id)
		}
	}
	reachesEnd := g.bfs(end.ID, g.in)
	for id := range g.Nodes {
		if id == end.ID {
			continue
		}
		if !reachesEnd[id] {
			return fmt.Errorf("graph: node %s cannot reach end", id)
		}
	}

	for _, e := range g.Edges {
		if _, ok := g.Nodes[e.Source]; !ok {
			return fmt.Errorf("graph: edge %s source %s not present", e.ID, e.Source)
		}
		if _, ok := g.Nodes[e.Target]; !ok {
			return fmt.Errorf("graph: edge %s target %s not present", e.ID, e.Target)
		}
	}

	if !reachableFromStart[end.ID] {
		return fmt.Errorf("graph: no start→end path exists")
	}

	return nil
}

func (g *Graph) bfs(from uuid.UUID, adjacency map[uuid.UUID][]uuid.UUID) map[uuid.UUID]bool {
	visited := map[uuid.UUID]bool{from: true}
	queue := []uuid.UUID{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[cur] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return visited
}

// checkAcyclic runs DFS cycle detection over the adjacency list,
// generalized from the teacher's checkCycleManual/checkCycleRecursive.
func (g *Graph) checkAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[uuid.UUID]int, len(g.Nodes))
	for id := range g.Nodes {
		color[id] = white
	}

	var visit func(id uuid.UUID) error
	visit = func(id uuid.UUID) error {
		color[id] = gray
		for _, next := range g.out[id] {
			switch color[next] {
			case gray:
				return fmt.Errorf("graph: cycle detected through node %s", next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for id, c := range color {
		if c == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopoOrder returns the node ids in a topological order, generalized from
// the teacher's GetExecutionOrder (Kahn's algorithm).
func (g *Graph) TopoOrder() ([]uuid.UUID, error) {
	inDegree := make(map[uuid.UUID]int, len(g.Nodes))
	for id := range g.Nodes {
		inDegree[id] = len(g.in[id])
	}
	var queue []uuid.UUID
	for id, d := range inDegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	var order []uuid.UUID
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		for _, next := range g.out[cur] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(order) != len(g.Nodes) {
		return nil, fmt.Errorf("graph: cycle detected, topological sort incomplete (%d of %d nodes ordered)", len(order), len(g.Nodes))
	}
	return order, nil
}

// Processable walks the graph in topological order from start and yields
// the processable node ids (§4.2): non-terminal, non-paused, with every
// predecessor terminal-successful. The start node, if not yet terminal, is
// always emitted first.
func (g *Graph) Processable() ([]*model.Node, error) {
	order, err := g.TopoOrder()
	if err != nil {
		return nil, err
	}
	starts, _ := g.findByKind(model.KindStart)
	var startID uuid.UUID
	if len(starts) == 1 {
		startID = starts[0].ID
	}

	var result []*model.Node
	for _, id := range order {
		n := g.Nodes[id]
		if n.Status.Terminal() || n.Status == model.StatusPaused {
			continue
		}
		if id == startID {
			result = append(result, n)
			continue
		}
		allPredecessorsDone := true
		for _, p := range g.in[id] {
			pn, ok := g.Nodes[p]
			if !ok || !pn.Status.TerminalSuccessful() {
				allPredecessorsDone = false
				break
			}
		}
		if allPredecessorsDone {
			result = append(result, n)
		}
	}
	return result, nil
}
