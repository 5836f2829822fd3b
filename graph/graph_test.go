package graph

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"cm.lsst.io/model"
)

func simpleGraph(t *testing.T) (*Graph, uuid.UUID, uuid.UUID, uuid.UUID) {
	t.Helper()
	ns := uuid.New()
	start := &model.Node{ID: model.NodeID(ns, "START", 1), Namespace: ns, Name: "START", Version: 1, Kind: model.KindStart, Status: model.StatusAccepted}
	n1 := &model.Node{ID: model.NodeID(ns, "N1", 1), Namespace: ns, Name: "N1", Version: 1, Kind: model.KindStep, Status: model.StatusWaiting}
	end := &model.Node{ID: model.NodeID(ns, "END", 1), Namespace: ns, Name: "END", Version: 1, Kind: model.KindEnd, Status: model.StatusWaiting}

	edges := []*model.Edge{
		newEdge(ns, start.ID, n1.ID),
		newEdge(ns, n1.ID, end.ID),
	}
	g := Build(ns, []*model.Node{start, n1, end}, edges)
	return g, start.ID, n1.ID, end.ID
}

func TestValidate_HappyPath(t *testing.T) {
	g, _, _, _ := simpleGraph(t)
	require.NoError(t, g.Validate())
}

func TestValidate_BrokenGraph(t *testing.T) {
	g, _, n1, end := simpleGraph(t)
	// Delete N1->END, matching Scenario B.
	for id, e := range g.Edges {
		if e.Source == n1 && e.Target == end {
			delete(g.Edges, id)
		}
	}
	g.Apply(&MutationPlan{}) // rebuild adjacency after manual edit
	require.Error(t, g.Validate())
}

func TestProcessable_StartFirst(t *testing.T) {
	g, start, n1, _ := simpleGraph(t)
	g.Nodes[start].Status = model.StatusWaiting
	procs, err := g.Processable()
	require.NoError(t, err)
	require.NotEmpty(t, procs)
	require.Equal(t, start, procs[0].ID)

	g.Nodes[start].Status = model.StatusAccepted
	procs, err = g.Processable()
	require.NoError(t, err)
	require.Len(t, procs, 1)
	require.Equal(t, n1, procs[0].ID)
}

func TestReplace_RejectsSentinel(t *testing.T) {
	g, start, n1, end := simpleGraph(t)
	// Try to replace END with START; both are sentinels, which Replace refuses.
	_, err := g.Replace(end, start)
	require.Error(t, err)
	_ = n1
}

func TestInsert(t *testing.T) {
	g, start, n1, end := simpleGraph(t)
	n2 := &model.Node{ID: model.NodeID(g.Namespace, "N2", 1), Namespace: g.Namespace, Name: "N2", Version: 1, Kind: model.KindStep, Status: model.StatusWaiting}
	g.Nodes[n2.ID] = n2

	plan, err := g.Insert(n1, n2.ID)
	require.NoError(t, err)
	g.Apply(plan)

	require.ElementsMatch(t, []uuid.UUID{n2.ID}, g.Successors(n1))
	require.ElementsMatch(t, []uuid.UUID{end}, g.Successors(n2.ID))
	_ = start
}

func TestDelete_Heal(t *testing.T) {
	g, start, n1, end := simpleGraph(t)
	plan, err := g.Delete(n1, true, true)
	require.NoError(t, err)
	g.Apply(plan)

	require.ElementsMatch(t, []uuid.UUID{end}, g.Successors(start))
	_, stillThere := g.Nodes[n1]
	require.False(t, stillThere)
}
