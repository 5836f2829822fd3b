package node

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"cm.lsst.io/graph"
	"cm.lsst.io/model"
)

func newCollectGraph(t *testing.T) (*graph.Graph, *model.Node, []*model.Node) {
	t.Helper()
	namespace := uuid.New()
	collect := &model.Node{
		ID:            model.NodeID(namespace, "isr.collect", 1),
		Namespace:     namespace,
		Name:          "isr.collect",
		Version:       1,
		Kind:          model.KindCollectGroups,
		Status:        model.StatusWaiting,
		Metadata:      map[string]interface{}{},
		Configuration: map[string]interface{}{},
	}
	var groups []*model.Node
	var nodes []*model.Node
	var edges []*model.Edge
	for i := 0; i < 2; i++ {
		grp := &model.Node{
			ID:        model.NodeID(namespace, "isr.group", i+1),
			Namespace: namespace,
			Name:      "isr.group",
			Version:   i + 1,
			Kind:      model.KindGroup,
			Status:    model.StatusAccepted,
			Metadata:  map[string]interface{}{"input_collection": "isr.group/input"},
		}
		groups = append(groups, grp)
		nodes = append(nodes, grp)
		edges = append(edges, &model.Edge{
			ID:     model.EdgeID(namespace, grp.ID, collect.ID),
			Source: grp.ID,
			Target: collect.ID,
		})
	}
	nodes = append(nodes, collect)
	g := graph.Build(namespace, nodes, edges)
	return g, collect, groups
}

func TestStepCollect_PrepareStartFinish(t *testing.T) {
	g, collect, _ := newCollectGraph(t)
	deps, store, _, butler, _ := testDeps(g)
	store.g = g

	status, err := doPrepareCollect(context.Background(), collect, deps)
	require.NoError(t, err)
	require.Equal(t, model.StatusReady, status)
	pending, _ := collect.Metadata["pending_collections"].([]string)
	require.Len(t, pending, 2)

	status, err = doStartCollect(context.Background(), collect, deps)
	require.NoError(t, err)
	require.Equal(t, model.StatusRunning, status)
	require.True(t, butler.created[collect.Name+"/chain"])

	status, err = doFinishCollect(context.Background(), collect, deps)
	require.NoError(t, err)
	require.Equal(t, model.StatusAccepted, status)
}

func TestStepCollect_Finish_FailsIfCollectionMissing(t *testing.T) {
	g, collect, _ := newCollectGraph(t)
	deps, store, _, _, _ := testDeps(g)
	store.g = g

	collect.Metadata["pending_collections"] = []string{"a", "b"}
	collect.Metadata["added_collections"] = []string{"a"}

	_, err := doFinishCollect(context.Background(), collect, deps)
	require.Error(t, err)
}
