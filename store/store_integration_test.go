//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testingcontainers "cm.lsst.io/containers/testing"
	"cm.lsst.io/graph"
	"cm.lsst.io/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	connStr, cleanup, err := testingcontainers.SetupPostgres(ctx, t, nil)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	s, err := New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestCampaignInsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	namespace := uuid.New()
	c := &model.Campaign{
		ID:        model.CampaignID(namespace, "demo"),
		Name:      "demo",
		Namespace: namespace,
		Status:    model.StatusWaiting,
	}
	require.NoError(t, s.InsertCampaign(ctx, c))

	got, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Name, got.Name)
	assert.Equal(t, c.Status, got.Status)

	require.NoError(t, s.UpdateCampaignStatus(ctx, c.ID, model.StatusRunning))
	got, err = s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status)
}

func TestNodeInsertAndLoadGraph(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	parent := uuid.New()
	c := &model.Campaign{ID: model.CampaignID(parent, "demo"), Name: "demo", Namespace: parent, Status: model.StatusWaiting}
	namespace := c.ID // node, task and activity-log rows are namespaced by their campaign's id
	require.NoError(t, s.InsertCampaign(ctx, c))

	n1 := &model.Node{
		ID: model.NodeID(namespace, "step-a", 1), Namespace: namespace, Name: "step-a",
		Version: 1, Kind: model.KindStep, Status: model.StatusWaiting,
	}
	n2 := &model.Node{
		ID: model.NodeID(namespace, "step-b", 1), Namespace: namespace, Name: "step-b",
		Version: 1, Kind: model.KindStep, Status: model.StatusWaiting,
	}
	require.NoError(t, s.InsertNode(ctx, n1))
	require.NoError(t, s.InsertNode(ctx, n2))

	edge := &model.Edge{
		ID: model.EdgeID(namespace, n1.ID, n2.ID), Namespace: namespace,
		Source: n1.ID, Target: n2.ID,
	}
	require.NoError(t, s.ApplyMutation(ctx, namespace, &graph.MutationPlan{AddEdges: []*model.Edge{edge}}))

	g, err := s.LoadGraph(ctx, namespace)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 2)
	assert.Contains(t, g.Successors(n1.ID), n2.ID)
}

func TestTaskEnqueueDequeueComplete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	parent := uuid.New()
	c := &model.Campaign{ID: model.CampaignID(parent, "demo"), Name: "demo", Namespace: parent, Status: model.StatusWaiting}
	namespace := c.ID // node, task and activity-log rows are namespaced by their campaign's id
	require.NoError(t, s.InsertCampaign(ctx, c))
	n := &model.Node{ID: model.NodeID(namespace, "step-a", 1), Namespace: namespace, Name: "step-a", Version: 1, Kind: model.KindStep, Status: model.StatusWaiting}
	require.NoError(t, s.InsertNode(ctx, n))

	task := &model.Task{ID: uuid.New(), Namespace: namespace, Node: n.ID, Status: model.TaskPending, Active: true}
	require.NoError(t, s.Enqueue(ctx, task))

	claimed, err := s.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, task.ID, claimed[0].ID)
	assert.Equal(t, model.TaskProcessing, claimed[0].Status)

	// A second dequeue must not re-claim the already-processing row.
	claimedAgain, err := s.Dequeue(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, claimedAgain, 0)

	require.NoError(t, s.CompleteTask(ctx, task.ID))
}

func TestActivityLogAppendAndTail(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	parent := uuid.New()
	c := &model.Campaign{ID: model.CampaignID(parent, "demo"), Name: "demo", Namespace: parent, Status: model.StatusWaiting}
	namespace := c.ID // node, task and activity-log rows are namespaced by their campaign's id
	require.NoError(t, s.InsertCampaign(ctx, c))

	entry := &model.ActivityLog{ID: uuid.New(), Namespace: namespace, FromStatus: model.StatusWaiting, ToStatus: model.StatusRunning}
	require.NoError(t, s.AppendActivityLog(ctx, entry))

	entries, err := s.TailActivityLog(ctx, namespace, time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.StatusRunning, entries[0].ToStatus)
}

// TestResolveConfigChainAcrossKinds grounds §4.6's chain across all five
// mandatory manifest kinds, not just lsst: a library default, a
// campaign-level override, and a step-level override must all merge, and a
// kind with no campaign-level manifest falls back to its library default.
func TestResolveConfigChainAcrossKinds(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	parent := uuid.New()
	c := &model.Campaign{ID: model.CampaignID(parent, "demo"), Name: "demo", Namespace: parent, Status: model.StatusWaiting}
	namespace := c.ID // node, task and activity-log rows are namespaced by their campaign's id
	require.NoError(t, s.InsertCampaign(ctx, c))

	mustInsertManifest := func(ns uuid.UUID, kind model.ManifestKind, name string, spec map[string]interface{}) {
		t.Helper()
		v, err := s.NextManifestVersion(ctx, ns, name)
		require.NoError(t, err)
		require.NoError(t, s.InsertManifest(ctx, &model.Manifest{
			Name: name, Namespace: ns, Version: v, Kind: kind, Spec: spec,
		}))
	}

	// Library defaults for every mandatory kind.
	mustInsertManifest(model.RootNamespace, model.ManifestLSST, "lsst", map[string]interface{}{"pipeline": "DRP.yaml"})
	mustInsertManifest(model.RootNamespace, model.ManifestBPS, "bps", map[string]interface{}{"wmsServiceClass": "default"})
	mustInsertManifest(model.RootNamespace, model.ManifestButler, "butler", map[string]interface{}{"repo": "/repo/main"})
	mustInsertManifest(model.RootNamespace, model.ManifestWMS, "wms", map[string]interface{}{"site": "usdf"})
	mustInsertManifest(model.RootNamespace, model.ManifestSite, "site", map[string]interface{}{"queue": "normal"})

	// Campaign-level overrides for bps and butler only; wms/site/lsst stay
	// at their library default.
	mustInsertManifest(namespace, model.ManifestBPS, "bps", map[string]interface{}{"wmsServiceClass": "panda"})
	mustInsertManifest(namespace, model.ManifestButler, "butler", map[string]interface{}{"repo": "/repo/campaign"})

	// Step-level override of butler's repo again.
	mustInsertManifest(namespace, model.ManifestStep, "isr", map[string]interface{}{"repo": "/repo/step"})

	step := &model.Node{ID: model.NodeID(namespace, "isr", 1), Namespace: namespace, Name: "isr", Version: 1, Kind: model.KindStep, Status: model.StatusWaiting}
	require.NoError(t, s.InsertNode(ctx, step))

	resolved, err := s.ResolveConfigChain(ctx, step)
	require.NoError(t, err)

	assert.Equal(t, "DRP.yaml", resolved["pipeline"])          // lsst library default, no campaign override
	assert.Equal(t, "panda", resolved["wmsServiceClass"])       // bps campaign override wins over library default
	assert.Equal(t, "usdf", resolved["site"])                   // wms library default, no campaign override
	assert.Equal(t, "normal", resolved["queue"])                // site library default, no campaign override
	assert.Equal(t, "/repo/step", resolved["repo"])             // step manifest wins over both butler layers
}
