package node

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"cm.lsst.io/graph"
	"cm.lsst.io/model"
)

func newGroupNode(t *testing.T) (*graph.Graph, *model.Node) {
	t.Helper()
	namespace := uuid.New()
	group := &model.Node{
		ID:            model.NodeID(namespace, "isr.group.0", 1),
		Namespace:     namespace,
		Name:          "isr.group.0",
		Version:       1,
		Kind:          model.KindGroup,
		Status:        model.StatusWaiting,
		Metadata:      map[string]interface{}{},
		Configuration: map[string]interface{}{"predicate": "visit in (1)"},
	}
	g := graph.Build(namespace, []*model.Node{group}, nil)
	return g, group
}

func TestGroup_PrepareStartFinish_Accepted(t *testing.T) {
	g, group := newGroupNode(t)
	deps, _, launcher, _, artifacts := testDeps(g)

	status, err := doPrepareGroup(context.Background(), group, deps)
	require.NoError(t, err)
	require.Equal(t, model.StatusReady, status)
	require.True(t, artifacts.dirs[groupWorkDir(group)])

	status, err = doStartGroup(context.Background(), group, deps)
	require.NoError(t, err)
	require.Equal(t, model.StatusRunning, status)
	submitID, _ := group.Metadata["wms_id"].(string)
	require.NotEmpty(t, submitID)

	launcher.results[submitID] = &LaunchStatus{Success: true}
	status, err = doFinishGroup(context.Background(), group, deps)
	require.NoError(t, err)
	require.Equal(t, model.StatusAccepted, status)
}

// TestGroup_Finish_Held grounds the §9 pipetask error classification: a
// HELD wms report fails the node with a KindWmsBlocked error, distinct from
// an outright failure, and records the WMS reason in wms_failure_reason.
func TestGroup_Finish_Held(t *testing.T) {
	g, group := newGroupNode(t)
	deps, _, launcher, _, _ := testDeps(g)

	group.Metadata["wms_id"] = "wms-1"
	launcher.results["wms-1"] = &LaunchStatus{Success: false, Blocked: true, Reason: "disk quota exceeded"}

	_, err := doFinishGroup(context.Background(), group, deps)
	require.Error(t, err)
	require.Equal(t, "disk quota exceeded", group.Metadata["wms_failure_reason"])
}

func TestGroup_Reset_RemovesArtifactDir(t *testing.T) {
	g, group := newGroupNode(t)
	deps, _, _, _, artifacts := testDeps(g)

	_, err := doPrepareGroup(context.Background(), group, deps)
	require.NoError(t, err)
	require.True(t, artifacts.dirs[groupWorkDir(group)])

	_, err = doResetGroup(context.Background(), group, deps)
	require.NoError(t, err)
	require.False(t, artifacts.dirs[groupWorkDir(group)])
}

// TestGroup_Restart_RequiresRestartableArtifact grounds Scenario E: retry
// after transient failure is always legal, but restart requires a
// restartable artifact from the prior attempt.
func TestGroup_Restart_RequiresRestartableArtifact(t *testing.T) {
	g, group := newGroupNode(t)
	deps, _, _, _, artifacts := testDeps(g)

	_, err := doRestartGroup(context.Background(), group, deps)
	require.Error(t, err)

	dir := groupWorkDir(group)
	require.NoError(t, artifacts.WriteFile(context.Background(), dir+"/restart.yaml", []byte("x")))

	status, err := doRestartGroup(context.Background(), group, deps)
	require.NoError(t, err)
	require.Equal(t, model.StatusWaiting, status)
	require.Equal(t, 1, toInt(group.Metadata["restarts"]))
}
