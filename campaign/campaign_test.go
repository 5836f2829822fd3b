package campaign

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cm.lsst.io/cmerrors"
	"cm.lsst.io/fsm"
	"cm.lsst.io/graph"
	"cm.lsst.io/model"
)

// fakeStore is an in-memory Store double, mirroring node's fakeStore
// pattern, scoped to a single namespace/campaign.
type fakeStore struct {
	g        *graph.Graph
	campaign *model.Campaign
	logs     []*model.ActivityLog
}

func (s *fakeStore) LoadGraph(ctx context.Context, namespace uuid.UUID) (*graph.Graph, error) {
	return s.g, nil
}

func (s *fakeStore) GetCampaign(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	return s.campaign, nil
}

func (s *fakeStore) UpdateCampaignStatus(ctx context.Context, id uuid.UUID, status model.Status) error {
	s.campaign.Status = status
	return nil
}

func (s *fakeStore) SaveCampaignMachineSnapshot(ctx context.Context, campaign uuid.UUID, snapshot []byte) (uuid.UUID, error) {
	return uuid.New(), nil
}

func (s *fakeStore) AppendActivityLog(ctx context.Context, entry *model.ActivityLog) error {
	s.logs = append(s.logs, entry)
	return nil
}

func testLog() *logrus.Entry { return logrus.NewEntry(logrus.New()) }

func validGraph(namespace uuid.UUID) *graph.Graph {
	start := &model.Node{ID: uuid.New(), Namespace: namespace, Name: "start", Kind: model.KindStart, Status: model.StatusAccepted}
	step := &model.Node{ID: uuid.New(), Namespace: namespace, Name: "step", Kind: model.KindStep, Status: model.StatusWaiting}
	end := &model.Node{ID: uuid.New(), Namespace: namespace, Name: "end", Kind: model.KindEnd, Status: model.StatusWaiting}
	edges := []*model.Edge{
		{ID: model.EdgeID(namespace, start.ID, step.ID), Namespace: namespace, Source: start.ID, Target: step.ID},
		{ID: model.EdgeID(namespace, step.ID, end.ID), Namespace: namespace, Source: step.ID, Target: end.ID},
	}
	return graph.Build(namespace, []*model.Node{start, step, end}, edges)
}

// brokenGraph has a step unreachable from start (no end-reaching path).
func brokenGraph(namespace uuid.UUID) *graph.Graph {
	start := &model.Node{ID: uuid.New(), Namespace: namespace, Name: "start", Kind: model.KindStart, Status: model.StatusAccepted}
	end := &model.Node{ID: uuid.New(), Namespace: namespace, Name: "end", Kind: model.KindEnd, Status: model.StatusWaiting}
	orphan := &model.Node{ID: uuid.New(), Namespace: namespace, Name: "orphan", Kind: model.KindStep, Status: model.StatusWaiting}
	return graph.Build(namespace, []*model.Node{start, end, orphan}, nil)
}

func TestPrepareMovesWaitingToReady(t *testing.T) {
	namespace := uuid.New()
	c := &model.Campaign{ID: model.CampaignID(namespace, "demo"), Namespace: namespace, Status: model.StatusWaiting}
	store := &fakeStore{g: validGraph(namespace), campaign: c}

	result, err := Fire(context.Background(), store, "operator", c, fsm.TriggerPrepare, testLog())
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, result.ToStatus)
	assert.Equal(t, model.StatusReady, c.Status)
	require.Len(t, store.logs, 1)
}

func TestStartRequiresValidGraph(t *testing.T) {
	namespace := uuid.New()
	c := &model.Campaign{ID: model.CampaignID(namespace, "demo"), Namespace: namespace, Status: model.StatusReady}
	store := &fakeStore{g: validGraph(namespace), campaign: c}

	result, err := Fire(context.Background(), store, "operator", c, fsm.TriggerStart, testLog())
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, result.ToStatus)
	assert.Equal(t, model.StatusRunning, c.Status)
}

func TestStartRefusedOnInvalidGraphLeavesStatusUnchanged(t *testing.T) {
	namespace := uuid.New()
	c := &model.Campaign{ID: model.CampaignID(namespace, "demo"), Namespace: namespace, Status: model.StatusReady}
	store := &fakeStore{g: brokenGraph(namespace), campaign: c}

	_, err := Fire(context.Background(), store, "operator", c, fsm.TriggerStart, testLog())
	require.Error(t, err)
	kind, ok := cmerrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, cmerrors.KindInvalidCampaignGraph, kind)

	// status must be untouched by the refusal (§4.4).
	assert.Equal(t, model.StatusReady, c.Status)

	require.Len(t, store.logs, 1)
	assert.Equal(t, model.StatusReady, store.logs[0].FromStatus)
	assert.Equal(t, model.StatusReady, store.logs[0].ToStatus)
	assert.Equal(t, "InvalidCampaignGraphError", store.logs[0].Detail["exception"])
}

func TestPauseFromRunningAlwaysAllowed(t *testing.T) {
	namespace := uuid.New()
	c := &model.Campaign{ID: model.CampaignID(namespace, "demo"), Namespace: namespace, Status: model.StatusRunning}
	store := &fakeStore{g: validGraph(namespace), campaign: c}

	result, err := Fire(context.Background(), store, "operator", c, fsm.TriggerPause, testLog())
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, result.ToStatus)
}

func TestResumeThenStartRevalidatesGraph(t *testing.T) {
	namespace := uuid.New()
	c := &model.Campaign{ID: model.CampaignID(namespace, "demo"), Namespace: namespace, Status: model.StatusPaused}
	store := &fakeStore{g: validGraph(namespace), campaign: c}

	result, err := Fire(context.Background(), store, "operator", c, fsm.TriggerStart, testLog())
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, result.ToStatus)
}

func TestFinishMovesRunningToAccepted(t *testing.T) {
	namespace := uuid.New()
	c := &model.Campaign{ID: model.CampaignID(namespace, "demo"), Namespace: namespace, Status: model.StatusRunning}
	store := &fakeStore{g: validGraph(namespace), campaign: c}

	result, err := Fire(context.Background(), store, "operator", c, fsm.TriggerFinish, testLog())
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, result.ToStatus)
}

func TestStartIllegalFromWaiting(t *testing.T) {
	namespace := uuid.New()
	c := &model.Campaign{ID: model.CampaignID(namespace, "demo"), Namespace: namespace, Status: model.StatusWaiting}
	store := &fakeStore{g: validGraph(namespace), campaign: c}

	_, err := Fire(context.Background(), store, "operator", c, fsm.TriggerStart, testLog())
	require.Error(t, err)
	// illegal trigger, not a graph refusal: no ActivityLog row.
	assert.Len(t, store.logs, 0)
}
