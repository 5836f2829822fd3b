package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cm.lsst.io/cmerrors"
	"cm.lsst.io/graph"
	"cm.lsst.io/model"
	"cm.lsst.io/node"
)

// fakeStore is an in-memory Store double satisfying both node.Store and
// scheduler.Store, scoped to a single namespace/campaign — mirroring the
// node and campaign packages' own fakeStore pattern.
type fakeStore struct {
	mu        sync.Mutex
	g         *graph.Graph
	campaigns map[uuid.UUID]*model.Campaign
	tasks     map[uuid.UUID]*model.Task
	logs      []*model.ActivityLog
}

func newFakeStore(g *graph.Graph) *fakeStore {
	return &fakeStore{g: g, campaigns: map[uuid.UUID]*model.Campaign{}, tasks: map[uuid.UUID]*model.Task{}}
}

func (s *fakeStore) LoadGraph(ctx context.Context, namespace uuid.UUID) (*graph.Graph, error) {
	return s.g, nil
}

func (s *fakeStore) InsertNode(ctx context.Context, n *model.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.g.Nodes[n.ID] = n
	return nil
}

func (s *fakeStore) ApplyMutation(ctx context.Context, namespace uuid.UUID, plan *graph.MutationPlan) error {
	return nil
}

func (s *fakeStore) SaveMachineSnapshot(ctx context.Context, node uuid.UUID, snapshot []byte) (uuid.UUID, error) {
	return uuid.New(), nil
}

func (s *fakeStore) ResolveConfigChain(ctx context.Context, n *model.Node) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

func (s *fakeStore) AppendActivityLog(ctx context.Context, entry *model.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

func (s *fakeStore) ListCampaignsByStatus(ctx context.Context, statuses ...model.Status) ([]*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Campaign
	for _, c := range s.campaigns {
		for _, want := range statuses {
			if c.Status == want {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) Enqueue(ctx context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tasks {
		if existing.Node == t.Node {
			return nil // ON CONFLICT (node) DO NOTHING
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.Status = model.TaskPending
	s.tasks[t.ID] = t
	return nil
}

func (s *fakeStore) Dequeue(ctx context.Context, n int) ([]*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Task
	for _, t := range s.tasks {
		if t.Status == model.TaskPending && t.Active {
			t.Status = model.TaskProcessing
			out = append(out, t)
			if len(out) >= n {
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) CompleteTask(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id].Status = model.TaskDone
	return nil
}

func (s *fakeStore) FailTask(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id].Status = model.TaskFailed
	return nil
}

func validGraph(namespace uuid.UUID) (*graph.Graph, *model.Node, *model.Node, *model.Node) {
	start := &model.Node{ID: uuid.New(), Namespace: namespace, Name: "start", Kind: model.KindStart, Status: model.StatusAccepted}
	step := &model.Node{ID: uuid.New(), Namespace: namespace, Name: "step", Kind: model.KindAction, Status: model.StatusWaiting}
	end := &model.Node{ID: uuid.New(), Namespace: namespace, Name: "end", Kind: model.KindEnd, Status: model.StatusWaiting}
	edges := []*model.Edge{
		{ID: model.EdgeID(namespace, start.ID, step.ID), Namespace: namespace, Source: start.ID, Target: step.ID},
		{ID: model.EdgeID(namespace, step.ID, end.ID), Namespace: namespace, Source: step.ID, Target: end.ID},
	}
	return graph.Build(namespace, []*model.Node{start, step, end}, edges), start, step, end
}

func testDeps(store node.Store) node.Deps {
	return node.Deps{Store: store, Log: logrus.NewEntry(logrus.New())}
}

func TestConsiderCampaignsEnqueuesProcessableNodes(t *testing.T) {
	namespace := uuid.New()
	g, _, step, _ := validGraph(namespace)
	store := newFakeStore(g)
	c := &model.Campaign{ID: model.CampaignID(namespace, "demo"), Namespace: namespace, Status: model.StatusRunning}
	store.campaigns[c.ID] = c

	d := New(DefaultConfig(), testDeps(store))
	d.considerCampaigns(context.Background(), store)

	require.Len(t, store.tasks, 1)
	for _, task := range store.tasks {
		assert.Equal(t, step.ID, task.Node)
		assert.Equal(t, model.TaskPending, task.Status)
	}
}

func TestConsiderCampaignsSkipsNonReadyOrRunning(t *testing.T) {
	namespace := uuid.New()
	g, _, _, _ := validGraph(namespace)
	store := newFakeStore(g)
	c := &model.Campaign{ID: model.CampaignID(namespace, "demo"), Namespace: namespace, Status: model.StatusWaiting}
	store.campaigns[c.ID] = c

	d := New(DefaultConfig(), testDeps(store))
	d.considerCampaigns(context.Background(), store)

	assert.Len(t, store.tasks, 0)
}

func TestConsiderCampaignsIsIdempotent(t *testing.T) {
	namespace := uuid.New()
	g, _, _, _ := validGraph(namespace)
	store := newFakeStore(g)
	c := &model.Campaign{ID: model.CampaignID(namespace, "demo"), Namespace: namespace, Status: model.StatusRunning}
	store.campaigns[c.ID] = c

	d := New(DefaultConfig(), testDeps(store))
	d.considerCampaigns(context.Background(), store)
	d.considerCampaigns(context.Background(), store)

	assert.Len(t, store.tasks, 1)
}

func TestConsiderNodesFiresNominalTransitionAndCompletesTask(t *testing.T) {
	namespace := uuid.New()
	g, _, step, _ := validGraph(namespace)
	store := newFakeStore(g)

	task := &model.Task{ID: uuid.New(), Namespace: namespace, Node: step.ID, Status: model.TaskPending, Active: true}
	store.tasks[task.ID] = task

	d := New(DefaultConfig(), testDeps(store))
	d.considerNodes(context.Background(), store)

	assert.Equal(t, model.StatusReady, g.Nodes[step.ID].Status) // waiting -> ready (prepare)
	assert.Equal(t, model.TaskDone, store.tasks[task.ID].Status)
	require.Len(t, store.logs, 1)
	assert.Equal(t, model.StatusWaiting, store.logs[0].FromStatus)
	assert.Equal(t, model.StatusReady, store.logs[0].ToStatus)
}

func TestProcessRefusesNonProcessableNode(t *testing.T) {
	namespace := uuid.New()
	g, _, _, end := validGraph(namespace)
	store := newFakeStore(g)

	_, err := Process(context.Background(), store, testDeps(store), namespace, end.ID, "operator")
	require.Error(t, err)
	kind, ok := cmerrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, cmerrors.KindNotProcessable, kind)
}

func TestProcessFiresOneTransitionOnProcessableNode(t *testing.T) {
	namespace := uuid.New()
	g, _, step, _ := validGraph(namespace)
	store := newFakeStore(g)

	result, err := Process(context.Background(), store, testDeps(store), namespace, step.ID, "operator")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, result.ToStatus)
}

func TestDaemonStartStopIsGraceful(t *testing.T) {
	namespace := uuid.New()
	g, _, _, _ := validGraph(namespace)
	store := newFakeStore(g)

	d := New(Config{CampaignInterval: 10 * time.Millisecond, NodeInterval: 10 * time.Millisecond, Workers: 1}, testDeps(store))
	require.NoError(t, d.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	d.Stop()
}
