package node

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cm.lsst.io/graph"
	"cm.lsst.io/model"
)

// fakeStore is an in-memory Store double scoped to a single namespace,
// sufficient to exercise Step/Group/StepCollect transitions without a
// database.
type fakeStore struct {
	g          *graph.Graph
	configured map[uuid.UUID]map[string]interface{}
	logs       []*model.ActivityLog
}

func newFakeStore(g *graph.Graph) *fakeStore {
	return &fakeStore{g: g, configured: map[uuid.UUID]map[string]interface{}{}}
}

func (s *fakeStore) LoadGraph(ctx context.Context, namespace uuid.UUID) (*graph.Graph, error) {
	return s.g, nil
}

func (s *fakeStore) InsertNode(ctx context.Context, n *model.Node) error {
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
	if cfg, ok := s.configured[n.ID]; ok {
		return cfg, nil
	}
	return map[string]interface{}{"butler_repo": "/repo/main", "site": "local"}, nil
}

func (s *fakeStore) AppendActivityLog(ctx context.Context, entry *model.ActivityLog) error {
	s.logs = append(s.logs, entry)
	return nil
}

// fakeLauncher is a scripted Launcher double: Submit always succeeds,
// Check returns whatever result was queued for the submit id.
type fakeLauncher struct {
	submitted map[string]string // submitID -> scriptPath
	results   map[string]*LaunchStatus
	nextID    int
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{submitted: map[string]string{}, results: map[string]*LaunchStatus{}}
}

func (l *fakeLauncher) Submit(ctx context.Context, scriptPath string, env map[string]string) (string, error) {
	l.nextID++
	id := fmt.Sprintf("wms-%d", l.nextID)
	l.submitted[id] = scriptPath
	return id, nil
}

func (l *fakeLauncher) Check(ctx context.Context, submitID string) (*LaunchStatus, error) {
	if r, ok := l.results[submitID]; ok {
		return r, nil
	}
	return &LaunchStatus{Success: true}, nil
}

func (l *fakeLauncher) Cancel(ctx context.Context, submitID string) (bool, error) {
	return true, nil
}

// fakeButlerAdapter is a Butler double recording chained-collection calls.
type fakeButlerAdapter struct {
	ids     []int64
	chains  map[string][]string
	created map[string]bool
}

func newFakeButlerAdapter() *fakeButlerAdapter {
	return &fakeButlerAdapter{chains: map[string][]string{}, created: map[string]bool{}}
}

func (b *fakeButlerAdapter) QueryDataIDs(ctx context.Context, dataset, field string, collections []string, where string) ([]int64, error) {
	return b.ids, nil
}

func (b *fakeButlerAdapter) CreateChainedCollection(ctx context.Context, repo, name string, members []string) error {
	b.created[name] = true
	b.chains[name] = append(b.chains[name], members...)
	return nil
}

func (b *fakeButlerAdapter) AddToChain(ctx context.Context, repo, chain, member string) error {
	if !b.created[chain] {
		return fmt.Errorf("fakeButlerAdapter: chain %q does not exist", chain)
	}
	b.chains[chain] = append(b.chains[chain], member)
	return nil
}

// fakeArtifacts is an in-memory Artifacts double.
type fakeArtifacts struct {
	dirs  map[string]bool
	files map[string][]byte
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{dirs: map[string]bool{}, files: map[string][]byte{}}
}

func (a *fakeArtifacts) CreateDir(ctx context.Context, path string) error {
	a.dirs[path] = true
	return nil
}

func (a *fakeArtifacts) RemoveDir(ctx context.Context, dirPath string) error {
	delete(a.dirs, dirPath)
	for p := range a.files {
		if len(p) >= len(dirPath) && p[:len(dirPath)] == dirPath {
			delete(a.files, p)
		}
	}
	return nil
}

func (a *fakeArtifacts) WriteFile(ctx context.Context, filePath string, data []byte) error {
	a.files[filePath] = data
	return nil
}

func (a *fakeArtifacts) Exists(ctx context.Context, filePath string) (bool, error) {
	_, ok := a.files[filePath]
	return ok, nil
}

func testDeps(g *graph.Graph) (Deps, *fakeStore, *fakeLauncher, *fakeButlerAdapter, *fakeArtifacts) {
	store := newFakeStore(g)
	launcher := newFakeLauncher()
	butler := newFakeButlerAdapter()
	artifacts := newFakeArtifacts()
	deps := Deps{
		Store:     store,
		Launcher:  launcher,
		Butler:    butler,
		Artifacts: artifacts,
		Log:       logrus.NewEntry(logrus.New()),
	}
	return deps, store, launcher, butler, artifacts
}
