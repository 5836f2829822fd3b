// Package scheduler implements the Traversal and Scheduling Daemon (§4.5):
// two cooperating ticker-driven loops (consider_campaigns/consider_nodes)
// plus the manual "process" RPC. The ticker/graceful-shutdown shape is
// grounded on the teacher's coordinator.Coordinator reconnect/ping loop
// (context.Context + sync.WaitGroup + typed channels), generalized here
// from a single WebSocket connection loop to two independent ticking
// loops, each restart-safe and idempotent per spec.md §4.5.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cm.lsst.io/cmerrors"
	"cm.lsst.io/fsm"
	"cm.lsst.io/model"
	"cm.lsst.io/node"
	"cm.lsst.io/worker"
)

// Store is the persistence boundary the daemon needs, beyond node.Store:
// campaign listing and the task queue.
type Store interface {
	node.Store
	ListCampaignsByStatus(ctx context.Context, statuses ...model.Status) ([]*model.Campaign, error)
	Enqueue(ctx context.Context, t *model.Task) error
	Dequeue(ctx context.Context, n int) ([]*model.Task, error)
	CompleteTask(ctx context.Context, id uuid.UUID) error
	FailTask(ctx context.Context, id uuid.UUID) error
}

// Config tunes the daemon's loop cadence and worker fan-out.
type Config struct {
	// CampaignInterval is how often consider_campaigns runs.
	CampaignInterval time.Duration
	// NodeInterval is how often consider_nodes runs.
	NodeInterval time.Duration
	// Workers is N, the number of task rows consider_nodes claims per tick.
	Workers int
}

// DefaultConfig returns sensible daemon loop defaults.
func DefaultConfig() Config {
	return Config{
		CampaignInterval: 5 * time.Second,
		NodeInterval:     1 * time.Second,
		Workers:          5,
	}
}

// Daemon runs the two cooperating loops over a single Store + node.Deps.
type Daemon struct {
	cfg  Config
	deps node.Deps
	log  *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Daemon. deps.Store must also satisfy Store (the campaign/
// task-queue methods); this is checked at Start via a type assertion
// rather than widening node.Deps, since every other node.Deps consumer
// (the process RPC, node tests) only needs the narrower node.Store.
func New(cfg Config, deps node.Deps) *Daemon {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.CampaignInterval <= 0 {
		cfg.CampaignInterval = DefaultConfig().CampaignInterval
	}
	if cfg.NodeInterval <= 0 {
		cfg.NodeInterval = DefaultConfig().NodeInterval
	}
	log := deps.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Daemon{cfg: cfg, deps: deps, log: log}
}

// Start launches both loops in background goroutines. Stop (or cancelling
// the context passed to a future Start) ends them cooperatively: each loop
// checks ctx.Done() at the top of every tick, so no transition is ever
// interrupted mid-flight (§4.5, "a transition in progress is not
// cancelled").
func (d *Daemon) Start(ctx context.Context) error {
	store, ok := d.deps.Store.(Store)
	if !ok {
		return fmt.Errorf("scheduler: store does not implement scheduler.Store")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(2)
	go d.runLoop("consider_campaigns", d.cfg.CampaignInterval, func() { d.considerCampaigns(d.ctx, store) })
	go d.runLoop("consider_nodes", d.cfg.NodeInterval, func() { d.considerNodes(d.ctx, store) })
	return nil
}

// Stop cancels both loops and waits for them to return.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Daemon) runLoop(name string, interval time.Duration, tick func()) {
	defer d.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			d.log.WithField("loop", name).Info("scheduler: loop stopped")
			return
		case <-ticker.C:
			tick()
		}
	}
}

// considerCampaigns implements §4.5's first loop: for every campaign in
// ready or running, build the graph, walk the processable set, and
// INSERT ... ON CONFLICT DO NOTHING a Task row per processable node.
// Campaigns in any other status are skipped.
func (d *Daemon) considerCampaigns(ctx context.Context, store Store) {
	campaigns, err := store.ListCampaignsByStatus(ctx, model.StatusReady, model.StatusRunning)
	if err != nil {
		d.log.WithError(err).Warn("scheduler: consider_campaigns: list failed")
		return
	}
	for _, c := range campaigns {
		if err := d.considerCampaign(ctx, store, c); err != nil {
			d.log.WithError(err).WithField("campaign", c.ID).Warn("scheduler: consider_campaigns: campaign failed")
		}
	}
}

func (d *Daemon) considerCampaign(ctx context.Context, store Store, c *model.Campaign) error {
	g, err := store.LoadGraph(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("load graph: %w", err)
	}
	processable, err := g.Processable()
	if err != nil {
		return fmt.Errorf("processable set: %w", err)
	}
	for _, n := range processable {
		task := &model.Task{ID: uuid.New(), Namespace: c.ID, Node: n.ID, Status: model.TaskPending, Active: true}
		if err := store.Enqueue(ctx, task); err != nil {
			return fmt.Errorf("enqueue node %s: %w", n.ID, err)
		}
	}
	return nil
}

// considerNodes implements §4.5's second loop: pop up to Workers Task rows
// via FOR UPDATE SKIP LOCKED (store.Dequeue) and trigger the next nominal
// transition on each, capping concurrency at Workers via worker.Pool. Each
// task commits or rolls back independently — one node's failure does not
// affect its siblings.
func (d *Daemon) considerNodes(ctx context.Context, store Store) {
	tasks, err := store.Dequeue(ctx, d.cfg.Workers)
	if err != nil {
		d.log.WithError(err).Warn("scheduler: consider_nodes: dequeue failed")
		return
	}

	pool := worker.New(d.cfg.Workers, func(ctx context.Context, t *model.Task) error {
		if err := d.processTask(ctx, store, t); err != nil {
			if failErr := store.FailTask(ctx, t.ID); failErr != nil {
				d.log.WithError(failErr).WithField("task", t.ID).Warn("scheduler: consider_nodes: fail-task failed")
			}
			return err
		}
		if err := store.CompleteTask(ctx, t.ID); err != nil {
			d.log.WithError(err).WithField("task", t.ID).Warn("scheduler: consider_nodes: complete-task failed")
		}
		return nil
	})
	pool.Run(ctx, tasks, func(t *model.Task, err error) {
		d.log.WithError(err).WithField("task", t.ID).Warn("scheduler: consider_nodes: task failed")
	})
}

func (d *Daemon) processTask(ctx context.Context, store Store, t *model.Task) error {
	g, err := store.LoadGraph(ctx, t.Namespace)
	if err != nil {
		return fmt.Errorf("load graph: %w", err)
	}
	n, ok := g.Nodes[t.Node]
	if !ok {
		return fmt.Errorf("node %s not found in namespace %s", t.Node, t.Namespace)
	}

	trigger, ok := nominalTrigger(n.Status)
	if !ok {
		return fmt.Errorf("node %s: no nominal transition from status %q", n.ID, n.Status)
	}

	_, err = node.Fire(ctx, d.deps, "scheduler", n, trigger)
	return err
}

// nominalTrigger maps a node's current status to the next nominal
// transition the daemon drives automatically (§4.5): waiting→ready,
// ready→running, running→finish. Any other status (paused, terminal,
// reviewable) has no automatic next step; the daemon leaves it for an
// operator action or the RPC process call.
func nominalTrigger(status model.Status) (fsm.Trigger, bool) {
	switch status {
	case model.StatusWaiting:
		return fsm.TriggerPrepare, true
	case model.StatusReady:
		return fsm.TriggerStart, true
	case model.StatusRunning:
		return fsm.TriggerFinish, true
	default:
		return "", false
	}
}

// Process implements the manual "process" RPC (§4.5): it drives exactly
// one transition on one node, bypassing the task queue, refusing nodes
// that are not processable with NotProcessable. It is used by operators
// and tests.
func Process(ctx context.Context, store Store, deps node.Deps, namespace uuid.UUID, nodeID uuid.UUID, operator string) (fsm.TransitionResult, error) {
	g, err := store.LoadGraph(ctx, namespace)
	if err != nil {
		return fsm.TransitionResult{}, fmt.Errorf("scheduler: process: load graph: %w", err)
	}
	n, ok := g.Nodes[nodeID]
	if !ok {
		return fsm.TransitionResult{}, cmerrors.New(cmerrors.KindNotFound, "node %s not found", nodeID)
	}

	processable, err := g.Processable()
	if err != nil {
		return fsm.TransitionResult{}, fmt.Errorf("scheduler: process: processable set: %w", err)
	}
	found := false
	for _, p := range processable {
		if p.ID == nodeID {
			found = true
			break
		}
	}
	if !found {
		return fsm.TransitionResult{}, cmerrors.New(cmerrors.KindNotProcessable, "node %s is not processable", nodeID)
	}

	trigger, ok := nominalTrigger(n.Status)
	if !ok {
		return fsm.TransitionResult{}, cmerrors.New(cmerrors.KindNotProcessable, "node %s has no nominal transition from status %q", nodeID, n.Status)
	}
	return node.Fire(ctx, deps, operator, n, trigger)
}
