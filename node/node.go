// Package node implements the Node FSM (§4.3): the shared trigger table
// mechanics (via fsm.Machine) plus the per-kind specializations grounded
// on original_source/src/lsst/cmservice/machines/nodes/steps.py.
package node

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cm.lsst.io/fsm"
	"cm.lsst.io/graph"
	"cm.lsst.io/model"
)

// Launcher is the WMS adapter (§6): submit/check/cancel.
type Launcher interface {
	Submit(ctx context.Context, scriptPath string, env map[string]string) (submitID string, err error)
	Check(ctx context.Context, submitID string) (*LaunchStatus, error)
	Cancel(ctx context.Context, submitID string) (bool, error)
}

// LaunchStatus is the Launcher's check() result. Blocked distinguishes a
// WMS-reported HELD state from an outright FAILED one (§9, pipetask error
// classification); both fail the node but a Group records which for the
// ActivityLog detail.
type LaunchStatus struct {
	Success bool
	Running bool
	Blocked bool
	Reason  string
}

// Butler is the adapter (§6) used only by Step/Group/StepCollect
// transitions.
type Butler interface {
	QueryDataIDs(ctx context.Context, dataset, field string, collections []string, where string) ([]int64, error)
	CreateChainedCollection(ctx context.Context, repo, name string, members []string) error
	AddToChain(ctx context.Context, repo, chain, member string) error
}

// Artifacts is the adapter store backing a Group's per-attempt working
// directory (§6).
type Artifacts interface {
	CreateDir(ctx context.Context, path string) error
	RemoveDir(ctx context.Context, path string) error
	WriteFile(ctx context.Context, path string, data []byte) error
	Exists(ctx context.Context, path string) (bool, error)
}

// Store is the persistence boundary the node package needs: node/machine
// CRUD, graph mutation application, and configuration-chain resolution
// (§4.6, implemented by the store package's Store and CachingStore).
type Store interface {
	LoadGraph(ctx context.Context, namespace uuid.UUID) (*graph.Graph, error)
	InsertNode(ctx context.Context, n *model.Node) error
	ApplyMutation(ctx context.Context, namespace uuid.UUID, plan *graph.MutationPlan) error
	SaveMachineSnapshot(ctx context.Context, node uuid.UUID, snapshot []byte) (uuid.UUID, error)
	ResolveConfigChain(ctx context.Context, n *model.Node) (map[string]interface{}, error)
	AppendActivityLog(ctx context.Context, entry *model.ActivityLog) error
}

// Deps bundles the adapters a node's Action closures may call.
type Deps struct {
	Store     Store
	Launcher  Launcher
	Butler    Butler
	Artifacts Artifacts
	Log       *logrus.Entry
}

// NewMachine builds an fsm.Machine seeded with node's current status and
// the trigger table appropriate to node.Kind.
func NewMachine(node *model.Node, deps Deps) *fsm.Machine {
	var rules []fsm.Rule
	switch node.Kind {
	case model.KindStart, model.KindEnd:
		rules = sentinelRules(node, deps)
	case model.KindStep, model.KindGroupedStep:
		rules = stepRules(node, deps)
	case model.KindGroup, model.KindStepGroup:
		rules = groupRules(node, deps)
	case model.KindCollectGroups:
		rules = stepCollectRules(node, deps)
	case model.KindBreakpoint:
		rules = breakpointRules(node, deps)
	case model.KindAction:
		rules = actionRules(node, deps)
	default:
		rules = actionRules(node, deps)
	}
	// Every kind accepts the operator overrides and the common rollback
	// triggers, per §4.3's trigger table. They go first so that a kind's own
	// rule for the same trigger (Group's reset) replaces the common one.
	rules = append(commonRules(node, deps), rules...)
	return fsm.NewMachine(node.ID.String(), node.Status, rules, deps.Log)
}

// commonRules implements the triggers that apply uniformly across kinds:
// pause/resume/accept/reject/reset, per §4.3.
func commonRules(node *model.Node, deps Deps) []fsm.Rule {
	allNonTerminal := []model.Status{
		model.StatusWaiting, model.StatusReady, model.StatusPrepared,
		model.StatusRunning, model.StatusReviewable, model.StatusRescuable,
	}
	return []fsm.Rule{
		{
			Trigger: fsm.TriggerPause,
			From:    []model.Status{model.StatusReady, model.StatusRunning},
			To:      model.StatusPaused,
			Action: func(ctx context.Context) (model.Status, error) {
				// Recorded for resume, which returns the node to it.
				if node.Metadata == nil {
					node.Metadata = map[string]interface{}{}
				}
				node.Metadata["prior_status"] = string(node.Status)
				return model.StatusPaused, nil
			},
		},
		{
			Trigger: fsm.TriggerResume,
			From:    []model.Status{model.StatusPaused},
			Action: func(ctx context.Context) (model.Status, error) {
				prior := model.StatusWaiting
				if r, ok := node.Metadata["prior_status"].(string); ok && r != "" {
					prior = model.Status(r)
				}
				return prior, nil
			},
		},
		{
			Trigger: fsm.TriggerAccept,
			From:    allOf(model.StatusFailed, model.StatusRejected, model.StatusPaused, model.StatusRescuable, model.StatusWaiting, model.StatusReady, model.StatusPrepared, model.StatusRunning, model.StatusReviewable, model.StatusAccepted, model.StatusRescued),
			To:      model.StatusAccepted,
			Action:  func(ctx context.Context) (model.Status, error) { return model.StatusAccepted, nil },
		},
		{
			Trigger: fsm.TriggerReject,
			From:    allNonTerminal,
			To:      model.StatusRejected,
			Action:  func(ctx context.Context) (model.Status, error) { return model.StatusRejected, nil },
		},
		{
			Trigger: fsm.TriggerReset,
			From:    allOf(model.StatusFailed, model.StatusWaiting, model.StatusReady, model.StatusPrepared, model.StatusRunning, model.StatusReviewable, model.StatusRescuable),
			To:      model.StatusWaiting,
			Action: func(ctx context.Context) (model.Status, error) {
				// Rolls back and destroys artefacts (§4.3); Group's own
				// reset rule replaces this one (see NewMachine) since it
				// must also remove the artifact directory.
				return model.StatusWaiting, nil
			},
		},
	}
}

func allOf(statuses ...model.Status) []model.Status { return statuses }

func sentinelRules(node *model.Node, deps Deps) []fsm.Rule {
	return []fsm.Rule{
		{
			Trigger: fsm.TriggerPrepare,
			From:    []model.Status{model.StatusWaiting},
			To:      model.StatusReady,
			Action:  func(ctx context.Context) (model.Status, error) { return model.StatusReady, nil },
		},
		{
			Trigger: fsm.TriggerStart,
			From:    []model.Status{model.StatusReady},
			To:      model.StatusRunning,
			Action:  func(ctx context.Context) (model.Status, error) { return model.StatusRunning, nil },
		},
		{
			Trigger: fsm.TriggerFinish,
			From:    []model.Status{model.StatusRunning},
			To:      model.StatusAccepted,
			Action:  func(ctx context.Context) (model.Status, error) { return model.StatusAccepted, nil },
		},
	}
}

func breakpointRules(node *model.Node, deps Deps) []fsm.Rule {
	return []fsm.Rule{
		{
			Trigger: fsm.TriggerPrepare,
			From:    []model.Status{model.StatusWaiting},
			To:      model.StatusReady,
			Action:  func(ctx context.Context) (model.Status, error) { return model.StatusReady, nil },
		},
		{
			Trigger: fsm.TriggerStart,
			From:    []model.Status{model.StatusReady},
			To:      model.StatusRunning,
			Action:  func(ctx context.Context) (model.Status, error) { return model.StatusRunning, nil },
		},
		// finish never fires spontaneously (§4.3); only the accept
		// override (common rule) moves a Breakpoint out of running.
	}
}

func actionRules(node *model.Node, deps Deps) []fsm.Rule {
	return []fsm.Rule{
		{
			Trigger: fsm.TriggerPrepare,
			From:    []model.Status{model.StatusWaiting},
			To:      model.StatusReady,
			Action:  func(ctx context.Context) (model.Status, error) { return model.StatusReady, nil },
		},
		{
			Trigger: fsm.TriggerStart,
			From:    []model.Status{model.StatusReady},
			Action: func(ctx context.Context) (model.Status, error) {
				env := stringMapOf(node.Configuration["env"])
				script, _ := node.Configuration["script"].(string)
				submitID, err := deps.Launcher.Submit(ctx, script, env)
				if err != nil {
					return "", err
				}
				node.Metadata["wms_id"] = submitID
				return model.StatusRunning, nil
			},
		},
		{
			Trigger: fsm.TriggerFinish,
			From:    []model.Status{model.StatusRunning},
			Action: func(ctx context.Context) (model.Status, error) {
				submitID, _ := node.Metadata["wms_id"].(string)
				status, err := deps.Launcher.Check(ctx, submitID)
				if err != nil {
					return "", err
				}
				if status.Running {
					return model.StatusRunning, nil
				}
				if !status.Success {
					return "", fmt.Errorf("launcher reported failure: %s", status.Reason)
				}
				return model.StatusAccepted, nil
			},
		},
	}
}

func stringMapOf(v interface{}) map[string]string {
	out := map[string]string{}
	if m, ok := v.(map[string]interface{}); ok {
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}

// Fire runs trigger against n's persisted status (§4.3 step 2): it builds
// n's Machine, fires the trigger, persists the resulting status via
// Store.InsertNode (which upserts), and writes the ActivityLog row that
// records the transition — including a failed-Action outcome, whose
// detail carries the error. Fire's own returned error is reserved for
// structural problems (unknown trigger, illegal source status, a Store
// write failing); it is the caller's job (scheduler.consider_nodes or the
// process RPC) to turn that into NotProcessable where appropriate.
func Fire(ctx context.Context, deps Deps, operator string, n *model.Node, trigger fsm.Trigger) (fsm.TransitionResult, error) {
	m := NewMachine(n, deps)

	result, err := m.Fire(ctx, trigger)
	if err != nil {
		return fsm.TransitionResult{}, err
	}

	n.Status = result.ToStatus
	if err := deps.Store.InsertNode(ctx, n); err != nil {
		return fsm.TransitionResult{}, fmt.Errorf("node %s: commit status: %w", n.ID, err)
	}

	entry := &model.ActivityLog{
		ID:         uuid.New(),
		Namespace:  n.Namespace,
		Node:       &n.ID,
		Operator:   operator,
		FromStatus: result.FromStatus,
		ToStatus:   result.ToStatus,
	}
	if result.Failed {
		entry.Detail = map[string]interface{}{"error": result.Err.Error()}
	}
	if err := deps.Store.AppendActivityLog(ctx, entry); err != nil {
		return result, err
	}
	return result, nil
}

