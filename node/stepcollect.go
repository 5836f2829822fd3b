package node

import (
	"context"
	"fmt"

	"cm.lsst.io/fsm"
	"cm.lsst.io/model"
)

// stepCollectRules implements the StepCollect (collect_groups) specialization
// (§4.3), grounded on CollectGroupsMachine in steps.py: enumerate the
// predecessor Groups' output collections, chain them together, and assert
// every predecessor has been added before accepting.
func stepCollectRules(collect *model.Node, deps Deps) []fsm.Rule {
	return []fsm.Rule{
		{
			Trigger: fsm.TriggerPrepare,
			From:    []model.Status{model.StatusWaiting},
			To:      model.StatusReady,
			Action:  func(ctx context.Context) (model.Status, error) { return doPrepareCollect(ctx, collect, deps) },
		},
		{
			Trigger: fsm.TriggerStart,
			From:    []model.Status{model.StatusReady},
			Action:  func(ctx context.Context) (model.Status, error) { return doStartCollect(ctx, collect, deps) },
		},
		{
			Trigger: fsm.TriggerFinish,
			From:    []model.Status{model.StatusRunning},
			Action:  func(ctx context.Context) (model.Status, error) { return doFinishCollect(ctx, collect, deps) },
		},
	}
}

func predecessorGroups(ctx context.Context, collect *model.Node, deps Deps) ([]*model.Node, error) {
	g, err := deps.Store.LoadGraph(ctx, collect.Namespace)
	if err != nil {
		return nil, fmt.Errorf("collect_groups: load graph: %w", err)
	}
	var groups []*model.Node
	for _, id := range g.Predecessors(collect.ID) {
		n, ok := g.Nodes[id]
		if !ok {
			continue
		}
		if n.Kind == model.KindGroup || n.Kind == model.KindStepGroup {
			groups = append(groups, n)
		}
	}
	return groups, nil
}

func doPrepareCollect(ctx context.Context, collect *model.Node, deps Deps) (model.Status, error) {
	groups, err := predecessorGroups(ctx, collect, deps)
	if err != nil {
		return "", err
	}
	var collections []string
	for _, grp := range groups {
		c, _ := grp.Metadata["input_collection"].(string)
		if c == "" {
			c = grp.Name + "/input"
		}
		collections = append(collections, c)
	}
	collect.Metadata["pending_collections"] = collections
	return model.StatusReady, nil
}

func doStartCollect(ctx context.Context, collect *model.Node, deps Deps) (model.Status, error) {
	chainName := collect.Name + "/chain"
	if err := deps.Butler.CreateChainedCollection(ctx, "/repo/main", chainName, nil); err != nil {
		return "", fmt.Errorf("collect_groups: create chained collection: %w", err)
	}

	pending, _ := collect.Metadata["pending_collections"].([]string)
	added := make([]string, 0, len(pending))
	for _, c := range pending {
		if err := deps.Butler.AddToChain(ctx, "/repo/main", chainName, c); err != nil {
			return "", fmt.Errorf("collect_groups: add %s to chain: %w", c, err)
		}
		added = append(added, c)
	}
	collect.Metadata["chain"] = chainName
	collect.Metadata["added_collections"] = added
	return model.StatusRunning, nil
}

// doFinishCollect asserts every predecessor collection has been added
// before accepting (§4.3).
func doFinishCollect(ctx context.Context, collect *model.Node, deps Deps) (model.Status, error) {
	pending, _ := collect.Metadata["pending_collections"].([]string)
	added, _ := collect.Metadata["added_collections"].([]string)
	addedSet := make(map[string]bool, len(added))
	for _, c := range added {
		addedSet[c] = true
	}
	for _, c := range pending {
		if !addedSet[c] {
			return "", fmt.Errorf("collect_groups: collection %q was never added to the chain", c)
		}
	}
	return model.StatusAccepted, nil
}
