package node

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"cm.lsst.io/fsm"
	"cm.lsst.io/graph"
	"cm.lsst.io/model"
	"cm.lsst.io/splitter"
)

// stepRules implements the Step (grouped_step) specialization (§4.3),
// grounded on StepMachine.do_prepare in steps.py: compute a base Butler
// query, select a Splitter, and for every predicate it yields, insert a
// new Group node — the first (anchor) downstream of the step, the rest
// parallel to the anchor — plus a single CollectGroups node downstream of
// the step and upstream of its original successors. Re-running prepare is
// idempotent since Group ids are UUID5(step.id, predicate).
func stepRules(step *model.Node, deps Deps) []fsm.Rule {
	return []fsm.Rule{
		{
			Trigger: fsm.TriggerPrepare,
			From:    []model.Status{model.StatusWaiting},
			Action:  func(ctx context.Context) (model.Status, error) { return doPrepareStep(ctx, step, deps) },
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
		{
			Trigger: fsm.TriggerUnprepare,
			From:    []model.Status{model.StatusReady},
			To:      model.StatusWaiting,
			Action:  func(ctx context.Context) (model.Status, error) { return doUnprepareStep(ctx, step, deps) },
		},
	}
}

// intFromConfig reads an integer-valued configuration field that may have
// round-tripped through encoding/json (store/store.go's fromJSON decodes
// all JSON numbers as float64) or been set directly as an int (tests,
// in-memory construction).
func intFromConfig(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func selectSplitter(step *model.Node, deps Deps) (splitter.Splitter, error) {
	cfg, ok := step.Configuration["groups"].(map[string]interface{})
	if !ok {
		return splitter.Null{}, nil
	}
	kind, _ := cfg["split_by"].(string)
	switch kind {
	case "", "null":
		return splitter.Null{}, nil
	case "values":
		field, _ := cfg["field"].(string)
		var values []string
		if raw, ok := cfg["values"].([]interface{}); ok {
			for _, v := range raw {
				values = append(values, fmt.Sprintf("%v", v))
			}
		}
		return splitter.Values{Field: field, Values: values}, nil
	case "query":
		field, _ := cfg["field"].(string)
		dataset, _ := cfg["dataset"].(string)
		minGroups := intFromConfig(cfg["min_groups"])
		maxSize := intFromConfig(cfg["max_size"])
		var collections, predicates []string
		if raw, ok := cfg["collections"].([]interface{}); ok {
			for _, v := range raw {
				collections = append(collections, fmt.Sprintf("%v", v))
			}
		}
		if raw, ok := cfg["predicates"].([]interface{}); ok {
			for _, v := range raw {
				predicates = append(predicates, fmt.Sprintf("%v", v))
			}
		}
		return splitter.Query{
			Butler:      deps.Butler,
			Dataset:     dataset,
			Field:       field,
			MinGroups:   minGroups,
			MaxSize:     maxSize,
			Collections: collections,
			Predicates:  predicates,
		}, nil
	default:
		return nil, fmt.Errorf("step: unknown split_by %q", kind)
	}
}

func doPrepareStep(ctx context.Context, step *model.Node, deps Deps) (model.Status, error) {
	g, err := deps.Store.LoadGraph(ctx, step.Namespace)
	if err != nil {
		return "", err
	}

	baseQuery, _ := step.Configuration["base_query"].(string)
	if baseQuery == "" {
		baseQuery = "1"
	} else {
		baseQuery = fmt.Sprintf("1 AND %s", baseQuery)
	}

	sp, err := selectSplitter(step, deps)
	if err != nil {
		return "", err
	}
	predicates, err := sp.Split(ctx)
	if err != nil {
		return "", err
	}

	collectID := model.NodeID(step.Namespace, step.Name+".collect", step.Version)
	collect, collectIsNew := existingOrNewCollectNode(g, step, collectID)

	var anchorID uuid.UUID
	for i, predicate := range predicates {
		combined := fmt.Sprintf("%s AND %s", baseQuery, predicate)
		groupID := model.GroupID(step.ID, combined)
		if _, exists := g.Nodes[groupID]; exists {
			if i == 0 {
				anchorID = groupID
			}
			continue // idempotent re-preparation: this group already exists (Scenario C)
		}

		group := &model.Node{
			ID:            groupID,
			Namespace:     step.Namespace,
			Name:          fmt.Sprintf("%s.group.%d", step.Name, i),
			Version:       1,
			Kind:          model.KindGroup,
			Status:        model.StatusWaiting,
			Metadata:      map[string]interface{}{},
			Configuration: map[string]interface{}{"predicate": combined},
		}
		if err := deps.Store.InsertNode(ctx, group); err != nil {
			return "", err
		}
		g.Nodes[group.ID] = group

		if i == 0 {
			anchorID = group.ID
			plan, err := g.Insert(step.ID, group.ID)
			if err != nil {
				return "", err
			}
			if err := deps.Store.ApplyMutation(ctx, step.Namespace, plan); err != nil {
				return "", err
			}
			g.Apply(plan)
		} else {
			plan, err := g.Append(anchorID, group.ID)
			if err != nil {
				return "", err
			}
			if err := deps.Store.ApplyMutation(ctx, step.Namespace, plan); err != nil {
				return "", err
			}
			g.Apply(plan)
		}
	}

	if collectIsNew {
		if err := deps.Store.InsertNode(ctx, collect); err != nil {
			return "", err
		}
		g.Nodes[collect.ID] = collect
		plan, err := g.Insert(anchorID, collect.ID)
		if err != nil {
			return "", err
		}
		if err := deps.Store.ApplyMutation(ctx, step.Namespace, plan); err != nil {
			return "", err
		}
		g.Apply(plan)
	}

	return model.StatusReady, nil
}

func existingOrNewCollectNode(g *graph.Graph, step *model.Node, collectID uuid.UUID) (*model.Node, bool) {
	if existing, ok := g.Nodes[collectID]; ok {
		return existing, false
	}
	return &model.Node{
		ID:            collectID,
		Namespace:     step.Namespace,
		Name:          step.Name + ".collect",
		Version:       1,
		Kind:          model.KindCollectGroups,
		Status:        model.StatusWaiting,
		Metadata:      map[string]interface{}{},
		Configuration: map[string]interface{}{},
	}, true
}

// doUnprepareStep removes every created Group and the collect node, but
// only if they are still `waiting` (§4.3).
func doUnprepareStep(ctx context.Context, step *model.Node, deps Deps) (model.Status, error) {
	g, err := deps.Store.LoadGraph(ctx, step.Namespace)
	if err != nil {
		return "", err
	}
	// Deleting a Group heals the step onto that Group's successors, which
	// makes the collect node a direct successor; repeat until a pass
	// removes nothing so it is removed too.
	for removed := true; removed; {
		removed = false
		for _, succID := range g.Successors(step.ID) {
			succ := g.Nodes[succID]
			if succ == nil || succ.Status != model.StatusWaiting {
				continue
			}
			if succ.Kind != model.KindGroup && succ.Kind != model.KindCollectGroups {
				continue
			}
			plan, err := g.Delete(succID, true, true)
			if err != nil {
				return "", err
			}
			if err := deps.Store.ApplyMutation(ctx, step.Namespace, plan); err != nil {
				return "", err
			}
			g.Apply(plan)
			removed = true
		}
	}
	return model.StatusWaiting, nil
}
