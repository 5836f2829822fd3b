package node

import (
	"context"
	"fmt"
	"path"

	"cm.lsst.io/cmerrors"
	"cm.lsst.io/fsm"
	"cm.lsst.io/model"
)

// groupRules implements the Group (step_group) specialization (§4.3),
// grounded on GroupMachine in steps.py: materialize an artifact working
// directory and BPS submission script, submit it to the WMS, poll the WMS
// report, and map FINISHED/HELD/FAILED/RUNNING onto accepted/failed/failed/
// no-op per pipetask_error_type.py's classification (§9).
func groupRules(group *model.Node, deps Deps) []fsm.Rule {
	return []fsm.Rule{
		{
			Trigger: fsm.TriggerPrepare,
			From:    []model.Status{model.StatusWaiting},
			To:      model.StatusReady,
			Action:  func(ctx context.Context) (model.Status, error) { return doPrepareGroup(ctx, group, deps) },
		},
		{
			Trigger: fsm.TriggerStart,
			From:    []model.Status{model.StatusReady},
			Action:  func(ctx context.Context) (model.Status, error) { return doStartGroup(ctx, group, deps) },
		},
		{
			Trigger: fsm.TriggerFinish,
			From:    []model.Status{model.StatusRunning},
			Action:  func(ctx context.Context) (model.Status, error) { return doFinishGroup(ctx, group, deps) },
		},
		{
			Trigger: fsm.TriggerReset,
			From:    []model.Status{model.StatusFailed, model.StatusWaiting, model.StatusReady, model.StatusRunning, model.StatusReviewable, model.StatusRescuable},
			To:      model.StatusWaiting,
			Action:  func(ctx context.Context) (model.Status, error) { return doResetGroup(ctx, group, deps) },
		},
		{
			Trigger: fsm.TriggerRetry,
			From:    []model.Status{model.StatusFailed, model.StatusRescuable},
			To:      model.StatusWaiting,
			Action: func(ctx context.Context) (model.Status, error) {
				group.Metadata["retries"] = toInt(group.Metadata["retries"]) + 1
				return model.StatusWaiting, nil
			},
		},
		{
			Trigger: fsm.TriggerRestart,
			From:    []model.Status{model.StatusFailed, model.StatusRescuable},
			Action:  func(ctx context.Context) (model.Status, error) { return doRestartGroup(ctx, group, deps) },
		},
	}
}

func groupWorkDir(group *model.Node) string {
	return path.Join("campaigns", group.Namespace.String(), group.Name, fmt.Sprintf("%d", group.Version))
}

func doPrepareGroup(ctx context.Context, group *model.Node, deps Deps) (model.Status, error) {
	resolved, err := deps.Store.ResolveConfigChain(ctx, group)
	if err != nil {
		return "", fmt.Errorf("group: resolve config chain: %w", err)
	}

	dir := groupWorkDir(group)
	if err := deps.Artifacts.CreateDir(ctx, dir); err != nil {
		return "", fmt.Errorf("group: create artifact dir: %w", err)
	}

	script := renderSubmissionScript(group, resolved)
	if err := deps.Artifacts.WriteFile(ctx, path.Join(dir, "submit.sh"), []byte(script)); err != nil {
		return "", fmt.Errorf("group: write submission script: %w", err)
	}

	predicate, _ := group.Configuration["predicate"].(string)
	inputCollection := fmt.Sprintf("%s/input", group.Name)
	if err := deps.Butler.CreateChainedCollection(ctx, dataRepo(resolved), inputCollection, nil); err != nil {
		return "", fmt.Errorf("group: create input collection: %w", err)
	}
	group.Metadata["input_collection"] = inputCollection
	group.Metadata["predicate"] = predicate

	return model.StatusReady, nil
}

func dataRepo(resolved map[string]interface{}) string {
	repo, _ := resolved["butler_repo"].(string)
	if repo == "" {
		repo = "/repo/main"
	}
	return repo
}

// renderSubmissionScript builds the BPS shell invocation, grounded on the
// teacher's common/docker.go shell-command assembly pattern (argv slice
// joined with explicit quoting, not a templating engine — the BPS payload
// here is a single `bps submit` invocation, which doesn't warrant
// html/template's escaping machinery).
func renderSubmissionScript(group *model.Node, resolved map[string]interface{}) string {
	wmsSite, _ := resolved["site"].(string)
	if wmsSite == "" {
		wmsSite = "local"
	}
	return fmt.Sprintf("#!/bin/sh\nexec bps submit --site %s --config %s.yaml\n", wmsSite, group.Name)
}

func doStartGroup(ctx context.Context, group *model.Node, deps Deps) (model.Status, error) {
	dir := groupWorkDir(group)
	env := map[string]string{"CM_GROUP_NAME": group.Name}
	submitID, err := deps.Launcher.Submit(ctx, path.Join(dir, "submit.sh"), env)
	if err != nil {
		return "", fmt.Errorf("group: submit: %w", err)
	}
	group.Metadata["wms_id"] = submitID
	return model.StatusRunning, nil
}

// doFinishGroup maps the WMS report onto the Group's outcome per
// pipetask_error_type.py's FINISHED/HELD/FAILED/RUNNING classification
// (§9): FINISHED accepts, HELD and FAILED both fail the node (the
// distinction is the error kind, KindWmsBlocked or KindWmsFailed, which
// ends up in the ActivityLog detail, not in the status; the WMS reason is
// kept in Metadata["wms_failure_reason"]), RUNNING leaves the node running.
func doFinishGroup(ctx context.Context, group *model.Node, deps Deps) (model.Status, error) {
	submitID, _ := group.Metadata["wms_id"].(string)
	status, err := deps.Launcher.Check(ctx, submitID)
	if err != nil {
		return "", fmt.Errorf("group: check: %w", err)
	}
	if status.Running {
		return model.StatusRunning, nil
	}
	if status.Success {
		return model.StatusAccepted, nil
	}
	group.Metadata["wms_failure_reason"] = status.Reason
	if status.Blocked {
		return "", cmerrors.New(cmerrors.KindWmsBlocked, "wms run held: %s", status.Reason)
	}
	return "", cmerrors.New(cmerrors.KindWmsFailed, "wms run failed: %s", status.Reason)
}

// doResetGroup overrides the generic commonRules reset: a Group must also
// remove its artifact directory and its wms_id and input_collection
// metadata (§4.3), unlike a plain Action node.
func doResetGroup(ctx context.Context, group *model.Node, deps Deps) (model.Status, error) {
	if err := deps.Artifacts.RemoveDir(ctx, groupWorkDir(group)); err != nil {
		return "", fmt.Errorf("group: remove artifact dir: %w", err)
	}
	delete(group.Metadata, "wms_id")
	delete(group.Metadata, "input_collection")
	return model.StatusWaiting, nil
}

// doRestartGroup only applies if the last WMS attempt produced a
// restartable artifact (§4.3); it rewrites the launch script to the
// restart variant and increments metadata.restarts.
func doRestartGroup(ctx context.Context, group *model.Node, deps Deps) (model.Status, error) {
	dir := groupWorkDir(group)
	restartMarker := path.Join(dir, "restart.yaml")
	ok, err := deps.Artifacts.Exists(ctx, restartMarker)
	if err != nil {
		return "", fmt.Errorf("group: check restart marker: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("group: no restartable artifact from last attempt")
	}
	script := fmt.Sprintf("#!/bin/sh\nexec bps restart --submit-dir %s\n", dir)
	if err := deps.Artifacts.WriteFile(ctx, path.Join(dir, "submit.sh"), []byte(script)); err != nil {
		return "", fmt.Errorf("group: write restart script: %w", err)
	}
	group.Metadata["restarts"] = toInt(group.Metadata["restarts"]) + 1
	return model.StatusWaiting, nil
}

func toInt(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}
