package api

import (
	"cm.lsst.io/fsm"
	"cm.lsst.io/model"
)

// triggerForCampaignStatus maps a patch's requested target status onto the
// campaign trigger that would produce it (§4.4's trigger table), so a PATCH
// that sets status can be translated into a campaign.Fire call instead of
// writing the status column directly — every campaign status change must
// pass through the FSM so InvalidCampaignGraphError refusals and
// ActivityLog rows stay consistent regardless of entry point.
func triggerForCampaignStatus(from, to model.Status) (fsm.Trigger, bool) {
	switch {
	case to == model.StatusReady && from == model.StatusWaiting:
		return fsm.TriggerPrepare, true
	case to == model.StatusRunning && (from == model.StatusReady || from == model.StatusPaused):
		return fsm.TriggerStart, true
	case to == model.StatusPaused && from == model.StatusRunning:
		return fsm.TriggerPause, true
	case to == model.StatusAccepted && from == model.StatusRunning:
		return fsm.TriggerFinish, true
	case to == model.StatusRejected:
		return fsm.TriggerReject, true
	default:
		return "", false
	}
}

// triggerForNodeStatus maps a patch's requested target status onto the
// node trigger that would produce it, covering the common-rules overrides
// (accept/reject/reset/pause/resume) plus the nominal prepare/start steps
// (§4.3). A request for `accepted` always maps to the accept override, not
// to finish.
func triggerForNodeStatus(from, to model.Status) (fsm.Trigger, bool) {
	switch {
	case to == model.StatusReady && from == model.StatusWaiting:
		return fsm.TriggerPrepare, true
	case to == model.StatusRunning && from == model.StatusReady:
		return fsm.TriggerStart, true
	case to == model.StatusPaused && (from == model.StatusReady || from == model.StatusRunning):
		return fsm.TriggerPause, true
	case from == model.StatusPaused && to != model.StatusPaused:
		return fsm.TriggerResume, true
	case to == model.StatusAccepted:
		return fsm.TriggerAccept, true
	case to == model.StatusRejected:
		return fsm.TriggerReject, true
	case to == model.StatusWaiting:
		return fsm.TriggerReset, true
	default:
		return "", false
	}
}
