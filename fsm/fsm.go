// Package fsm implements the generic trigger/action/commit engine shared
// by the Node FSM (node package) and the Campaign FSM (campaign package).
// It generalizes the teacher's statemanager.Manager operation lifecycle
// (StartOperation/CompleteOperation over a free-form status string) into a
// true finite-state machine with a named trigger table, per-kind actions,
// and automatic status commit.
package fsm

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"cm.lsst.io/model"
)

// Trigger names a single atomic transition (§4.3).
type Trigger string

const (
	TriggerPrepare   Trigger = "prepare"
	TriggerStart     Trigger = "start"
	TriggerFinish    Trigger = "finish"
	TriggerPause     Trigger = "pause"
	TriggerResume    Trigger = "resume"
	TriggerRetry     Trigger = "retry"
	TriggerReset     Trigger = "reset"
	TriggerUnprepare Trigger = "unprepare"
	TriggerAccept    Trigger = "accept"
	TriggerReject    Trigger = "reject"
	TriggerRestart   Trigger = "restart"
)

// Action is the side-effecting "before" hook run by a transition. It
// returns the Status to commit, or an error — in which case the FSM
// commits model.StatusFailed and records the error in the ActivityLog
// detail instead of propagating it to the caller (§4.3 step 2).
type Action func(ctx context.Context) (model.Status, error)

// Rule is one row of a trigger table: valid source statuses, and the
// Action to run. To is informational only for nominal rules whose Action
// always returns a single deterministic status; rules whose outcome is
// data-dependent (e.g. finish) leave To empty and rely on the Action's
// returned status.
type Rule struct {
	Trigger Trigger
	From    []model.Status
	To      model.Status // zero value means "whatever Action returns"
	Action  Action
}

// TransitionResult records what happened so the caller can build an
// ActivityLog row.
type TransitionResult struct {
	Trigger    Trigger
	FromStatus model.Status
	ToStatus   model.Status
	Err        error // the Action's error, if any; nil even when ToStatus == failed is not guaranteed—see Failed
	Failed     bool
}

// Machine is a table-driven FSM instance for one entity (a Node or a
// Campaign). It is re-created per transition attempt from the entity's
// persisted current status; it does not hold long-lived in-memory state
// beyond the lifetime of one Fire call (§9, "do not rely on per-process
// in-memory state").
type Machine struct {
	EntityID string // for logging only
	Current  model.Status
	Rules    map[Trigger]Rule
	Log      *logrus.Entry

	// PriorNonPaused is not read by Fire: the "resume" rule's Action picks
	// the status to return to (§4.3). The node rules keep that status in
	// the node's "prior_status" metadata, which their pause Action records.
	PriorNonPaused model.Status
}

// NewMachine builds a Machine seeded with the entity's observed current
// status and its trigger table.
func NewMachine(entityID string, current model.Status, rules []Rule, log *logrus.Entry) *Machine {
	m := &Machine{EntityID: entityID, Current: current, Rules: make(map[Trigger]Rule, len(rules)), Log: log}
	for _, r := range rules {
		m.Rules[r.Trigger] = r
	}
	if m.Log == nil {
		m.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return m
}

// CanFire reports whether trigger is legal from the Machine's Current
// status, without running any action.
func (m *Machine) CanFire(trigger Trigger) bool {
	r, ok := m.Rules[trigger]
	if !ok {
		return false
	}
	for _, from := range r.From {
		if from == m.Current {
			return true
		}
	}
	return false
}

// Fire runs trigger's Action if legal from the current status. It never
// returns an error for an Action failure — per the transition contract
// (§4.3 step 2), an Action error is converted into a `failed` outcome
// that the caller commits like any other. Fire only returns an error for
// a structural problem (unknown trigger, illegal source status), which
// the caller should treat as its own programming/request error (e.g.
// NotProcessable), not as an ActivityLog-worthy FSM failure.
func (m *Machine) Fire(ctx context.Context, trigger Trigger) (TransitionResult, error) {
	r, ok := m.Rules[trigger]
	if !ok {
		return TransitionResult{}, fmt.Errorf("fsm: %s: no rule for trigger %q", m.EntityID, trigger)
	}
	if !m.CanFire(trigger) {
		return TransitionResult{}, fmt.Errorf("fsm: %s: trigger %q illegal from status %q", m.EntityID, trigger, m.Current)
	}

	from := m.Current
	to, err := r.Action(ctx)
	if err != nil {
		m.Log.WithFields(logrus.Fields{
			"entity":  m.EntityID,
			"trigger": trigger,
			"from":    from,
			"error":   err,
		}).Error("fsm: action failed, committing failed status")
		m.Current = model.StatusFailed
		return TransitionResult{Trigger: trigger, FromStatus: from, ToStatus: model.StatusFailed, Err: err, Failed: true}, nil
	}

	if to == "" {
		to = r.To
	}
	m.Current = to
	m.Log.WithFields(logrus.Fields{
		"entity":  m.EntityID,
		"trigger": trigger,
		"from":    from,
		"to":      to,
	}).Info("fsm: transition committed")
	return TransitionResult{Trigger: trigger, FromStatus: from, ToStatus: to}, nil
}
