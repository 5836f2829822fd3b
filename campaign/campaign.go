// Package campaign implements the Campaign FSM (§4.4). It shares the
// generic trigger/action/commit engine with the node package (fsm.Machine)
// — both are instances of the same table-driven pattern — but adds the
// one campaign-specific guard spec.md §4.4 calls out: ready/paused →
// running is refused unless the campaign's graph validates.
package campaign

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cm.lsst.io/cmerrors"
	"cm.lsst.io/fsm"
	"cm.lsst.io/graph"
	"cm.lsst.io/model"
)

// Store is the persistence boundary the campaign package needs.
type Store interface {
	LoadGraph(ctx context.Context, namespace uuid.UUID) (*graph.Graph, error)
	GetCampaign(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id uuid.UUID, status model.Status) error
	SaveCampaignMachineSnapshot(ctx context.Context, campaign uuid.UUID, snapshot []byte) (uuid.UUID, error)
	AppendActivityLog(ctx context.Context, entry *model.ActivityLog) error
}

// Deps bundles the adapters a campaign's Action closures may call.
type Deps struct {
	Store Store
	Log   *logrus.Entry
}

// NewMachine builds an fsm.Machine seeded with the campaign's current
// status and the campaign trigger table (§4.4).
func NewMachine(c *model.Campaign, deps Deps) *fsm.Machine {
	rules := []fsm.Rule{
		{
			// waiting -> ready is automatic on creation completion.
			Trigger: fsm.TriggerPrepare,
			From:    []model.Status{model.StatusWaiting},
			To:      model.StatusReady,
			Action:  func(ctx context.Context) (model.Status, error) { return model.StatusReady, nil },
		},
		{
			// The graph-validity guard runs in Fire before this rule is
			// reached (§4.4: a refusal must leave status untouched, which
			// an fsm.Action error cannot express — it always commits
			// `failed`). By the time this Action runs, validation has
			// already passed.
			Trigger: fsm.TriggerStart,
			From:    []model.Status{model.StatusReady, model.StatusPaused},
			To:      model.StatusRunning,
			Action:  func(ctx context.Context) (model.Status, error) { return model.StatusRunning, nil },
		},
		{
			// running -> paused is always allowed; it is the
			// prerequisite for any graph-mutating or node-editing
			// operation (§4.2, §4.4).
			Trigger: fsm.TriggerPause,
			From:    []model.Status{model.StatusRunning},
			To:      model.StatusPaused,
			Action:  func(ctx context.Context) (model.Status, error) { return model.StatusPaused, nil },
		},
		{
			Trigger: fsm.TriggerFinish,
			From:    []model.Status{model.StatusRunning},
			To:      model.StatusAccepted,
			Action:  func(ctx context.Context) (model.Status, error) { return model.StatusAccepted, nil },
		},
		{
			Trigger: fsm.TriggerReject,
			From:    []model.Status{model.StatusWaiting, model.StatusReady, model.StatusPaused, model.StatusRunning},
			To:      model.StatusRejected,
			Action:  func(ctx context.Context) (model.Status, error) { return model.StatusRejected, nil },
		},
	}
	return fsm.NewMachine(c.ID.String(), c.Status, rules, deps.Log)
}

// Fire runs trigger against the campaign's persisted status, commits the
// resulting status and writes the ActivityLog row that records the
// transition (or refusal — §4.4's InvalidCampaignGraphError path). It
// returns the campaign's FSM trigger-table error as-is (not an
// ActivityLog-worthy failure, see fsm.Machine.Fire), but a graph
// validation refusal from Start is folded into a normal ActivityLog entry
// with detail.exception set, and the campaign's status is left untouched.
func Fire(ctx context.Context, store Store, operator string, c *model.Campaign, trigger fsm.Trigger, log *logrus.Entry) (fsm.TransitionResult, error) {
	m := NewMachine(c, Deps{Store: store, Log: log})

	if trigger == fsm.TriggerStart && m.CanFire(trigger) {
		g, err := store.LoadGraph(ctx, c.ID)
		if err != nil {
			return fsm.TransitionResult{}, fmt.Errorf("campaign %s: load graph: %w", c.ID, err)
		}
		if err := g.Validate(); err != nil {
			refusal := cmerrors.Wrap(cmerrors.KindInvalidCampaignGraph, err, "campaign %s graph invalid", c.ID)
			entry := &model.ActivityLog{
				ID:         uuid.New(),
				Namespace:  c.ID,
				Operator:   operator,
				FromStatus: c.Status,
				ToStatus:   c.Status,
				Detail:     map[string]interface{}{"exception": "InvalidCampaignGraphError", "message": err.Error()},
			}
			if logErr := store.AppendActivityLog(ctx, entry); logErr != nil {
				return fsm.TransitionResult{}, logErr
			}
			return fsm.TransitionResult{}, refusal
		}
	}

	result, err := m.Fire(ctx, trigger)
	if err != nil {
		return fsm.TransitionResult{}, err
	}

	if err := store.UpdateCampaignStatus(ctx, c.ID, result.ToStatus); err != nil {
		return fsm.TransitionResult{}, fmt.Errorf("campaign %s: commit status: %w", c.ID, err)
	}
	c.Status = result.ToStatus

	entry := &model.ActivityLog{
		ID:         uuid.New(),
		Namespace:  c.ID,
		Operator:   operator,
		FromStatus: result.FromStatus,
		ToStatus:   result.ToStatus,
	}
	if result.Failed {
		entry.Detail = map[string]interface{}{"error": result.Err.Error()}
	}
	if err := store.AppendActivityLog(ctx, entry); err != nil {
		return result, err
	}
	return result, nil
}
