package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"cm.lsst.io/cmerrors"
	"cm.lsst.io/graph"
	"cm.lsst.io/model"
)

// ReplaceGraphNode implements PUT /v2/campaigns/{id}/graph/nodes/{n0}?with-node=n1
// (§4.2): rewires every edge touching n0 onto n1. Refuses while the
// campaign is running, since a topology change mid-run would race the
// scheduler's own view of the graph.
func (h *Handlers) ReplaceGraphNode(c echo.Context) error {
	ctx := c.Request().Context()
	cc, err := resolveCampaign(ctx, h.Store, c.Param("campaign"))
	if err != nil {
		return writeError(c, err)
	}
	if cc.Status == model.StatusRunning {
		return writeError(c, cmerrors.New(cmerrors.KindCampaignLocked, "campaign %s must be paused before mutating its graph", cc.ID))
	}
	n0, err := parseUUIDParam(c, "node")
	if err != nil {
		return err
	}
	n1, parseErr := uuid.Parse(c.QueryParam("with-node"))
	if parseErr != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "with-node must be a UUID")
	}

	g, err := h.Store.LoadGraph(ctx, cc.ID)
	if err != nil {
		return writeError(c, err)
	}
	plan, err := g.Replace(n0, n1)
	if err != nil {
		return writeError(c, cmerrors.New(cmerrors.KindInvalidCampaignGraph, "%s", err.Error()))
	}
	if err := h.Store.ApplyMutation(ctx, cc.ID, plan); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// PatchGraphNode implements PATCH /v2/campaigns/{id}/graph/nodes/{n0}?add-node=n1&operation=insert|append
// (§4.2): inserts n1 downstream of n0, or appends n1 as a sibling of n0,
// depending on ?operation=.
func (h *Handlers) PatchGraphNode(c echo.Context) error {
	ctx := c.Request().Context()
	cc, err := resolveCampaign(ctx, h.Store, c.Param("campaign"))
	if err != nil {
		return writeError(c, err)
	}
	if cc.Status == model.StatusRunning {
		return writeError(c, cmerrors.New(cmerrors.KindCampaignLocked, "campaign %s must be paused before mutating its graph", cc.ID))
	}
	n0, err := parseUUIDParam(c, "node")
	if err != nil {
		return err
	}
	n1, parseErr := uuid.Parse(c.QueryParam("add-node"))
	if parseErr != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "add-node must be a UUID")
	}
	operation := c.QueryParam("operation")

	g, err := h.Store.LoadGraph(ctx, cc.ID)
	if err != nil {
		return writeError(c, err)
	}

	var plan *graph.MutationPlan
	switch operation {
	case "insert":
		plan, err = g.Insert(n0, n1)
	case "append":
		plan, err = g.Append(n0, n1)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "operation must be insert or append")
	}
	if err != nil {
		return writeError(c, cmerrors.New(cmerrors.KindInvalidCampaignGraph, "%s", err.Error()))
	}
	if err := h.Store.ApplyMutation(ctx, cc.ID, plan); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
