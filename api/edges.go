package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"cm.lsst.io/cmerrors"
	"cm.lsst.io/graph"
	"cm.lsst.io/model"
)

// ListEdges implements GET /v2/campaigns/{id}/edges.
func (h *Handlers) ListEdges(c echo.Context) error {
	ctx := c.Request().Context()
	cc, err := resolveCampaign(ctx, h.Store, c.Param("campaign"))
	if err != nil {
		return writeError(c, err)
	}
	g, err := h.Store.LoadGraph(ctx, cc.ID)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]edgeDTO, 0, len(g.Edges))
	for _, e := range g.Edges {
		out = append(out, toEdgeDTO(e))
	}
	return c.JSON(http.StatusOK, out)
}

// CreateEdge implements POST /v2/campaigns/{id}/edges. This is a direct
// edge insert, distinct from the topology-aware /graph/nodes/{n0}
// replace/insert/append mutations (§4.2): it does not rewire any existing
// edge, so it still goes through the cycle check before committing.
func (h *Handlers) CreateEdge(c echo.Context) error {
	ctx := c.Request().Context()
	cc, err := resolveCampaign(ctx, h.Store, c.Param("campaign"))
	if err != nil {
		return writeError(c, err)
	}
	var req createEdgeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Source == req.Target {
		return writeError(c, cmerrors.New(cmerrors.KindInvalidCampaignGraph, "edge source and target must differ"))
	}

	g, err := h.Store.LoadGraph(ctx, cc.ID)
	if err != nil {
		return writeError(c, err)
	}
	if _, ok := g.Nodes[req.Source]; !ok {
		return writeError(c, cmerrors.New(cmerrors.KindNotFound, "source node %s not found", req.Source))
	}
	if _, ok := g.Nodes[req.Target]; !ok {
		return writeError(c, cmerrors.New(cmerrors.KindNotFound, "target node %s not found", req.Target))
	}

	e := &model.Edge{
		ID:            model.EdgeID(cc.ID, req.Source, req.Target),
		Name:          req.Name,
		Namespace:     cc.ID,
		Source:        req.Source,
		Target:        req.Target,
		Metadata:      req.Metadata,
		Configuration: req.Configuration,
	}
	plan := &graph.MutationPlan{AddEdges: []*model.Edge{e}}
	g.Apply(plan)
	if _, err := g.TopoOrder(); err != nil {
		return writeError(c, cmerrors.Wrap(cmerrors.KindInvalidCampaignGraph, err, "edge %s -> %s would create a cycle", req.Source, req.Target))
	}
	if err := h.Store.ApplyMutation(ctx, cc.ID, plan); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, toEdgeDTO(e))
}

// GetEdge implements GET /v2/campaigns/{id}/edges/{edge}.
func (h *Handlers) GetEdge(c echo.Context) error {
	ctx := c.Request().Context()
	cc, err := resolveCampaign(ctx, h.Store, c.Param("campaign"))
	if err != nil {
		return writeError(c, err)
	}
	edgeID, err := parseUUIDParam(c, "edge")
	if err != nil {
		return err
	}
	g, err := h.Store.LoadGraph(ctx, cc.ID)
	if err != nil {
		return writeError(c, err)
	}
	e, ok := g.Edges[edgeID]
	if !ok {
		return writeError(c, cmerrors.New(cmerrors.KindNotFound, "edge %s not found", edgeID))
	}
	return c.JSON(http.StatusOK, toEdgeDTO(e))
}

// DeleteEdge implements DELETE /v2/campaigns/{id}/edges/{edge}. Refuses
// while the campaign is running (§4.2: graph mutation requires the
// campaign be paused first).
func (h *Handlers) DeleteEdge(c echo.Context) error {
	ctx := c.Request().Context()
	cc, err := resolveCampaign(ctx, h.Store, c.Param("campaign"))
	if err != nil {
		return writeError(c, err)
	}
	if cc.Status == model.StatusRunning {
		return writeError(c, cmerrors.New(cmerrors.KindCampaignLocked, "campaign %s must be paused before mutating its graph", cc.ID))
	}
	edgeID, err := parseUUIDParam(c, "edge")
	if err != nil {
		return err
	}
	g, err := h.Store.LoadGraph(ctx, cc.ID)
	if err != nil {
		return writeError(c, err)
	}
	if _, ok := g.Edges[edgeID]; !ok {
		return writeError(c, cmerrors.New(cmerrors.KindNotFound, "edge %s not found", edgeID))
	}
	plan := &graph.MutationPlan{RemoveEdges: []uuid.UUID{edgeID}}
	if err := h.Store.ApplyMutation(ctx, cc.ID, plan); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
