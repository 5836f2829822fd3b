package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"cm.lsst.io/campaign"
	"cm.lsst.io/cmerrors"
	"cm.lsst.io/model"
)

// ListCampaigns implements GET /v2/campaigns.
func (h *Handlers) ListCampaigns(c echo.Context) error {
	campaigns, err := h.Store.ListCampaigns(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	out := make([]campaignDTO, 0, len(campaigns))
	for _, cc := range campaigns {
		out = append(out, toCampaignDTO(cc))
	}
	return c.JSON(http.StatusOK, out)
}

// CreateCampaign implements POST /v2/campaigns. A new campaign is created
// in `waiting` and left for the daemon's consider_campaigns loop (or an
// explicit PATCH status=ready) to advance it, rather than firing `prepare`
// synchronously here — creation and first transition are independent
// operations per §4.4.
func (h *Handlers) CreateCampaign(c echo.Context) error {
	var req createCampaignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}

	ctx := c.Request().Context()
	cc := &model.Campaign{
		ID:        model.CampaignID(model.RootNamespace, req.Name),
		Name:      req.Name,
		Namespace: model.RootNamespace,
		Owner:     req.Owner,
		Status:    model.StatusWaiting,
		Metadata:  req.Metadata,
		Spec:      req.Spec,
	}
	if err := h.Store.InsertCampaign(ctx, cc); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, toCampaignDTO(cc))
}

// GetCampaign implements GET /v2/campaigns/{id} (by id or by name, §6).
func (h *Handlers) GetCampaign(c echo.Context) error {
	cc, err := resolveCampaign(c.Request().Context(), h.Store, c.Param("campaign"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toCampaignDTO(cc))
}

// PatchCampaign implements PATCH /v2/campaigns/{id} (§4.4): merge-patch or
// json-patch against the campaign's {metadata, spec, status} projection.
// A status change is routed through campaign.Fire so the FSM's graph
// validation guard and ActivityLog bookkeeping stay in the loop; every
// other field is written directly. The response always reflects the
// *attempted* status — if the FSM refuses the transition (e.g.
// InvalidCampaignGraphError), that refusal is returned as the request's
// error rather than silently leaving status unchanged.
func (h *Handlers) PatchCampaign(c echo.Context) error {
	ctx := c.Request().Context()
	cc, err := resolveCampaign(ctx, h.Store, c.Param("campaign"))
	if err != nil {
		return writeError(c, err)
	}

	mode, mergeDoc, ops, err := readPatch(c)
	if err != nil {
		return err
	}

	doc := map[string]interface{}{
		"metadata": cc.Metadata,
		"spec":     cc.Spec,
		"status":   string(cc.Status),
	}
	patched, err := applyPatch(doc, mode, mergeDoc, ops)
	if err != nil {
		return writeError(c, err)
	}

	if metaRaw, ok := patched["metadata"].(map[string]interface{}); ok {
		cc.Metadata = metaRaw
	}
	if specRaw, ok := patched["spec"].(map[string]interface{}); ok {
		cc.Spec = specRaw
	}
	if err := h.Store.UpdateCampaignFields(ctx, cc.ID, cc.Metadata, cc.Spec); err != nil {
		return writeError(c, err)
	}

	if desired, ok := patched["status"].(string); ok && model.Status(desired) != cc.Status {
		trigger, ok := triggerForCampaignStatus(cc.Status, model.Status(desired))
		if !ok {
			return writeError(c, cmerrors.New(cmerrors.KindConflict, "campaign %s: no transition from %q to %q", cc.ID, cc.Status, desired))
		}
		operator := c.Request().Header.Get("X-Operator")
		if operator == "" {
			operator = "api"
		}
		if _, err := campaign.Fire(ctx, h.Store, operator, cc, trigger, h.Log); err != nil {
			return writeError(c, err)
		}
	}

	resp := toCampaignDTO(cc)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"campaign":         resp,
		"status_update_url": "/v2/campaigns/" + cc.ID.String() + "/logs",
	})
}

// CampaignSummary implements GET /v2/campaigns/{id}/summary: a rollup of
// node counts by status, for an operator dashboard without fetching the
// whole graph.
func (h *Handlers) CampaignSummary(c echo.Context) error {
	ctx := c.Request().Context()
	cc, err := resolveCampaign(ctx, h.Store, c.Param("campaign"))
	if err != nil {
		return writeError(c, err)
	}
	g, err := h.Store.LoadGraph(ctx, cc.ID)
	if err != nil {
		return writeError(c, err)
	}
	byStatus := map[model.Status]int{}
	for _, n := range g.Nodes {
		byStatus[n.Status]++
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"campaign":    toCampaignDTO(cc),
		"node_count":  len(g.Nodes),
		"edge_count":  len(g.Edges),
		"node_status": byStatus,
	})
}

// TailLogs implements GET /v2/campaigns/{id}/logs: a bounded, cursor-based
// read of the ActivityLog (§3). ?since=<RFC3339> and ?limit=<n> page
// forward; the real-time push path (activitylog.Tailer over Postgres
// LISTEN/NOTIFY) is for the CLI's `logs tail`, not this polling endpoint.
func (h *Handlers) TailLogs(c echo.Context) error {
	ctx := c.Request().Context()
	cc, err := resolveCampaign(ctx, h.Store, c.Param("campaign"))
	if err != nil {
		return writeError(c, err)
	}

	since := time.Unix(0, 0)
	if raw := c.QueryParam("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be RFC3339")
		}
		since = parsed
	}
	limit := 200
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	entries, err := h.Store.TailActivityLog(ctx, cc.ID, since, limit)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]activityLogDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toActivityLogDTO(e))
	}
	return c.JSON(http.StatusOK, out)
}

// GetGraph implements GET /v2/campaigns/{id}/graph: the full node/edge set
// plus the computed processable set, for UI rendering.
func (h *Handlers) GetGraph(c echo.Context) error {
	ctx := c.Request().Context()
	cc, err := resolveCampaign(ctx, h.Store, c.Param("campaign"))
	if err != nil {
		return writeError(c, err)
	}
	g, err := h.Store.LoadGraph(ctx, cc.ID)
	if err != nil {
		return writeError(c, err)
	}

	nodes := make([]nodeDTO, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes = append(nodes, toNodeDTO(n))
	}
	edges := make([]edgeDTO, 0, len(g.Edges))
	for _, e := range g.Edges {
		edges = append(edges, toEdgeDTO(e))
	}
	processable, err := g.Processable()
	if err != nil {
		return writeError(c, err)
	}
	processableIDs := make([]uuid.UUID, 0, len(processable))
	for _, n := range processable {
		processableIDs = append(processableIDs, n.ID)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"nodes":       nodes,
		"edges":       edges,
		"processable": processableIDs,
	})
}
