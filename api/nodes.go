package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"cm.lsst.io/cmerrors"
	"cm.lsst.io/model"
	"cm.lsst.io/node"
)

// ListNodes implements GET /v2/campaigns/{id}/nodes.
func (h *Handlers) ListNodes(c echo.Context) error {
	ctx := c.Request().Context()
	cc, err := resolveCampaign(ctx, h.Store, c.Param("campaign"))
	if err != nil {
		return writeError(c, err)
	}
	g, err := h.Store.LoadGraph(ctx, cc.ID)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]nodeDTO, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		out = append(out, toNodeDTO(n))
	}
	return c.JSON(http.StatusOK, out)
}

// CreateNode implements POST /v2/campaigns/{id}/nodes. The created node is
// unconnected — wiring it into the graph is a separate
// /graph/nodes/{n0} insert/append mutation (§4.2), since a bare create has
// no well-defined predecessor/successor to attach to.
func (h *Handlers) CreateNode(c echo.Context) error {
	ctx := c.Request().Context()
	cc, err := resolveCampaign(ctx, h.Store, c.Param("campaign"))
	if err != nil {
		return writeError(c, err)
	}
	var req createNodeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Name == "" || req.Kind == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name and kind are required")
	}
	if req.Version <= 0 {
		req.Version = 1
	}

	n := &model.Node{
		ID:            model.NodeID(cc.ID, req.Name, req.Version),
		Namespace:     cc.ID,
		Name:          req.Name,
		Version:       req.Version,
		Kind:          req.Kind,
		Status:        model.StatusWaiting,
		Metadata:      req.Metadata,
		Configuration: req.Configuration,
	}
	if err := h.Store.InsertNode(ctx, n); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, toNodeDTO(n))
}

// GetNode implements GET /v2/campaigns/{id}/nodes/{n0}.
func (h *Handlers) GetNode(c echo.Context) error {
	ctx := c.Request().Context()
	cc, err := resolveCampaign(ctx, h.Store, c.Param("campaign"))
	if err != nil {
		return writeError(c, err)
	}
	nodeID, err := parseUUIDParam(c, "node")
	if err != nil {
		return err
	}
	_, n, err := loadGraphAndNode(ctx, h.Store, cc.ID, nodeID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toNodeDTO(n))
}

// PatchNode implements PATCH /v2/campaigns/{id}/nodes/{n0} (§4.3): same
// merge/json-patch semantics as PatchCampaign, against a node's
// {metadata, configuration, status} projection. A status change fires the
// corresponding node trigger via node.Fire, refusing with NotProcessable
// when no trigger maps the requested transition.
func (h *Handlers) PatchNode(c echo.Context) error {
	ctx := c.Request().Context()
	cc, err := resolveCampaign(ctx, h.Store, c.Param("campaign"))
	if err != nil {
		return writeError(c, err)
	}
	nodeID, err := parseUUIDParam(c, "node")
	if err != nil {
		return err
	}
	_, n, err := loadGraphAndNode(ctx, h.Store, cc.ID, nodeID)
	if err != nil {
		return writeError(c, err)
	}

	mode, mergeDoc, ops, err := readPatch(c)
	if err != nil {
		return err
	}
	doc := map[string]interface{}{
		"metadata":      n.Metadata,
		"configuration": n.Configuration,
		"status":        string(n.Status),
	}
	patched, err := applyPatch(doc, mode, mergeDoc, ops)
	if err != nil {
		return writeError(c, err)
	}
	if meta, ok := patched["metadata"].(map[string]interface{}); ok {
		n.Metadata = meta
	}
	if cfg, ok := patched["configuration"].(map[string]interface{}); ok {
		n.Configuration = cfg
	}

	if desired, ok := patched["status"].(string); ok && model.Status(desired) != n.Status {
		trigger, ok := triggerForNodeStatus(n.Status, model.Status(desired))
		if !ok {
			return writeError(c, cmerrors.New(cmerrors.KindNotProcessable, "node %s: no transition from %q to %q", n.ID, n.Status, desired))
		}
		operator := c.Request().Header.Get("X-Operator")
		if operator == "" {
			operator = "api"
		}
		if _, err := node.Fire(ctx, h.NodeDeps, operator, n, trigger); err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, toNodeDTO(n))
	}

	if err := h.Store.InsertNode(ctx, n); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toNodeDTO(n))
}

// parseUUIDParam parses the named path param as a UUID, returning a 400
// echo.HTTPError on failure.
func parseUUIDParam(c echo.Context, name string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, name+" must be a UUID")
	}
	return parsed, nil
}
