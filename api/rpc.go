package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"cm.lsst.io/scheduler"
)

// Process implements POST /v2/rpc/process (§4.5): drives exactly one
// transition on one node, bypassing the task queue.
func (h *Handlers) Process(c echo.Context) error {
	var req processRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Operator == "" {
		req.Operator = "api"
	}
	result, err := scheduler.Process(c.Request().Context(), h.Store, h.NodeDeps, req.Namespace, req.Node, req.Operator)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"trigger":     result.Trigger,
		"from_status": result.FromStatus,
		"to_status":   result.ToStatus,
		"failed":      result.Failed,
	})
}
