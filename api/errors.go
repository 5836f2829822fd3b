// Package api implements the HTTP API (§6, versioned /v2): Echo handlers
// over the campaign/node/graph/manifest domain packages. It is grounded on
// the teacher's api.SetupRoutes/api.Handlers shape (a Handlers struct
// bundling service dependencies, registered onto an *echo.Echo by one
// SetupRoutes call) and api/jwt.go's echojwt.WithConfig bearer-token
// middleware, generalized from the teacher's single-token/RabbitMQ-publish
// API onto the five §6 resources (campaigns, nodes, edges, manifests,
// rpc/process) plus the /graph mutation endpoint and /healthz.
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"cm.lsst.io/cmerrors"
)

// errorBody is the discriminated error response §6 requires for cycle,
// unreachable-node, and mutation-while-running refusals ("4xx with a
// discriminator in the response body").
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeError translates a domain error into an HTTP response, mapping
// cmerrors.Kind to the status codes implied by §7's error-kind catalogue.
// A plain Go error (no *cmerrors.Error) is treated as an unexpected
// internal failure.
func writeError(c echo.Context, err error) error {
	var kerr *cmerrors.Error
	if errors.As(err, &kerr) {
		return c.JSON(statusForKind(kerr.Kind), errorBody{Error: kerr.Error(), Kind: string(kerr.Kind)})
	}
	return c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error()})
}

func statusForKind(kind cmerrors.Kind) int {
	switch kind {
	case cmerrors.KindNotFound:
		return http.StatusNotFound
	case cmerrors.KindConflict:
		return http.StatusConflict
	case cmerrors.KindCampaignLocked,
		cmerrors.KindNotProcessable,
		cmerrors.KindInvalidCampaignGraph,
		cmerrors.KindInvalidGrouping,
		cmerrors.KindPatchAssertionFailed,
		cmerrors.KindUnknownManifest,
		cmerrors.KindUnknownNamespace,
		cmerrors.KindWmsBlocked,
		cmerrors.KindWmsFailed:
		return http.StatusUnprocessableEntity
	case cmerrors.KindLauncherSubmitError, cmerrors.KindLauncherCheckError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
