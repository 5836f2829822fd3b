package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"cm.lsst.io/manifest"
)

// readPatch dispatches on Content-Type per §6 ("application/merge-patch+json"
// and "application/json-patch+json"; other types yield 406) and returns the
// manifest.PatchMode plus the decoded operation set. Exactly one of the two
// return values is populated depending on mode.
func readPatch(c echo.Context) (manifest.PatchMode, map[string]interface{}, []manifest.JSONPatchOp, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return "", nil, nil, echo.NewHTTPError(http.StatusBadRequest, "read body: "+err.Error())
	}

	switch c.Request().Header.Get(echo.HeaderContentType) {
	case "application/merge-patch+json":
		var doc map[string]interface{}
		if err := json.Unmarshal(body, &doc); err != nil {
			return "", nil, nil, echo.NewHTTPError(http.StatusBadRequest, "invalid merge-patch body: "+err.Error())
		}
		return manifest.PatchModeMerge, doc, nil, nil
	case "application/json-patch+json":
		var ops []manifest.JSONPatchOp
		if err := json.Unmarshal(body, &ops); err != nil {
			return "", nil, nil, echo.NewHTTPError(http.StatusBadRequest, "invalid json-patch body: "+err.Error())
		}
		return manifest.PatchModeJSONPatch, nil, ops, nil
	default:
		return "", nil, nil, echo.NewHTTPError(http.StatusNotAcceptable, "Content-Type must be application/merge-patch+json or application/json-patch+json")
	}
}

// applyPatch runs mode's semantics against doc, regardless of whether doc
// is a campaign's or node's {metadata, spec/configuration, status}
// projection or a manifest's spec — both share the same merge/json-patch
// machinery (§4.4, "the same merge/json-patch semantics as manifests").
func applyPatch(doc map[string]interface{}, mode manifest.PatchMode, mergeDoc map[string]interface{}, ops []manifest.JSONPatchOp) (map[string]interface{}, error) {
	switch mode {
	case manifest.PatchModeMerge:
		return manifest.MergePatch(doc, mergeDoc), nil
	case manifest.PatchModeJSONPatch:
		return manifest.ApplyJSONPatch(doc, ops)
	default:
		return nil, echo.NewHTTPError(http.StatusNotAcceptable, "unknown patch mode")
	}
}
