package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"cm.lsst.io/cmerrors"
	"cm.lsst.io/model"
)

// ListLibraryManifests implements GET /v2/manifests — every manifest
// owned by the library namespace (§4.1), optionally filtered by
// ?kind=<kind>.
func (h *Handlers) ListLibraryManifests(c echo.Context) error {
	return h.listManifests(c, model.RootNamespace)
}

// CreateLibraryManifest implements POST /v2/manifests.
func (h *Handlers) CreateLibraryManifest(c echo.Context) error {
	return h.createManifest(c, model.RootNamespace)
}

// GetLibraryManifest implements GET /v2/manifests/{manifest}.
func (h *Handlers) GetLibraryManifest(c echo.Context) error {
	return h.getManifestByNameOrID(c, model.RootNamespace)
}

// PatchLibraryManifest implements PATCH /v2/manifests/{manifest}.
func (h *Handlers) PatchLibraryManifest(c echo.Context) error {
	return h.patchManifest(c, model.RootNamespace)
}

// ListManifests implements GET /v2/campaigns/{id}/manifests.
func (h *Handlers) ListManifests(c echo.Context) error {
	cc, err := resolveCampaign(c.Request().Context(), h.Store, c.Param("campaign"))
	if err != nil {
		return writeError(c, err)
	}
	return h.listManifests(c, cc.ID)
}

// CreateManifest implements POST /v2/campaigns/{id}/manifests.
func (h *Handlers) CreateManifest(c echo.Context) error {
	cc, err := resolveCampaign(c.Request().Context(), h.Store, c.Param("campaign"))
	if err != nil {
		return writeError(c, err)
	}
	return h.createManifest(c, cc.ID)
}

// GetManifest implements GET /v2/campaigns/{id}/manifests/{manifest}.
func (h *Handlers) GetManifest(c echo.Context) error {
	cc, err := resolveCampaign(c.Request().Context(), h.Store, c.Param("campaign"))
	if err != nil {
		return writeError(c, err)
	}
	return h.getManifestByNameOrID(c, cc.ID)
}

// PatchManifest implements PATCH /v2/campaigns/{id}/manifests/{manifest}.
func (h *Handlers) PatchManifest(c echo.Context) error {
	cc, err := resolveCampaign(c.Request().Context(), h.Store, c.Param("campaign"))
	if err != nil {
		return writeError(c, err)
	}
	return h.patchManifest(c, cc.ID)
}

// CopyManifest implements POST /v2/manifests/{manifest}/copy and
// /v2/campaigns/{id}/manifests/{manifest}/copy identically (§4.1 copy is
// namespace-to-namespace and doesn't otherwise care which resource path
// found the source manifest).
func (h *Handlers) CopyManifest(c echo.Context) error {
	ctx := c.Request().Context()
	namespace := model.RootNamespace
	if campaignParam := c.Param("campaign"); campaignParam != "" {
		cc, err := resolveCampaign(ctx, h.Store, campaignParam)
		if err != nil {
			return writeError(c, err)
		}
		namespace = cc.ID
	}
	src, err := h.resolveManifest(ctx, namespace, c.Param("manifest"))
	if err != nil {
		return writeError(c, err)
	}
	var req copyManifestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ToNamespace == (uuid.Nil) {
		req.ToNamespace = namespace
	}
	m, err := h.Manifests.Copy(ctx, src, req.ToNamespace, req.ToName)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, toManifestDTO(m))
}

// listManifests is shared between the library-level and campaign-scoped
// list routes, the only difference being which namespace is queried.
func (h *Handlers) listManifests(c echo.Context, namespace uuid.UUID) error {
	kind := model.ManifestKind(c.QueryParam("kind"))
	manifests, err := h.Store.ListManifests(c.Request().Context(), namespace, kind)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]manifestDTO, 0, len(manifests))
	for _, m := range manifests {
		out = append(out, toManifestDTO(m))
	}
	return c.JSON(http.StatusOK, out)
}

// createManifest is shared between the library-level and campaign-scoped
// create routes. A non-empty createManifestRequest.Namespace overrides
// namespace, letting a campaign-scoped create still target the library
// namespace explicitly if the caller wants a shared manifest instead of a
// campaign-private one.
func (h *Handlers) createManifest(c echo.Context, namespace uuid.UUID) error {
	var req createManifestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Kind == "" || req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "kind and name are required")
	}
	if req.Namespace != uuid.Nil {
		namespace = req.Namespace
	}
	m, err := h.Manifests.Create(c.Request().Context(), req.Kind, req.Name, namespace, req.Spec)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, toManifestDTO(m))
}

// getManifestByNameOrID resolves the {manifest} path param and returns it,
// or writes the appropriate error response.
func (h *Handlers) getManifestByNameOrID(c echo.Context, namespace uuid.UUID) error {
	m, err := h.resolveManifest(c.Request().Context(), namespace, c.Param("manifest"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toManifestDTO(m))
}

// patchManifest is shared between the library-level and campaign-scoped
// patch routes: same merge/json-patch dispatch as campaigns and nodes
// (§4.1, §4.4), producing a new manifest version rather than mutating the
// current one in place.
func (h *Handlers) patchManifest(c echo.Context, namespace uuid.UUID) error {
	ctx := c.Request().Context()
	current, err := h.resolveManifest(ctx, namespace, c.Param("manifest"))
	if err != nil {
		return writeError(c, err)
	}
	mode, mergeDoc, ops, err := readPatch(c)
	if err != nil {
		return err
	}
	m, err := h.Manifests.Patch(ctx, current, mode, mergeDoc, ops)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toManifestDTO(m))
}

// resolveManifest looks up a manifest by "<kind>/<name>" (latest version)
// or "<kind>/<name>/<version>" path param, per §4.1's identifier forms.
func (h *Handlers) resolveManifest(ctx context.Context, namespace uuid.UUID, ref string) (*model.Manifest, error) {
	parts := strings.SplitN(ref, "/", 3)
	if len(parts) < 2 {
		return nil, cmerrors.New(cmerrors.KindNotFound, "manifest ref %q must be <kind>/<name> or <kind>/<name>/<version>", ref)
	}
	kind := model.ManifestKind(parts[0])
	name := parts[1]
	version := 0
	if len(parts) == 3 {
		v, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, cmerrors.New(cmerrors.KindNotFound, "manifest ref %q has an invalid version", ref)
		}
		version = v
	}
	return h.Manifests.Get(ctx, namespace, kind, name, version)
}
