package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"cm.lsst.io/activitylog"
	"cm.lsst.io/campaign"
	"cm.lsst.io/cmerrors"
	"cm.lsst.io/graph"
	"cm.lsst.io/manifest"
	"cm.lsst.io/model"
	"cm.lsst.io/node"
	"cm.lsst.io/scheduler"
	"cm.lsst.io/security"
)

// Store is the persistence boundary the API needs — the union of every
// narrower Store interface the domain packages declare, since Handlers
// sits above all of them. store.Store and store.CachingStore (which
// embeds store.Store and only overrides ResolveConfigChain) both satisfy
// it.
type Store interface {
	node.Store
	campaign.Store
	manifest.Store
	scheduler.Store

	ListCampaigns(ctx context.Context) ([]*model.Campaign, error)
	TailActivityLog(ctx context.Context, namespace uuid.UUID, since time.Time, limit int) ([]*model.ActivityLog, error)
}

// Handlers bundles the service dependencies every HTTP handler needs,
// generalized from the teacher's api.Handlers (RabbitMQ/CouchDB/JWT) onto
// this domain's Store + node/campaign Deps + manifest Library + activity
// log writer/tailer.
type Handlers struct {
	Store      Store
	NodeDeps   node.Deps
	Manifests  *manifest.Library
	ActivityLog *activitylog.Writer
	JWT        *security.JWTService
	Log        *logrus.Entry
}

// NewHandlers builds a Handlers from its dependencies, defaulting Log to a
// standalone entry if one isn't supplied by the caller's bootstrap.
func NewHandlers(store Store, nodeDeps node.Deps, jwt *security.JWTService, log *logrus.Entry) *Handlers {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handlers{
		Store:       store,
		NodeDeps:    nodeDeps,
		Manifests:   manifest.NewLibrary(store),
		ActivityLog: activitylog.NewWriter(store),
		JWT:         jwt,
		Log:         log,
	}
}

// SetupRoutes registers every /v2 resource behind JWT auth, plus the
// unauthenticated /healthz liveness probe, on e. Mirrors the teacher's
// SetupRoutes(e, h, cfg) shape: one call wires the whole API surface.
func SetupRoutes(e *echo.Echo, h *Handlers) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/healthz", h.Healthz)

	v2 := e.Group("/v2")
	v2.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey:  h.JWT.SigningKey(),
		TokenLookup: "header:Authorization:Bearer ",
	}))

	campaigns := v2.Group("/campaigns")
	campaigns.GET("", h.ListCampaigns)
	campaigns.POST("", h.CreateCampaign)
	campaigns.GET("/:campaign", h.GetCampaign)
	campaigns.PATCH("/:campaign", h.PatchCampaign)

	campaigns.GET("/:campaign/nodes", h.ListNodes)
	campaigns.POST("/:campaign/nodes", h.CreateNode)
	campaigns.GET("/:campaign/nodes/:node", h.GetNode)
	campaigns.PATCH("/:campaign/nodes/:node", h.PatchNode)

	campaigns.GET("/:campaign/edges", h.ListEdges)
	campaigns.POST("/:campaign/edges", h.CreateEdge)
	campaigns.GET("/:campaign/edges/:edge", h.GetEdge)
	campaigns.DELETE("/:campaign/edges/:edge", h.DeleteEdge)

	campaigns.GET("/:campaign/manifests", h.ListManifests)
	campaigns.POST("/:campaign/manifests", h.CreateManifest)
	campaigns.GET("/:campaign/manifests/:manifest", h.GetManifest)
	campaigns.PATCH("/:campaign/manifests/:manifest", h.PatchManifest)
	campaigns.POST("/:campaign/manifests/:manifest/copy", h.CopyManifest)

	campaigns.GET("/:campaign/graph", h.GetGraph)
	campaigns.PUT("/:campaign/graph/nodes/:node", h.ReplaceGraphNode)
	campaigns.PATCH("/:campaign/graph/nodes/:node", h.PatchGraphNode)

	campaigns.GET("/:campaign/logs", h.TailLogs)
	campaigns.GET("/:campaign/summary", h.CampaignSummary)

	manifests := v2.Group("/manifests")
	manifests.GET("", h.ListLibraryManifests)
	manifests.POST("", h.CreateLibraryManifest)
	manifests.GET("/:manifest", h.GetLibraryManifest)
	manifests.PATCH("/:manifest", h.PatchLibraryManifest)
	manifests.POST("/:manifest/copy", h.CopyManifest)

	v2.POST("/rpc/process", h.Process)
}

// Healthz reports liveness only: the body carries a fixed "ok" status and
// the current UTC time. It does not report per-task or daemon state; the
// closest per-campaign view is the node-status rollup at
// /campaigns/{id}/summary.
func (h *Handlers) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// resolveCampaign looks up a campaign by path param, accepting either its
// UUID or its name (§6, "get-by-name-or-id"): a value that parses as a
// UUID is looked up directly; otherwise it's treated as a top-level
// campaign name and resolved via the deterministic CampaignID derivation
// (§3, UUID5(RootNamespace, name)).
func resolveCampaign(ctx context.Context, store Store, idOrName string) (*model.Campaign, error) {
	id, err := uuid.Parse(idOrName)
	if err != nil {
		id = model.CampaignID(model.RootNamespace, idOrName)
	}
	return store.GetCampaign(ctx, id)
}

// loadGraphAndNode fetches namespace's graph and a single node within it,
// or a NotFound error if the node doesn't exist in the active graph.
func loadGraphAndNode(ctx context.Context, store Store, namespace, nodeID uuid.UUID) (*graph.Graph, *model.Node, error) {
	g, err := store.LoadGraph(ctx, namespace)
	if err != nil {
		return nil, nil, err
	}
	n, ok := g.Nodes[nodeID]
	if !ok {
		return nil, nil, cmerrors.New(cmerrors.KindNotFound, "node %s not found", nodeID)
	}
	return g, n, nil
}
