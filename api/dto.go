package api

import (
	"time"

	"github.com/google/uuid"

	"cm.lsst.io/model"
)

// campaignDTO is the wire representation of model.Campaign.
type campaignDTO struct {
	ID        uuid.UUID              `json:"id"`
	Name      string                 `json:"name"`
	Namespace uuid.UUID              `json:"namespace"`
	Owner     string                 `json:"owner"`
	Status    model.Status           `json:"status"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Spec      map[string]interface{} `json:"spec,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

func toCampaignDTO(c *model.Campaign) campaignDTO {
	return campaignDTO{
		ID: c.ID, Name: c.Name, Namespace: c.Namespace, Owner: c.Owner, Status: c.Status,
		Metadata: c.Metadata, Spec: c.Spec, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt,
	}
}

// createCampaignRequest is the POST /campaigns body.
type createCampaignRequest struct {
	Name     string                 `json:"name"`
	Owner    string                 `json:"owner"`
	Metadata map[string]interface{} `json:"metadata"`
	Spec     map[string]interface{} `json:"spec"`
}

// nodeDTO is the wire representation of model.Node.
type nodeDTO struct {
	ID            uuid.UUID              `json:"id"`
	Namespace     uuid.UUID              `json:"namespace"`
	Name          string                 `json:"name"`
	Version       int                    `json:"version"`
	Kind          model.NodeKind         `json:"kind"`
	Status        model.Status           `json:"status"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func toNodeDTO(n *model.Node) nodeDTO {
	return nodeDTO{
		ID: n.ID, Namespace: n.Namespace, Name: n.Name, Version: n.Version, Kind: n.Kind, Status: n.Status,
		Metadata: n.Metadata, Configuration: n.Configuration, CreatedAt: n.CreatedAt, UpdatedAt: n.UpdatedAt,
	}
}

type createNodeRequest struct {
	Name          string                 `json:"name"`
	Version       int                    `json:"version"`
	Kind          model.NodeKind         `json:"kind"`
	Metadata      map[string]interface{} `json:"metadata"`
	Configuration map[string]interface{} `json:"configuration"`
}

// edgeDTO is the wire representation of model.Edge.
type edgeDTO struct {
	ID            uuid.UUID              `json:"id"`
	Name          string                 `json:"name"`
	Namespace     uuid.UUID              `json:"namespace"`
	Source        uuid.UUID              `json:"source"`
	Target        uuid.UUID              `json:"target"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Configuration map[string]interface{} `json:"configuration,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

func toEdgeDTO(e *model.Edge) edgeDTO {
	return edgeDTO{
		ID: e.ID, Name: e.Name, Namespace: e.Namespace, Source: e.Source, Target: e.Target,
		Metadata: e.Metadata, Configuration: e.Configuration, CreatedAt: e.CreatedAt,
	}
}

type createEdgeRequest struct {
	Name          string                 `json:"name"`
	Source        uuid.UUID              `json:"source"`
	Target        uuid.UUID              `json:"target"`
	Metadata      map[string]interface{} `json:"metadata"`
	Configuration map[string]interface{} `json:"configuration"`
}

// manifestDTO is the wire representation of model.Manifest.
type manifestDTO struct {
	ID        uuid.UUID              `json:"id"`
	Name      string                 `json:"name"`
	Namespace uuid.UUID              `json:"namespace"`
	Version   int                    `json:"version"`
	Kind      model.ManifestKind     `json:"kind"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Spec      map[string]interface{} `json:"spec,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

func toManifestDTO(m *model.Manifest) manifestDTO {
	return manifestDTO{
		ID: m.ID, Name: m.Name, Namespace: m.Namespace, Version: m.Version, Kind: m.Kind,
		Metadata: m.Metadata, Spec: m.Spec, CreatedAt: m.CreatedAt,
	}
}

type createManifestRequest struct {
	Kind      model.ManifestKind     `json:"kind"`
	Name      string                 `json:"name"`
	Namespace uuid.UUID              `json:"namespace"`
	Spec      map[string]interface{} `json:"spec"`
}

type copyManifestRequest struct {
	ToNamespace uuid.UUID `json:"to_namespace"`
	ToName      string    `json:"to_name"`
}

// processRequest is the /rpc/process body (§4.5's manual single-step
// trigger).
type processRequest struct {
	Namespace uuid.UUID `json:"namespace"`
	Node      uuid.UUID `json:"node"`
	Operator  string    `json:"operator"`
}

// activityLogDTO is the wire representation of model.ActivityLog.
type activityLogDTO struct {
	ID         uuid.UUID              `json:"id"`
	Namespace  uuid.UUID              `json:"namespace"`
	Node       *uuid.UUID             `json:"node,omitempty"`
	Operator   string                 `json:"operator"`
	CreatedAt  time.Time              `json:"created_at"`
	FromStatus model.Status           `json:"from_status"`
	ToStatus   model.Status           `json:"to_status"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
}

func toActivityLogDTO(e *model.ActivityLog) activityLogDTO {
	return activityLogDTO{
		ID: e.ID, Namespace: e.Namespace, Node: e.Node, Operator: e.Operator,
		CreatedAt: e.CreatedAt, FromStatus: e.FromStatus, ToStatus: e.ToStatus, Detail: e.Detail,
	}
}
