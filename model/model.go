// Package model defines the persistent entities of the campaign manager
// core (§3): Campaign, Node, Edge, Manifest, Machine, Task, and
// ActivityLog. These are plain structs; persistence lives in store,
// behaviour lives in campaign/node/graph/manifest.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RootNamespace is the fixed namespace that owns library manifests and
// top-level campaigns' parent namespace.
var RootNamespace = uuid.MustParse("00000000-0000-0000-0000-000000000000")

// NodeKind enumerates the graph vertex kinds (§3).
type NodeKind string

const (
	KindStart         NodeKind = "start"
	KindEnd           NodeKind = "end"
	KindStep          NodeKind = "step"
	KindGroupedStep   NodeKind = "grouped_step"
	KindGroup         NodeKind = "group"
	KindStepGroup     NodeKind = "step_group"
	KindCollectGroups NodeKind = "collect_groups"
	KindBreakpoint    NodeKind = "breakpoint"
	KindAction        NodeKind = "action"
	KindOther         NodeKind = "other"
)

// ManifestKind enumerates the manifest document kinds (§3).
type ManifestKind string

const (
	ManifestLSST   ManifestKind = "lsst"
	ManifestBPS    ManifestKind = "bps"
	ManifestButler ManifestKind = "butler"
	ManifestWMS    ManifestKind = "wms"
	ManifestSite   ManifestKind = "site"
	ManifestStep   ManifestKind = "step"
	ManifestNode   ManifestKind = "node"
	ManifestEdge   ManifestKind = "edge"
	ManifestOther  ManifestKind = "other"
	// ManifestCampaign is rejected by Manifest.create, reserved for the
	// Campaign entity itself.
	ManifestCampaign ManifestKind = "campaign"
)

// Status is the shared FSM state enum (§4.3), used by both Node and
// Campaign machines.
type Status string

const (
	StatusFailed     Status = "failed"
	StatusRejected   Status = "rejected"
	StatusPaused     Status = "paused"
	StatusRescuable  Status = "rescuable"
	StatusWaiting    Status = "waiting"
	StatusReady      Status = "ready"
	StatusPrepared   Status = "prepared"
	StatusRunning    Status = "running"
	StatusReviewable Status = "reviewable"
	StatusAccepted   Status = "accepted"
	StatusRescued    Status = "rescued"
)

// Terminal reports whether a status admits no further nominal transition
// without an operator override.
func (s Status) Terminal() bool {
	switch s {
	case StatusAccepted, StatusFailed, StatusRejected, StatusRescued:
		return true
	default:
		return false
	}
}

// TerminalSuccessful reports whether s counts as "done, and downstream
// nodes may proceed" for the processable-set rule (§4.2).
func (s Status) TerminalSuccessful() bool {
	return s == StatusAccepted || s == StatusRescued
}

// Campaign is the top-level persistent unit of work (§3).
type Campaign struct {
	ID        uuid.UUID
	Name      string
	Namespace uuid.UUID // parent namespace; model.RootNamespace for top-level campaigns
	Owner     string
	Status    Status
	Metadata  map[string]interface{}
	Spec      map[string]interface{}
	Machine   *uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CampaignID derives the deterministic id for a campaign name within a
// parent namespace, per §3 (UUID5(parent_namespace, name)).
func CampaignID(parentNamespace uuid.UUID, name string) uuid.UUID {
	return uuid.NewSHA1(parentNamespace, []byte(name))
}

// Node is a graph vertex (§3).
type Node struct {
	ID            uuid.UUID
	Namespace     uuid.UUID // Campaign.ID
	Name          string
	Version       int
	Kind          NodeKind
	Status        Status
	Metadata      map[string]interface{}
	Configuration map[string]interface{}
	Machine       *uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NodeID derives the deterministic id for (name, version) within a
// namespace, per §3 (UUID5(namespace, "name.version")).
func NodeID(namespace uuid.UUID, name string, version int) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(fmt.Sprintf("%s.%d", name, version)))
}

// GroupID derives the deterministic id for a Group created by a Step's
// Splitter from a given predicate, per §9 ("Step ids are UUID5-derived so
// re-preparation is idempotent").
func GroupID(stepID uuid.UUID, predicate string) uuid.UUID {
	return uuid.NewSHA1(stepID, []byte(predicate))
}

// Edge is a directed arc between two nodes in the same namespace (§3).
type Edge struct {
	ID            uuid.UUID
	Name          string
	Namespace     uuid.UUID
	Source        uuid.UUID
	Target        uuid.UUID
	Metadata      map[string]interface{}
	Configuration map[string]interface{}
	CreatedAt     time.Time
}

// EdgeID derives the deterministic id for a (source, target) arc, per §3
// (UUID5(namespace, "source→target")).
func EdgeID(namespace, source, target uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(source.String()+"→"+target.String()))
}

// Manifest is a versioned configuration document (§3).
type Manifest struct {
	ID        uuid.UUID
	Name      string
	Namespace uuid.UUID // Campaign.ID or model.RootNamespace for library manifests
	Version   int
	Kind      ManifestKind
	Metadata  map[string]interface{}
	Spec      map[string]interface{}
	CreatedAt time.Time
}

// Machine is an opaque, gob-encoded snapshot of a node or campaign FSM's
// transient state (§9), keyed by UUID.
type Machine struct {
	ID        uuid.UUID
	Namespace uuid.UUID
	Snapshot  []byte
	UpdatedAt time.Time
}

// TaskStatus mirrors Status for queue rows awaiting a worker.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskDone       TaskStatus = "done"
	TaskFailed     TaskStatus = "failed"
)

// Task is a work-queue row (§3).
type Task struct {
	ID             uuid.UUID
	Namespace      uuid.UUID
	Node           uuid.UUID
	Priority       *int
	CreatedAt      time.Time
	SubmittedAt    *time.Time
	FinishedAt     *time.Time
	WmsID          string
	SiteAffinity   []string
	Status         TaskStatus
	PreviousStatus TaskStatus
	Metadata       map[string]interface{}
	// Active soft-disables the row without deleting it (§9, supplemented
	// from the original's queue.active column); Dequeue filters WHERE active.
	Active bool
}

// ActivityLog is an append-only record of every attempted transition (§3).
type ActivityLog struct {
	ID         uuid.UUID
	Namespace  uuid.UUID
	Node       *uuid.UUID
	Operator   string
	CreatedAt  time.Time
	FinishedAt *time.Time
	FromStatus Status
	ToStatus   Status
	Detail     map[string]interface{}
	Metadata   map[string]interface{}
}
