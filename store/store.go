// Package store implements the persistence boundary for the campaign
// manager core: Campaign/Node/Edge/Manifest/Machine/Task/ActivityLog CRUD
// over Postgres. It is grounded on the teacher's db.PostgresDB (pgx/v5 +
// pgxpool, §3's "PostgresDB wrapper" expansion). Every path shares one pgx
// pool and, where it matters (graph mutation, task dequeue), one
// transaction; Manifest and ActivityLog writes are plain single-statement
// inserts that gain nothing from an ORM, so they stay on the same pgx path
// (see DESIGN.md for why GORM, present in the teacher's stack for a
// RabbitMQ logging table unrelated to this domain, isn't force-fit here).
//
// Store structurally satisfies manifest.Store and node.Store; campaign and
// scheduler depend on the narrower interfaces declared in their own
// packages, not on *Store directly, to avoid an import cycle back into
// store.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cm.lsst.io/cmerrors"
	"cm.lsst.io/graph"
	"cm.lsst.io/model"
)

// Store wraps a pgxpool.Pool and implements every persistence interface the
// core packages declare.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to connString (a standard postgres:// DSN) and pings it
// once, mirroring the teacher's NewPostgresDB.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Pool exposes the underlying pgxpool.Pool for callers that need a raw
// connection for something Store doesn't wrap directly — currently just
// activitylog.Tailer's db.Listener, which LISTENs on activityLogChannel.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func toJSON(v map[string]interface{}) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

func fromJSON(b []byte) (map[string]interface{}, error) {
	if len(b) == 0 {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// --- manifest.Store -------------------------------------------------------

func (s *Store) NamespaceExists(ctx context.Context, namespace uuid.UUID) (bool, error) {
	if namespace == model.RootNamespace {
		return true, nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM campaigns_v2 WHERE id = $1)`, namespace).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: namespace exists: %w", err)
	}
	return exists, nil
}

func (s *Store) InsertManifest(ctx context.Context, m *model.Manifest) error {
	spec, err := toJSON(m.Spec)
	if err != nil {
		return err
	}
	meta, err := toJSON(m.Metadata)
	if err != nil {
		return err
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO manifests_v2 (id, name, namespace, version, kind, metadata, spec, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, now())`,
		m.ID, m.Name, m.Namespace, m.Version, m.Kind, meta, spec)
	if err != nil {
		return fmt.Errorf("store: insert manifest: %w", err)
	}
	return nil
}

func (s *Store) GetManifest(ctx context.Context, namespace uuid.UUID, kind model.ManifestKind, name string, version int) (*model.Manifest, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, namespace, version, kind, metadata, spec, created_at
		FROM manifests_v2 WHERE namespace = $1 AND kind = $2 AND name = $3 AND version = $4`,
		namespace, kind, name, version)
	return scanManifest(row)
}

func (s *Store) GetLatestManifest(ctx context.Context, namespace uuid.UUID, kind model.ManifestKind, name string) (*model.Manifest, error) {
	var row pgx.Row
	if name == "" {
		row = s.pool.QueryRow(ctx, `
			SELECT id, name, namespace, version, kind, metadata, spec, created_at
			FROM manifests_v2 WHERE namespace = $1 AND kind = $2
			ORDER BY version DESC LIMIT 1`, namespace, kind)
	} else {
		row = s.pool.QueryRow(ctx, `
			SELECT id, name, namespace, version, kind, metadata, spec, created_at
			FROM manifests_v2 WHERE namespace = $1 AND kind = $2 AND name = $3
			ORDER BY version DESC LIMIT 1`, namespace, kind, name)
	}
	return scanManifest(row)
}

// ListManifests returns every manifest in namespace, newest version first
// within each (kind, name), for the HTTP API's manifest list operation
// (§4.1, §6). kind == "" means every kind.
func (s *Store) ListManifests(ctx context.Context, namespace uuid.UUID, kind model.ManifestKind) ([]*model.Manifest, error) {
	var rows pgx.Rows
	var err error
	if kind == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT id, name, namespace, version, kind, metadata, spec, created_at
			FROM manifests_v2 WHERE namespace = $1 ORDER BY name, version DESC`, namespace)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT id, name, namespace, version, kind, metadata, spec, created_at
			FROM manifests_v2 WHERE namespace = $1 AND kind = $2 ORDER BY name, version DESC`, namespace, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list manifests: %w", err)
	}
	defer rows.Close()

	var out []*model.Manifest
	for rows.Next() {
		var m model.Manifest
		var meta, spec []byte
		if err := rows.Scan(&m.ID, &m.Name, &m.Namespace, &m.Version, &m.Kind, &meta, &spec, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan manifest: %w", err)
		}
		if m.Metadata, err = fromJSON(meta); err != nil {
			return nil, err
		}
		if m.Spec, err = fromJSON(spec); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanManifest(row pgx.Row) (*model.Manifest, error) {
	var m model.Manifest
	var meta, spec []byte
	err := row.Scan(&m.ID, &m.Name, &m.Namespace, &m.Version, &m.Kind, &meta, &spec, &m.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan manifest: %w", err)
	}
	if m.Metadata, err = fromJSON(meta); err != nil {
		return nil, err
	}
	if m.Spec, err = fromJSON(spec); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) NextManifestVersion(ctx context.Context, namespace uuid.UUID, name string) (int, error) {
	var max int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM manifests_v2 WHERE namespace = $1 AND name = $2`,
		namespace, name).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("store: next manifest version: %w", err)
	}
	return max + 1, nil
}

// --- node.Store -------------------------------------------------------

// LoadGraph reads the active node/edge set for namespace (newest version
// per node name, per §3 invariant 5) and builds an in-memory graph.Graph.
func (s *Store) LoadGraph(ctx context.Context, namespace uuid.UUID) (*graph.Graph, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (name) id, namespace, name, version, kind, status, metadata, configuration, machine, created_at, updated_at
		FROM nodes_v2 WHERE namespace = $1
		ORDER BY name, version DESC`, namespace)
	if err != nil {
		return nil, fmt.Errorf("store: load nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*model.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	active := make(map[uuid.UUID]bool, len(nodes))
	for _, n := range nodes {
		active[n.ID] = true
	}

	edgeRows, err := s.pool.Query(ctx, `
		SELECT id, name, namespace, source, target, metadata, configuration, created_at
		FROM edges_v2 WHERE namespace = $1`, namespace)
	if err != nil {
		return nil, fmt.Errorf("store: load edges: %w", err)
	}
	defer edgeRows.Close()

	var edges []*model.Edge
	for edgeRows.Next() {
		e, err := scanEdge(edgeRows)
		if err != nil {
			return nil, err
		}
		if !active[e.Source] || !active[e.Target] {
			continue // edge refers to a superseded node version
		}
		edges = append(edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, err
	}

	return graph.Build(namespace, nodes, edges), nil
}

func scanNode(row pgx.Row) (*model.Node, error) {
	var n model.Node
	var meta, cfg []byte
	var machine *uuid.UUID
	if err := row.Scan(&n.ID, &n.Namespace, &n.Name, &n.Version, &n.Kind, &n.Status, &meta, &cfg, &machine, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, fmt.Errorf("store: scan node: %w", err)
	}
	var err error
	if n.Metadata, err = fromJSON(meta); err != nil {
		return nil, err
	}
	if n.Configuration, err = fromJSON(cfg); err != nil {
		return nil, err
	}
	n.Machine = machine
	return &n, nil
}

func scanEdge(row pgx.Row) (*model.Edge, error) {
	var e model.Edge
	var meta, cfg []byte
	if err := row.Scan(&e.ID, &e.Name, &e.Namespace, &e.Source, &e.Target, &meta, &cfg, &e.CreatedAt); err != nil {
		return nil, fmt.Errorf("store: scan edge: %w", err)
	}
	var err error
	if e.Metadata, err = fromJSON(meta); err != nil {
		return nil, err
	}
	if e.Configuration, err = fromJSON(cfg); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) InsertNode(ctx context.Context, n *model.Node) error {
	meta, err := toJSON(n.Metadata)
	if err != nil {
		return err
	}
	cfg, err := toJSON(n.Configuration)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO nodes_v2 (id, namespace, name, version, kind, status, metadata, configuration, machine, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9, now(), now())
		ON CONFLICT (id) DO UPDATE SET status = $6, metadata = $7::jsonb, configuration = $8::jsonb, updated_at = now()`,
		n.ID, n.Namespace, n.Name, n.Version, n.Kind, n.Status, meta, cfg, n.Machine)
	if err != nil {
		return fmt.Errorf("store: insert node: %w", err)
	}
	return nil
}

// ApplyMutation persists a graph.MutationPlan inside one transaction: edge
// removals, edge insertions, and an optional node removal, matching
// graph.Graph.Apply's in-memory effect exactly (§4.2).
func (s *Store) ApplyMutation(ctx context.Context, namespace uuid.UUID, plan *graph.MutationPlan) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, id := range plan.RemoveEdges {
		if _, err := tx.Exec(ctx, `DELETE FROM edges_v2 WHERE id = $1`, id); err != nil {
			return fmt.Errorf("store: remove edge %s: %w", id, err)
		}
	}
	for _, e := range plan.AddEdges {
		meta, _ := toJSON(e.Metadata)
		cfg, _ := toJSON(e.Configuration)
		_, err := tx.Exec(ctx, `
			INSERT INTO edges_v2 (id, name, namespace, source, target, metadata, configuration, created_at)
			VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, now())
			ON CONFLICT (id) DO NOTHING`,
			e.ID, e.Name, namespace, e.Source, e.Target, meta, cfg)
		if err != nil {
			return fmt.Errorf("store: add edge %s: %w", e.ID, err)
		}
	}
	if plan.RemoveNode != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM nodes_v2 WHERE id = $1`, *plan.RemoveNode); err != nil {
			return fmt.Errorf("store: remove node %s: %w", *plan.RemoveNode, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) SaveMachineSnapshot(ctx context.Context, node uuid.UUID, snapshot []byte) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO machines_v2 (id, namespace, snapshot, updated_at) VALUES ($1, $2, $3, now())`,
		id, node, snapshot)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: save machine snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx, `UPDATE nodes_v2 SET machine = $1 WHERE id = $2`, id, node)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: link machine snapshot: %w", err)
	}
	return id, nil
}

// mandatoryManifestKinds are the five kinds §4.6 requires a library (and,
// per campaign, an overriding campaign-level) default for.
var mandatoryManifestKinds = []model.ManifestKind{
	model.ManifestLSST, model.ManifestBPS, model.ManifestButler, model.ManifestWMS, model.ManifestSite,
}

// ResolveConfigChain resolves the configuration chain for n: for each
// mandatory kind (lsst, bps, butler, wms, site), the library default
// followed by the campaign's own manifest of that kind, then the step's
// manifest, then (for Group/StepGroup nodes) the group's own manifest —
// merging at each step per §4.6 (list fields concatenate, scalar fields
// override).
//
// The chain here is a fixed, flat precedence list, not a recursive walk:
// nothing in the manifest model lets one manifest's spec reference
// another by name, so layer never calls itself and a cycle can't occur
// structurally. The visited-set still guards against the one real failure
// mode — GetLatestManifest handing back the same manifest id for two
// distinct layers — by refusing to merge it twice; maxDepth is a generous
// backstop against that same bug compounding across a pathological
// resolution, not the recursion guard §9 describes (see DESIGN.md).
func (s *Store) ResolveConfigChain(ctx context.Context, n *model.Node) (map[string]interface{}, error) {
	const maxDepth = 32
	visited := make(map[uuid.UUID]bool)
	resolved := map[string]interface{}{}
	depth := 0

	layer := func(namespace uuid.UUID, kind model.ManifestKind, name string) error {
		depth++
		if depth > maxDepth {
			return cmerrors.New(cmerrors.KindConflict, "configuration chain exceeds max depth %d", maxDepth)
		}
		m, err := s.GetLatestManifest(ctx, namespace, kind, name)
		if err != nil {
			return err
		}
		if m == nil {
			return nil
		}
		if visited[m.ID] {
			return cmerrors.New(cmerrors.KindConflict, "configuration chain cycle at manifest %s", m.ID)
		}
		visited[m.ID] = true
		resolved = mergeConfig(resolved, m.Spec)
		return nil
	}

	for _, kind := range mandatoryManifestKinds {
		if err := layer(model.RootNamespace, kind, ""); err != nil {
			return nil, err
		}
		if err := layer(n.Namespace, kind, ""); err != nil {
			return nil, err
		}
	}
	if err := layer(n.Namespace, model.ManifestStep, n.Name); err != nil {
		return nil, err
	}
	if n.Kind == model.KindGroup || n.Kind == model.KindStepGroup {
		if err := layer(n.Namespace, model.ManifestNode, n.Name); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

// mergeConfig overlays patch onto base per §4.6: scalars override, list
// (array) fields concatenate, nested maps merge recursively.
func mergeConfig(base, patch map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, pv := range patch {
		bv, exists := out[k]
		if !exists {
			out[k] = pv
			continue
		}
		switch pvt := pv.(type) {
		case []interface{}:
			if bvt, ok := bv.([]interface{}); ok {
				out[k] = append(append([]interface{}{}, bvt...), pvt...)
				continue
			}
			out[k] = pvt
		case map[string]interface{}:
			if bvt, ok := bv.(map[string]interface{}); ok {
				out[k] = mergeConfig(bvt, pvt)
				continue
			}
			out[k] = pvt
		default:
			out[k] = pv
		}
	}
	return out
}

// --- Campaign CRUD ---------------------------------------------------

func (s *Store) InsertCampaign(ctx context.Context, c *model.Campaign) error {
	meta, err := toJSON(c.Metadata)
	if err != nil {
		return err
	}
	spec, err := toJSON(c.Spec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO campaigns_v2 (id, name, namespace, owner, status, metadata, spec, machine, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, now(), now())`,
		c.ID, c.Name, c.Namespace, c.Owner, c.Status, meta, spec, c.Machine)
	if err != nil {
		return fmt.Errorf("store: insert campaign: %w", err)
	}
	return nil
}

func (s *Store) GetCampaign(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, namespace, owner, status, metadata, spec, machine, created_at, updated_at
		FROM campaigns_v2 WHERE id = $1`, id)
	var c model.Campaign
	var meta, spec []byte
	var machine *uuid.UUID
	err := row.Scan(&c.ID, &c.Name, &c.Namespace, &c.Owner, &c.Status, &meta, &spec, &machine, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, cmerrors.New(cmerrors.KindNotFound, "campaign %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get campaign: %w", err)
	}
	if c.Metadata, err = fromJSON(meta); err != nil {
		return nil, err
	}
	if c.Spec, err = fromJSON(spec); err != nil {
		return nil, err
	}
	c.Machine = machine
	return &c, nil
}

// ListCampaignsByStatus returns every campaign currently in one of
// statuses, for the scheduling daemon's consider_campaigns loop (§4.5:
// "for every campaign in ready or running").
func (s *Store) ListCampaignsByStatus(ctx context.Context, statuses ...model.Status) ([]*model.Campaign, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, namespace, owner, status, metadata, spec, machine, created_at, updated_at
		FROM campaigns_v2 WHERE status = ANY($1)`, statuses)
	if err != nil {
		return nil, fmt.Errorf("store: list campaigns: %w", err)
	}
	defer rows.Close()

	var out []*model.Campaign
	for rows.Next() {
		var c model.Campaign
		var meta, spec []byte
		var machine *uuid.UUID
		if err := rows.Scan(&c.ID, &c.Name, &c.Namespace, &c.Owner, &c.Status, &meta, &spec, &machine, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan campaign: %w", err)
		}
		if c.Metadata, err = fromJSON(meta); err != nil {
			return nil, err
		}
		if c.Spec, err = fromJSON(spec); err != nil {
			return nil, err
		}
		c.Machine = machine
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListCampaigns returns every campaign regardless of status, for the HTTP
// API's `/campaigns` list operation (§6) — unlike ListCampaignsByStatus,
// which the scheduler uses to scope its tick to ready/running campaigns
// only.
func (s *Store) ListCampaigns(ctx context.Context) ([]*model.Campaign, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, namespace, owner, status, metadata, spec, machine, created_at, updated_at
		FROM campaigns_v2 ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list campaigns: %w", err)
	}
	defer rows.Close()

	var out []*model.Campaign
	for rows.Next() {
		var c model.Campaign
		var meta, spec []byte
		var machine *uuid.UUID
		if err := rows.Scan(&c.ID, &c.Name, &c.Namespace, &c.Owner, &c.Status, &meta, &spec, &machine, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan campaign: %w", err)
		}
		if c.Metadata, err = fromJSON(meta); err != nil {
			return nil, err
		}
		if c.Spec, err = fromJSON(spec); err != nil {
			return nil, err
		}
		c.Machine = machine
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateCampaignStatus(ctx context.Context, id uuid.UUID, status model.Status) error {
	_, err := s.pool.Exec(ctx, `UPDATE campaigns_v2 SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("store: update campaign status: %w", err)
	}
	return nil
}

// UpdateCampaignFields persists a patched metadata/spec document for a
// campaign, for the HTTP API's campaign PATCH handler (§4.4: "patch
// operations on campaigns use the same merge/json-patch semantics as
// manifests"). Status changes go through UpdateCampaignStatus (via
// campaign.Fire), never through here, so a campaign's FSM history always
// passes through the trigger table.
func (s *Store) UpdateCampaignFields(ctx context.Context, id uuid.UUID, metadata, spec map[string]interface{}) error {
	meta, err := toJSON(metadata)
	if err != nil {
		return err
	}
	specJSON, err := toJSON(spec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `UPDATE campaigns_v2 SET metadata = $1::jsonb, spec = $2::jsonb, updated_at = now() WHERE id = $3`,
		meta, specJSON, id)
	if err != nil {
		return fmt.Errorf("store: update campaign fields: %w", err)
	}
	return nil
}

func (s *Store) SaveCampaignMachineSnapshot(ctx context.Context, campaign uuid.UUID, snapshot []byte) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `INSERT INTO machines_v2 (id, namespace, snapshot, updated_at) VALUES ($1, $2, $3, now())`,
		id, campaign, snapshot)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: save campaign machine snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx, `UPDATE campaigns_v2 SET machine = $1 WHERE id = $2`, id, campaign)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: link campaign machine snapshot: %w", err)
	}
	return id, nil
}

// --- Task queue (§4.5) ------------------------------------------------

func (s *Store) Enqueue(ctx context.Context, t *model.Task) error {
	meta, err := toJSON(t.Metadata)
	if err != nil {
		return err
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tasks_v2 (id, namespace, node, priority, created_at, status, previous_status, metadata, active)
		VALUES ($1, $2, $3, $4, now(), $5, $5, $6::jsonb, true)
		ON CONFLICT (node) DO NOTHING`,
		t.ID, t.Namespace, t.Node, t.Priority, model.TaskPending, meta)
	if err != nil {
		return fmt.Errorf("store: enqueue: %w", err)
	}
	return nil
}

// Dequeue claims up to n pending, active tasks via SELECT ... FOR UPDATE
// SKIP LOCKED, the way the scheduler's consider_nodes loop hands work to
// workers without two workers racing on the same node (§4.5, §5).
func (s *Store) Dequeue(ctx context.Context, n int) ([]*model.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: dequeue begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, namespace, node, priority, created_at, submitted_at, finished_at, wms_id,
		       site_affinity, status, previous_status, metadata, active
		FROM tasks_v2
		WHERE status = $1 AND active
		ORDER BY priority NULLS LAST, created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, model.TaskPending, n)
	if err != nil {
		return nil, fmt.Errorf("store: dequeue select: %w", err)
	}

	var tasks []*model.Task
	var ids []uuid.UUID
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		tasks = append(tasks, t)
		ids = append(ids, t.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		_, err := tx.Exec(ctx, `
			UPDATE tasks_v2 SET status = $1, previous_status = status, submitted_at = now() WHERE id = $2`,
			model.TaskProcessing, id)
		if err != nil {
			return nil, fmt.Errorf("store: mark processing %s: %w", id, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("store: dequeue commit: %w", err)
	}
	for _, t := range tasks {
		t.Status = model.TaskProcessing
	}
	return tasks, nil
}

func scanTask(row pgx.Row) (*model.Task, error) {
	var t model.Task
	var meta []byte
	if err := row.Scan(&t.ID, &t.Namespace, &t.Node, &t.Priority, &t.CreatedAt, &t.SubmittedAt, &t.FinishedAt,
		&t.WmsID, &t.SiteAffinity, &t.Status, &t.PreviousStatus, &meta, &t.Active); err != nil {
		return nil, fmt.Errorf("store: scan task: %w", err)
	}
	var err error
	if t.Metadata, err = fromJSON(meta); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) CompleteTask(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tasks_v2 SET status = $1, previous_status = status, finished_at = now() WHERE id = $2`,
		model.TaskDone, id)
	if err != nil {
		return fmt.Errorf("store: complete task: %w", err)
	}
	return nil
}

func (s *Store) FailTask(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tasks_v2 SET status = $1, previous_status = status, finished_at = now() WHERE id = $2`,
		model.TaskFailed, id)
	if err != nil {
		return fmt.Errorf("store: fail task: %w", err)
	}
	return nil
}

// SetTaskActive implements the supplemented queue.active soft-disable
// (§9): an operator can freeze one node's queue entry without deleting it
// or pausing the whole campaign.
func (s *Store) SetTaskActive(ctx context.Context, node uuid.UUID, active bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE tasks_v2 SET active = $1 WHERE node = $2`, active, node)
	if err != nil {
		return fmt.Errorf("store: set task active: %w", err)
	}
	return nil
}

// --- ActivityLog (§3, §9 "single audit channel") -----------------------

// activityLogChannel is the Postgres NOTIFY channel a db.Listener tails for
// real-time activity log delivery (§4.5), replacing the teacher's redis
// pub/sub notification path with the database's own LISTEN/NOTIFY so a
// write and its notification commit atomically in the same statement.
const activityLogChannel = "activity_log_v2"

func (s *Store) AppendActivityLog(ctx context.Context, entry *model.ActivityLog) error {
	detail, err := toJSON(entry.Detail)
	if err != nil {
		return err
	}
	meta, err := toJSON(entry.Metadata)
	if err != nil {
		return err
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	payload, err := json.Marshal(struct {
		ID        uuid.UUID `json:"id"`
		Namespace uuid.UUID `json:"namespace"`
		Node      *uuid.UUID `json:"node"`
	}{entry.ID, entry.Namespace, entry.Node})
	if err != nil {
		return fmt.Errorf("store: marshal activity log notification: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		WITH inserted AS (
			INSERT INTO activity_log_v2 (id, namespace, node, operator, created_at, from_status, to_status, detail, metadata)
			VALUES ($1, $2, $3, $4, now(), $5, $6, $7::jsonb, $8::jsonb)
		)
		SELECT pg_notify($9, $10::text)`,
		entry.ID, entry.Namespace, entry.Node, entry.Operator, entry.FromStatus, entry.ToStatus, detail, meta,
		activityLogChannel, payload)
	if err != nil {
		return fmt.Errorf("store: append activity log: %w", err)
	}
	return nil
}

func (s *Store) TailActivityLog(ctx context.Context, namespace uuid.UUID, since time.Time, limit int) ([]*model.ActivityLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, namespace, node, operator, created_at, finished_at, from_status, to_status, detail, metadata
		FROM activity_log_v2 WHERE namespace = $1 AND created_at > $2
		ORDER BY created_at LIMIT $3`, namespace, since, limit)
	if err != nil {
		return nil, fmt.Errorf("store: tail activity log: %w", err)
	}
	defer rows.Close()

	var out []*model.ActivityLog
	for rows.Next() {
		var e model.ActivityLog
		var detail, meta []byte
		if err := rows.Scan(&e.ID, &e.Namespace, &e.Node, &e.Operator, &e.CreatedAt, &e.FinishedAt,
			&e.FromStatus, &e.ToStatus, &detail, &meta); err != nil {
			return nil, fmt.Errorf("store: scan activity log: %w", err)
		}
		if e.Detail, err = fromJSON(detail); err != nil {
			return nil, err
		}
		if e.Metadata, err = fromJSON(meta); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
