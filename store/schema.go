package store

import (
	"context"
	"fmt"
)

// schema is applied by Migrate on startup. The teacher ships no migration
// tool of its own (db.PostgresDB assumes a pre-provisioned database), so
// this keeps the same assumption: Migrate is an idempotent bootstrap for
// local/dev and test use, not a production migration runner.
const schema = `
CREATE TABLE IF NOT EXISTS campaigns_v2 (
	id         uuid PRIMARY KEY,
	name       text NOT NULL,
	namespace  uuid NOT NULL,
	owner      text NOT NULL DEFAULT '',
	status     text NOT NULL,
	metadata   jsonb NOT NULL DEFAULT '{}',
	spec       jsonb NOT NULL DEFAULT '{}',
	machine    uuid,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS nodes_v2 (
	id            uuid PRIMARY KEY,
	namespace     uuid NOT NULL REFERENCES campaigns_v2(id),
	name          text NOT NULL,
	version       int NOT NULL,
	kind          text NOT NULL,
	status        text NOT NULL,
	metadata      jsonb NOT NULL DEFAULT '{}',
	configuration jsonb NOT NULL DEFAULT '{}',
	machine       uuid,
	created_at    timestamptz NOT NULL DEFAULT now(),
	updated_at    timestamptz NOT NULL DEFAULT now(),
	UNIQUE (namespace, name, version)
);
CREATE INDEX IF NOT EXISTS nodes_v2_namespace_name_idx ON nodes_v2 (namespace, name, version DESC);

CREATE TABLE IF NOT EXISTS edges_v2 (
	id            uuid PRIMARY KEY,
	name          text NOT NULL DEFAULT '',
	namespace     uuid NOT NULL REFERENCES campaigns_v2(id),
	source        uuid NOT NULL REFERENCES nodes_v2(id),
	target        uuid NOT NULL REFERENCES nodes_v2(id),
	metadata      jsonb NOT NULL DEFAULT '{}',
	configuration jsonb NOT NULL DEFAULT '{}',
	created_at    timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS manifests_v2 (
	id         uuid PRIMARY KEY,
	name       text NOT NULL,
	namespace  uuid NOT NULL,
	version    int NOT NULL,
	kind       text NOT NULL,
	metadata   jsonb NOT NULL DEFAULT '{}',
	spec       jsonb NOT NULL DEFAULT '{}',
	created_at timestamptz NOT NULL DEFAULT now(),
	UNIQUE (namespace, kind, name, version)
);

CREATE TABLE IF NOT EXISTS machines_v2 (
	id         uuid PRIMARY KEY,
	namespace  uuid NOT NULL,
	snapshot   bytea NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tasks_v2 (
	id              uuid PRIMARY KEY,
	namespace       uuid NOT NULL REFERENCES campaigns_v2(id),
	node            uuid NOT NULL UNIQUE REFERENCES nodes_v2(id),
	priority        int,
	created_at      timestamptz NOT NULL DEFAULT now(),
	submitted_at    timestamptz,
	finished_at     timestamptz,
	wms_id          text NOT NULL DEFAULT '',
	site_affinity   text[] NOT NULL DEFAULT '{}',
	status          text NOT NULL,
	previous_status text NOT NULL,
	metadata        jsonb NOT NULL DEFAULT '{}',
	active          boolean NOT NULL DEFAULT true
);
CREATE INDEX IF NOT EXISTS tasks_v2_dequeue_idx ON tasks_v2 (status, active, priority, created_at);

CREATE TABLE IF NOT EXISTS activity_log_v2 (
	id          uuid PRIMARY KEY,
	namespace   uuid NOT NULL REFERENCES campaigns_v2(id),
	node        uuid,
	operator    text NOT NULL DEFAULT '',
	created_at  timestamptz NOT NULL DEFAULT now(),
	finished_at timestamptz,
	from_status text NOT NULL,
	to_status   text NOT NULL,
	detail      jsonb NOT NULL DEFAULT '{}',
	metadata    jsonb NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS activity_log_v2_namespace_created_idx ON activity_log_v2 (namespace, created_at);
`

// Migrate applies the schema. Safe to call repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}
