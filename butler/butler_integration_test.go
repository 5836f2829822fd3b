//go:build integration

package butler

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testingcontainers "cm.lsst.io/containers/testing"
)

const schema = `
CREATE TABLE IF NOT EXISTS butler_dataids (
	dataset    text NOT NULL,
	collection text NOT NULL,
	field      text NOT NULL,
	value      bigint NOT NULL
);

CREATE TABLE IF NOT EXISTS butler_collections (
	repo    text NOT NULL,
	name    text NOT NULL,
	kind    text NOT NULL,
	members text[] NOT NULL DEFAULT '{}',
	PRIMARY KEY (repo, name)
);
`

func newTestClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	connStr, cleanup, err := testingcontainers.SetupPostgres(ctx, t, nil)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, schema)
	require.NoError(t, err)

	return New(pool)
}

func seedDataIDs(t *testing.T, c *Client, ctx context.Context, dataset, collection, field string, values []int64) {
	t.Helper()
	for _, v := range values {
		_, err := c.pool.Exec(ctx, `INSERT INTO butler_dataids (dataset, collection, field, value) VALUES ($1, $2, $3, $4)`,
			dataset, collection, field, v)
		require.NoError(t, err)
	}
}

func TestQueryDataIDsUnconditional(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	seedDataIDs(t, c, ctx, "raw", "u/demo/input", "visit", []int64{1, 2, 3})

	ids, err := c.QueryDataIDs(ctx, "raw", "visit", []string{"u/demo/input"}, "1")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestQueryDataIDsRangePredicate(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	seedDataIDs(t, c, ctx, "raw", "u/demo/input", "visit", []int64{1, 2, 3, 4, 5})

	ids, err := c.QueryDataIDs(ctx, "raw", "visit", []string{"u/demo/input"}, "visit >= 2 AND visit < 4")
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids)
}

func TestQueryDataIDsInPredicate(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	seedDataIDs(t, c, ctx, "raw", "u/demo/input", "visit", []int64{1, 2, 3})

	ids, err := c.QueryDataIDs(ctx, "raw", "visit", []string{"u/demo/input"}, "visit in (2)")
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids)
}

func TestQueryDataIDsUnrecognizedPredicate(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.QueryDataIDs(ctx, "raw", "visit", []string{"u/demo/input"}, "visit ~ 2")
	assert.Error(t, err)
}

func TestCreateChainedCollectionAndAddToChain(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.CreateChainedCollection(ctx, "repo1", "u/demo/chain", []string{"u/demo/a"}))
	require.NoError(t, c.AddToChain(ctx, "repo1", "u/demo/chain", "u/demo/b"))

	var members []string
	row := c.pool.QueryRow(ctx, `SELECT members FROM butler_collections WHERE repo = $1 AND name = $2`, "repo1", "u/demo/chain")
	require.NoError(t, row.Scan(&members))
	assert.ElementsMatch(t, []string{"u/demo/a", "u/demo/b"}, members)

	// Adding an already-present member is a no-op (paint-over, never duplicate).
	require.NoError(t, c.AddToChain(ctx, "repo1", "u/demo/chain", "u/demo/b"))
	row = c.pool.QueryRow(ctx, `SELECT members FROM butler_collections WHERE repo = $1 AND name = $2`, "repo1", "u/demo/chain")
	require.NoError(t, row.Scan(&members))
	assert.Len(t, members, 2)
}
