// Package butler implements the Butler adapter (§6): data-id queries for
// the query splitter and chained-collection management for Group/
// StepCollect prepare/start. The spec frames Butler as an external data
// registry reached only through this narrow interface; this implementation
// models it as another schema in the same Postgres database the core store
// uses (grounded on the teacher's db.PostgresDB, §3's pgx/pgxpool
// expansion) — the interface boundary is what's normative here, not the
// backing store, so swapping this for a real Butler registry client later
// is a one-package change.
package butler

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"cm.lsst.io/cmerrors"
)

// Client satisfies node.Butler and splitter.Butler.
type Client struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Client { return &Client{pool: pool} }

// QueryDataIDs returns the distinct values of field in dataset, scoped to
// collections and filtered by where (a butler-dialect boolean expression;
// this implementation only understands the small subset the query
// splitter emits: "1", "field in (v)", "field >= a AND field < b"). The
// where clause is never interpolated into SQL text directly — it is
// parsed into bound parameters, since Butler predicates are user-supplied
// step configuration (§4.7) and must not reach the database unescaped.
func (c *Client) QueryDataIDs(ctx context.Context, dataset, field string, collections []string, where string) ([]int64, error) {
	sqlWhere, args, err := compileWhere(field, where)
	if err != nil {
		return nil, fmt.Errorf("butler: compile where: %w", err)
	}
	args = append([]interface{}{dataset, collections}, args...)
	args = append(args, field)

	query := fmt.Sprintf(`
		SELECT DISTINCT value FROM butler_dataids
		WHERE dataset = $1 AND collection = ANY($2) AND field = $%d AND %s
		ORDER BY value`, len(args), sqlWhere)

	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("butler: query dataids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("butler: scan dataid: %w", err)
		}
		ids = append(ids, v)
	}
	return ids, rows.Err()
}

// compileWhere turns the small set of predicate shapes the query splitter
// emits (§4.7: "1", "field in (v)", "field >= a", "field >= a AND field < b")
// into a parameterized SQL fragment.
func compileWhere(field, where string) (string, []interface{}, error) {
	where = strings.TrimSpace(where)
	if where == "1" || where == "" {
		return "TRUE", nil, nil
	}

	clauses := strings.Split(where, " AND ")
	var sqlClauses []string
	var args []interface{}
	argN := 3 // $1, $2 are dataset/collections
	for _, clause := range clauses {
		clause = strings.TrimSpace(clause)
		if clause == "1" {
			continue
		}
		switch {
		case strings.Contains(clause, " in ("):
			parts := strings.SplitN(clause, " in (", 2)
			val := strings.TrimSuffix(parts[1], ")")
			sqlClauses = append(sqlClauses, fmt.Sprintf("value = $%d", argN))
			args = append(args, val)
			argN++
		case strings.Contains(clause, ">="):
			parts := strings.SplitN(clause, ">=", 2)
			sqlClauses = append(sqlClauses, fmt.Sprintf("value >= $%d", argN))
			args = append(args, strings.TrimSpace(parts[1]))
			argN++
		case strings.Contains(clause, "<"):
			parts := strings.SplitN(clause, "<", 2)
			sqlClauses = append(sqlClauses, fmt.Sprintf("value < $%d", argN))
			args = append(args, strings.TrimSpace(parts[1]))
			argN++
		default:
			return "", nil, cmerrors.New(cmerrors.KindInvalidGrouping, "unrecognized predicate clause %q", clause)
		}
	}
	if len(sqlClauses) == 0 {
		return "TRUE", nil, nil
	}
	return strings.Join(sqlClauses, " AND "), args, nil
}

// CreateChainedCollection creates a new CHAINED collection named name in
// repo with an initial, possibly empty, member list (§4.3 StepCollect
// prepare).
func (c *Client) CreateChainedCollection(ctx context.Context, repo, name string, members []string) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO butler_collections (repo, name, kind, members)
		VALUES ($1, $2, 'CHAINED', $3)
		ON CONFLICT (repo, name) DO NOTHING`, repo, name, members)
	if err != nil {
		return fmt.Errorf("butler: create chained collection: %w", err)
	}
	return nil
}

// AddToChain appends member to chain's member list, paint-over style — a
// chained collection's member list only ever grows (§4.3, "Butler input
// collections use a paint-over pattern and are never deleted").
func (c *Client) AddToChain(ctx context.Context, repo, chain, member string) error {
	_, err := c.pool.Exec(ctx, `
		UPDATE butler_collections
		SET members = array_append(members, $1)
		WHERE repo = $2 AND name = $3 AND NOT ($1 = ANY(members))`, member, repo, chain)
	if err != nil {
		return fmt.Errorf("butler: add to chain: %w", err)
	}
	return nil
}
