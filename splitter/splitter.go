// Package splitter implements the Splitter strategies (§4.7): null,
// values, and query. A Splitter takes a step's configuration and yields
// an ordered, finite sequence of predicate strings.
package splitter

import (
	"context"
	"fmt"
	"sort"

	"cm.lsst.io/cmerrors"
)

// Splitter yields predicates lazily, so both eager (precomputed) and lazy
// (Butler-backed) producers satisfy it without the Step transition code
// changing (§9, "Splitter iterators").
type Splitter interface {
	// Split returns the full ordered predicate sequence. Implementations
	// that are conceptually "lazy" (query) still return a materialized
	// slice here since group creation (§4.3 Step.prepare) consumes the
	// whole sequence once per prepare call; the laziness requirement is
	// about not assuming the value set is known statically, not about a
	// streaming API.
	Split(ctx context.Context) ([]string, error)
}

// Null yields exactly one predicate, "1" (all rows).
type Null struct{}

func (Null) Split(ctx context.Context) ([]string, error) {
	return []string{"1"}, nil
}

// Values yields "{field} in ({value})" for each configured value, in
// order.
type Values struct {
	Field  string
	Values []string
}

func (v Values) Split(ctx context.Context) ([]string, error) {
	preds := make([]string, len(v.Values))
	for i, val := range v.Values {
		preds[i] = fmt.Sprintf("%s in (%s)", v.Field, val)
	}
	return preds, nil
}

// Butler is the narrow slice of the Butler adapter (§6) the query
// splitter needs.
type Butler interface {
	QueryDataIDs(ctx context.Context, dataset, field string, collections []string, where string) ([]int64, error)
}

// Query queries the Butler for the set of Field values matching Predicates
// within Collections, then partitions the sorted value set per §4.7.
type Query struct {
	Butler      Butler
	Dataset     string
	Field       string
	MinGroups   int
	MaxSize     int
	Collections []string
	Predicates  []string
}

func (q Query) Split(ctx context.Context) ([]string, error) {
	where := "1"
	for _, p := range q.Predicates {
		where = fmt.Sprintf("%s AND %s", where, p)
	}
	ids, err := q.Butler.QueryDataIDs(ctx, q.Dataset, q.Field, q.Collections, where)
	if err != nil {
		return nil, fmt.Errorf("splitter: query: %w", err)
	}

	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	if len(sorted) < q.MinGroups {
		return nil, cmerrors.New(cmerrors.KindInvalidGrouping, "value set of size %d is smaller than min_groups %d", len(sorted), q.MinGroups)
	}

	groups := partition(sorted, q.MinGroups, q.MaxSize)

	preds := make([]string, 0, len(groups))
	for i, g := range groups {
		if i == len(groups)-1 {
			preds = append(preds, fmt.Sprintf("%s >= %d", q.Field, g[0]))
			continue
		}
		preds = append(preds, fmt.Sprintf("%s >= %d AND %s < %d", q.Field, g[0], q.Field, groups[i+1][0]))
	}
	return preds, nil
}

// partition splits a sorted value set into groups such that there are at
// least minGroups groups, no group exceeds maxSize ids, and boundaries
// fall on evenly spaced indices (partial-sort partitioning, §4.7). Each
// returned group is a non-empty contiguous slice of sorted.
func partition(sorted []int64, minGroups, maxSize int) [][]int64 {
	n := len(sorted)
	numGroups := minGroups
	if maxSize > 0 {
		bySize := (n + maxSize - 1) / maxSize
		if bySize > numGroups {
			numGroups = bySize
		}
	}
	if numGroups < 1 {
		numGroups = 1
	}
	if numGroups > n {
		numGroups = n
	}

	groups := make([][]int64, 0, numGroups)
	base := n / numGroups
	rem := n % numGroups
	idx := 0
	for i := 0; i < numGroups; i++ {
		size := base
		if i < rem {
			size++
		}
		if size == 0 {
			continue
		}
		groups = append(groups, sorted[idx:idx+size])
		idx += size
	}
	return groups
}
