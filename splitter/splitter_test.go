package splitter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNull(t *testing.T) {
	preds, err := Null{}.Split(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, preds)
}

func TestValues(t *testing.T) {
	v := Values{Field: "exposure", Values: []string{"1", "2", "3"}}
	preds, err := v.Split(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{
		"exposure in (1)",
		"exposure in (2)",
		"exposure in (3)",
	}, preds)
}

type fakeButler struct {
	ids []int64
}

func (f fakeButler) QueryDataIDs(ctx context.Context, dataset, field string, collections []string, where string) ([]int64, error) {
	return f.ids, nil
}

func TestQuery_MinGroups(t *testing.T) {
	q := Query{
		Butler:    fakeButler{ids: []int64{5, 1, 3, 2, 4}},
		Field:     "visit",
		MinGroups: 2,
	}
	preds, err := q.Split(context.Background())
	require.NoError(t, err)
	require.Len(t, preds, 2)
	require.Equal(t, "visit >= 1 AND visit < 4", preds[0])
	require.Equal(t, "visit >= 4", preds[1])
}

func TestQuery_TooFewValues(t *testing.T) {
	q := Query{Butler: fakeButler{ids: []int64{1}}, Field: "visit", MinGroups: 3}
	_, err := q.Split(context.Background())
	require.Error(t, err)
}

func TestQuery_MaxSize(t *testing.T) {
	q := Query{
		Butler:    fakeButler{ids: []int64{1, 2, 3, 4, 5, 6}},
		Field:     "visit",
		MinGroups: 1,
		MaxSize:   2,
	}
	preds, err := q.Split(context.Background())
	require.NoError(t, err)
	require.Len(t, preds, 3)
}
