//go:build integration

package activitylog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testingcontainers "cm.lsst.io/containers/testing"
	"cm.lsst.io/model"
	"cm.lsst.io/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	connStr, cleanup, err := testingcontainers.SetupPostgres(ctx, t, nil)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	s, err := store.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(ctx))
	return s
}

// TestWriterAppendNotifiesTailer grounds §4.5's real-time delivery: an
// entry appended through Writer (which NOTIFYs activity_log_v2 inside the
// same statement, via store.AppendActivityLog) reaches a concurrently
// running Tailer.Tail without the tailer having to poll on a fixed
// interval.
func TestWriterAppendNotifiesTailer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	log := logrus.NewEntry(logrus.New())

	namespace := uuid.New()
	tailer := NewTailer(s, s.Pool(), log)
	received := make(chan *model.ActivityLog, 1)
	tailCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go tailer.Tail(tailCtx, namespace, func(e *model.ActivityLog) { received <- e })

	time.Sleep(100 * time.Millisecond) // let the LISTEN connection establish

	writer := NewWriter(s)
	entry := &model.ActivityLog{ID: uuid.New(), Namespace: namespace, FromStatus: model.StatusWaiting, ToStatus: model.StatusRunning}
	require.NoError(t, writer.Append(ctx, entry))

	select {
	case got := <-received:
		assert.Equal(t, entry.ID, got.ID)
		assert.Equal(t, model.StatusRunning, got.ToStatus)
	case <-time.After(5 * time.Second):
		t.Fatal("tailer did not receive notified entry")
	}
}

// TestWriterAppendIgnoresOtherNamespaces confirms the tailer's client-side
// namespace filter: an entry written for a different namespace does not
// wake up a tailer watching namespace.
func TestWriterAppendIgnoresOtherNamespaces(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	log := logrus.NewEntry(logrus.New())

	namespace := uuid.New()
	other := uuid.New()
	tailer := NewTailer(s, s.Pool(), log)
	received := make(chan *model.ActivityLog, 1)
	tailCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go tailer.Tail(tailCtx, namespace, func(e *model.ActivityLog) { received <- e })

	time.Sleep(100 * time.Millisecond)

	writer := NewWriter(s)
	entry := &model.ActivityLog{ID: uuid.New(), Namespace: other, FromStatus: model.StatusWaiting, ToStatus: model.StatusRunning}
	require.NoError(t, writer.Append(ctx, entry))

	select {
	case <-received:
		t.Fatal("tailer watching a different namespace should not have received this entry")
	case <-time.After(500 * time.Millisecond):
	}
}
