// Package activitylog implements the durable audit trail (§3, §9 "Activity
// log as the single audit channel"): every attempted node/campaign
// transition is appended to Postgres, which also NOTIFYs the
// activity_log_v2 channel in the same statement (store.AppendActivityLog),
// so a CLI `logs tail` or web UI can watch activity in real time without
// polling the table on an interval. It is grounded on db.Listener's
// reconnect-loop shape; Redis is deliberately not involved here — §4.5
// reserves Redis for the advisory configuration-chain cache
// (store.CachingStore), not for this durable, ordered audit stream.
package activitylog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"cm.lsst.io/db"
	"cm.lsst.io/model"
)

// activityLogChannel must match store.activityLogChannel; kept as an
// unexported duplicate constant here rather than an import of store, to
// avoid a dependency cycle (store will eventually depend on the node/
// campaign packages that sit below activitylog).
const activityLogChannel = "activity_log_v2"

// Store is the narrow persistence boundary this package needs; store.Store
// satisfies it.
type Store interface {
	AppendActivityLog(ctx context.Context, entry *model.ActivityLog) error
	TailActivityLog(ctx context.Context, namespace uuid.UUID, since time.Time, limit int) ([]*model.ActivityLog, error)
}

// Writer appends ActivityLog entries durably. The NOTIFY that wakes up
// Tailers happens inside Store.AppendActivityLog, atomically with the
// insert, so there is nothing left for Writer to do beyond the write
// itself.
type Writer struct {
	Store Store
}

func NewWriter(store Store) *Writer {
	return &Writer{Store: store}
}

// Append records entry. entry.ID and entry.CreatedAt are left for the
// store to stamp if zero.
func (w *Writer) Append(ctx context.Context, entry *model.ActivityLog) error {
	return w.Store.AppendActivityLog(ctx, entry)
}

// Tailer watches a namespace's ActivityLog entries in real time. Since a
// Postgres NOTIFY payload can't safely carry a full entry (detail/metadata
// easily exceed the 8000-byte NOTIFY payload cap), every notification on
// activityLogChannel — for any namespace — triggers a re-query of this
// namespace's log past the last cursor seen; the notification itself is
// just a wakeup, not the data.
type Tailer struct {
	Store    Store
	Listener *db.Listener
	Log      *logrus.Entry
}

// NewTailer builds a Tailer over pool's connection, LISTENing on
// activityLogChannel.
func NewTailer(store Store, pool *pgxpool.Pool, log *logrus.Entry) *Tailer {
	return &Tailer{Store: store, Listener: db.NewListener(pool, activityLogChannel), Log: log}
}

// Tail invokes onEntry for every ActivityLog appended to namespace since
// Tail was called, until ctx is cancelled. It polls once immediately (to
// pick up entries that landed between construction and the first NOTIFY)
// and again on every channel notification.
func (t *Tailer) Tail(ctx context.Context, namespace uuid.UUID, onEntry func(*model.ActivityLog)) error {
	if err := t.Listener.Start(); err != nil {
		return err
	}
	defer t.Listener.Stop()

	since := time.Now().Add(-time.Second)
	wake := make(chan struct{}, 1)
	t.Listener.OnNotification(func(string) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})

	drain := func() {
		entries, err := t.Store.TailActivityLog(ctx, namespace, since, 500)
		if err != nil {
			if t.Log != nil {
				t.Log.WithContext(ctx).WithError(err).Warn("activitylog: tail query failed")
			}
			return
		}
		for _, e := range entries {
			onEntry(e)
			if e.CreatedAt.After(since) {
				since = e.CreatedAt
			}
		}
	}

	drain()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-wake:
			drain()
		}
	}
}
