// Package db provides PostgreSQL LISTEN/NOTIFY support for real-time event
// streaming: a reconnecting Listener that subscribes to one NOTIFY channel
// and dispatches each payload to registered handlers.
package db

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationHandler is called with the raw payload of a NOTIFY message.
type NotificationHandler func(payload string)

// Listener subscribes to a PostgreSQL NOTIFY channel and dispatches the raw
// payload of every notification to its registered handlers. It does not
// interpret the payload — callers decide whether it's a full JSON document
// or just a pointer that triggers a re-query (activitylog.Tailer does the
// latter, since NOTIFY payloads are capped at 8000 bytes by Postgres and an
// activity log entry's detail/metadata can exceed that).
type Listener struct {
	pool        *pgxpool.Pool
	channel     string
	handlers    []NotificationHandler
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	running     bool
}

// NewListener creates a new PostgreSQL LISTEN subscriber for channel.
func NewListener(pool *pgxpool.Pool, channel string) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		pool:    pool,
		channel: channel,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// OnNotification registers a handler invoked for every notification.
func (l *Listener) OnNotification(handler NotificationHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, handler)
}

// Start begins listening for notifications in a background goroutine.
func (l *Listener) Start() error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = true
	l.mu.Unlock()

	go l.listenLoop()
	return nil
}

// Stop ends the listen loop.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return
	}
	l.running = false
	l.cancel()
}

// listenLoop maintains the LISTEN connection with reconnection support.
func (l *Listener) listenLoop() {
	for {
		select {
		case <-l.ctx.Done():
			return
		default:
			if err := l.listen(); err != nil {
				log.Printf("[db.Listener] channel %s: %v, reconnecting in 1s", l.channel, err)
				select {
				case <-l.ctx.Done():
					return
				case <-time.After(time.Second):
					continue
				}
			}
		}
	}
}

// listen establishes a LISTEN connection and dispatches notifications until
// the connection errors or ctx is cancelled.
func (l *Listener) listen() error {
	conn, err := l.pool.Acquire(l.ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(l.ctx, fmt.Sprintf("LISTEN %s", l.channel)); err != nil {
		return fmt.Errorf("failed to start LISTEN: %w", err)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(l.ctx)
		if err != nil {
			return fmt.Errorf("notification wait error: %w", err)
		}
		l.dispatch(notification.Payload)
	}
}

func (l *Listener) dispatch(payload string) {
	l.mu.RLock()
	handlers := make([]NotificationHandler, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.RUnlock()

	for _, handler := range handlers {
		go handler(payload)
	}
}
