package scheduler

import (
	"context"
	"log/slog"
	"sync"
)

const cursorNamespace = "briefing_cursor"

// CursorStore persists cursor dates. *opstate.Store satisfies it.
type CursorStore interface {
	Get(ctx context.Context, namespace, key string) (string, error)
	Set(ctx context.Context, namespace, key, value string) error
}

// Cursor remembers, per briefing kind, the local date (YYYY-MM-DD) on
// which the briefing last fired. With a store, dates survive restarts;
// without one they live as long as the Cursor.
type Cursor struct {
	mu     sync.Mutex
	last   map[string]string
	loaded map[string]bool
	store  CursorStore
	logger *slog.Logger
}

// NewCursor creates a cursor. store may be nil.
func NewCursor(store CursorStore, logger *slog.Logger) *Cursor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cursor{
		last:   make(map[string]string),
		loaded: make(map[string]bool),
		store:  store,
		logger: logger,
	}
}

// Fired reports whether kind already fired on date.
func (c *Cursor) Fired(ctx context.Context, kind, date string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store != nil && !c.loaded[kind] {
		v, err := c.store.Get(ctx, cursorNamespace, kind)
		if err != nil {
			c.logger.Warn("failed to load briefing cursor", "kind", kind, "error", err)
		} else {
			c.loaded[kind] = true
			if v != "" {
				c.last[kind] = v
			}
		}
	}
	return c.last[kind] == date
}

// Advance records that kind fired on date. Persistence failures are
// logged; the in-memory value still advances.
func (c *Cursor) Advance(ctx context.Context, kind, date string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.last[kind] = date
	if c.store == nil {
		return
	}
	if err := c.store.Set(ctx, cursorNamespace, kind, date); err != nil {
		c.logger.Warn("failed to persist briefing cursor", "kind", kind, "date", date, "error", err)
	}
}
