// Package clock provides the central time source. Every component that
// needs "now" takes a *clock.Clock rather than calling time.Now directly,
// so historical replay can drive the whole process deterministically.
package clock

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel-core/internal/external"
)

const (
	keyVirtualEnabled = "virtual_time:enabled"
	keyVirtualCurrent = "virtual_time:current"
)

// Clock is the process-global time source. A nil store disables external
// synchronization; Now/SetVirtual/ClearVirtual then operate purely on
// in-process state.
type Clock struct {
	log   zerolog.Logger
	store external.KeyValueStore

	mu      sync.RWMutex
	virtual bool
	current time.Time
}

// New creates a Clock. store may be nil to disable cross-process sync.
func New(log zerolog.Logger, store external.KeyValueStore) *Clock {
	return &Clock{
		log:   log.With().Str("component", "clock").Logger(),
		store: store,
	}
}

// Now returns the current virtual instant if virtual mode is active,
// otherwise the real wall clock. When backed by a KeyValueStore, this
// performs at most two reads.
func (c *Clock) Now(ctx context.Context) time.Time {
	if c.store != nil {
		if t, virtual, ok := c.readStore(ctx); ok {
			if virtual {
				return t
			}
			return time.Now()
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.virtual {
		return c.current
	}
	return time.Now()
}

// IsVirtual reports whether the clock is currently in virtual mode.
func (c *Clock) IsVirtual(ctx context.Context) bool {
	if c.store != nil {
		if _, virtual, ok := c.readStore(ctx); ok {
			return virtual
		}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.virtual
}

// SetVirtual switches the clock into virtual mode pinned at t.
func (c *Clock) SetVirtual(ctx context.Context, t time.Time) error {
	c.mu.Lock()
	c.virtual = true
	c.current = t
	c.mu.Unlock()

	return c.writeStore(ctx, true, t)
}

// ClearVirtual returns the clock to real wall-clock time.
func (c *Clock) ClearVirtual(ctx context.Context) error {
	c.mu.Lock()
	c.virtual = false
	c.mu.Unlock()

	return c.writeStore(ctx, false, time.Time{})
}

// Advance moves the virtual clock forward by d. It is a no-op (and logs a
// warning) when the clock is not in virtual mode.
func (c *Clock) Advance(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	if !c.virtual {
		c.mu.Unlock()
		c.log.Warn().Msg("advance called while clock is not virtual")
		return nil
	}
	c.current = c.current.Add(d)
	next := c.current
	c.mu.Unlock()

	return c.writeStore(ctx, true, next)
}

func (c *Clock) readStore(ctx context.Context) (t time.Time, virtual bool, ok bool) {
	enabledStr, exists, err := c.store.Get(ctx, keyVirtualEnabled)
	if err != nil || !exists {
		return time.Time{}, false, false
	}
	enabled, err := strconv.ParseBool(enabledStr)
	if err != nil || !enabled {
		return time.Time{}, false, true
	}

	currentStr, exists, err := c.store.Get(ctx, keyVirtualCurrent)
	if err != nil || !exists {
		return time.Time{}, false, false
	}
	unixNano, err := strconv.ParseInt(currentStr, 10, 64)
	if err != nil {
		return time.Time{}, false, false
	}
	return time.Unix(0, unixNano), true, true
}

func (c *Clock) writeStore(ctx context.Context, virtual bool, t time.Time) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Set(ctx, keyVirtualEnabled, strconv.FormatBool(virtual), 0); err != nil {
		return err
	}
	if !virtual {
		return nil
	}
	return c.store.Set(ctx, keyVirtualCurrent, strconv.FormatInt(t.UnixNano(), 10), 0)
}
