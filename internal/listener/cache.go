// Package listener implements the lazy listener cache: exponentially smoothed
// numeric values keyed by (listener, player) with bounded staleness.
package listener

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Ruskei/BetterHud/internal/placeholder"
	"github.com/Ruskei/BetterHud/internal/telemetry"
	"github.com/Ruskei/BetterHud/logging"
	"github.com/Ruskei/BetterHud/logging/pipeline"
)

// ErrNoSlot is returned when sampling for a player that has not joined.
var ErrNoSlot = errors.New("listener: player has no cache slot")

// Entry is the cached state of one (listener, player) key.
type Entry struct {
	Smoothed       float64
	FirstTick      uint64
	LastUpdateTick uint64
	LastAccessTick uint64
	ExpiresAtTick  uint64
	Updates        uint64
}

// stale reports whether more than window ticks passed since the last
// smoothing update. The delay warm-up does not count towards it.
func (e *Entry) stale(tick, window, delay uint64) bool {
	since := max(e.LastUpdateTick, e.FirstTick+delay)
	return tick > since && tick-since > window
}

// slot holds every entry of one player. The scheduler owns a player's slice
// of work during a tick; the mutex only orders it against the sweeper.
type slot struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// Cache is the per-player arena of listener entries.
type Cache struct {
	ticksPerSecond int

	mu    sync.RWMutex
	slots map[string]*slot

	publisher logging.Publisher
	metrics   telemetry.Metrics
}

// Option configures a Cache.
type Option func(*Cache)

func WithPublisher(p logging.Publisher) Option {
	return func(c *Cache) { c.publisher = logging.OrNop(p) }
}

func WithMetrics(m telemetry.Metrics) Option {
	return func(c *Cache) { c.metrics = telemetry.OrNop(m) }
}

// NewCache builds a cache for a loop running at ticksPerSecond.
func NewCache(ticksPerSecond int, opts ...Option) *Cache {
	if ticksPerSecond <= 0 {
		ticksPerSecond = 20
	}
	c := &Cache{
		ticksPerSecond: ticksPerSecond,
		slots:          make(map[string]*slot),
		publisher:      logging.NopPublisher(),
		metrics:        telemetry.OrNop(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Join allocates the player's slot. Joining twice keeps the existing slot.
func (c *Cache) Join(player string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.slots[player]; !ok {
		c.slots[player] = &slot{entries: make(map[string]*Entry)}
	}
}

// Leave releases the player's slot and every entry in it.
func (c *Cache) Leave(player string) {
	c.mu.Lock()
	delete(c.slots, player)
	c.mu.Unlock()
}

func (c *Cache) slot(player string) *slot {
	c.mu.RLock()
	s := c.slots[player]
	c.mu.RUnlock()
	return s
}

// Sample returns the listener's value for player at tick. For lazy configs
// it creates, resets, or smooths the cached entry, calling actual only when
// a smoothing update is due. Non-lazy configs return actual directly.
//
// An async placeholder that is not ready yet leaves the smoothed value in
// place and is not reported as an error. Accesses alone do not keep an entry
// fresh: once no update landed for the expiry window, the next access resets
// it to the initial value.
func (c *Cache) Sample(listenerID string, cfg Config, player string, tick uint64, actual func() (float64, error)) (float64, error) {
	if !cfg.Lazy {
		return actual()
	}
	s := c.slot(player)
	if s == nil {
		return 0, ErrNoSlot
	}
	window := cfg.window(c.ticksPerSecond)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[listenerID]
	switch {
	case !ok:
		e = &Entry{Smoothed: cfg.InitialValue, FirstTick: tick, LastUpdateTick: tick, LastAccessTick: tick}
		s.entries[listenerID] = e
		c.metrics.Add("listener_entries_created_total", 1)
	case tick < e.LastAccessTick:
		return e.Smoothed, nil
	case e.stale(tick, window, uint64(cfg.DelayTicks)):
		*e = Entry{
			Smoothed:       cfg.InitialValue,
			FirstTick:      tick,
			LastUpdateTick: tick,
			LastAccessTick: tick,
			ExpiresAtTick:  tick + window,
		}
		c.metrics.Add("listener_entries_reset_total", 1)
		return e.Smoothed, nil
	}

	e.LastAccessTick = tick
	e.ExpiresAtTick = tick + window

	if tick-e.FirstTick < uint64(cfg.DelayTicks) {
		return e.Smoothed, nil
	}
	if e.Updates > 0 && e.LastUpdateTick == tick {
		return e.Smoothed, nil
	}

	a, err := actual()
	if err != nil {
		if errors.Is(err, placeholder.ErrNotReady) {
			return e.Smoothed, nil
		}
		return e.Smoothed, err
	}
	e.Smoothed = e.Smoothed*(1-cfg.Multiplier) + a*cfg.Multiplier
	e.LastUpdateTick = tick
	e.Updates++
	return e.Smoothed, nil
}

// Entry returns a copy of the cached entry.
func (c *Cache) Entry(listenerID, player string) (Entry, bool) {
	s := c.slot(player)
	if s == nil {
		return Entry{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[listenerID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len counts entries across all slots.
func (c *Cache) Len() int {
	c.mu.RLock()
	slots := make([]*slot, 0, len(c.slots))
	for _, s := range c.slots {
		slots = append(slots, s)
	}
	c.mu.RUnlock()

	total := 0
	for _, s := range slots {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}

// Players lists players with an allocated slot.
func (c *Cache) Players() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	players := make([]string, 0, len(c.slots))
	for id := range c.slots {
		players = append(players, id)
	}
	sort.Strings(players)
	return players
}

// Sweep evicts entries whose expiry tick has passed and returns how many were
// removed.
func (c *Cache) Sweep(tick uint64) int {
	c.mu.RLock()
	slots := make([]*slot, 0, len(c.slots))
	for _, s := range c.slots {
		slots = append(slots, s)
	}
	c.mu.RUnlock()

	evicted := 0
	for _, s := range slots {
		s.mu.Lock()
		for id, e := range s.entries {
			if tick > e.ExpiresAtTick {
				delete(s.entries, id)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	if evicted > 0 {
		c.metrics.Add("listener_entries_evicted_total", uint64(evicted))
	}
	return evicted
}

// RunSweeper sweeps every interval until ctx is done. now reports the
// current tick.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration, now func() uint64) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick := now()
			evicted := c.Sweep(tick)
			if evicted == 0 {
				continue
			}
			pipeline.CacheSwept(ctx, c.publisher, tick, pipeline.CacheSweptPayload{
				Evicted:   evicted,
				Remaining: c.Len(),
			})
		}
	}
}
