// Package async backs placeholders whose values come from slow sources. The
// tick path polls per-(player, key) slots without blocking while a worker
// pool fills them through a results queue.
package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Ruskei/BetterHud/internal/placeholder"
	"github.com/Ruskei/BetterHud/internal/state"
	"github.com/Ruskei/BetterHud/internal/telemetry"
	"github.com/Ruskei/BetterHud/internal/update"
	"github.com/Ruskei/BetterHud/internal/value"
	"github.com/Ruskei/BetterHud/logging"
)

const (
	requestsMetricKey = "async_requests_total"
	droppedMetricKey  = "async_requests_dropped_total"
	failuresMetricKey = "async_fetch_failures_total"
	slotsMetricKey    = "async_slots"
)

// Fetcher loads one value for one player. Implementations may block; they
// run on the worker pool only.
type Fetcher interface {
	Fetch(ctx context.Context, player, key string) (value.Value, error)
}

// FetcherFunc adapts a function into a Fetcher.
type FetcherFunc func(ctx context.Context, player, key string) (value.Value, error)

func (f FetcherFunc) Fetch(ctx context.Context, player, key string) (value.Value, error) {
	return f(ctx, player, key)
}

// Config tunes the worker pool.
type Config struct {
	Workers         int
	QueueSize       int
	RefreshInterval time.Duration
	FetchTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:         4,
		QueueSize:       256,
		RefreshInterval: 5 * time.Second,
		FetchTimeout:    2 * time.Second,
	}
}

// Status is the state of a slot.
type Status uint8

const (
	Pending Status = iota
	Ready
	Failed
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

type slotKey struct {
	player string
	key    string
}

type slot struct {
	status    Status
	value     value.Value
	err       error
	updatedAt time.Time
	inflight  bool
}

type result struct {
	slotKey
	value value.Value
	err   error
	at    time.Time
}

// Resolver owns the slots, the job queue and the results queue.
type Resolver struct {
	fetcher Fetcher
	cfg     Config
	clock   logging.Clock
	metrics telemetry.Metrics

	jobs    chan slotKey
	results chan result

	mu    sync.Mutex
	slots map[slotKey]*slot
}

func NewResolver(fetcher Fetcher, cfg Config, clock logging.Clock, metrics telemetry.Metrics) *Resolver {
	defaults := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaults.RefreshInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaults.FetchTimeout
	}
	if clock == nil {
		clock = logging.SystemClock{}
	}
	return &Resolver{
		fetcher: fetcher,
		cfg:     cfg,
		clock:   clock,
		metrics: telemetry.OrNop(metrics),
		jobs:    make(chan slotKey, cfg.QueueSize),
		results: make(chan result, cfg.QueueSize),
		slots:   make(map[slotKey]*slot),
	}
}

// Poll returns the slot's value without blocking. A missing or stale slot is
// queued for a fetch. Until a first value arrives Poll returns
// placeholder.ErrNotReady; a stale Ready value is still returned while the
// refresh is in flight.
func (r *Resolver) Poll(player, key string) (value.Value, error) {
	k := slotKey{player: player, key: key}
	now := r.clock.Now()

	r.mu.Lock()
	s, ok := r.slots[k]
	if !ok {
		s = &slot{}
		r.slots[k] = s
		r.metrics.Store(slotsMetricKey, uint64(len(r.slots)))
	}
	stale := s.status == Pending || now.Sub(s.updatedAt) >= r.cfg.RefreshInterval
	if stale && !s.inflight {
		select {
		case r.jobs <- k:
			s.inflight = true
			r.metrics.Add(requestsMetricKey, 1)
		default:
			r.metrics.Add(droppedMetricKey, 1)
		}
	}
	status, v, err := s.status, s.value, s.err
	r.mu.Unlock()

	switch status {
	case Ready:
		return v, nil
	case Failed:
		return value.Value{}, err
	default:
		return value.Value{}, placeholder.ErrNotReady
	}
}

// Status reports a slot's state.
func (r *Resolver) Status(player, key string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.slots[slotKey{player: player, key: key}]; ok {
		return s.status
	}
	return Pending
}

// Drain moves every queued result into its slot and returns how many were
// applied. The tick loop calls it once per tick before evaluation.
func (r *Resolver) Drain() int {
	applied := 0
	for {
		select {
		case res := <-r.results:
			r.apply(res)
			applied++
		default:
			return applied
		}
	}
}

func (r *Resolver) apply(res result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[res.slotKey]
	if !ok {
		return
	}
	s.inflight = false
	s.updatedAt = res.at
	if res.err != nil {
		r.metrics.Add(failuresMetricKey, 1)
		if s.status == Ready {
			return
		}
		s.status = Failed
		s.err = res.err
		return
	}
	s.status = Ready
	s.value = res.value
	s.err = nil
}

// Forget drops every slot of player.
func (r *Resolver) Forget(player string) {
	r.mu.Lock()
	for k := range r.slots {
		if k.player == player {
			delete(r.slots, k)
		}
	}
	r.metrics.Store(slotsMetricKey, uint64(len(r.slots)))
	r.mu.Unlock()
}

// Run starts the worker pool and blocks until ctx is done.
func (r *Resolver) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Workers; i++ {
		g.Go(func() error {
			r.work(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (r *Resolver) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case k := <-r.jobs:
			res := result{slotKey: k}
			res.value, res.err = r.fetch(ctx, k)
			res.at = r.clock.Now()
			select {
			case r.results <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (r *Resolver) fetch(ctx context.Context, k slotKey) (v value.Value, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("async: fetch %s for %s: panic: %v", k.key, k.player, rec)
		}
	}()
	return r.fetcher.Fetch(ctx, k.player, k.key)
}

// Builder exposes the resolver as a one-argument placeholder. The argument
// names the remote key.
func (r *Resolver) Builder() placeholder.Builder {
	return placeholder.BuilderFunc(func(args placeholder.Args, _ update.Event) (placeholder.Handle, error) {
		key := args[0]
		return placeholder.HandleFunc(func(player state.Snapshot) (value.Value, error) {
			return r.Poll(player.ID, key)
		}), nil
	})
}
