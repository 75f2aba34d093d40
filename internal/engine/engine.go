// Package engine owns the HUD tick: it drains work handed in from other
// goroutines, evaluates the HUD and popups for every player, and closes the
// tick's update cycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/Ruskei/BetterHud/internal/color"
	"github.com/Ruskei/BetterHud/internal/component"
	"github.com/Ruskei/BetterHud/internal/dispatch"
	"github.com/Ruskei/BetterHud/internal/listener"
	"github.com/Ruskei/BetterHud/internal/placeholder"
	"github.com/Ruskei/BetterHud/internal/placeholder/async"
	"github.com/Ruskei/BetterHud/internal/popup"
	"github.com/Ruskei/BetterHud/internal/sched"
	"github.com/Ruskei/BetterHud/internal/state"
	"github.com/Ruskei/BetterHud/internal/telemetry"
	"github.com/Ruskei/BetterHud/internal/update"
	"github.com/Ruskei/BetterHud/logging"
	"github.com/Ruskei/BetterHud/logging/lifecycle"
	"github.com/Ruskei/BetterHud/logging/pipeline"
)

const (
	ticksMetricKey         = "engine_ticks_total"
	playersMetricKey       = "engine_players"
	domainEventsMetricKey  = "engine_domain_events_total"
	popupRequestsMetricKey = "engine_popup_requests_total"
	inboxRejectedMetricKey = "engine_inbox_rejected_total"

	defaultInboxCapacity = 1024
)

var (
	ErrInboxFull     = errors.New("engine: inbox full")
	ErrUnknownPlayer = errors.New("engine: unknown player")
)

// Config describes what the engine renders.
type Config struct {
	TickRate      int
	Workers       int
	InboxCapacity int
	Policy        color.Policy
	Listeners     map[string]listener.Config
	Layouts       []component.Layout
	Popups        []popup.Definition
}

// Deps are the engine's collaborators. Registry is required; Store is
// created when nil.
type Deps struct {
	Registry  *placeholder.Registry
	Store     *state.Store
	Async     *async.Resolver
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
}

// Engine is safe for concurrent Submit, ShowPopup, Join, Leave and Frame
// calls. Step must only be called from the loop goroutine.
type Engine struct {
	tick atomic.Uint64

	store      *state.Store
	inbox      *dispatch.Inbox
	dispatcher *dispatch.Dispatcher
	cache      *listener.Cache
	hud        *sched.Group
	popups     *popup.Manager
	async      *async.Resolver

	publisher logging.Publisher
	metrics   telemetry.Metrics
}

// New validates the configuration and binds every placeholder. The registry
// is sealed: later registrations fail.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Registry == nil {
		return nil, errors.New("engine: registry is required")
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = sched.DefaultTickRate
	}
	if cfg.InboxCapacity <= 0 {
		cfg.InboxCapacity = defaultInboxCapacity
	}
	publisher := logging.OrNop(deps.Publisher)
	metrics := telemetry.OrNop(deps.Metrics)

	ids := make([]string, 0, len(cfg.Listeners))
	for id := range cfg.Listeners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		l := cfg.Listeners[id]
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("engine: listener %q: %w", id, err)
		}
		for _, warning := range l.Warnings() {
			pipeline.ListenerConfigWarning(context.Background(), publisher, pipeline.ListenerConfigWarningPayload{
				Listener: id,
				Warning:  warning,
			})
		}
	}

	deps.Registry.Seal()
	store := deps.Store
	if store == nil {
		store = state.NewStore()
	}
	dispatcher := dispatch.New(publisher, metrics)
	cache := listener.NewCache(cfg.TickRate, listener.WithPublisher(publisher), listener.WithMetrics(metrics))
	groupDeps := sched.GroupDeps{
		Registry:   deps.Registry,
		Dispatcher: dispatcher,
		Sampler:    cache,
		Publisher:  publisher,
		Metrics:    metrics,
	}
	template := sched.GroupConfig{
		Policy:    cfg.Policy,
		Listeners: cfg.Listeners,
		Workers:   cfg.Workers,
	}

	hudCfg := template
	hudCfg.Name = "hud"
	hudCfg.Layouts = cfg.Layouts
	hud, err := sched.NewGroup(hudCfg, groupDeps)
	if err != nil {
		return nil, err
	}
	popups, err := popup.NewManager(cfg.Popups, template, groupDeps)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		store:      store,
		inbox:      dispatch.NewInbox(cfg.InboxCapacity, metrics),
		dispatcher: dispatcher,
		cache:      cache,
		hud:        hud,
		popups:     popups,
		async:      deps.Async,
		publisher:  publisher,
		metrics:    metrics,
	}
	for _, p := range store.Snapshots() {
		cache.Join(p.ID)
	}
	return e, nil
}

// Tick reports the last completed tick.
func (e *Engine) Tick() uint64 { return e.tick.Load() }

func (e *Engine) Store() *state.Store { return e.store }

// Pending reports requests waiting for the next tick.
func (e *Engine) Pending() int { return e.inbox.Len() }

// Submit queues a domain event for the next tick and returns the update
// event that will carry it.
func (e *Engine) Submit(domain update.DomainEvent) (update.Event, error) {
	if domain.Payload == nil {
		return update.Event{}, errors.New("engine: domain event without payload")
	}
	event := update.NewDomain(domain)
	if !e.inbox.Push(dispatch.Request{Event: event}) {
		e.metrics.Add(inboxRejectedMetricKey, 1)
		return update.Event{}, ErrInboxFull
	}
	return event, nil
}

// ShowPopup queues a popup for player. The event must carry a popup trigger
// naming a configured popup. A zero duration uses the popup's default.
func (e *Engine) ShowPopup(event update.Event, player string, durationTicks uint64) error {
	trigger, ok := event.Source().(update.PopupTrigger)
	if !ok {
		return fmt.Errorf("%w: %s", popup.ErrNotPopupEvent, event)
	}
	if _, ok := e.popups.Definition(trigger.Popup); !ok {
		return fmt.Errorf("%w %q", popup.ErrUnknownPopup, trigger.Popup)
	}
	if _, ok := e.store.Get(player); !ok {
		return fmt.Errorf("%w %q", ErrUnknownPlayer, player)
	}
	if !e.inbox.Push(dispatch.Request{Event: event, Player: player, DurationTicks: durationTicks}) {
		e.metrics.Add(inboxRejectedMetricKey, 1)
		return ErrInboxFull
	}
	return nil
}

// Join registers a player and allocates its listener slot.
func (e *Engine) Join(ctx context.Context, id, name string) (state.Snapshot, bool) {
	snapshot, added := e.store.Join(id, name)
	if !added {
		return snapshot, false
	}
	e.cache.Join(id)
	e.metrics.Store(playersMetricKey, uint64(e.store.Len()))
	lifecycle.PlayerJoined(ctx, e.publisher, e.Tick(), id, lifecycle.PlayerPayload{Name: snapshot.Name})
	return snapshot, true
}

// Leave removes a player and releases everything held for it.
func (e *Engine) Leave(ctx context.Context, id string) bool {
	snapshot, ok := e.store.Get(id)
	if !ok || !e.store.Leave(id) {
		return false
	}
	e.cache.Leave(id)
	e.hud.Forget(id)
	e.popups.Leave(id)
	if e.async != nil {
		e.async.Forget(id)
	}
	e.metrics.Store(playersMetricKey, uint64(e.store.Len()))
	lifecycle.PlayerLeft(ctx, e.publisher, e.Tick(), id, lifecycle.PlayerPayload{Name: snapshot.Name})
	return true
}

// Frame returns what player currently sees.
func (e *Engine) Frame(player string) (component.Frame, bool) {
	if _, ok := e.store.Get(player); !ok {
		return component.Frame{}, false
	}
	return component.Frame{
		Player: player,
		Tick:   e.Tick(),
		Views:  e.hud.View(player),
		Popups: e.popups.Views(player),
	}, true
}

// Advance runs the next tick. It is the manual counterpart of the loop.
func (e *Engine) Advance(ctx context.Context) sched.LoopStepResult {
	return e.Step(ctx, sched.LoopTickContext{Tick: e.Tick() + 1, Now: time.Now()})
}

// Step implements sched.Stepper. Ticks never move backwards: a stale tick
// number is replaced with the next one.
func (e *Engine) Step(ctx context.Context, tc sched.LoopTickContext) sched.LoopStepResult {
	tick := tc.Tick
	if last := e.tick.Load(); tick <= last {
		tick = last + 1
	}

	if e.async != nil {
		e.async.Drain()
	}

	var errs []error
	for _, req := range e.inbox.Drain() {
		if err := e.handle(ctx, tick, req); err != nil {
			errs = append(errs, err)
		}
	}

	players := e.store.Snapshots()
	if err := e.hud.Tick(ctx, tick, players); err != nil {
		errs = append(errs, err)
	}
	if err := e.popups.Tick(ctx, tick, players); err != nil {
		errs = append(errs, err)
	}
	e.dispatcher.Release(update.TickKey(tick))

	e.tick.Store(tick)
	e.metrics.Add(ticksMetricKey, 1)
	return sched.LoopStepResult{Tick: tick, Players: len(players), Err: errors.Join(errs...)}
}

func (e *Engine) handle(ctx context.Context, tick uint64, req dispatch.Request) error {
	defer e.dispatcher.Release(req.Event.Key())
	switch src := req.Event.Source().(type) {
	case update.DomainEvent:
		e.metrics.Add(domainEventsMetricKey, 1)
		return e.applyDomain(ctx, tick, req.Event, src)
	case update.PopupTrigger:
		e.metrics.Add(popupRequestsMetricKey, 1)
		player, ok := e.store.Get(req.Player)
		if !ok {
			return nil
		}
		return e.popups.Show(ctx, tick, req.Event, player, req.DurationTicks)
	default:
		return fmt.Errorf("engine: unexpected request %s", req.Event)
	}
}

func (e *Engine) applyDomain(ctx context.Context, tick uint64, event update.Event, domain update.DomainEvent) error {
	e.store.Apply(domain)

	var targets []state.Snapshot
	for _, p := range e.store.Snapshots() {
		if domain.Targets(p.ID) {
			targets = append(targets, p)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	kind := domain.EventKind()
	var errs []error
	e.hud.Trigger(event, kind, targets)
	for _, id := range e.popups.Triggered(kind) {
		cause := domain
		for _, p := range targets {
			if err := e.popups.Show(ctx, tick, update.NewPopup(id, &cause), p, 0); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RunSweeper evicts expired listener entries until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	e.cache.RunSweeper(ctx, interval, e.Tick)
}

// Diagnostics summarises engine state for operators.
type Diagnostics struct {
	Tick          uint64 `json:"tick"`
	Players       int    `json:"players"`
	Pending       int    `json:"pending"`
	PendingDomain int    `json:"pendingDomain"`
	PendingPopups int    `json:"pendingPopups"`
	InboxPeak     int    `json:"inboxPeak"`
	ListenerCache int    `json:"listenerCacheEntries"`
	OpenCycles    int    `json:"openCycles"`
	HUDComponents int    `json:"hudComponents"`
}

func (e *Engine) Diagnostics() Diagnostics {
	inbox := e.inbox.Stats()
	return Diagnostics{
		Tick:          e.Tick(),
		Players:       e.store.Len(),
		Pending:       inbox.Pending,
		PendingDomain: inbox.Domain,
		PendingPopups: inbox.Popups,
		InboxPeak:     inbox.Peak,
		ListenerCache: e.cache.Len(),
		OpenCycles:    e.dispatcher.Active(),
		HUDComponents: e.hud.Len(),
	}
}
