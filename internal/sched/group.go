// Package sched drives per-tick evaluation of component groups and the
// fixed-rate loop that advances the tick.
package sched

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Ruskei/BetterHud/internal/color"
	"github.com/Ruskei/BetterHud/internal/component"
	"github.com/Ruskei/BetterHud/internal/condition"
	"github.com/Ruskei/BetterHud/internal/dispatch"
	"github.com/Ruskei/BetterHud/internal/listener"
	"github.com/Ruskei/BetterHud/internal/placeholder"
	"github.com/Ruskei/BetterHud/internal/state"
	"github.com/Ruskei/BetterHud/internal/telemetry"
	"github.com/Ruskei/BetterHud/internal/update"
	"github.com/Ruskei/BetterHud/logging"
	"github.com/Ruskei/BetterHud/logging/pipeline"
)

const (
	evaluationsMetricKey        = "sched_evaluations_total"
	evaluationFailuresMetricKey = "sched_evaluation_failures_total"
	comparisonMismatchMetricKey = "sched_comparison_mismatch_total"
)

// GroupConfig describes a set of layouts evaluated together.
type GroupConfig struct {
	Name      string
	Layouts   []component.Layout
	Policy    color.Policy
	Listeners map[string]listener.Config
	// Workers bounds how many players are evaluated concurrently. Values
	// below one evaluate players sequentially.
	Workers int
}

// GroupDeps are the shared collaborators of a Group.
type GroupDeps struct {
	Registry   *placeholder.Registry
	Dispatcher *dispatch.Dispatcher
	Sampler    component.Sampler
	Publisher  logging.Publisher
	Metrics    telemetry.Metrics
}

type entry struct {
	index    int
	layout   int
	comp     component.Component
	bindings []placeholder.Binding

	evaluated     bool
	lastEvaluated uint64
}

func (e *entry) due(tick uint64) bool {
	if !e.evaluated {
		return true
	}
	return tick >= e.lastEvaluated && tick-e.lastEvaluated >= e.comp.IntervalTicks()
}

// pendingTrigger is the re-evaluation a player's domain events requested
// since the last Tick.
type pendingTrigger struct {
	event   update.Event
	entries map[int]struct{}
}

// playerJob is one player's share of an evaluation pass.
type playerJob struct {
	player  state.Snapshot
	entries []*entry
}

// Group owns the throttling state of its components and the last rendered
// state per player. Tick, Refresh and Trigger must be called from the tick
// goroutine; View and Forget are safe from any goroutine.
type Group struct {
	name      string
	layouts   []component.Layout
	entries   []*entry
	policy    color.Policy
	listeners map[string]listener.Config
	workers   int

	dispatcher *dispatch.Dispatcher
	sampler    component.Sampler
	publisher  logging.Publisher
	metrics    telemetry.Metrics

	mu        sync.RWMutex
	states    map[string]map[int]component.RenderState
	triggered map[string]*pendingTrigger
}

// NewGroup binds every placeholder reference up front. Unknown placeholders
// and arity mismatches fail here rather than during a tick.
func NewGroup(cfg GroupConfig, deps GroupDeps) (*Group, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("sched: group %q: registry is required", cfg.Name)
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = dispatch.New(deps.Publisher, deps.Metrics)
	}
	g := &Group{
		name:       cfg.Name,
		layouts:    cfg.Layouts,
		policy:     cfg.Policy,
		listeners:  cfg.Listeners,
		workers:    cfg.Workers,
		dispatcher: dispatcher,
		sampler:    deps.Sampler,
		publisher:  logging.OrNop(deps.Publisher),
		metrics:    telemetry.OrNop(deps.Metrics),
		states:     make(map[string]map[int]component.RenderState),
		triggered:  make(map[string]*pendingTrigger),
	}
	for li, layout := range cfg.Layouts {
		for _, comp := range layout.Components {
			if comp.Listener != "" {
				if _, ok := cfg.Listeners[comp.Listener]; !ok {
					return nil, fmt.Errorf("sched: group %q: component %s references unknown listener %q", cfg.Name, component.QualifiedID(layout.ID, comp.ID), comp.Listener)
				}
			}
			bindings, err := component.Bindings(deps.Registry, component.Exprs(layout, comp))
			if err != nil {
				pipeline.RegistrationRejected(context.Background(), g.publisher, pipeline.RegistrationRejectedPayload{
					Placeholder: component.QualifiedID(layout.ID, comp.ID),
					Reason:      err.Error(),
				})
				return nil, fmt.Errorf("sched: group %q: component %s: %w", cfg.Name, component.QualifiedID(layout.ID, comp.ID), err)
			}
			g.entries = append(g.entries, &entry{index: len(g.entries), layout: li, comp: comp, bindings: bindings})
		}
	}
	return g, nil
}

func (g *Group) Name() string { return g.name }

// Len reports the number of components in the group.
func (g *Group) Len() int { return len(g.entries) }

// Tick evaluates the components due at tick for every player, then the
// components domain events marked through Trigger. Every component is
// evaluated at most once per player and tick: a marked component that is
// also due is covered by the periodic pass. Components that are neither keep
// their last state. Players without any state yet get every component
// evaluated.
func (g *Group) Tick(ctx context.Context, tick uint64, players []state.Snapshot) error {
	due := make([]*entry, 0, len(g.entries))
	for _, e := range g.entries {
		if e.due(tick) {
			due = append(due, e)
		}
	}

	var fresh, known []state.Snapshot
	g.mu.Lock()
	for _, p := range players {
		if _, ok := g.states[p.ID]; ok {
			known = append(known, p)
		} else {
			fresh = append(fresh, p)
		}
	}
	var pending map[string]*pendingTrigger
	if len(g.triggered) > 0 {
		pending = g.triggered
		g.triggered = make(map[string]*pendingTrigger)
	}
	g.mu.Unlock()

	if len(due) > 0 || len(fresh) > 0 {
		event := update.NewTick(tick)
		targets := due
		if len(fresh) > 0 {
			targets = g.entries
		}
		cycle := g.dispatcher.Dispatch(ctx, tick, event, unionBindings(targets))

		if err := g.evaluate(ctx, tick, cycle, due, known); err != nil {
			return err
		}
		if err := g.evaluate(ctx, tick, cycle, g.entries, fresh); err != nil {
			return err
		}
	}
	if err := g.evaluateTriggered(ctx, tick, pending, known, due); err != nil {
		return err
	}
	for _, e := range due {
		e.evaluated = true
		e.lastEvaluated = tick
	}
	return nil
}

// Refresh evaluates every component for players under event, outside the
// periodic schedule, and restarts each component's interval at tick.
func (g *Group) Refresh(ctx context.Context, tick uint64, event update.Event, players []state.Snapshot) error {
	cycle := g.dispatcher.Dispatch(ctx, tick, event, unionBindings(g.entries))
	if err := g.evaluate(ctx, tick, cycle, g.entries, players); err != nil {
		return err
	}
	for _, e := range g.entries {
		e.evaluated = true
		e.lastEvaluated = tick
	}
	return nil
}

// Trigger marks the components listening for kind for re-evaluation under
// event on the next Tick. Players the group has never rendered are skipped;
// their first Tick covers every component. When several events mark the same
// player before a Tick, the latest one builds the re-evaluation. Throttling
// state is left untouched. It returns how many components listen for kind.
func (g *Group) Trigger(event update.Event, kind string, players []state.Snapshot) int {
	var triggered []*entry
	for _, e := range g.entries {
		if e.comp.TriggeredBy(kind) {
			triggered = append(triggered, e)
		}
	}
	if len(triggered) == 0 {
		return 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range players {
		if _, ok := g.states[p.ID]; !ok {
			continue
		}
		pending, ok := g.triggered[p.ID]
		if !ok {
			pending = &pendingTrigger{entries: make(map[int]struct{}, len(triggered))}
			g.triggered[p.ID] = pending
		}
		pending.event = event
		for _, e := range triggered {
			pending.entries[e.index] = struct{}{}
		}
	}
	return len(triggered)
}

// evaluateTriggered runs the marked components the periodic pass did not
// cover, building once per triggering event.
func (g *Group) evaluateTriggered(ctx context.Context, tick uint64, pending map[string]*pendingTrigger, players []state.Snapshot, covered []*entry) error {
	if len(pending) == 0 {
		return nil
	}
	done := make(map[int]struct{}, len(covered))
	for _, e := range covered {
		done[e.index] = struct{}{}
	}

	type batch struct {
		event update.Event
		jobs  []playerJob
	}
	var batches []*batch
	byKey := make(map[update.Key]*batch)
	for _, p := range players {
		marked, ok := pending[p.ID]
		if !ok {
			continue
		}
		var entries []*entry
		for _, e := range g.entries {
			if _, ok := marked.entries[e.index]; !ok {
				continue
			}
			if _, ok := done[e.index]; ok {
				continue
			}
			entries = append(entries, e)
		}
		if len(entries) == 0 {
			continue
		}
		b, ok := byKey[marked.event.Key()]
		if !ok {
			b = &batch{event: marked.event}
			byKey[marked.event.Key()] = b
			batches = append(batches, b)
		}
		b.jobs = append(b.jobs, playerJob{player: p, entries: entries})
	}

	for _, b := range batches {
		var all []*entry
		for _, job := range b.jobs {
			all = append(all, job.entries...)
		}
		cycle := g.dispatcher.Dispatch(ctx, tick, b.event, unionBindings(all))
		err := g.run(ctx, tick, cycle, b.jobs)
		g.dispatcher.Release(b.event.Key())
		if err != nil {
			return err
		}
	}
	return nil
}

func (g *Group) evaluate(ctx context.Context, tick uint64, cycle *dispatch.Cycle, entries []*entry, players []state.Snapshot) error {
	if len(entries) == 0 || len(players) == 0 {
		return nil
	}
	jobs := make([]playerJob, 0, len(players))
	for _, p := range players {
		jobs = append(jobs, playerJob{player: p, entries: entries})
	}
	return g.run(ctx, tick, cycle, jobs)
}

// run evaluates each job on the worker pool. Players are independent.
func (g *Group) run(ctx context.Context, tick uint64, cycle *dispatch.Cycle, jobs []playerJob) error {
	if len(jobs) == 0 {
		return nil
	}
	eg, egctx := errgroup.WithContext(ctx)
	if g.workers > 0 {
		eg.SetLimit(g.workers)
	} else {
		eg.SetLimit(1)
	}
	for _, job := range jobs {
		job := job
		eg.Go(func() error {
			if err := egctx.Err(); err != nil {
				return err
			}
			g.evaluatePlayer(egctx, tick, cycle, job.entries, job.player)
			return nil
		})
	}
	return eg.Wait()
}

func (g *Group) evaluatePlayer(ctx context.Context, tick uint64, cycle *dispatch.Cycle, entries []*entry, player state.Snapshot) {
	resolver := cycle.Resolver(player)
	previous := g.snapshotStates(player.ID)
	next := make(map[int]component.RenderState, len(entries))
	env := component.Env{
		Tick:      tick,
		Player:    player.ID,
		Policy:    g.policy,
		Sampler:   g.sampler,
		Listeners: g.listeners,
	}
	for _, e := range entries {
		layout := g.layouts[e.layout]
		res := component.Render(env, layout, e.comp, resolver)
		g.metrics.Add(evaluationsMetricKey, 1)
		if res.Mismatch != nil {
			g.metrics.Add(comparisonMismatchMetricKey, 1)
			pipeline.ComparisonMismatch(ctx, g.publisher, tick, player.ID, pipeline.ComparisonMismatchPayload{
				Component: component.QualifiedID(layout.ID, e.comp.ID),
				Error:     res.Mismatch.Error(),
			})
		}
		if res.Err == nil {
			next[e.index] = res.State
			continue
		}

		last, hasLast := previous[e.index]
		if component.IsNotReady(res.Err) {
			if hasLast {
				next[e.index] = last
			} else {
				next[e.index] = component.Hidden()
			}
			continue
		}

		g.metrics.Add(evaluationFailuresMetricKey, 1)
		fallback := component.Hidden()
		if e.comp.OnFailure == component.KeepLast && hasLast {
			fallback = last
		}
		next[e.index] = fallback
		pipeline.EvaluationFailed(ctx, g.publisher, tick, player.ID, pipeline.EvaluationFailedPayload{
			Group:     g.name,
			Component: component.QualifiedID(layout.ID, e.comp.ID),
			Error:     res.Err.Error(),
			Fallback:  e.comp.OnFailure.String(),
		})
	}

	g.mu.Lock()
	states, ok := g.states[player.ID]
	if !ok {
		states = make(map[int]component.RenderState, len(g.entries))
		g.states[player.ID] = states
	}
	for idx, st := range next {
		states[idx] = st
	}
	g.mu.Unlock()
}

func (g *Group) snapshotStates(player string) map[int]component.RenderState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	states := g.states[player]
	out := make(map[int]component.RenderState, len(states))
	for idx, st := range states {
		out[idx] = st
	}
	return out
}

// View returns the player's current state of every component in declared
// order. Components never evaluated for the player are reported hidden.
func (g *Group) View(player string) []component.View {
	g.mu.RLock()
	defer g.mu.RUnlock()
	states := g.states[player]
	views := make([]component.View, 0, len(g.entries))
	for _, e := range g.entries {
		views = append(views, component.View{
			Layout:    g.layouts[e.layout].ID,
			Component: e.comp.ID,
			State:     states[e.index],
		})
	}
	return views
}

// State returns one component's state for player.
func (g *Group) State(player, layoutID, componentID string) (component.RenderState, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	states, ok := g.states[player]
	if !ok {
		return component.RenderState{}, false
	}
	for _, e := range g.entries {
		if g.layouts[e.layout].ID == layoutID && e.comp.ID == componentID {
			st, ok := states[e.index]
			return st, ok
		}
	}
	return component.RenderState{}, false
}

// Forget drops the player's rendered states and pending re-evaluations.
func (g *Group) Forget(player string) {
	g.mu.Lock()
	delete(g.states, player)
	delete(g.triggered, player)
	g.mu.Unlock()
}

func unionBindings(entries []*entry) []placeholder.Binding {
	seen := make(map[string]struct{})
	var out []placeholder.Binding
	for _, e := range entries {
		for _, b := range e.bindings {
			if _, ok := seen[b.Key()]; ok {
				continue
			}
			seen[b.Key()] = struct{}{}
			out = append(out, b)
		}
	}
	return out
}

// Ensure cycle resolvers satisfy condition evaluation.
var _ condition.Resolver = (*dispatch.Resolver)(nil)
