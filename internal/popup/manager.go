// Package popup runs bounded-duration HUD overlays triggered outside the
// periodic schedule.
package popup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Ruskei/BetterHud/internal/component"
	"github.com/Ruskei/BetterHud/internal/sched"
	"github.com/Ruskei/BetterHud/internal/state"
	"github.com/Ruskei/BetterHud/internal/telemetry"
	"github.com/Ruskei/BetterHud/internal/update"
	"github.com/Ruskei/BetterHud/logging"
	"github.com/Ruskei/BetterHud/logging/lifecycle"
)

const (
	shownMetricKey   = "popup_shown_total"
	expiredMetricKey = "popup_expired_total"
	activeMetricKey  = "popup_active"
)

var (
	ErrUnknownPopup  = errors.New("popup: unknown popup")
	ErrNotPopupEvent = errors.New("popup: event is not a popup trigger")
)

// Definition is a popup template.
type Definition struct {
	ID      string
	Layouts []component.Layout
	// DurationTicks is used when a show call does not specify one.
	DurationTicks uint64
	// Triggers lists domain event kinds that show the popup automatically.
	Triggers []string
}

// TriggeredBy reports whether kind auto-shows the popup.
func (d Definition) TriggeredBy(kind string) bool {
	for _, trigger := range d.Triggers {
		if trigger == kind {
			return true
		}
	}
	return false
}

type instance struct {
	def       Definition
	group     *sched.Group
	cycle     update.Key
	source    string
	shownTick uint64
	expiresAt uint64
	duration  uint64
}

// Manager tracks active popup instances per player.
type Manager struct {
	defs     map[string]Definition
	order    []string
	template sched.GroupConfig
	deps     sched.GroupDeps

	publisher logging.Publisher
	metrics   telemetry.Metrics

	mu     sync.RWMutex
	active map[string]map[string]*instance
}

// NewManager validates every definition by binding its placeholders.
// template supplies the policy, listeners and worker bound for popup groups.
func NewManager(defs []Definition, template sched.GroupConfig, deps sched.GroupDeps) (*Manager, error) {
	m := &Manager{
		defs:      make(map[string]Definition, len(defs)),
		template:  template,
		deps:      deps,
		publisher: logging.OrNop(deps.Publisher),
		metrics:   telemetry.OrNop(deps.Metrics),
		active:    make(map[string]map[string]*instance),
	}
	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("popup: definition without id")
		}
		if _, dup := m.defs[def.ID]; dup {
			return nil, fmt.Errorf("popup: duplicate popup %q", def.ID)
		}
		if _, err := m.newGroup(def); err != nil {
			return nil, err
		}
		m.defs[def.ID] = def
		m.order = append(m.order, def.ID)
	}
	sort.Strings(m.order)
	return m, nil
}

func (m *Manager) newGroup(def Definition) (*sched.Group, error) {
	cfg := m.template
	cfg.Name = "popup:" + def.ID
	cfg.Layouts = def.Layouts
	return sched.NewGroup(cfg, m.deps)
}

// Definition returns the popup template by id.
func (m *Manager) Definition(id string) (Definition, bool) {
	def, ok := m.defs[id]
	return def, ok
}

// Triggered lists popups auto-shown by a domain event kind.
func (m *Manager) Triggered(kind string) []string {
	var ids []string
	for _, id := range m.order {
		if m.defs[id].TriggeredBy(kind) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Show runs the popup's pipeline for player immediately under event and
// keeps it visible for durationTicks (the definition's duration when zero).
// Showing a popup that is already active replaces it and restarts its
// duration.
func (m *Manager) Show(ctx context.Context, tick uint64, event update.Event, player state.Snapshot, durationTicks uint64) error {
	trigger, ok := event.Source().(update.PopupTrigger)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotPopupEvent, event)
	}
	def, ok := m.defs[trigger.Popup]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownPopup, trigger.Popup)
	}
	if durationTicks == 0 {
		durationTicks = def.DurationTicks
	}
	if durationTicks == 0 {
		durationTicks = 1
	}

	group, err := m.newGroup(def)
	if err != nil {
		return err
	}
	err = group.Refresh(ctx, tick, event, []state.Snapshot{player})
	if m.deps.Dispatcher != nil {
		m.deps.Dispatcher.Release(event.Key())
	}
	if err != nil {
		return err
	}

	source := "manual"
	if trigger.Cause != nil {
		source = trigger.Cause.EventKind()
	}
	inst := &instance{
		def:       def,
		group:     group,
		cycle:     event.Key(),
		source:    source,
		shownTick: tick,
		expiresAt: tick + durationTicks,
		duration:  durationTicks,
	}

	m.mu.Lock()
	byPopup, ok := m.active[player.ID]
	if !ok {
		byPopup = make(map[string]*instance)
		m.active[player.ID] = byPopup
	}
	byPopup[def.ID] = inst
	m.storeActiveLocked()
	m.mu.Unlock()

	m.metrics.Add(shownMetricKey, 1)
	lifecycle.PopupShown(ctx, m.publisher, tick, player.ID, string(event.Key()), lifecycle.PopupPayload{
		Popup:         def.ID,
		DurationTicks: durationTicks,
		ShownTick:     tick,
		Source:        source,
	})
	return nil
}

// Tick expires popups whose duration has elapsed and runs the throttled
// schedule of the rest. Instances of players not in players are dropped.
func (m *Manager) Tick(ctx context.Context, tick uint64, players []state.Snapshot) error {
	byID := make(map[string]state.Snapshot, len(players))
	for _, p := range players {
		byID[p.ID] = p
	}

	type job struct {
		player state.Snapshot
		inst   *instance
	}
	var (
		jobs    []job
		expired []job
	)
	m.mu.Lock()
	for playerID, byPopup := range m.active {
		p, present := byID[playerID]
		for id, inst := range byPopup {
			switch {
			case !present:
				delete(byPopup, id)
			case tick >= inst.expiresAt:
				delete(byPopup, id)
				expired = append(expired, job{player: p, inst: inst})
			case tick > inst.shownTick:
				jobs = append(jobs, job{player: p, inst: inst})
			}
		}
		if len(byPopup) == 0 {
			delete(m.active, playerID)
		}
	}
	m.storeActiveLocked()
	m.mu.Unlock()

	for _, e := range expired {
		m.metrics.Add(expiredMetricKey, 1)
		lifecycle.PopupExpired(ctx, m.publisher, tick, e.player.ID, string(e.inst.cycle), lifecycle.PopupPayload{
			Popup:         e.inst.def.ID,
			DurationTicks: e.inst.duration,
			ShownTick:     e.inst.shownTick,
			Source:        e.inst.source,
		})
	}

	var firstErr error
	for _, j := range jobs {
		if err := j.inst.group.Tick(ctx, tick, []state.Snapshot{j.player}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Hide removes an active popup. It reports whether one was active.
func (m *Manager) Hide(player, popup string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPopup, ok := m.active[player]
	if !ok {
		return false
	}
	if _, ok := byPopup[popup]; !ok {
		return false
	}
	delete(byPopup, popup)
	if len(byPopup) == 0 {
		delete(m.active, player)
	}
	m.storeActiveLocked()
	return true
}

// Leave drops every popup of player.
func (m *Manager) Leave(player string) {
	m.mu.Lock()
	delete(m.active, player)
	m.storeActiveLocked()
	m.mu.Unlock()
}

// Active lists the popups currently shown to player.
func (m *Manager) Active(player string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.active[player]))
	for id := range m.active[player] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Views returns the rendered components of every active popup for player,
// ordered by popup id.
func (m *Manager) Views(player string) []component.View {
	m.mu.RLock()
	byPopup := m.active[player]
	ids := make([]string, 0, len(byPopup))
	for id := range byPopup {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	groups := make([]*sched.Group, 0, len(ids))
	for _, id := range ids {
		groups = append(groups, byPopup[id].group)
	}
	m.mu.RUnlock()

	var views []component.View
	for _, g := range groups {
		views = append(views, g.View(player)...)
	}
	return views
}

func (m *Manager) storeActiveLocked() {
	total := 0
	for _, byPopup := range m.active {
		total += len(byPopup)
	}
	m.metrics.Store(activeMetricKey, uint64(total))
}
