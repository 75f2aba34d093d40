package popup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/Ruskei/BetterHud/internal/component"
	"github.com/Ruskei/BetterHud/internal/dispatch"
	"github.com/Ruskei/BetterHud/internal/placeholder"
	"github.com/Ruskei/BetterHud/internal/sched"
	"github.com/Ruskei/BetterHud/internal/state"
	"github.com/Ruskei/BetterHud/internal/update"
	"github.com/Ruskei/BetterHud/internal/value"
	"github.com/Ruskei/BetterHud/logging/lifecycle"
	"github.com/Ruskei/BetterHud/logging/sinks"
)

type fixture struct {
	manager    *Manager
	builds     *atomic.Int32
	sink       *sinks.MemorySink
	dispatcher *dispatch.Dispatcher
}

func newFixture(t *testing.T, defs ...Definition) fixture {
	t.Helper()
	builds := &atomic.Int32{}
	reg := placeholder.NewRegistry()
	reg.MustRegister("damage", 0, placeholder.BuilderFunc(func(_ placeholder.Args, event update.Event) (placeholder.Handle, error) {
		builds.Add(1)
		amount := 0.0
		if domain, ok := event.Domain(); ok {
			if dmg, ok := domain.Payload.(update.Damage); ok {
				amount = dmg.Amount
			}
		}
		return placeholder.Constant(value.Number(amount)), nil
	}))
	reg.MustRegister("tick", 0, placeholder.BuilderFunc(func(_ placeholder.Args, event update.Event) (placeholder.Handle, error) {
		tick := update.Match(event, update.Cases[float64]{
			Tick: func(src update.TickSource) float64 { return float64(src.Tick) },
		})
		return placeholder.Constant(value.Number(tick)), nil
	}))
	if len(defs) == 0 {
		defs = []Definition{{
			ID:            "hit",
			DurationTicks: 10,
			Triggers:      []string{update.KindDamage},
			Layouts: []component.Layout{{ID: "hit-layout", Components: []component.Component{
				{ID: "amount", Value: placeholder.Ref("damage"), Interval: 1000},
				{ID: "clock", Value: placeholder.Ref("tick"), Interval: 5},
			}}},
		}}
	}
	sink := sinks.NewMemorySink()
	dispatcher := dispatch.New(nil, nil)
	m, err := NewManager(defs, sched.GroupConfig{Workers: 1}, sched.GroupDeps{Registry: reg, Dispatcher: dispatcher, Publisher: sink})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return fixture{manager: m, builds: builds, sink: sink, dispatcher: dispatcher}
}

func damageEvent(amount float64) *update.DomainEvent {
	return &update.DomainEvent{PlayerID: "p", Payload: update.Damage{Amount: amount}}
}

func viewValue(t *testing.T, views []component.View, id string) value.Value {
	t.Helper()
	for _, v := range views {
		if v.Component == id {
			return v.State.Value
		}
	}
	t.Fatalf("component %s not in views %+v", id, views)
	return value.Value{}
}

func TestShowBuildsOncePerShowCall(t *testing.T) {
	f := newFixture(t)
	p := state.NewSnapshot("p", "P")
	if err := f.manager.Show(context.Background(), 5, update.NewPopup("hit", damageEvent(6)), p, 0); err != nil {
		t.Fatalf("show: %v", err)
	}
	if got := f.builds.Load(); got != 1 {
		t.Fatalf("expected one build for the show call, got %d", got)
	}
	if v := viewValue(t, f.manager.Views("p"), "amount"); !v.Equal(value.Number(6)) {
		t.Fatalf("expected damage amount 6, got %v", v)
	}
	if f.dispatcher.Active() != 0 {
		t.Fatalf("show cycle should be released")
	}
	shown := f.sink.EventsOfType(lifecycle.EventPopupShown)
	if len(shown) != 1 || shown[0].CycleKey == "" {
		t.Fatalf("expected popup shown event, got %+v", shown)
	}

	f.manager.Show(context.Background(), 6, update.NewPopup("hit", damageEvent(2)), p, 0)
	if got := f.builds.Load(); got != 2 {
		t.Fatalf("expected a new build for a new show call, got %d", got)
	}
	if v := viewValue(t, f.manager.Views("p"), "amount"); !v.Equal(value.Number(2)) {
		t.Fatalf("re-show should replace the instance, got %v", v)
	}
}

func TestPopupExpiresAfterDuration(t *testing.T) {
	f := newFixture(t)
	p := state.NewSnapshot("p", "P")
	ps := []state.Snapshot{p}
	f.manager.Show(context.Background(), 10, update.NewPopup("hit", nil), p, 3)

	for tick := uint64(11); tick < 13; tick++ {
		f.manager.Tick(context.Background(), tick, ps)
		if len(f.manager.Active("p")) != 1 {
			t.Fatalf("tick %d: popup should still be active", tick)
		}
	}
	f.manager.Tick(context.Background(), 13, ps)
	if len(f.manager.Active("p")) != 0 || len(f.manager.Views("p")) != 0 {
		t.Fatalf("popup should expire at tick 13")
	}
	expired := f.sink.EventsOfType(lifecycle.EventPopupExpired)
	if len(expired) != 1 {
		t.Fatalf("expected one expiry event, got %d", len(expired))
	}
}

func TestPopupSubComponentsFollowThrottling(t *testing.T) {
	f := newFixture(t)
	p := state.NewSnapshot("p", "P")
	ps := []state.Snapshot{p}
	f.manager.Show(context.Background(), 100, update.NewPopup("hit", nil), p, 50)

	var seen []float64
	for tick := uint64(101); tick <= 111; tick++ {
		f.manager.Tick(context.Background(), tick, ps)
		n, _ := viewValue(t, f.manager.Views("p"), "clock").Numeric()
		if len(seen) == 0 || seen[len(seen)-1] != n {
			seen = append(seen, n)
		}
	}
	want := []float64{0, 105, 110}
	if len(seen) != len(want) {
		t.Fatalf("expected clock values %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected clock values %v, got %v", want, seen)
		}
	}
}

func TestShowRejectsInvalidEvents(t *testing.T) {
	f := newFixture(t)
	p := state.NewSnapshot("p", "P")
	if err := f.manager.Show(context.Background(), 1, update.NewTick(1), p, 5); !errors.Is(err, ErrNotPopupEvent) {
		t.Fatalf("expected ErrNotPopupEvent, got %v", err)
	}
	if err := f.manager.Show(context.Background(), 1, update.NewPopup("nope", nil), p, 5); !errors.Is(err, ErrUnknownPopup) {
		t.Fatalf("expected ErrUnknownPopup, got %v", err)
	}
}

func TestTriggeredHideAndLeave(t *testing.T) {
	f := newFixture(t)
	if ids := f.manager.Triggered(update.KindDamage); len(ids) != 1 || ids[0] != "hit" {
		t.Fatalf("expected hit to be triggered by damage, got %v", ids)
	}
	if ids := f.manager.Triggered(update.KindMove); len(ids) != 0 {
		t.Fatalf("expected no popups for move, got %v", ids)
	}
	p := state.NewSnapshot("p", "P")
	f.manager.Show(context.Background(), 1, update.NewPopup("hit", nil), p, 100)
	if !f.manager.Hide("p", "hit") || f.manager.Hide("p", "hit") {
		t.Fatalf("hide should succeed exactly once")
	}
	f.manager.Show(context.Background(), 2, update.NewPopup("hit", nil), p, 100)
	f.manager.Leave("p")
	if len(f.manager.Active("p")) != 0 {
		t.Fatalf("leave should drop popups")
	}

	f.manager.Show(context.Background(), 3, update.NewPopup("hit", nil), p, 100)
	f.manager.Tick(context.Background(), 4, nil)
	if len(f.manager.Active("p")) != 0 {
		t.Fatalf("popups of absent players should be dropped")
	}
}

func TestNewManagerValidates(t *testing.T) {
	reg := placeholder.NewRegistry()
	_, err := NewManager([]Definition{{ID: "x", Layouts: []component.Layout{{ID: "l", Components: []component.Component{
		{ID: "c", Value: placeholder.Ref("missing")},
	}}}}}, sched.GroupConfig{}, sched.GroupDeps{Registry: reg})
	if !errors.Is(err, placeholder.ErrUnknownPlaceholder) {
		t.Fatalf("expected ErrUnknownPlaceholder, got %v", err)
	}
	if _, err := NewManager([]Definition{{ID: "a"}, {ID: "a"}}, sched.GroupConfig{}, sched.GroupDeps{Registry: reg}); err == nil {
		t.Fatalf("expected duplicate popup to be rejected")
	}
}
