package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/Ruskei/BetterHud/internal/placeholder"
	"github.com/Ruskei/BetterHud/internal/state"
	"github.com/Ruskei/BetterHud/internal/update"
	"github.com/Ruskei/BetterHud/internal/value"
	"github.com/Ruskei/BetterHud/logging/pipeline"
	"github.com/Ruskei/BetterHud/logging/sinks"
)

type countingBuilder struct {
	builds atomic.Int32
	evals  atomic.Int32
}

func (b *countingBuilder) Build(args placeholder.Args, event update.Event) (placeholder.Handle, error) {
	b.builds.Add(1)
	return placeholder.HandleFunc(func(player state.Snapshot) (value.Value, error) {
		b.evals.Add(1)
		return value.Number(player.Health), nil
	}), nil
}

func bind(t *testing.T, reg *placeholder.Registry, raw string) placeholder.Binding {
	t.Helper()
	binding, err := reg.Bind(placeholder.ParseExpr(raw))
	if err != nil {
		t.Fatalf("bind %s: %v", raw, err)
	}
	return binding
}

func TestDispatchBuildsOncePerEventKey(t *testing.T) {
	reg := placeholder.NewRegistry()
	counter := &countingBuilder{}
	reg.MustRegister("health", 0, counter)
	d := New(nil, nil)

	event := update.NewTick(7)
	health := bind(t, reg, "[health]")
	d.Dispatch(context.Background(), 7, event, []placeholder.Binding{health, health})
	cycle := d.Dispatch(context.Background(), 7, event, []placeholder.Binding{health})
	if got := counter.builds.Load(); got != 1 {
		t.Fatalf("expected one build for the shared key, got %d", got)
	}

	d.Dispatch(context.Background(), 8, update.NewTick(8), []placeholder.Binding{health})
	if got := counter.builds.Load(); got != 2 {
		t.Fatalf("expected a new build for a new event key, got %d", got)
	}

	alice := state.NewSnapshot("alice", "Alice")
	alice.Health = 12
	r := cycle.Resolver(alice)
	for i := 0; i < 3; i++ {
		v, err := r.Resolve(placeholder.Ref("health"))
		if err != nil || !v.Equal(value.Number(12)) {
			t.Fatalf("unexpected resolution %v %v", v, err)
		}
	}
	if got := counter.evals.Load(); got != 1 {
		t.Fatalf("expected one evaluation per player resolver, got %d", got)
	}
}

func TestDispatchReleaseStartsNewCycle(t *testing.T) {
	reg := placeholder.NewRegistry()
	counter := &countingBuilder{}
	reg.MustRegister("health", 0, counter)
	d := New(nil, nil)
	event := update.NewTick(1)
	health := bind(t, reg, "[health]")

	d.Dispatch(context.Background(), 1, event, []placeholder.Binding{health})
	if d.Active() != 1 {
		t.Fatalf("expected one active cycle")
	}
	d.Release(event.Key())
	if _, ok := d.Cycle(event.Key()); ok {
		t.Fatalf("released cycle should be gone")
	}
	d.Dispatch(context.Background(), 1, event, []placeholder.Binding{health})
	if counter.builds.Load() != 2 {
		t.Fatalf("expected rebuild after release")
	}
}

func TestDispatchIsolatesBuildFailures(t *testing.T) {
	reg := placeholder.NewRegistry()
	reg.MustRegister("broken", 0, placeholder.BuilderFunc(func(placeholder.Args, update.Event) (placeholder.Handle, error) {
		return nil, errors.New("backend offline")
	}))
	reg.MustRegister("panicky", 0, placeholder.BuilderFunc(func(placeholder.Args, update.Event) (placeholder.Handle, error) {
		panic("nil map")
	}))
	reg.MustRegister("world", 0, placeholder.PlayerFunc(func(p state.Snapshot) value.Value { return value.String(p.World) }))

	sink := sinks.NewMemorySink()
	d := New(sink, nil)
	cycle := d.Dispatch(context.Background(), 3, update.NewTick(3), []placeholder.Binding{
		bind(t, reg, "[broken]"),
		bind(t, reg, "[panicky]"),
		bind(t, reg, "[world]"),
	})

	r := cycle.Resolver(state.NewSnapshot("p", "P"))
	if v, err := r.Resolve(placeholder.Ref("world")); err != nil || v.Text() != "world" {
		t.Fatalf("healthy placeholder should resolve, got %v %v", v, err)
	}
	for _, name := range []string{"broken", "panicky"} {
		_, err := r.Resolve(placeholder.Ref(name))
		if !errors.Is(err, ErrBuildFailed) {
			t.Fatalf("%s: expected ErrBuildFailed, got %v", name, err)
		}
		var buildErr *BuildError
		if !errors.As(err, &buildErr) || buildErr.Placeholder != name {
			t.Fatalf("%s: expected BuildError, got %v", name, err)
		}
	}
	events := sink.EventsOfType(pipeline.EventBuildFailed)
	if len(events) != 2 {
		t.Fatalf("expected two build failure events, got %d", len(events))
	}
	if events[0].Tick != 3 || events[0].CycleKey != "tick:3" {
		t.Fatalf("unexpected event stamp: %+v", events[0])
	}
}

func TestResolverHandlesLiteralsAndUnknown(t *testing.T) {
	d := New(nil, nil)
	cycle := d.Dispatch(context.Background(), 1, update.NewTick(1), nil)
	r := cycle.Resolver(state.NewSnapshot("p", "P"))
	if v, err := r.Resolve(placeholder.ParseExpr("42")); err != nil || !v.Equal(value.Number(42)) {
		t.Fatalf("literal should resolve to itself, got %v %v", v, err)
	}
	if _, err := r.Resolve(placeholder.Ref("ghost")); !errors.Is(err, placeholder.ErrUnknownPlaceholder) {
		t.Fatalf("expected ErrUnknownPlaceholder, got %v", err)
	}
}

func TestResolverRecoversEvaluationPanic(t *testing.T) {
	reg := placeholder.NewRegistry()
	reg.MustRegister("bad", 0, placeholder.BuilderFunc(func(placeholder.Args, update.Event) (placeholder.Handle, error) {
		return placeholder.HandleFunc(func(state.Snapshot) (value.Value, error) { panic("boom") }), nil
	}))
	d := New(nil, nil)
	cycle := d.Dispatch(context.Background(), 1, update.NewTick(1), []placeholder.Binding{bind(t, reg, "[bad]")})
	if _, err := cycle.Resolver(state.NewSnapshot("p", "P")).Resolve(placeholder.Ref("bad")); err == nil {
		t.Fatalf("expected evaluation panic to become an error")
	}
}
