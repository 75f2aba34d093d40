// Package builtin registers the placeholders every HUD gets out of the box.
package builtin

import (
	"fmt"

	"github.com/Ruskei/BetterHud/internal/placeholder"
	"github.com/Ruskei/BetterHud/internal/placeholder/async"
	"github.com/Ruskei/BetterHud/internal/state"
	"github.com/Ruskei/BetterHud/internal/update"
	"github.com/Ruskei/BetterHud/internal/value"
)

// Options supplies the collaborators some builtins need.
type Options struct {
	// Now reports the current tick for events that do not carry one.
	Now func() uint64
	// Remote backs the remote:<key> placeholder. It is not registered when
	// nil.
	Remote *async.Resolver
}

var playerFields = []struct {
	name string
	fn   func(state.Snapshot) value.Value
}{
	{"name", func(p state.Snapshot) value.Value { return value.String(p.Name) }},
	{"world", func(p state.Snapshot) value.Value { return value.String(p.World) }},
	{"gamemode", func(p state.Snapshot) value.Value { return value.String(p.Gamemode) }},
	{"health", func(p state.Snapshot) value.Value { return value.Number(p.Health) }},
	{"max_health", func(p state.Snapshot) value.Value { return value.Number(p.MaxHealth) }},
	{"health_percentage", func(p state.Snapshot) value.Value { return value.Number(p.HealthRatio()) }},
	{"armor", func(p state.Snapshot) value.Value { return value.Number(p.Armor) }},
	{"food", func(p state.Snapshot) value.Value { return value.Number(p.Food) }},
	{"level", func(p state.Snapshot) value.Value { return value.Number(float64(p.Level)) }},
	{"x", func(p state.Snapshot) value.Value { return value.Number(p.X) }},
	{"y", func(p state.Snapshot) value.Value { return value.Number(p.Y) }},
	{"z", func(p state.Snapshot) value.Value { return value.Number(p.Z) }},
	{"ping", func(p state.Snapshot) value.Value { return value.Number(float64(p.PingMillis)) }},
	{"last_damage", func(p state.Snapshot) value.Value { return value.Number(p.LastDamage) }},
}

// Register adds every builtin to reg. It stops at the first failure.
func Register(reg *placeholder.Registry, opts Options) error {
	for _, field := range playerFields {
		if err := reg.Register(field.name, 0, placeholder.PlayerFunc(field.fn)); err != nil {
			return err
		}
	}

	defs := []placeholder.Definition{
		{Name: "attribute", RequiredArgs: 1, Builder: placeholder.BuilderFunc(buildAttribute)},
		{Name: "number", RequiredArgs: 1, Builder: placeholder.BuilderFunc(buildNumber)},
		{Name: "string", RequiredArgs: 1, Builder: placeholder.BuilderFunc(buildString)},
		{Name: "tick", RequiredArgs: 0, Builder: tickBuilder(opts.Now)},
		{Name: "event_kind", RequiredArgs: 0, Builder: placeholder.BuilderFunc(buildEventKind)},
	}
	if opts.Remote != nil {
		defs = append(defs, placeholder.Definition{Name: "remote", RequiredArgs: 1, Builder: opts.Remote.Builder()})
	}
	for _, def := range defs {
		if err := reg.Register(def.Name, def.RequiredArgs, def.Builder); err != nil {
			return err
		}
	}
	return nil
}

func buildAttribute(args placeholder.Args, _ update.Event) (placeholder.Handle, error) {
	key := args[0]
	return placeholder.HandleFunc(func(p state.Snapshot) (value.Value, error) {
		raw, ok := p.Attributes[key]
		if !ok {
			return value.String(""), nil
		}
		return value.Parse(raw), nil
	}), nil
}

func buildNumber(args placeholder.Args, _ update.Event) (placeholder.Handle, error) {
	v := value.Parse(args[0])
	n, ok := v.Numeric()
	if !ok {
		return nil, fmt.Errorf("builtin: number: %q is not numeric", args[0])
	}
	return placeholder.Constant(value.Number(n)), nil
}

func buildString(args placeholder.Args, _ update.Event) (placeholder.Handle, error) {
	return placeholder.Constant(value.String(args[0])), nil
}

func tickBuilder(now func() uint64) placeholder.Builder {
	return placeholder.BuilderFunc(func(_ placeholder.Args, event update.Event) (placeholder.Handle, error) {
		fallback := func() uint64 {
			if now == nil {
				return 0
			}
			return now()
		}
		tick := update.Match(event, update.Cases[uint64]{
			Tick:   func(src update.TickSource) uint64 { return src.Tick },
			Domain: func(update.DomainEvent) uint64 { return fallback() },
			Popup:  func(update.PopupTrigger) uint64 { return fallback() },
		})
		return placeholder.Constant(value.Number(float64(tick))), nil
	})
}

func buildEventKind(_ placeholder.Args, event update.Event) (placeholder.Handle, error) {
	kind := update.Match(event, update.Cases[string]{
		Tick:   func(update.TickSource) string { return "tick" },
		Domain: func(d update.DomainEvent) string { return d.EventKind() },
		Popup: func(p update.PopupTrigger) string {
			if p.Cause != nil {
				return p.Cause.EventKind()
			}
			return "popup"
		},
	})
	return placeholder.Constant(value.String(kind)), nil
}
