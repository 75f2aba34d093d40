package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/Ruskei/BetterHud/internal/color"
	"github.com/Ruskei/BetterHud/internal/component"
	"github.com/Ruskei/BetterHud/internal/condition"
	"github.com/Ruskei/BetterHud/internal/engine"
	"github.com/Ruskei/BetterHud/internal/listener"
	"github.com/Ruskei/BetterHud/internal/placeholder"
	"github.com/Ruskei/BetterHud/internal/popup"
	"github.com/Ruskei/BetterHud/internal/value"
)

const (
	// DefaultPath is read when HUD_CONFIG is unset.
	DefaultPath = "config/hud.json"
	// PathEnv overrides DefaultPath.
	PathEnv = "HUD_CONFIG"

	defaultBaseColor = "white"
)

var ErrInvalid = errors.New("config: invalid")

// Path returns the config file location from the environment.
func Path() string {
	if path := os.Getenv(PathEnv); path != "" {
		return path
	}
	return DefaultPath
}

// Load reads and decodes the file at path.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return Document{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes a HUD definition.
func Parse(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("config: decode: %w", err)
	}
	return doc, nil
}

// Build validates doc and converts it into the engine configuration. The
// returned warnings describe settings that load but are probably unintended.
func Build(doc Document) (engine.Config, []string, error) {
	b := builder{listeners: make(map[string]listener.Config, len(doc.Listeners))}

	if doc.TickRate < 0 {
		return engine.Config{}, nil, fmt.Errorf("%w: tick-rate must be >= 1, got %d", ErrInvalid, doc.TickRate)
	}
	if doc.Workers < 0 {
		return engine.Config{}, nil, fmt.Errorf("%w: workers must be >= 0, got %d", ErrInvalid, doc.Workers)
	}
	policy, err := color.ParsePolicy(doc.ColorPolicy)
	if err != nil {
		return engine.Config{}, nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	names := make([]string, 0, len(doc.Listeners))
	for name := range doc.Listeners {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cfg, err := b.listener(name, doc.Listeners[name])
		if err != nil {
			return engine.Config{}, nil, err
		}
		b.listeners[name] = cfg
	}

	b.layoutIDs = make(map[string]string)
	layouts, err := b.layouts("hud", doc.Layouts)
	if err != nil {
		return engine.Config{}, nil, err
	}

	popups := make([]popup.Definition, 0, doc.Popups.Len())
	for _, entry := range doc.Popups.Entries {
		def, err := b.popup(entry.Key, entry.Value)
		if err != nil {
			return engine.Config{}, nil, err
		}
		popups = append(popups, def)
	}

	return engine.Config{
		TickRate:  doc.TickRate,
		Workers:   doc.Workers,
		Policy:    policy,
		Listeners: b.listeners,
		Layouts:   layouts,
		Popups:    popups,
	}, b.warnings, nil
}

type builder struct {
	listeners map[string]listener.Config
	// layoutIDs maps a layout id to its owner so ids stay unique across
	// the HUD and every popup.
	layoutIDs map[string]string
	warnings  []string
}

func (b *builder) warn(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

func (b *builder) listener(name string, block ListenerBlock) (listener.Config, error) {
	cfg := listener.DefaultConfig()
	if block.Lazy != nil {
		cfg.Lazy = *block.Lazy
	}
	if block.InitialValue != "" {
		v := value.Parse(string(block.InitialValue))
		if n, ok := v.Numeric(); ok {
			cfg.InitialValue = n
		} else {
			b.warn("listener %q: initial-value %q is not numeric, using %v", name, block.InitialValue, listener.DefaultInitialValue)
		}
	}
	cfg.DelayTicks = block.Delay
	if block.Multiplier != nil {
		cfg.Multiplier = *block.Multiplier
	}
	if block.ExpiringSecond != nil {
		cfg.ExpiringSeconds = *block.ExpiringSecond
	}
	if err := cfg.Validate(); err != nil {
		return listener.Config{}, fmt.Errorf("%w: listener %q: %v", ErrInvalid, name, err)
	}
	return cfg, nil
}

func (b *builder) layouts(owner string, blocks Ordered[LayoutBlock]) ([]component.Layout, error) {
	layouts := make([]component.Layout, 0, blocks.Len())
	for _, entry := range blocks.Entries {
		if entry.Key == "" {
			return nil, fmt.Errorf("%w: %s: layout with empty id", ErrInvalid, owner)
		}
		if prev, ok := b.layoutIDs[entry.Key]; ok {
			return nil, fmt.Errorf("%w: layout %q declared by both %s and %s", ErrInvalid, entry.Key, prev, owner)
		}
		b.layoutIDs[entry.Key] = owner
		layout, err := b.layout(entry.Key, entry.Value)
		if err != nil {
			return nil, err
		}
		layouts = append(layouts, layout)
	}
	return layouts, nil
}

func (b *builder) layout(id string, block LayoutBlock) (component.Layout, error) {
	where := "layout " + id
	conditions, err := conditionsOf(where, block.Conditions)
	if err != nil {
		return component.Layout{}, err
	}
	colors, err := overridesOf(where, block.ColorOverrides, block.DefaultColor)
	if err != nil {
		return component.Layout{}, err
	}
	layout := component.Layout{ID: id, Conditions: conditions, Colors: colors}
	for _, entry := range block.Components.Entries {
		c, err := b.component(id, entry.Key, entry.Value)
		if err != nil {
			return component.Layout{}, err
		}
		layout.Components = append(layout.Components, c)
	}
	return layout, nil
}

func (b *builder) component(layout, id string, block ComponentBlock) (component.Component, error) {
	where := "component " + component.QualifiedID(layout, id)
	if id == "" {
		return component.Component{}, fmt.Errorf("%w: layout %s: component with empty id", ErrInvalid, layout)
	}
	interval := 1
	if block.Tick != nil {
		if *block.Tick < 1 {
			return component.Component{}, fmt.Errorf("%w: %s: tick must be >= 1, got %d", ErrInvalid, where, *block.Tick)
		}
		interval = *block.Tick
	}
	if block.Listener != "" {
		if _, ok := b.listeners[block.Listener]; !ok {
			return component.Component{}, fmt.Errorf("%w: %s: unknown listener %q", ErrInvalid, where, block.Listener)
		}
	}
	conditions, err := conditionsOf(where, block.Conditions)
	if err != nil {
		return component.Component{}, err
	}
	colors, err := overridesOf(where, block.ColorOverrides, block.DefaultColor)
	if err != nil {
		return component.Component{}, err
	}
	baseRaw := block.BaseColor
	if baseRaw == "" {
		baseRaw = defaultBaseColor
	}
	base, err := color.Parse(baseRaw)
	if err != nil {
		return component.Component{}, fmt.Errorf("%w: %s: base-color: %v", ErrInvalid, where, err)
	}
	onFailure, err := component.ParseFailurePolicy(block.OnFailure)
	if err != nil {
		return component.Component{}, fmt.Errorf("%w: %s: %v", ErrInvalid, where, err)
	}
	if block.Value == "" {
		b.warn("%s: empty value", where)
	}
	return component.Component{
		ID:         id,
		Value:      placeholder.ParseExpr(string(block.Value)),
		Interval:   interval,
		Listener:   block.Listener,
		Conditions: conditions,
		Colors:     colors,
		BaseColor:  base,
		OnFailure:  onFailure,
		Triggers:   append([]string(nil), block.Triggers...),
	}, nil
}

func (b *builder) popup(id string, block PopupBlock) (popup.Definition, error) {
	if id == "" {
		return popup.Definition{}, fmt.Errorf("%w: popup with empty id", ErrInvalid)
	}
	if block.Duration < 0 {
		return popup.Definition{}, fmt.Errorf("%w: popup %q: duration must be >= 0, got %d", ErrInvalid, id, block.Duration)
	}
	if block.Layouts.Len() == 0 {
		b.warn("popup %q: no layouts", id)
	}
	layouts, err := b.layouts("popup "+id, block.Layouts)
	if err != nil {
		return popup.Definition{}, err
	}
	return popup.Definition{
		ID:            id,
		Layouts:       layouts,
		DurationTicks: uint64(block.Duration),
		Triggers:      append([]string(nil), block.Triggers...),
	}, nil
}

func conditionsOf(where string, blocks Ordered[ConditionBlock]) ([]condition.Condition, error) {
	if blocks.Len() == 0 {
		return nil, nil
	}
	conditions := make([]condition.Condition, 0, blocks.Len())
	for _, entry := range blocks.Entries {
		op, err := condition.ParseOperation(entry.Value.Operation)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: condition %q: %v", ErrInvalid, where, entry.Key, err)
		}
		conditions = append(conditions, condition.Condition{
			Name:   entry.Key,
			First:  placeholder.ParseExpr(string(entry.Value.First)),
			Second: placeholder.ParseExpr(string(entry.Value.Second)),
			Op:     op,
		})
	}
	return conditions, nil
}

func overridesOf(where string, rules Ordered[RuleBlock], defaultColor string) (color.Overrides, error) {
	var overrides color.Overrides
	for _, entry := range rules.Entries {
		spec, err := color.Parse(entry.Value.Color)
		if err != nil {
			return color.Overrides{}, fmt.Errorf("%w: %s: color-override %q: %v", ErrInvalid, where, entry.Key, err)
		}
		conditions, err := conditionsOf(where+" color-override "+entry.Key, entry.Value.Conditions)
		if err != nil {
			return color.Overrides{}, err
		}
		overrides.Rules = append(overrides.Rules, color.Rule{Name: entry.Key, Color: spec, Conditions: conditions})
	}
	if defaultColor != "" {
		spec, err := color.Parse(defaultColor)
		if err != nil {
			return color.Overrides{}, fmt.Errorf("%w: %s: default-color: %v", ErrInvalid, where, err)
		}
		overrides.Default = &spec
	}
	return overrides, nil
}
