// Package component describes HUD components and layouts and renders one
// component for one player.
package component

import (
	"fmt"
	"strings"

	"github.com/Ruskei/BetterHud/internal/color"
	"github.com/Ruskei/BetterHud/internal/condition"
	"github.com/Ruskei/BetterHud/internal/placeholder"
	"github.com/Ruskei/BetterHud/internal/value"
)

// FailurePolicy decides what a component shows when it cannot be evaluated.
type FailurePolicy uint8

const (
	// Hide renders the component invisible.
	Hide FailurePolicy = iota
	// KeepLast keeps the last successfully rendered state, or hides when
	// there is none.
	KeepLast
)

func ParseFailurePolicy(raw string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "hide":
		return Hide, nil
	case "last-known", "keep-last":
		return KeepLast, nil
	default:
		return Hide, fmt.Errorf("component: unknown failure policy %q", raw)
	}
}

func (p FailurePolicy) String() string {
	if p == KeepLast {
		return "last-known"
	}
	return "hide"
}

// Component is one positioned HUD element.
type Component struct {
	ID         string
	Value      placeholder.Expr
	Interval   int
	Listener   string
	Conditions []condition.Condition
	Colors     color.Overrides
	BaseColor  color.Spec
	OnFailure  FailurePolicy
	// Triggers lists domain event kinds that force an immediate
	// re-evaluation for the affected player.
	Triggers []string
}

// IntervalTicks never reports less than one.
func (c Component) IntervalTicks() uint64 {
	if c.Interval < 1 {
		return 1
	}
	return uint64(c.Interval)
}

// TriggeredBy reports whether kind is one of the component's triggers.
func (c Component) TriggeredBy(kind string) bool {
	for _, trigger := range c.Triggers {
		if trigger == kind {
			return true
		}
	}
	return false
}

// Layout groups components under shared conditions and color overrides.
type Layout struct {
	ID         string
	Conditions []condition.Condition
	Colors     color.Overrides
	Components []Component
}

// QualifiedID names a component uniquely across layouts.
func QualifiedID(layout, component string) string {
	return layout + "/" + component
}

// Exprs lists every expression the component reads, including the layout's.
func Exprs(layout Layout, c Component) []placeholder.Expr {
	exprs := []placeholder.Expr{c.Value}
	exprs = appendConditionExprs(exprs, layout.Conditions)
	exprs = appendConditionExprs(exprs, c.Conditions)
	for _, rule := range layout.Colors.Rules {
		exprs = appendConditionExprs(exprs, rule.Conditions)
	}
	for _, rule := range c.Colors.Rules {
		exprs = appendConditionExprs(exprs, rule.Conditions)
	}
	return exprs
}

func appendConditionExprs(exprs []placeholder.Expr, conditions []condition.Condition) []placeholder.Expr {
	for _, cond := range conditions {
		exprs = append(exprs, cond.First, cond.Second)
	}
	return exprs
}

// Bindings resolves every reference in exprs against reg. Duplicate keys are
// bound once.
func Bindings(reg *placeholder.Registry, exprs []placeholder.Expr) ([]placeholder.Binding, error) {
	seen := make(map[string]struct{})
	var bindings []placeholder.Binding
	for _, expr := range exprs {
		if !expr.IsRef() {
			continue
		}
		if _, ok := seen[expr.Key()]; ok {
			continue
		}
		binding, err := reg.Bind(expr)
		if err != nil {
			return nil, err
		}
		seen[expr.Key()] = struct{}{}
		bindings = append(bindings, binding)
	}
	return bindings, nil
}

// RenderState is what the renderer receives per player per component.
type RenderState struct {
	Visible bool        `json:"visible"`
	Color   color.Spec  `json:"color"`
	Value   value.Value `json:"value"`
}

// Hidden is the state of a component that is not shown.
func Hidden() RenderState { return RenderState{} }

// View is one component's rendered state inside a frame.
type View struct {
	Layout    string      `json:"layout"`
	Component string      `json:"component"`
	State     RenderState `json:"state"`
}

// Frame is everything a player currently sees.
type Frame struct {
	Player string `json:"player"`
	Tick   uint64 `json:"tick"`
	Views  []View `json:"views"`
	Popups []View `json:"popups,omitempty"`
}
