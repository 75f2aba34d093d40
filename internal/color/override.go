package color

import (
	"fmt"
	"strings"

	"github.com/Ruskei/BetterHud/internal/condition"
)

// Rule selects Color when every condition holds. A rule without conditions
// always matches.
type Rule struct {
	Name       string
	Color      Spec
	Conditions []condition.Condition
}

// Overrides is an ordered rule list with an optional default.
type Overrides struct {
	Rules   []Rule
	Default *Spec
}

// Empty reports whether the set declares neither rules nor a default.
func (o Overrides) Empty() bool {
	return len(o.Rules) == 0 && o.Default == nil
}

// Resolve walks the rules in order and returns the first match. Without a
// match it returns the default, else base. A rule whose conditions fail to
// evaluate does not match; the first such error is returned alongside the
// color so callers can report it.
func Resolve(o Overrides, base Spec, r condition.Resolver) (Spec, error) {
	var firstErr error
	for _, rule := range o.Rules {
		ok, err := condition.All(rule.Conditions, r)
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("color rule %q: %w", rule.Name, err)
		}
		if ok {
			return rule.Color, firstErr
		}
	}
	if o.Default != nil {
		return *o.Default, firstErr
	}
	return base, firstErr
}

// Policy decides how component and layout overrides combine.
type Policy uint8

const (
	// ComponentFirst uses the component's overrides when it declares any and
	// falls back to the layout's otherwise.
	ComponentFirst Policy = iota
	// Concatenate evaluates component rules followed by layout rules as one
	// list. The component default wins over the layout default.
	Concatenate
)

func ParsePolicy(raw string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "component-first":
		return ComponentFirst, nil
	case "concatenate":
		return Concatenate, nil
	default:
		return ComponentFirst, fmt.Errorf("color: unknown policy %q", raw)
	}
}

func (p Policy) String() string {
	if p == Concatenate {
		return "concatenate"
	}
	return "component-first"
}

// Compose merges component and layout overrides under p.
func Compose(component, layout Overrides, p Policy) Overrides {
	switch p {
	case Concatenate:
		merged := Overrides{Rules: make([]Rule, 0, len(component.Rules)+len(layout.Rules))}
		merged.Rules = append(merged.Rules, component.Rules...)
		merged.Rules = append(merged.Rules, layout.Rules...)
		merged.Default = component.Default
		if merged.Default == nil {
			merged.Default = layout.Default
		}
		return merged
	default:
		if component.Empty() {
			return layout
		}
		return component
	}
}
