package color

import (
	"errors"
	"testing"

	"github.com/Ruskei/BetterHud/internal/condition"
	"github.com/Ruskei/BetterHud/internal/placeholder"
	"github.com/Ruskei/BetterHud/internal/value"
)

type healthResolver float64

func (h healthResolver) Resolve(expr placeholder.Expr) (value.Value, error) {
	if !expr.IsRef() {
		return expr.Value(), nil
	}
	if expr.Key() == "health" {
		return value.Number(float64(h)), nil
	}
	return value.Value{}, placeholder.ErrUnknownPlaceholder
}

func healthBelow(n float64) condition.Condition {
	return condition.Condition{
		First:  placeholder.Ref("health"),
		Second: placeholder.Literal(value.Number(n)),
		Op:     condition.OpLT,
	}
}

func healthRules() Overrides {
	return Overrides{Rules: []Rule{
		{Name: "critical", Color: MustParse("#FF0000"), Conditions: []condition.Condition{healthBelow(5)}},
		{Name: "low", Color: MustParse("#FFFF00"), Conditions: []condition.Condition{healthBelow(10)}},
		{Name: "fallback", Color: MustParse("#00FF00")},
	}}
}

func TestResolveFirstMatchWins(t *testing.T) {
	base := MustParse("white")
	cases := []struct {
		health float64
		want   string
	}{
		{7, "#FFFF00"},
		{3, "#FF0000"},
		{15, "#00FF00"},
	}
	for _, tc := range cases {
		got, err := Resolve(healthRules(), base, healthResolver(tc.health))
		if err != nil {
			t.Fatalf("health=%v: unexpected error %v", tc.health, err)
		}
		if got.String() != tc.want {
			t.Fatalf("health=%v resolved %s, want %s", tc.health, got, tc.want)
		}
	}
}

func TestResolveOrderSensitivity(t *testing.T) {
	rules := healthRules()
	rules.Rules[0], rules.Rules[1] = rules.Rules[1], rules.Rules[0]
	got, _ := Resolve(rules, Spec{}, healthResolver(3))
	if got.String() != "#FFFF00" {
		t.Fatalf("expected overlapping rules to follow declared order, got %s", got)
	}

	disjoint := Overrides{Rules: []Rule{
		{Color: MustParse("red"), Conditions: []condition.Condition{healthBelow(5)}},
		{Color: MustParse("blue"), Conditions: []condition.Condition{{
			First: placeholder.Ref("health"), Second: placeholder.Literal(value.Number(15)), Op: condition.OpGT,
		}}},
	}}
	swapped := Overrides{Rules: []Rule{disjoint.Rules[1], disjoint.Rules[0]}}
	for _, h := range []float64{1, 8, 20} {
		a, _ := Resolve(disjoint, MustParse("white"), healthResolver(h))
		b, _ := Resolve(swapped, MustParse("white"), healthResolver(h))
		if a != b {
			t.Fatalf("health=%v: disjoint rules changed result after reorder (%s vs %s)", h, a, b)
		}
	}
}

func TestResolveDefaultAndBase(t *testing.T) {
	rules := Overrides{Rules: []Rule{{Color: MustParse("red"), Conditions: []condition.Condition{healthBelow(5)}}}}
	base := MustParse("white")
	if got, _ := Resolve(rules, base, healthResolver(10)); got != base {
		t.Fatalf("expected base color without default, got %s", got)
	}
	def := MustParse("gray")
	rules.Default = &def
	if got, _ := Resolve(rules, base, healthResolver(10)); got != def {
		t.Fatalf("expected default color, got %s", got)
	}
}

func TestResolveFailingRuleDoesNotMatch(t *testing.T) {
	rules := Overrides{Rules: []Rule{
		{Name: "broken", Color: MustParse("red"), Conditions: []condition.Condition{{
			First: placeholder.Ref("mana"), Second: placeholder.Literal(value.Number(1)), Op: condition.OpLT,
		}}},
		{Name: "ok", Color: MustParse("blue")},
	}}
	got, err := Resolve(rules, Spec{}, healthResolver(10))
	if got != MustParse("blue") {
		t.Fatalf("expected fallthrough to next rule, got %s", got)
	}
	if !errors.Is(err, placeholder.ErrUnknownPlaceholder) {
		t.Fatalf("expected failing rule error to be reported, got %v", err)
	}
}

func TestCompose(t *testing.T) {
	component := Overrides{Rules: []Rule{{Name: "c", Color: MustParse("red"), Conditions: []condition.Condition{healthBelow(5)}}}}
	layoutDefault := MustParse("gray")
	layout := Overrides{Rules: []Rule{{Name: "l", Color: MustParse("blue")}}, Default: &layoutDefault}

	first := Compose(component, layout, ComponentFirst)
	if len(first.Rules) != 1 || first.Rules[0].Name != "c" || first.Default != nil {
		t.Fatalf("component-first should use component overrides, got %+v", first)
	}
	if fallback := Compose(Overrides{}, layout, ComponentFirst); len(fallback.Rules) != 1 || fallback.Rules[0].Name != "l" {
		t.Fatalf("component-first should fall back to layout overrides, got %+v", fallback)
	}

	merged := Compose(component, layout, Concatenate)
	if len(merged.Rules) != 2 || merged.Rules[0].Name != "c" || merged.Rules[1].Name != "l" {
		t.Fatalf("concatenate should order component rules first, got %+v", merged)
	}
	if merged.Default == nil || *merged.Default != layoutDefault {
		t.Fatalf("concatenate should inherit layout default when component has none")
	}
	if got, _ := Resolve(merged, Spec{}, healthResolver(10)); got != MustParse("blue") {
		t.Fatalf("expected layout rule to match after component rule fails, got %s", got)
	}
}

func TestParse(t *testing.T) {
	if s := MustParse("Yellow"); s.String() != "#FFFF00" {
		t.Fatalf("expected yellow to be #FFFF00, got %s", s)
	}
	if s := MustParse("#ff8800"); s.String() != "#FF8800" {
		t.Fatalf("expected hex round trip, got %s", s)
	}
	if _, err := Parse("not-a-color"); !errors.Is(err, ErrInvalidColor) {
		t.Fatalf("expected ErrInvalidColor, got %v", err)
	}
	if (Spec{}).IsSet() || (Spec{}).String() != "" {
		t.Fatalf("zero Spec should be unset")
	}
	if p, err := ParsePolicy("concatenate"); err != nil || p != Concatenate {
		t.Fatalf("ParsePolicy(concatenate) = %v, %v", p, err)
	}
}
