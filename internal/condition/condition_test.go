package condition

import (
	"errors"
	"testing"

	"github.com/Ruskei/BetterHud/internal/placeholder"
	"github.com/Ruskei/BetterHud/internal/value"
)

type mapResolver map[string]value.Value

func (m mapResolver) Resolve(expr placeholder.Expr) (value.Value, error) {
	if !expr.IsRef() {
		return expr.Value(), nil
	}
	v, ok := m[expr.Key()]
	if !ok {
		return value.Value{}, placeholder.ErrUnknownPlaceholder
	}
	return v, nil
}

func cond(first, op, second string) Condition {
	operation, err := ParseOperation(op)
	if err != nil {
		panic(err)
	}
	return Condition{First: placeholder.ParseExpr(first), Second: placeholder.ParseExpr(second), Op: operation}
}

func TestEvaluateLiteralScenarios(t *testing.T) {
	cases := []struct {
		first, op, second string
		want              bool
	}{
		{"8", "<", "10", true},
		{"world", "==", "world", true},
		{"10", "<", "9", false},
		{"10.0", "==", "10", true},
		{"abc", "<", "abd", true},
		{"abc", "!=", "abc", false},
		{"5", ">=", "5", true},
		{"5", "<=", "4", false},
	}
	for _, tc := range cases {
		got, err := Evaluate(cond(tc.first, tc.op, tc.second), Literals{})
		if err != nil {
			t.Fatalf("%s %s %s: unexpected error %v", tc.first, tc.op, tc.second, err)
		}
		if got != tc.want {
			t.Fatalf("%s %s %s = %v, want %v", tc.first, tc.op, tc.second, got, tc.want)
		}
	}
}

func TestEvaluateResolvesPlaceholders(t *testing.T) {
	r := mapResolver{"health": value.Number(7), "world": value.String("nether")}
	if ok, err := Evaluate(cond("[health]", "<", "10"), r); err != nil || !ok {
		t.Fatalf("expected health<10 to hold, got %v %v", ok, err)
	}
	if ok, _ := Evaluate(cond("[world]", "==", "world"), r); ok {
		t.Fatalf("expected nether != world")
	}
	if ok, err := Evaluate(cond("[missing]", "==", "1"), r); ok || !errors.Is(err, placeholder.ErrUnknownPlaceholder) {
		t.Fatalf("expected resolution failure to be false with error, got %v %v", ok, err)
	}
}

func TestEvaluateComparisonTypeMismatchIsFalse(t *testing.T) {
	ok, err := Evaluate(cond("8", "<", "world"), Literals{})
	if ok {
		t.Fatalf("expected mismatch to evaluate false")
	}
	if !errors.Is(err, ErrComparisonType) {
		t.Fatalf("expected ErrComparisonType, got %v", err)
	}
	if ok, err := Evaluate(cond("8", "!=", "world"), Literals{}); err != nil || !ok {
		t.Fatalf("expected equality operators to compare text, got %v %v", ok, err)
	}
}

func TestAllShortCircuitsAndAcceptsEmpty(t *testing.T) {
	if ok, err := All(nil, Literals{}); !ok || err != nil {
		t.Fatalf("expected empty condition set to hold")
	}
	set := []Condition{cond("1", "==", "2"), cond("[missing]", "==", "1")}
	if ok, err := All(set, Literals{}); ok || err != nil {
		t.Fatalf("expected short-circuit on first false, got %v %v", ok, err)
	}
}

func TestParseOperation(t *testing.T) {
	for _, symbol := range []string{"==", "!=", "<", "<=", ">", ">="} {
		op, err := ParseOperation(symbol)
		if err != nil || op.String() != symbol {
			t.Fatalf("ParseOperation(%q) = %v, %v", symbol, op, err)
		}
	}
	if _, err := ParseOperation("=~"); !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}
}
