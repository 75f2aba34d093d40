// Package condition evaluates single comparisons between two resolved
// placeholder values. Evaluation is pure: it never mutates the resolver.
package condition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Ruskei/BetterHud/internal/placeholder"
	"github.com/Ruskei/BetterHud/internal/value"
)

var (
	// ErrComparisonType reports an ordering comparison between a number and a
	// non-numeric value. The condition evaluates to false.
	ErrComparisonType   = errors.New("condition: incomparable operands")
	ErrUnknownOperation = errors.New("condition: unknown operation")
)

// Operation is one of the six comparison operators.
type Operation uint8

const (
	OpEQ Operation = iota + 1
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
)

var operationSymbols = map[Operation]string{
	OpEQ: "==",
	OpNE: "!=",
	OpLT: "<",
	OpLE: "<=",
	OpGT: ">",
	OpGE: ">=",
}

// ParseOperation accepts the symbolic wire form ("==", "<=", ...).
func ParseOperation(raw string) (Operation, error) {
	trimmed := strings.TrimSpace(raw)
	for op, symbol := range operationSymbols {
		if symbol == trimmed {
			return op, nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownOperation, raw)
}

func (o Operation) String() string {
	if symbol, ok := operationSymbols[o]; ok {
		return symbol
	}
	return "?"
}

func (o Operation) ordering() bool {
	return o == OpLT || o == OpLE || o == OpGT || o == OpGE
}

// Condition compares First against Second.
type Condition struct {
	Name   string
	First  placeholder.Expr
	Second placeholder.Expr
	Op     Operation
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.First, c.Op, c.Second)
}

// Resolver turns an expression into a value for one player.
type Resolver interface {
	Resolve(expr placeholder.Expr) (value.Value, error)
}

// Literals resolves literal expressions only; references fail.
type Literals struct{}

func (Literals) Resolve(expr placeholder.Expr) (value.Value, error) {
	if expr.IsRef() {
		return value.Value{}, fmt.Errorf("%w: %s", placeholder.ErrUnknownPlaceholder, expr)
	}
	return expr.Value(), nil
}

// Evaluate resolves both operands and applies the operation. Any error
// leaves the result false.
func Evaluate(c Condition, r Resolver) (bool, error) {
	first, err := r.Resolve(c.First)
	if err != nil {
		return false, err
	}
	second, err := r.Resolve(c.Second)
	if err != nil {
		return false, err
	}
	ok, err := Compare(first, second, c.Op)
	if err != nil {
		return false, fmt.Errorf("%s: %w", c, err)
	}
	return ok, nil
}

// All reports whether every condition holds. An empty set holds. Evaluation
// stops at the first false or failing condition.
func All(conditions []Condition, r Resolver) (bool, error) {
	for _, c := range conditions {
		ok, err := Evaluate(c, r)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Compare applies op to two values. Both operands numeric compare as
// numbers; otherwise the text forms compare lexically, except that ordering
// a number against a non-numeric value is ErrComparisonType.
func Compare(a, b value.Value, op Operation) (bool, error) {
	if _, ok := operationSymbols[op]; !ok {
		return false, fmt.Errorf("%w %d", ErrUnknownOperation, op)
	}
	an, aNum := a.Numeric()
	bn, bNum := b.Numeric()
	if aNum && bNum {
		return apply(compareNumbers(an, bn), op), nil
	}
	if op.ordering() && (aNum || bNum) {
		return false, fmt.Errorf("%w: %s(%q) %s %s(%q)", ErrComparisonType, a.Kind(), a.Text(), op, b.Kind(), b.Text())
	}
	return apply(strings.Compare(a.Text(), b.Text()), op), nil
}

func compareNumbers(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func apply(cmp int, op Operation) bool {
	switch op {
	case OpEQ:
		return cmp == 0
	case OpNE:
		return cmp != 0
	case OpLT:
		return cmp < 0
	case OpLE:
		return cmp <= 0
	case OpGT:
		return cmp > 0
	case OpGE:
		return cmp >= 0
	default:
		return false
	}
}
