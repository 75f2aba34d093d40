package placeholder

import (
	"strings"

	"github.com/Ruskei/BetterHud/internal/value"
)

// Expr is either a placeholder reference written as "[name]" or
// "[name:arg1,arg2]", or a literal value.
type Expr struct {
	name    string
	args    Args
	literal value.Value
}

// ParseExpr parses config text. Bracketed text is a reference; anything else
// is a literal.
func ParseExpr(raw string) Expr {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) > 2 && trimmed[0] == '[' && trimmed[len(trimmed)-1] == ']' {
		body := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
		name, rest, hasArgs := strings.Cut(body, ":")
		expr := Expr{name: strings.TrimSpace(name)}
		if hasArgs {
			for _, arg := range strings.Split(rest, ",") {
				expr.args = append(expr.args, strings.TrimSpace(arg))
			}
		}
		if expr.name != "" {
			return expr
		}
	}
	return Expr{literal: value.Parse(raw)}
}

// Ref builds a reference expression.
func Ref(name string, args ...string) Expr {
	return Expr{name: name, args: append(Args(nil), args...)}
}

// Literal builds a literal expression.
func Literal(v value.Value) Expr {
	return Expr{literal: v}
}

func (e Expr) IsRef() bool { return e.name != "" }

func (e Expr) Name() string { return e.name }

func (e Expr) Args() Args { return append(Args(nil), e.args...) }

// Value returns the literal value of a non-reference expression.
func (e Expr) Value() value.Value { return e.literal }

// Key identifies a reference within one cycle: equal keys share a handle.
func (e Expr) Key() string {
	if !e.IsRef() {
		return ""
	}
	if len(e.args) == 0 {
		return e.name
	}
	return e.name + ":" + strings.Join(e.args, ",")
}

func (e Expr) String() string {
	if e.IsRef() {
		return "[" + e.Key() + "]"
	}
	return e.literal.Text()
}
