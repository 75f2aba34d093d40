// Package value holds the tagged union produced by placeholder evaluation.
package value

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Kind tags the active member of a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindNumber
	KindString
	KindBoolean
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBoolean:
		return "boolean"
	default:
		return "invalid"
	}
}

// Value is a Number, String or Boolean. The zero Value is invalid.
type Value struct {
	kind Kind
	num  float64
	str  string
	b    bool
}

func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

func String(s string) Value { return Value{kind: KindString, str: s} }

func Bool(b bool) Value { return Value{kind: KindBoolean, b: b} }

// Parse interprets raw config text: numbers become Number, true/false
// become Boolean, anything else is kept as String.
func Parse(raw string) Value {
	trimmed := strings.TrimSpace(raw)
	if n, ok := parseNumber(trimmed); ok {
		return Number(n)
	}
	switch trimmed {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	return String(raw)
}

func parseNumber(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsValid() bool { return v.kind != KindInvalid }

// Numeric reports the value as a number. Strings holding a numeric literal
// count as numbers; booleans never do.
func (v Value) Numeric() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		return parseNumber(strings.TrimSpace(v.str))
	default:
		return 0, false
	}
}

// Text renders the value the way it is shown on the HUD.
func (v Value) Text() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindString:
		return v.str
	case KindBoolean:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

func (v Value) String() string { return v.Text() }

// Equal compares kind and payload.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == other.num
	case KindString:
		return v.str == other.str
	case KindBoolean:
		return v.b == other.b
	default:
		return true
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.str)
	case KindBoolean:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// FromAny converts decoded JSON scalars into a Value.
func FromAny(raw any) Value {
	switch typed := raw.(type) {
	case float64:
		return Number(typed)
	case int:
		return Number(float64(typed))
	case int64:
		return Number(float64(typed))
	case bool:
		return Bool(typed)
	case string:
		return Parse(typed)
	case json.Number:
		return Parse(typed.String())
	default:
		return Value{}
	}
}
