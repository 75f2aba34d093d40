// Package color resolves component colors from ordered, first-match
// override rules.
package color

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
)

var ErrInvalidColor = errors.New("color: invalid color")

// Spec is a resolved RGB color. The zero value is unset.
type Spec struct {
	c tcell.Color
}

// Parse accepts a W3C color name ("yellow") or "#rrggbb".
func Parse(raw string) (Spec, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	c := tcell.GetColor(name)
	if !c.Valid() {
		return Spec{}, fmt.Errorf("%w %q", ErrInvalidColor, raw)
	}
	return Spec{c: c.TrueColor()}, nil
}

// MustParse panics on invalid input. Intended for tests and static tables.
func MustParse(raw string) Spec {
	s, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// RGB builds a color from byte components.
func RGB(r, g, b int32) Spec {
	return Spec{c: tcell.NewRGBColor(r, g, b)}
}

func (s Spec) IsSet() bool { return s.c.Valid() }

// String renders "#RRGGBB", or "" when unset.
func (s Spec) String() string { return s.c.CSS() }

func (s Spec) Hex() int32 { return s.c.Hex() }

func (s Spec) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Spec) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		*s = Spec{}
		return nil
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
