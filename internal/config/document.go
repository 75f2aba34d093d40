// Package config loads the HUD definition file.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/iancoleman/orderedmap"
	"github.com/invopop/jsonschema"
)

// Document is the top-level shape of the HUD definition file.
type Document struct {
	TickRate    int                      `json:"tick-rate,omitempty" jsonschema:"minimum=1,description=Ticks per second of the global loop."`
	Workers     int                      `json:"workers,omitempty" jsonschema:"minimum=0,description=Upper bound on players evaluated in parallel."`
	ColorPolicy string                   `json:"color-policy,omitempty" jsonschema:"enum=component-first,enum=concatenate"`
	Listeners   map[string]ListenerBlock `json:"listeners,omitempty"`
	Layouts     Ordered[LayoutBlock]     `json:"layouts,omitempty"`
	Popups      Ordered[PopupBlock]      `json:"popups,omitempty"`
}

// ListenerBlock configures a cache-backed numeric listener.
type ListenerBlock struct {
	Lazy           *bool    `json:"lazy,omitempty"`
	InitialValue   Scalar   `json:"initial-value,omitempty"`
	Delay          int      `json:"delay,omitempty" jsonschema:"minimum=0"`
	Multiplier     *float64 `json:"multiplier,omitempty" jsonschema:"minimum=0,maximum=1"`
	ExpiringSecond *int     `json:"expiring-second,omitempty" jsonschema:"minimum=1"`
}

// LayoutBlock groups components under shared conditions and colors.
type LayoutBlock struct {
	Conditions     Ordered[ConditionBlock] `json:"conditions,omitempty"`
	ColorOverrides Ordered[RuleBlock]      `json:"color-overrides,omitempty"`
	DefaultColor   string                  `json:"default-color,omitempty"`
	Components     Ordered[ComponentBlock] `json:"components"`
}

// ComponentBlock is one HUD element.
type ComponentBlock struct {
	Value          Scalar                  `json:"value"`
	Tick           *int                    `json:"tick,omitempty" jsonschema:"minimum=1"`
	Listener       string                  `json:"listener,omitempty"`
	Conditions     Ordered[ConditionBlock] `json:"conditions,omitempty"`
	ColorOverrides Ordered[RuleBlock]      `json:"color-overrides,omitempty"`
	DefaultColor   string                  `json:"default-color,omitempty"`
	BaseColor      string                  `json:"base-color,omitempty"`
	OnFailure      string                  `json:"on-failure,omitempty" jsonschema:"enum=hide,enum=last-known"`
	Triggers       []string                `json:"triggers,omitempty"`
}

// ConditionBlock compares first against second.
type ConditionBlock struct {
	First     Scalar `json:"first"`
	Second    Scalar `json:"second"`
	Operation string `json:"operation" jsonschema:"description=One of the six comparison operators."`
}

// RuleBlock is one color override rule.
type RuleBlock struct {
	Color      string                  `json:"color"`
	Conditions Ordered[ConditionBlock] `json:"conditions,omitempty"`
}

// PopupBlock is a popup template.
type PopupBlock struct {
	Duration int                  `json:"duration,omitempty" jsonschema:"minimum=0,description=Display duration in ticks."`
	Triggers []string             `json:"triggers,omitempty"`
	Layouts  Ordered[LayoutBlock] `json:"layouts"`
}

// Scalar holds a string, number or boolean as written in the file.
type Scalar string

func (s *Scalar) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = ""
		return nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*s = Scalar(text)
		return nil
	}
	var raw any
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*s = Scalar(strconv.FormatFloat(v, 'f', -1, 64))
	case bool:
		*s = Scalar(strconv.FormatBool(v))
	default:
		return fmt.Errorf("config: expected string, number or boolean, got %s", trimmed)
	}
	return nil
}

func (Scalar) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string"},
			{Type: "number"},
			{Type: "boolean"},
		},
	}
}

// Entry is one key of an ordered map.
type Entry[T any] struct {
	Key   string
	Value T
}

// Ordered is a JSON object whose key order is significant.
type Ordered[T any] struct {
	Entries []Entry[T]
}

func (o Ordered[T]) Len() int { return len(o.Entries) }

func (o *Ordered[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Entries = nil
		return nil
	}
	keys := orderedmap.New()
	if err := json.Unmarshal(data, keys); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	o.Entries = make([]Entry[T], 0, len(raw))
	for _, key := range keys.Keys() {
		var v T
		if err := json.Unmarshal(raw[key], &v); err != nil {
			return fmt.Errorf("%q: %w", key, err)
		}
		o.Entries = append(o.Entries, Entry[T]{Key: key, Value: v})
	}
	return nil
}

func (o Ordered[T]) MarshalJSON() ([]byte, error) {
	m := orderedmap.New()
	for _, entry := range o.Entries {
		m.Set(entry.Key, entry.Value)
	}
	return json.Marshal(m)
}

func (Ordered[T]) JSONSchema() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{DoNotReference: true, Anonymous: true, AllowAdditionalProperties: true}
	item := reflector.Reflect(new(T))
	item.Version = ""
	return &jsonschema.Schema{
		Type:              "object",
		Description:       "Ordered map: entries are evaluated in file order.",
		PatternProperties: map[string]*jsonschema.Schema{".*": item},
	}
}
