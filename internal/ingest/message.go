// Package ingest turns game engine messages into domain events and popup
// requests for the HUD engine.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Ruskei/BetterHud/internal/update"
)

const (
	TypeEvent = "event"
	TypePopup = "popup"
)

var ErrInvalidMessage = errors.New("ingest: invalid message")

// Message is the wire shape shared by the Redis channel and the HTTP
// endpoints. Type defaults to "event".
type Message struct {
	Type     string            `json:"type,omitempty"`
	Player   string            `json:"player,omitempty"`
	Kind     string            `json:"kind,omitempty"`
	Amount   float64           `json:"amount,omitempty"`
	Cause    string            `json:"cause,omitempty"`
	World    string            `json:"world,omitempty"`
	X        float64           `json:"x,omitempty"`
	Y        float64           `json:"y,omitempty"`
	Z        float64           `json:"z,omitempty"`
	Mode     string            `json:"mode,omitempty"`
	Values   map[string]string `json:"values,omitempty"`
	Popup    string            `json:"popup,omitempty"`
	Duration uint64            `json:"duration,omitempty"`
}

// Sink receives decoded work. *engine.Engine implements it.
type Sink interface {
	Submit(domain update.DomainEvent) (update.Event, error)
	ShowPopup(event update.Event, player string, durationTicks uint64) error
}

// Decode parses one JSON message.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Type == "" {
		msg.Type = TypeEvent
	}
	return msg, nil
}

// Domain converts an event message into a domain event.
func (m Message) Domain() (update.DomainEvent, error) {
	kind := strings.TrimSpace(m.Kind)
	var payload update.Payload
	switch kind {
	case "":
		return update.DomainEvent{}, fmt.Errorf("%w: missing kind", ErrInvalidMessage)
	case update.KindDamage:
		if m.Amount < 0 {
			return update.DomainEvent{}, fmt.Errorf("%w: negative damage %v", ErrInvalidMessage, m.Amount)
		}
		payload = update.Damage{Amount: m.Amount, Cause: m.Cause}
	case update.KindHeal:
		if m.Amount < 0 {
			return update.DomainEvent{}, fmt.Errorf("%w: negative heal %v", ErrInvalidMessage, m.Amount)
		}
		payload = update.Heal{Amount: m.Amount}
	case update.KindMove:
		payload = update.Move{World: m.World, X: m.X, Y: m.Y, Z: m.Z}
	case update.KindGamemode:
		if m.Mode == "" {
			return update.DomainEvent{}, fmt.Errorf("%w: gamemode without mode", ErrInvalidMessage)
		}
		payload = update.GamemodeChange{Mode: m.Mode}
	default:
		payload = update.Custom{Name: kind, Values: m.Values}
	}
	return update.DomainEvent{PlayerID: m.Player, Payload: payload}, nil
}

// Deliver hands the message to sink.
func Deliver(sink Sink, m Message) error {
	switch m.Type {
	case TypeEvent:
		domain, err := m.Domain()
		if err != nil {
			return err
		}
		_, err = sink.Submit(domain)
		return err
	case TypePopup:
		if m.Popup == "" || m.Player == "" {
			return fmt.Errorf("%w: popup requires popup and player", ErrInvalidMessage)
		}
		return sink.ShowPopup(update.NewPopup(m.Popup, nil), m.Player, m.Duration)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
}
