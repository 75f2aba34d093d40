// Package state mirrors the per-player game state reported by the engine.
package state

import "maps"

const (
	defaultMaxHealth = 20.0
	defaultFood      = 20.0
	defaultGamemode  = "survival"
	defaultWorld     = "world"
)

// Snapshot is an immutable copy of one player's state for a tick.
type Snapshot struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	World           string            `json:"world"`
	Gamemode        string            `json:"gamemode"`
	Health          float64           `json:"health"`
	MaxHealth       float64           `json:"maxHealth"`
	Armor           float64           `json:"armor"`
	Food            float64           `json:"food"`
	Level           int               `json:"level"`
	X               float64           `json:"x"`
	Y               float64           `json:"y"`
	Z               float64           `json:"z"`
	PingMillis      int64             `json:"pingMillis"`
	LastDamage      float64           `json:"lastDamage"`
	LastDamageCause string            `json:"lastDamageCause,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

// NewSnapshot seeds a freshly joined player.
func NewSnapshot(id, name string) Snapshot {
	if name == "" {
		name = id
	}
	return Snapshot{
		ID:        id,
		Name:      name,
		World:     defaultWorld,
		Gamemode:  defaultGamemode,
		Health:    defaultMaxHealth,
		MaxHealth: defaultMaxHealth,
		Food:      defaultFood,
	}
}

// Clone deep-copies the attribute map.
func (s Snapshot) Clone() Snapshot {
	if s.Attributes != nil {
		s.Attributes = maps.Clone(s.Attributes)
	}
	return s
}

// HealthRatio returns health as a percentage of max health.
func (s Snapshot) HealthRatio() float64 {
	if s.MaxHealth <= 0 {
		return 0
	}
	return s.Health / s.MaxHealth * 100
}
