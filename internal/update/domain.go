package update

// Payload is implemented by the fixed set of domain payloads.
type Payload interface {
	Kind() string
	payloadMarker()
}

const (
	KindDamage   = "damage"
	KindMove     = "move"
	KindGamemode = "gamemode"
	KindHeal     = "heal"
)

// Damage reports health lost by a player.
type Damage struct {
	Amount float64
	Cause  string
}

// Heal reports health regained by a player.
type Heal struct {
	Amount float64
}

// Move reports a position or world change.
type Move struct {
	World   string
	X, Y, Z float64
}

// GamemodeChange reports a new gamemode.
type GamemodeChange struct {
	Mode string
}

// Custom carries host-defined events; Name is the event kind used by
// component and popup triggers.
type Custom struct {
	Name   string
	Values map[string]string
}

func (Damage) Kind() string         { return KindDamage }
func (Heal) Kind() string           { return KindHeal }
func (Move) Kind() string           { return KindMove }
func (GamemodeChange) Kind() string { return KindGamemode }
func (c Custom) Kind() string       { return c.Name }

func (Damage) payloadMarker()         {}
func (Heal) payloadMarker()           {}
func (Move) payloadMarker()           {}
func (GamemodeChange) payloadMarker() {}
func (Custom) payloadMarker()         {}

// DomainEvent is a game event raised by the engine for one player. An empty
// PlayerID addresses every player.
type DomainEvent struct {
	PlayerID string
	Payload  Payload
}

func (DomainEvent) Kind() SourceKind { return SourceDomain }
func (DomainEvent) sourceMarker()    {}

// EventKind names the payload kind, or "" without a payload.
func (d DomainEvent) EventKind() string {
	if d.Payload == nil {
		return ""
	}
	return d.Payload.Kind()
}

// Targets reports whether the event concerns player.
func (d DomainEvent) Targets(player string) bool {
	return d.PlayerID == "" || d.PlayerID == player
}
