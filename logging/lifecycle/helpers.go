package lifecycle

import (
	"context"

	"github.com/Ruskei/BetterHud/logging"
)

const (
	// EventPlayerJoined is emitted when a player's HUD slot is allocated.
	EventPlayerJoined logging.EventType = "lifecycle.player_joined"
	// EventPlayerLeft is emitted when a player's HUD slot is released.
	EventPlayerLeft logging.EventType = "lifecycle.player_left"
	// EventPopupShown is emitted when a popup starts displaying for a player.
	EventPopupShown logging.EventType = "lifecycle.popup_shown"
	// EventPopupExpired is emitted when a popup's display duration runs out.
	EventPopupExpired logging.EventType = "lifecycle.popup_expired"
)

// PlayerPayload describes a player slot change.
type PlayerPayload struct {
	Name string `json:"name,omitempty"`
}

// PlayerJoined publishes a join.
func PlayerJoined(ctx context.Context, pub logging.Publisher, tick uint64, player string, payload PlayerPayload) {
	publishPlayer(ctx, pub, EventPlayerJoined, tick, player, payload)
}

// PlayerLeft publishes a leave.
func PlayerLeft(ctx context.Context, pub logging.Publisher, tick uint64, player string, payload PlayerPayload) {
	publishPlayer(ctx, pub, EventPlayerLeft, tick, player, payload)
}

func publishPlayer(ctx context.Context, pub logging.Publisher, eventType logging.EventType, tick uint64, player string, payload PlayerPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    logging.PlayerRef(player),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}

// PopupPayload describes a popup instance.
type PopupPayload struct {
	Popup         string `json:"popup"`
	DurationTicks uint64 `json:"durationTicks"`
	ShownTick     uint64 `json:"shownTick"`
	Source        string `json:"source,omitempty"`
}

// PopupShown publishes the start of a popup display.
func PopupShown(ctx context.Context, pub logging.Publisher, tick uint64, player string, cycleKey string, payload PopupPayload) {
	publishPopup(ctx, pub, EventPopupShown, tick, player, cycleKey, payload)
}

// PopupExpired publishes the end of a popup display.
func PopupExpired(ctx context.Context, pub logging.Publisher, tick uint64, player string, cycleKey string, payload PopupPayload) {
	publishPopup(ctx, pub, EventPopupExpired, tick, player, cycleKey, payload)
}

func publishPopup(ctx context.Context, pub logging.Publisher, eventType logging.EventType, tick uint64, player string, cycleKey string, payload PopupPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    logging.PlayerRef(player),
		Targets:  []logging.EntityRef{{ID: payload.Popup, Kind: logging.EntityKindPopup}},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		CycleKey: cycleKey,
	})
}
