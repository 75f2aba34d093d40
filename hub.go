package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ruskei/BetterHud/internal/component"
	"github.com/Ruskei/BetterHud/internal/engine"
	"github.com/Ruskei/BetterHud/internal/sched"
	"github.com/Ruskei/BetterHud/internal/state"
	"github.com/Ruskei/BetterHud/internal/telemetry"
	"github.com/Ruskei/BetterHud/internal/update"
	"github.com/Ruskei/BetterHud/logging"
	"github.com/Ruskei/BetterHud/logging/simulation"
)

const (
	writeWait = 10 * time.Second

	// TypeFrame tags frame messages pushed to HUD clients.
	TypeFrame = "frame"
)

// HubConfig tunes the simulation loop driven by the hub.
type HubConfig struct {
	TickRate        int
	CatchupMaxTicks int
	Logger          telemetry.Logger
	Clock           logging.Clock
}

// DefaultHubConfig returns the loop defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		TickRate:        sched.DefaultTickRate,
		CatchupMaxTicks: 3,
	}
}

type frameMessage struct {
	Type       string          `json:"type"`
	Frame      component.Frame `json:"frame"`
	ServerTime int64           `json:"serverTime"`
}

type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// WriteMessage serialises writes to the underlying connection.
func (s *subscriber) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(messageType, data)
}

// Hub connects the HUD engine to its clients: it runs the tick loop and
// pushes every player's frame to their websocket after each tick.
type Hub struct {
	engine    *engine.Engine
	config    HubConfig
	publisher logging.Publisher
	logger    telemetry.Logger
	telemetry *telemetryCounters

	mu          sync.Mutex
	subscribers map[string]*subscriber
}

// NewHub wraps eng. The publisher receives loop events such as budget
// overruns.
func NewHub(eng *engine.Engine, cfg HubConfig, publisher logging.Publisher) *Hub {
	if cfg.TickRate <= 0 {
		cfg.TickRate = sched.DefaultTickRate
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	return &Hub{
		engine:      eng,
		config:      cfg,
		publisher:   logging.OrNop(publisher),
		logger:      logger,
		telemetry:   newTelemetryCounters(),
		subscribers: make(map[string]*subscriber),
	}
}

func (h *Hub) Engine() *engine.Engine { return h.engine }

func (h *Hub) TickRate() int { return h.config.TickRate }

// Join registers a player reported by the game engine.
func (h *Hub) Join(ctx context.Context, id, name string) (state.Snapshot, bool) {
	return h.engine.Join(ctx, id, name)
}

// Leave removes a player and closes their stream.
func (h *Hub) Leave(ctx context.Context, id string) bool {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.mu.Unlock()
	if ok {
		sub.conn.Close()
	}
	return h.engine.Leave(ctx, id)
}

// Submit queues a domain event for the next tick.
func (h *Hub) Submit(domain update.DomainEvent) (update.Event, error) {
	return h.engine.Submit(domain)
}

// ShowPopup queues a popup for the next tick.
func (h *Hub) ShowPopup(event update.Event, player string, durationTicks uint64) error {
	return h.engine.ShowPopup(event, player, durationTicks)
}

// Subscribe associates a websocket with a known player and returns the frame
// the player currently sees. An existing stream for the player is closed.
func (h *Hub) Subscribe(playerID string, conn *websocket.Conn) (*subscriber, component.Frame, bool) {
	frame, ok := h.engine.Frame(playerID)
	if !ok {
		return nil, component.Frame{}, false
	}

	h.mu.Lock()
	existing, replaced := h.subscribers[playerID]
	sub := &subscriber{conn: conn}
	h.subscribers[playerID] = sub
	h.mu.Unlock()

	if replaced {
		existing.conn.Close()
	}
	return sub, frame, true
}

// Unsubscribe drops sub if it is still the player's stream. The player stays
// joined: player lifecycle belongs to the game engine.
func (h *Hub) Unsubscribe(playerID string, sub *subscriber) {
	h.mu.Lock()
	current, ok := h.subscribers[playerID]
	if ok && current == sub {
		delete(h.subscribers, playerID)
	}
	h.mu.Unlock()
	if sub != nil {
		sub.conn.Close()
	}
}

// Subscribers reports the number of open streams.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// RunSimulation drives the fixed-rate tick loop until ctx is done.
func (h *Hub) RunSimulation(ctx context.Context) {
	loop := sched.NewLoop(h.engine, sched.LoopConfig{
		TickRate:        h.config.TickRate,
		CatchupMaxTicks: h.config.CatchupMaxTicks,
	}, sched.LoopHooks{
		NextTick: func() uint64 { return h.engine.Tick() + 1 },
		AfterStep: func(result sched.LoopStepResult) {
			h.afterStep(ctx, result)
		},
	}, h.config.Clock, h.logger)
	loop.Run(ctx)
}

func (h *Hub) afterStep(ctx context.Context, result sched.LoopStepResult) {
	h.telemetry.RecordTickDuration(result.Duration)
	if result.Err != nil {
		h.telemetry.RecordStepError()
	}
	if result.Budget > 0 {
		if result.Duration > result.Budget {
			streak := h.telemetry.RecordTickBudgetOverrun(result.Duration, result.Budget)
			simulation.TickBudgetOverrun(ctx, h.publisher, result.Tick, simulation.TickBudgetOverrunPayload{
				DurationMillis: result.Duration.Milliseconds(),
				BudgetMillis:   result.Budget.Milliseconds(),
				Ratio:          float64(result.Duration) / float64(result.Budget),
				Streak:         streak,
				Players:        result.Players,
			}, map[string]any{"clampedDelta": result.ClampedDelta})
		} else {
			h.telemetry.RecordTickWithinBudget(result.Budget)
		}
	}
	h.BroadcastFrames()
}

// MarshalFrame encodes the message pushed to a HUD client.
func (h *Hub) MarshalFrame(frame component.Frame) ([]byte, error) {
	return json.Marshal(frameMessage{
		Type:       TypeFrame,
		Frame:      frame,
		ServerTime: time.Now().UnixMilli(),
	})
}

// BroadcastFrames sends every subscriber its current frame and returns the
// number of frames delivered. Failed streams are dropped.
func (h *Hub) BroadcastFrames() int {
	h.mu.Lock()
	subs := make(map[string]*subscriber, len(h.subscribers))
	for id, sub := range h.subscribers {
		subs[id] = sub
	}
	h.mu.Unlock()

	sent, bytes := 0, 0
	for id, sub := range subs {
		frame, ok := h.engine.Frame(id)
		if !ok {
			h.Unsubscribe(id, sub)
			continue
		}
		data, err := h.MarshalFrame(frame)
		if err != nil {
			h.logger.Printf("failed to marshal frame for %s: %v", id, err)
			continue
		}
		if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Printf("failed to send frame to %s: %v", id, err)
			h.Unsubscribe(id, sub)
			continue
		}
		sent++
		bytes += len(data)
	}
	h.telemetry.RecordBroadcast(bytes, sent)
	return sent
}

// TelemetrySnapshot exposes loop and broadcast counters for diagnostics.
func (h *Hub) TelemetrySnapshot() telemetrySnapshot {
	return h.telemetry.Snapshot()
}

// Diagnostics summarises engine state.
func (h *Hub) Diagnostics() engine.Diagnostics {
	return h.engine.Diagnostics()
}
