// Package net exposes the hub over HTTP.
package net

import (
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"time"

	server "github.com/Ruskei/BetterHud"
	"github.com/Ruskei/BetterHud/internal/engine"
	"github.com/Ruskei/BetterHud/internal/ingest"
	"github.com/Ruskei/BetterHud/internal/net/ws"
	"github.com/Ruskei/BetterHud/internal/popup"
	"github.com/Ruskei/BetterHud/internal/telemetry"
	"github.com/Ruskei/BetterHud/logging"
)

const maxBodyBytes = 1 << 16

// StatsSource reports logging router counters.
type StatsSource interface {
	Stats() logging.RouterStats
}

// MetricsSource reports telemetry counters.
type MetricsSource interface {
	Snapshot() map[string]uint64
}

type HTTPHandlerConfig struct {
	Logger  telemetry.Logger
	Router  StatsSource
	Metrics MetricsSource
}

type playerRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type eventResponse struct {
	Status string `json:"status"`
	Key    string `json:"key,omitempty"`
}

func NewHTTPHandler(hub *server.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status      string               `json:"status"`
			ServerTime  int64                `json:"serverTime"`
			TickRate    int                  `json:"tickRate"`
			Engine      engine.Diagnostics   `json:"engine"`
			Subscribers int                  `json:"subscribers"`
			Telemetry   any                  `json:"telemetry"`
			Logging     *logging.RouterStats `json:"logging,omitempty"`
			Metrics     map[string]uint64    `json:"metrics,omitempty"`
		}{
			Status:      "ok",
			ServerTime:  time.Now().UnixMilli(),
			TickRate:    hub.TickRate(),
			Engine:      hub.Diagnostics(),
			Subscribers: hub.Subscribers(),
			Telemetry:   hub.TelemetrySnapshot(),
		}
		if cfg.Router != nil {
			stats := cfg.Router.Stats()
			payload.Logging = &stats
		}
		if cfg.Metrics != nil {
			payload.Metrics = cfg.Metrics.Snapshot()
		}
		writeJSON(w, nethttp.StatusOK, payload)
	})

	mux.HandleFunc("/join", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		req, ok := decodePlayerRequest(w, r)
		if !ok {
			return
		}
		snapshot, added := hub.Join(r.Context(), req.ID, req.Name)
		status := nethttp.StatusCreated
		if !added {
			status = nethttp.StatusOK
		}
		writeJSON(w, status, snapshot)
	})

	mux.HandleFunc("/leave", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		req, ok := decodePlayerRequest(w, r)
		if !ok {
			return
		}
		if !hub.Leave(r.Context(), req.ID) {
			httpError(w, "unknown player", nethttp.StatusNotFound)
			return
		}
		writeJSON(w, nethttp.StatusOK, eventResponse{Status: "ok"})
	})

	mux.HandleFunc("/events", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		msg, ok := decodeMessage(w, r)
		if !ok {
			return
		}
		domain, err := msg.Domain()
		if err != nil {
			httpError(w, err.Error(), nethttp.StatusBadRequest)
			return
		}
		event, err := hub.Submit(domain)
		if err != nil {
			logger.Printf("event rejected: %v", err)
			httpError(w, err.Error(), statusFor(err))
			return
		}
		writeJSON(w, nethttp.StatusAccepted, eventResponse{Status: "queued", Key: string(event.Key())})
	})

	mux.HandleFunc("/popup", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		msg, ok := decodeMessage(w, r)
		if !ok {
			return
		}
		msg.Type = ingest.TypePopup
		if err := ingest.Deliver(hub, msg); err != nil {
			httpError(w, err.Error(), statusFor(err))
			return
		}
		writeJSON(w, nethttp.StatusAccepted, eventResponse{Status: "queued"})
	})

	mux.HandleFunc("/hud", ws.NewHandler(hub, ws.HandlerConfig{Logger: logger}).Handle)

	return mux
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrInvalidMessage):
		return nethttp.StatusBadRequest
	case errors.Is(err, engine.ErrUnknownPlayer), errors.Is(err, popup.ErrUnknownPopup):
		return nethttp.StatusNotFound
	case errors.Is(err, engine.ErrInboxFull):
		return nethttp.StatusServiceUnavailable
	default:
		return nethttp.StatusBadRequest
	}
}

func decodePlayerRequest(w nethttp.ResponseWriter, r *nethttp.Request) (playerRequest, bool) {
	var req playerRequest
	if !decodeBody(w, r, &req) {
		return playerRequest{}, false
	}
	if req.ID == "" {
		httpError(w, "missing id", nethttp.StatusBadRequest)
		return playerRequest{}, false
	}
	return req, true
}

func decodeMessage(w nethttp.ResponseWriter, r *nethttp.Request) (ingest.Message, bool) {
	if r.Method != nethttp.MethodPost {
		httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
		return ingest.Message{}, false
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httpError(w, "invalid payload", nethttp.StatusBadRequest)
		return ingest.Message{}, false
	}
	msg, err := ingest.Decode(data)
	if err != nil {
		httpError(w, "invalid payload", nethttp.StatusBadRequest)
		return ingest.Message{}, false
	}
	return msg, true
}

func decodeBody(w nethttp.ResponseWriter, r *nethttp.Request, into any) bool {
	if r.Method != nethttp.MethodPost {
		httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
		return false
	}
	if r.Body == nil {
		httpError(w, "invalid payload", nethttp.StatusBadRequest)
		return false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(into); err != nil {
		httpError(w, "invalid payload", nethttp.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w nethttp.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
