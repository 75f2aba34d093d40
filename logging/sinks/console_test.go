package sinks

import (
	"bytes"
	"strings"
	"testing"

	"github.com/Ruskei/BetterHud/logging"
)

func TestFormatLine(t *testing.T) {
	line := FormatLine(logging.Event{
		Type:     "pipeline.evaluation_failed",
		Tick:     12,
		Actor:    logging.PlayerRef("p1"),
		Targets:  []logging.EntityRef{logging.ComponentRef("status/health")},
		Severity: logging.SeverityWarn,
		CycleKey: "0a1b2c3d-aaaa-bbbb-cccc-000000000000",
		Payload:  map[string]string{"error": "boom"},
		Extra:    map[string]any{"suppressed": uint64(19), "service": "hud"},
	})
	want := `WARN  pipeline.evaluation_failed tick=12 player:p1 -> component:status/health cycle=0a1b2c3d {"error":"boom"} service=hud (+19 repeats)`
	if line != want {
		t.Fatalf("unexpected line\n got: %s\nwant: %s", line, want)
	}
}

func TestFormatLineOmitsEmptyParts(t *testing.T) {
	line := FormatLine(logging.Event{Type: "lifecycle.player_joined", Severity: logging.SeverityInfo})
	if line != "INFO  lifecycle.player_joined" {
		t.Fatalf("unexpected line %q", line)
	}
}

func TestConsoleSinkWritesPrefixedLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, logging.ConsoleConfig{Prefix: "[hud] "})
	if err := sink.Write(logging.Event{Type: "simulation.tick_budget_overrun", Tick: 3, Severity: logging.SeverityWarn}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "[hud] ") || !strings.Contains(out, "WARN  simulation.tick_budget_overrun tick=3") {
		t.Fatalf("unexpected output %q", out)
	}
}
