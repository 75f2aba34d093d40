package logging_test

import (
	"context"
	"testing"
	"time"

	"github.com/Ruskei/BetterHud/logging"
	"github.com/Ruskei/BetterHud/logging/sinks"
)

func newTestRouter(t *testing.T, cfg logging.Config) (*logging.Router, *sinks.MemorySink) {
	t.Helper()
	memory := sinks.NewMemorySink()
	clock := logging.ClockFunc(func() time.Time { return time.Unix(1700000000, 0) })
	router, err := logging.NewRouter(clock, cfg, []logging.NamedSink{{Name: "memory", Sink: memory}})
	if err != nil {
		t.Fatalf("NewRouter returned error: %v", err)
	}
	return router, memory
}

func TestRouterForwardsAndStampsEvents(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.EnabledSinks = nil
	cfg.Fields = map[string]any{"service": "hud"}
	router, memory := newTestRouter(t, cfg)

	router.Publish(context.Background(), logging.Event{Type: "test.one", Tick: 3, Severity: logging.SeverityInfo})
	router.Publish(context.Background(), logging.Event{Type: "test.debug", Severity: logging.SeverityDebug})
	router.Publish(context.Background(), logging.Event{Severity: logging.SeverityError})

	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	events := memory.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event after filtering, got %d: %+v", len(events), events)
	}
	got := events[0]
	if got.Type != "test.one" || got.Tick != 3 {
		t.Fatalf("unexpected event forwarded: %+v", got)
	}
	if got.Time.IsZero() {
		t.Fatalf("expected router to stamp event time")
	}
	if got.Extra["service"] != "hud" {
		t.Fatalf("expected configured fields on event, got %v", got.Extra)
	}
	if stats := router.Stats(); stats.EventsTotal != 1 {
		t.Fatalf("expected 1 forwarded event in stats, got %+v", stats)
	}
}

func TestRouterSkipsDisabledSinks(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.EnabledSinks = []string{"console"}
	router, memory := newTestRouter(t, cfg)

	router.Publish(context.Background(), logging.Event{Type: "test.one", Severity: logging.SeverityWarn})
	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if events := memory.Events(); len(events) != 0 {
		t.Fatalf("expected disabled sink to receive nothing, got %d events", len(events))
	}
	if router.Sink("memory") != nil {
		t.Fatalf("expected disabled sink to be detached")
	}
}

func TestWithFieldsDoesNotOverwrite(t *testing.T) {
	var captured logging.Event
	base := logging.PublisherFunc(func(_ context.Context, event logging.Event) { captured = event })
	pub := logging.WithFields(base, map[string]any{"group": "hud", "player": "ignored"})

	pub.Publish(context.Background(), logging.Event{Type: "x", Extra: map[string]any{"player": "p1"}})

	if captured.Extra["group"] != "hud" {
		t.Fatalf("expected group field, got %v", captured.Extra)
	}
	if captured.Extra["player"] != "p1" {
		t.Fatalf("expected existing field to win, got %v", captured.Extra["player"])
	}
}

func TestMetricsAccumulate(t *testing.T) {
	var metrics logging.Metrics
	metrics.TelemetryAdd("a", 2)
	metrics.TelemetryAdd("a", 3)
	metrics.TelemetryStore("b", 7)

	snapshot := metrics.Snapshot()
	if snapshot["a"] != 5 || snapshot["b"] != 7 {
		t.Fatalf("unexpected snapshot %v", snapshot)
	}
	keys := metrics.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestRouterCollapsesRepeatsWithinWindow(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.EnabledSinks = nil
	cfg.RepeatWindowTicks = 10
	router, memory := newTestRouter(t, cfg)

	failing := func(tick uint64, component string) logging.Event {
		return logging.Event{
			Type:     "pipeline.evaluation_failed",
			Tick:     tick,
			Actor:    logging.PlayerRef("p1"),
			Targets:  []logging.EntityRef{logging.ComponentRef(component)},
			Severity: logging.SeverityWarn,
		}
	}
	ctx := context.Background()
	for tick := uint64(1); tick <= 4; tick++ {
		router.Publish(ctx, failing(tick, "status/health"))
	}
	router.Publish(ctx, failing(2, "status/world"))
	router.Publish(ctx, logging.Event{Type: "pipeline.evaluation_failed", Actor: logging.PlayerRef("p1"), Severity: logging.SeverityWarn})
	router.Publish(ctx, logging.Event{Type: "pipeline.evaluation_failed", Actor: logging.PlayerRef("p1"), Severity: logging.SeverityWarn})
	router.Publish(ctx, failing(11, "status/health"))

	if err := router.Close(ctx); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	events := memory.Events()
	if len(events) != 5 {
		t.Fatalf("expected 5 forwarded events, got %d: %+v", len(events), events)
	}
	if _, ok := events[0].Extra["suppressed"]; ok {
		t.Fatalf("first event should not carry a suppressed count: %v", events[0].Extra)
	}
	last := events[4]
	if last.Tick != 11 || last.Extra["suppressed"] != uint64(3) {
		t.Fatalf("expected tick 11 with 3 suppressed repeats, got tick=%d extra=%v", last.Tick, last.Extra)
	}
	if stats := router.Stats(); stats.SuppressedTotal != 3 || stats.EventsTotal != 5 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
