package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Ruskei/BetterHud/internal/update"
)

type popupRequest struct {
	event    update.Event
	player   string
	duration uint64
}

type recordingSink struct {
	mu     sync.Mutex
	events []update.DomainEvent
	popups []popupRequest
	got    chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{got: make(chan struct{}, 16)}
}

func (s *recordingSink) Submit(domain update.DomainEvent) (update.Event, error) {
	s.mu.Lock()
	s.events = append(s.events, domain)
	s.mu.Unlock()
	s.got <- struct{}{}
	return update.NewDomain(domain), nil
}

func (s *recordingSink) ShowPopup(event update.Event, player string, duration uint64) error {
	s.mu.Lock()
	s.popups = append(s.popups, popupRequest{event: event, player: player, duration: duration})
	s.mu.Unlock()
	s.got <- struct{}{}
	return nil
}

func (s *recordingSink) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for delivery")
	}
}

func TestDomainConversion(t *testing.T) {
	cases := []struct {
		msg  Message
		want update.Payload
	}{
		{Message{Kind: "damage", Amount: 3, Cause: "fall"}, update.Damage{Amount: 3, Cause: "fall"}},
		{Message{Kind: "heal", Amount: 2}, update.Heal{Amount: 2}},
		{Message{Kind: "move", World: "nether", X: 1, Y: 2, Z: 3}, update.Move{World: "nether", X: 1, Y: 2, Z: 3}},
		{Message{Kind: "gamemode", Mode: "creative"}, update.GamemodeChange{Mode: "creative"}},
	}
	for _, tc := range cases {
		domain, err := tc.msg.Domain()
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.msg.Kind, err)
		}
		if domain.Payload != tc.want {
			t.Fatalf("%s: expected %+v, got %+v", tc.msg.Kind, tc.want, domain.Payload)
		}
	}

	custom, err := Message{Player: "p1", Kind: "quest", Values: map[string]string{"stage": "2"}}.Domain()
	if err != nil {
		t.Fatalf("custom: %v", err)
	}
	if custom.EventKind() != "quest" || custom.PlayerID != "p1" {
		t.Fatalf("unexpected custom event %+v", custom)
	}
}

func TestDomainRejectsInvalid(t *testing.T) {
	for _, msg := range []Message{
		{},
		{Kind: "damage", Amount: -1},
		{Kind: "gamemode"},
	} {
		if _, err := msg.Domain(); !errors.Is(err, ErrInvalidMessage) {
			t.Fatalf("expected ErrInvalidMessage for %+v, got %v", msg, err)
		}
	}
}

func TestDeliverPopup(t *testing.T) {
	sink := newRecordingSink()
	if err := Deliver(sink, Message{Type: TypePopup, Popup: "hurt", Player: "p1", Duration: 40}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(sink.popups) != 1 {
		t.Fatalf("expected one popup request, got %d", len(sink.popups))
	}
	req := sink.popups[0]
	trigger, ok := req.event.Source().(update.PopupTrigger)
	if !ok || trigger.Popup != "hurt" || req.player != "p1" || req.duration != 40 {
		t.Fatalf("unexpected popup request %+v", req)
	}
	if err := Deliver(sink, Message{Type: TypePopup, Popup: "hurt"}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected popup without player to fail, got %v", err)
	}
	if err := Deliver(sink, Message{Type: "bogus"}); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected unknown type to fail, got %v", err)
	}
}

func TestRedisSourceDeliversMessages(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	sink := newRecordingSink()
	source := NewRedisSource(client, "", sink, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := source.Open(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sub.Close()
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	if err := client.Publish(ctx, DefaultChannel, "not json").Err(); err != nil {
		t.Fatalf("publish garbage: %v", err)
	}
	if err := Publish(ctx, client, "", Message{Player: "p1", Kind: "damage", Amount: 4}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	sink.wait(t)

	sink.mu.Lock()
	events := append([]update.DomainEvent(nil), sink.events...)
	sink.mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("expected exactly one delivered event, got %d", len(events))
	}
	if events[0].PlayerID != "p1" || events[0].Payload != (update.Damage{Amount: 4}) {
		t.Fatalf("unexpected event %+v", events[0])
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestSubscriptionRunStopsWhenIdle(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	source := NewRedisSource(client, "", newRecordingSink(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := source.Open(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sub.Close()
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel with no traffic")
	}
}

func TestSubscriptionRunReportsClose(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	source := NewRedisSource(client, "", newRecordingSink(), nil, nil)
	sub, err := source.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- sub.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, redis.ErrClosed) {
			t.Fatalf("expected redis.ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after close")
	}
}
