package update

import "testing"

func TestTickEventsShareKeyPerTick(t *testing.T) {
	a := NewTick(40)
	b := NewTick(40)
	c := NewTick(41)
	if a.Key() != b.Key() {
		t.Fatalf("expected tick events of the same tick to share a key")
	}
	if a.Key() == c.Key() {
		t.Fatalf("expected different ticks to produce different keys")
	}
}

func TestDomainEventsGetFreshKeys(t *testing.T) {
	domain := DomainEvent{PlayerID: "p1", Payload: Damage{Amount: 3}}
	if NewDomain(domain).Key() == NewDomain(domain).Key() {
		t.Fatalf("expected fresh keys for each domain event")
	}
}

func TestMatchDispatchesBySource(t *testing.T) {
	cases := Cases[string]{
		Tick:   func(s TickSource) string { return "tick" },
		Domain: func(d DomainEvent) string { return d.EventKind() },
		Popup:  func(p PopupTrigger) string { return "popup:" + p.Popup },
	}
	if got := Match(NewTick(1), cases); got != "tick" {
		t.Fatalf("tick: got %q", got)
	}
	if got := Match(NewDomain(DomainEvent{Payload: Move{World: "nether"}}), cases); got != KindMove {
		t.Fatalf("domain: got %q", got)
	}
	if got := Match(NewPopup("damage", nil), cases); got != "popup:damage" {
		t.Fatalf("popup: got %q", got)
	}
	if got := Match(NewTick(1), Cases[string]{}); got != "" {
		t.Fatalf("expected zero value without handler, got %q", got)
	}
}

func TestDomainFollowsPopupCause(t *testing.T) {
	cause := DomainEvent{PlayerID: "p1", Payload: Damage{Amount: 2, Cause: "fall"}}
	event := NewPopup("hit", &cause)
	domain, ok := event.Domain()
	if !ok || domain.EventKind() != KindDamage {
		t.Fatalf("expected popup cause to be exposed, got %+v %v", domain, ok)
	}
	if _, ok := NewTick(3).Domain(); ok {
		t.Fatalf("tick events carry no domain event")
	}
	if !cause.Targets("p1") || cause.Targets("p2") {
		t.Fatalf("unexpected targeting for %+v", cause)
	}
}
