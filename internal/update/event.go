// Package update defines UpdateEvent, the reason a build cycle runs.
package update

import (
	"fmt"

	"github.com/google/uuid"
)

// Key identifies one build cycle. Events sharing a key share their build
// results.
type Key string

// NewKey returns a fresh random key.
func NewKey() Key {
	return Key(uuid.NewString())
}

// TickKey is the key shared by every tick-sourced event of tick t.
func TickKey(t uint64) Key {
	return Key(fmt.Sprintf("tick:%d", t))
}

// SourceKind enumerates the closed set of event sources.
type SourceKind uint8

const (
	SourceTick SourceKind = iota + 1
	SourceDomain
	SourcePopup
)

func (k SourceKind) String() string {
	switch k {
	case SourceTick:
		return "tick"
	case SourceDomain:
		return "domain"
	case SourcePopup:
		return "popup"
	default:
		return "unknown"
	}
}

// Source is implemented only by TickSource, DomainEvent and PopupTrigger.
type Source interface {
	Kind() SourceKind
	sourceMarker()
}

// TickSource marks a periodic evaluation on global tick Tick.
type TickSource struct {
	Tick uint64
}

func (TickSource) Kind() SourceKind { return SourceTick }
func (TickSource) sourceMarker()    {}

// PopupTrigger marks a popup show request. Cause is set when a domain event
// opened the popup.
type PopupTrigger struct {
	Popup string
	Cause *DomainEvent
}

func (PopupTrigger) Kind() SourceKind { return SourcePopup }
func (PopupTrigger) sourceMarker()    {}

// Event is an UpdateEvent. It is immutable once created.
type Event struct {
	key    Key
	source Source
}

// New builds an event from an explicit key and source.
func New(key Key, source Source) Event {
	return Event{key: key, source: source}
}

// NewTick builds the tick event for tick t.
func NewTick(t uint64) Event {
	return Event{key: TickKey(t), source: TickSource{Tick: t}}
}

// NewDomain wraps a domain event in a fresh cycle.
func NewDomain(domain DomainEvent) Event {
	return Event{key: NewKey(), source: domain}
}

// NewPopup builds a popup trigger for popup with an optional cause.
func NewPopup(popup string, cause *DomainEvent) Event {
	return Event{key: NewKey(), source: PopupTrigger{Popup: popup, Cause: cause}}
}

func (e Event) Key() Key { return e.key }

func (e Event) Source() Source { return e.source }

// IsZero reports whether the event was never initialised.
func (e Event) IsZero() bool { return e.key == "" && e.source == nil }

func (e Event) String() string {
	if e.source == nil {
		return string(e.key)
	}
	return fmt.Sprintf("%s(%s)", e.source.Kind(), e.key)
}

// Cases holds one handler per source kind for Match. A nil handler yields
// the zero value of T.
type Cases[T any] struct {
	Tick   func(TickSource) T
	Domain func(DomainEvent) T
	Popup  func(PopupTrigger) T
}

// Match dispatches on the event's source.
func Match[T any](e Event, c Cases[T]) T {
	var zero T
	switch src := e.source.(type) {
	case TickSource:
		if c.Tick != nil {
			return c.Tick(src)
		}
	case DomainEvent:
		if c.Domain != nil {
			return c.Domain(src)
		}
	case PopupTrigger:
		if c.Popup != nil {
			return c.Popup(src)
		}
	}
	return zero
}

// Domain returns the domain event carried by e, following a popup's cause.
func (e Event) Domain() (DomainEvent, bool) {
	switch src := e.source.(type) {
	case DomainEvent:
		return src, true
	case PopupTrigger:
		if src.Cause != nil {
			return *src.Cause, true
		}
	}
	return DomainEvent{}, false
}
