// Package placeholder holds the registry of named dynamic values and the
// two-step build/evaluate contract every placeholder implements.
//
// A build runs once per (placeholder, update cycle) and returns a Handle.
// The Handle is evaluated once per player and must be safe for concurrent
// use across players. Handles belong to the cycle that built them and are
// never reused across cycles.
package placeholder

import (
	"errors"
	"fmt"

	"github.com/Ruskei/BetterHud/internal/state"
	"github.com/Ruskei/BetterHud/internal/update"
	"github.com/Ruskei/BetterHud/internal/value"
)

var (
	ErrDuplicateName      = errors.New("duplicate placeholder name")
	ErrUnknownPlaceholder = errors.New("unknown placeholder")
	ErrArity              = errors.New("wrong placeholder argument count")
	ErrInvalidDefinition  = errors.New("invalid placeholder definition")
	ErrRegistrySealed     = errors.New("placeholder registry is sealed")
	// ErrNotReady is returned by handles whose value is still being computed
	// out of band. It is not a failure.
	ErrNotReady = errors.New("placeholder value not ready")
)

// ArityError details an argument count mismatch. It matches ErrArity.
type ArityError struct {
	Name string
	Want int
	Got  int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("placeholder %q takes %d argument(s), got %d", e.Name, e.Want, e.Got)
}

func (e *ArityError) Is(target error) bool { return target == ErrArity }

// Args are the literal arguments written after the placeholder name.
type Args []string

// Handle is the per-cycle product of a build.
type Handle interface {
	Evaluate(player state.Snapshot) (value.Value, error)
}

// HandleFunc adapts a function into a Handle.
type HandleFunc func(player state.Snapshot) (value.Value, error)

func (f HandleFunc) Evaluate(player state.Snapshot) (value.Value, error) {
	return f(player)
}

// Constant returns a handle that always evaluates to v.
func Constant(v value.Value) Handle {
	return HandleFunc(func(state.Snapshot) (value.Value, error) { return v, nil })
}

// Builder runs the build phase for one update cycle.
type Builder interface {
	Build(args Args, event update.Event) (Handle, error)
}

// BuilderFunc adapts a function into a Builder.
type BuilderFunc func(args Args, event update.Event) (Handle, error)

func (f BuilderFunc) Build(args Args, event update.Event) (Handle, error) {
	return f(args, event)
}

// PlayerFunc is the common case of a placeholder that ignores its args and
// the triggering event.
func PlayerFunc(fn func(player state.Snapshot) value.Value) Builder {
	handle := HandleFunc(func(p state.Snapshot) (value.Value, error) { return fn(p), nil })
	return BuilderFunc(func(Args, update.Event) (Handle, error) { return handle, nil })
}

// Definition is an immutable registry entry.
type Definition struct {
	Name         string
	RequiredArgs int
	Builder      Builder
}
