// Package dispatch runs the build phase of placeholders once per update
// cycle and hands out per-player resolvers over the built handles.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Ruskei/BetterHud/internal/placeholder"
	"github.com/Ruskei/BetterHud/internal/state"
	"github.com/Ruskei/BetterHud/internal/telemetry"
	"github.com/Ruskei/BetterHud/internal/update"
	"github.com/Ruskei/BetterHud/internal/value"
	"github.com/Ruskei/BetterHud/logging"
	"github.com/Ruskei/BetterHud/logging/pipeline"
)

const (
	buildsMetricKey        = "dispatch_builds_total"
	buildFailuresMetricKey = "dispatch_build_failures_total"
	activeCyclesMetricKey  = "dispatch_active_cycles"
)

// ErrBuildFailed marks a placeholder whose build phase failed for a cycle.
var ErrBuildFailed = errors.New("dispatch: build failed")

// BuildError records which binding failed and why.
type BuildError struct {
	Placeholder string
	Key         string
	Cycle       update.Key
	Err         error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("dispatch: build %q in cycle %s: %v", e.Key, e.Cycle, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

func (e *BuildError) Is(target error) bool { return target == ErrBuildFailed }

// Dispatcher tracks open cycles by event key. Dispatching the same key twice
// reuses the cycle and builds only bindings it has not seen.
type Dispatcher struct {
	publisher logging.Publisher
	metrics   telemetry.Metrics

	mu     sync.Mutex
	cycles map[update.Key]*Cycle
}

func New(publisher logging.Publisher, metrics telemetry.Metrics) *Dispatcher {
	return &Dispatcher{
		publisher: logging.OrNop(publisher),
		metrics:   telemetry.OrNop(metrics),
		cycles:    make(map[update.Key]*Cycle),
	}
}

// Dispatch runs the build phase of every binding for event. Each binding key
// is built at most once per event key; failures are isolated to the binding
// and published.
func (d *Dispatcher) Dispatch(ctx context.Context, tick uint64, event update.Event, bindings []placeholder.Binding) *Cycle {
	d.mu.Lock()
	cycle, ok := d.cycles[event.Key()]
	if !ok {
		cycle = newCycle(event)
		d.cycles[event.Key()] = cycle
		d.metrics.Store(activeCyclesMetricKey, uint64(len(d.cycles)))
	}
	d.mu.Unlock()

	cycle.mu.Lock()
	defer cycle.mu.Unlock()
	for _, binding := range bindings {
		key := binding.Key()
		if _, built := cycle.handles[key]; built {
			continue
		}
		if _, failed := cycle.failures[key]; failed {
			continue
		}
		handle, err := build(binding, event)
		d.metrics.Add(buildsMetricKey, 1)
		if err != nil {
			buildErr := &BuildError{Placeholder: binding.Def.Name, Key: key, Cycle: event.Key(), Err: err}
			cycle.failures[key] = buildErr
			d.metrics.Add(buildFailuresMetricKey, 1)
			pipeline.BuildFailed(ctx, d.publisher, tick, string(event.Key()), pipeline.BuildFailedPayload{
				Placeholder: binding.Def.Name,
				Args:        binding.Args,
				Source:      sourceName(event),
				Error:       err.Error(),
			})
			continue
		}
		cycle.handles[key] = handle
	}
	return cycle
}

// Cycle returns the open cycle for key, if any.
func (d *Dispatcher) Cycle(key update.Key) (*Cycle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cycle, ok := d.cycles[key]
	return cycle, ok
}

// Release closes the cycle. Handles already handed out stay usable but a
// later dispatch with the same key starts a new cycle.
func (d *Dispatcher) Release(key update.Key) {
	d.mu.Lock()
	delete(d.cycles, key)
	d.metrics.Store(activeCyclesMetricKey, uint64(len(d.cycles)))
	d.mu.Unlock()
}

// Active reports the number of open cycles.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cycles)
}

func build(binding placeholder.Binding, event update.Event) (handle placeholder.Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			handle = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if binding.Def.Builder == nil {
		return nil, placeholder.ErrInvalidDefinition
	}
	handle, err = binding.Def.Builder.Build(binding.Args, event)
	if err == nil && handle == nil {
		err = errors.New("builder returned no handle")
	}
	return handle, err
}

func sourceName(event update.Event) string {
	if event.Source() == nil {
		return "unknown"
	}
	return event.Source().Kind().String()
}

// Cycle holds the handles built for one update event.
type Cycle struct {
	event update.Event

	mu       sync.Mutex
	handles  map[string]placeholder.Handle
	failures map[string]*BuildError
}

func newCycle(event update.Event) *Cycle {
	return &Cycle{
		event:    event,
		handles:  make(map[string]placeholder.Handle),
		failures: make(map[string]*BuildError),
	}
}

func (c *Cycle) Event() update.Event { return c.event }

// Handle returns the handle built for key, or the build error.
func (c *Cycle) Handle(key string) (placeholder.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if handle, ok := c.handles[key]; ok {
		return handle, nil
	}
	if failure, ok := c.failures[key]; ok {
		return nil, failure
	}
	return nil, fmt.Errorf("dispatch: %w: %q not built in cycle %s", placeholder.ErrUnknownPlaceholder, key, c.event.Key())
}

// Resolver returns a resolver bound to player. It evaluates each handle at
// most once and is meant for a single goroutine.
func (c *Cycle) Resolver(player state.Snapshot) *Resolver {
	return &Resolver{cycle: c, player: player, memo: make(map[string]result)}
}

type result struct {
	value value.Value
	err   error
}

// Resolver evaluates expressions for one player inside one cycle.
type Resolver struct {
	cycle  *Cycle
	player state.Snapshot
	memo   map[string]result
}

func (r *Resolver) Player() state.Snapshot { return r.player }

// Resolve returns literals as-is and evaluates references through the
// cycle's handles.
func (r *Resolver) Resolve(expr placeholder.Expr) (value.Value, error) {
	if !expr.IsRef() {
		return expr.Value(), nil
	}
	key := expr.Key()
	if cached, ok := r.memo[key]; ok {
		return cached.value, cached.err
	}
	v, err := r.evaluate(key)
	r.memo[key] = result{value: v, err: err}
	return v, err
}

func (r *Resolver) evaluate(key string) (v value.Value, err error) {
	handle, err := r.cycle.Handle(key)
	if err != nil {
		return value.Value{}, err
	}
	defer func() {
		if rec := recover(); rec != nil {
			v = value.Value{}
			err = fmt.Errorf("dispatch: evaluate %q: panic: %v", key, rec)
		}
	}()
	return handle.Evaluate(r.player)
}
