package component

import (
	"errors"
	"fmt"

	"github.com/Ruskei/BetterHud/internal/color"
	"github.com/Ruskei/BetterHud/internal/condition"
	"github.com/Ruskei/BetterHud/internal/listener"
	"github.com/Ruskei/BetterHud/internal/placeholder"
	"github.com/Ruskei/BetterHud/internal/value"
)

var ErrNotNumeric = errors.New("component: listener value is not numeric")

// Sampler is the listener cache as seen by rendering.
type Sampler interface {
	Sample(listenerID string, cfg listener.Config, player string, tick uint64, actual func() (float64, error)) (float64, error)
}

// Env carries the per-tick inputs shared by every render call.
type Env struct {
	Tick      uint64
	Player    string
	Policy    color.Policy
	Sampler   Sampler
	Listeners map[string]listener.Config
}

// Result is the outcome of rendering one component. Mismatch records
// comparison type errors that resolved a condition to false; Err records a
// failure that should trigger the component's failure policy.
type Result struct {
	State    RenderState
	Mismatch error
	Err      error
}

// Render evaluates visibility, value and color of c inside layout.
func Render(env Env, layout Layout, c Component, r condition.Resolver) Result {
	var res Result

	visible, err := conditionsHold(layout.Conditions, r, &res)
	if err != nil {
		res.Err = fmt.Errorf("layout %s conditions: %w", layout.ID, err)
		return res
	}
	if visible {
		visible, err = conditionsHold(c.Conditions, r, &res)
		if err != nil {
			res.Err = fmt.Errorf("component %s conditions: %w", c.ID, err)
			return res
		}
	}
	if !visible {
		res.State = Hidden()
		return res
	}

	v, err := renderValue(env, layout, c, r)
	if err != nil {
		res.Err = err
		return res
	}

	spec, err := color.Resolve(color.Compose(c.Colors, layout.Colors, env.Policy), c.BaseColor, r)
	if err != nil {
		if errors.Is(err, condition.ErrComparisonType) {
			res.Mismatch = err
		} else {
			res.Err = err
			return res
		}
	}
	res.State = RenderState{Visible: true, Color: spec, Value: v}
	return res
}

func conditionsHold(conditions []condition.Condition, r condition.Resolver, res *Result) (bool, error) {
	for _, cond := range conditions {
		ok, err := condition.Evaluate(cond, r)
		if err != nil {
			if errors.Is(err, condition.ErrComparisonType) {
				if res.Mismatch == nil {
					res.Mismatch = err
				}
				return false, nil
			}
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func renderValue(env Env, layout Layout, c Component, r condition.Resolver) (value.Value, error) {
	if c.Listener == "" {
		return r.Resolve(c.Value)
	}
	cfg, ok := env.Listeners[c.Listener]
	if !ok {
		return value.Value{}, fmt.Errorf("component %s: unknown listener %q", c.ID, c.Listener)
	}
	if !cfg.Lazy || env.Sampler == nil {
		return r.Resolve(c.Value)
	}
	smoothed, err := env.Sampler.Sample(QualifiedID(layout.ID, c.ID), cfg, env.Player, env.Tick, func() (float64, error) {
		v, err := r.Resolve(c.Value)
		if err != nil {
			return 0, err
		}
		n, ok := v.Numeric()
		if !ok {
			return 0, fmt.Errorf("%w: %s = %q", ErrNotNumeric, c.Value, v.Text())
		}
		return n, nil
	})
	if err != nil {
		return value.Value{}, err
	}
	return value.Number(smoothed), nil
}

// IsNotReady reports whether err only means an async value is pending.
func IsNotReady(err error) bool {
	return errors.Is(err, placeholder.ErrNotReady)
}
