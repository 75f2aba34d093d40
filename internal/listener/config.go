package listener

import (
	"errors"
	"fmt"
	"math"
)

// DefaultInitialValue seeds the smoothed value when a listener does not
// declare one.
const DefaultInitialValue = 1.0

var ErrInvalidConfig = errors.New("listener: invalid config")

// Config describes a cache-backed numeric listener.
type Config struct {
	Lazy            bool
	InitialValue    float64
	DelayTicks      int
	Multiplier      float64
	ExpiringSeconds int
}

// DefaultConfig returns a lazy listener that snaps to the actual value.
func DefaultConfig() Config {
	return Config{
		Lazy:            true,
		InitialValue:    DefaultInitialValue,
		Multiplier:      1,
		ExpiringSeconds: 5,
	}
}

// Validate checks the ranges accepted at load time.
func (c Config) Validate() error {
	if math.IsNaN(c.InitialValue) || math.IsInf(c.InitialValue, 0) {
		return fmt.Errorf("%w: initial value must be finite", ErrInvalidConfig)
	}
	if c.DelayTicks < 0 {
		return fmt.Errorf("%w: delay must be >= 0, got %d", ErrInvalidConfig, c.DelayTicks)
	}
	if math.IsNaN(c.Multiplier) || c.Multiplier < 0 || c.Multiplier > 1 {
		return fmt.Errorf("%w: multiplier must be in [0,1], got %v", ErrInvalidConfig, c.Multiplier)
	}
	if c.ExpiringSeconds < 1 {
		return fmt.Errorf("%w: expiring-second must be >= 1, got %d", ErrInvalidConfig, c.ExpiringSeconds)
	}
	return nil
}

// Warnings lists settings that are valid but probably unintended.
func (c Config) Warnings() []string {
	var warnings []string
	if c.Lazy && c.Multiplier == 0 {
		warnings = append(warnings, "multiplier 0 freezes the value at its initial value")
	}
	if !c.Lazy && c.DelayTicks > 0 {
		warnings = append(warnings, "delay has no effect on a non-lazy listener")
	}
	return warnings
}

// window is the number of ticks an entry survives without access.
func (c Config) window(ticksPerSecond int) uint64 {
	return uint64(c.ExpiringSeconds) * uint64(ticksPerSecond)
}
