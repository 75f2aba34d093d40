package sched

import (
	"context"
	"time"

	"github.com/Ruskei/BetterHud/internal/telemetry"
	"github.com/Ruskei/BetterHud/logging"
)

// DefaultTickRate is the HUD frame rate in ticks per second.
const DefaultTickRate = 20

// LoopConfig tunes the fixed-timestep loop.
type LoopConfig struct {
	TickRate        int
	CatchupMaxTicks int
}

// LoopTickContext describes the tick about to run.
type LoopTickContext struct {
	Tick  uint64
	Now   time.Time
	Delta float64
}

// LoopStepResult reports what a tick did and how long it took.
type LoopStepResult struct {
	Tick         uint64
	Now          time.Time
	Delta        float64
	Duration     time.Duration
	Budget       time.Duration
	ClampedDelta bool
	MaxDelta     float64
	Players      int
	Err          error
}

// Stepper advances the HUD by one tick.
type Stepper interface {
	Step(ctx context.Context, tick LoopTickContext) LoopStepResult
}

// StepperFunc adapts a function into a Stepper.
type StepperFunc func(ctx context.Context, tick LoopTickContext) LoopStepResult

func (f StepperFunc) Step(ctx context.Context, tick LoopTickContext) LoopStepResult {
	return f(ctx, tick)
}

// LoopHooks customise tick sequencing and observe results.
type LoopHooks struct {
	NextTick  func() uint64
	Prepare   func(LoopTickContext)
	AfterStep func(LoopStepResult)
}

// Loop runs a Stepper at a fixed rate.
type Loop struct {
	stepper Stepper
	hooks   LoopHooks
	config  LoopConfig
	clock   logging.Clock
	logger  telemetry.Logger
}

// NewLoop wraps stepper in a fixed-timestep loop.
func NewLoop(stepper Stepper, cfg LoopConfig, hooks LoopHooks, clock logging.Clock, logger telemetry.Logger) *Loop {
	if stepper == nil {
		return nil
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultTickRate
	}
	if clock == nil {
		clock = logging.SystemClock{}
	}
	return &Loop{
		stepper: stepper,
		hooks:   hooks,
		config:  cfg,
		clock:   clock,
		logger:  logger,
	}
}

// TickRate reports the configured ticks per second.
func (l *Loop) TickRate() int {
	if l == nil {
		return 0
	}
	return l.config.TickRate
}

// Advance executes a single step.
func (l *Loop) Advance(ctx context.Context, tc LoopTickContext) LoopStepResult {
	if l == nil {
		return LoopStepResult{}
	}
	if l.hooks.Prepare != nil {
		l.hooks.Prepare(tc)
	}
	result := l.stepper.Step(ctx, tc)
	result.Tick = tc.Tick
	result.Now = tc.Now
	result.Delta = tc.Delta
	return result
}

// Run drives the fixed-timestep loop until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	if l == nil {
		return
	}
	tickRate := l.config.TickRate
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	last := l.clock.Now()
	budgetSeconds := 1.0 / float64(tickRate)
	maxDt := budgetSeconds
	if l.config.CatchupMaxTicks > 1 {
		maxDt = budgetSeconds * float64(l.config.CatchupMaxTicks)
	}
	budgetDuration := time.Second / time.Duration(tickRate)

	var tick uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := l.clock.Now()
			dt := now.Sub(last).Seconds()
			clamped := false
			if dt <= 0 {
				dt = budgetSeconds
			} else if dt > maxDt {
				dt = maxDt
				clamped = true
			}
			last = now

			if l.hooks.NextTick != nil {
				tick = l.hooks.NextTick()
			} else {
				tick++
			}

			start := l.clock.Now()
			result := l.Advance(ctx, LoopTickContext{Tick: tick, Now: now, Delta: dt})
			result.Duration = l.clock.Now().Sub(start)
			result.Budget = budgetDuration
			result.ClampedDelta = clamped
			result.MaxDelta = maxDt

			if result.Err != nil && l.logger != nil && ctx.Err() == nil {
				l.logger.Printf("[loop] tick=%d step failed: %v", tick, result.Err)
			}
			if l.hooks.AfterStep != nil {
				l.hooks.AfterStep(result)
			}
		}
	}
}
