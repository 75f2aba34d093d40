package server

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type telemetryCounters struct {
	framesSent          atomic.Uint64
	bytesSent           atomic.Uint64
	lastBroadcastBytes  atomic.Uint64
	lastBroadcastFrames atomic.Uint64
	tickDurationMillis  atomic.Int64
	stepErrors          atomic.Uint64
	budgetMillis        atomic.Int64
	overrunStreak       atomic.Uint64
	maxOverrunStreak    atomic.Uint64
	lastOverrunMillis   atomic.Int64
	debug               bool

	overrunMu      sync.Mutex
	overrunBuckets map[string]uint64
}

type tickBudgetSnapshot struct {
	BudgetMillis      int64             `json:"budgetMillis"`
	CurrentStreak     uint64            `json:"currentStreak"`
	MaxStreak         uint64            `json:"maxStreak"`
	LastOverrunMillis int64             `json:"lastOverrunMillis"`
	Overruns          map[string]uint64 `json:"overruns"`
}

type telemetrySnapshot struct {
	FramesSent   uint64             `json:"framesSent"`
	BytesSent    uint64             `json:"bytesSent"`
	TickDuration int64              `json:"tickDurationMillis"`
	StepErrors   uint64             `json:"stepErrors"`
	TickBudget   tickBudgetSnapshot `json:"tickBudget"`
}

func newTelemetryCounters() *telemetryCounters {
	t := &telemetryCounters{overrunBuckets: make(map[string]uint64)}
	if os.Getenv("DEBUG_TELEMETRY") == "1" {
		t.debug = true
	}
	return t
}

func (t *telemetryCounters) RecordBroadcast(bytes, frames int) {
	if bytes < 0 {
		bytes = 0
	}
	if frames < 0 {
		frames = 0
	}
	t.bytesSent.Add(uint64(bytes))
	t.framesSent.Add(uint64(frames))
	t.lastBroadcastBytes.Store(uint64(bytes))
	t.lastBroadcastFrames.Store(uint64(frames))
}

func (t *telemetryCounters) RecordTickDuration(duration time.Duration) {
	millis := duration.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	t.tickDurationMillis.Store(millis)
	if t.debug {
		fmt.Printf(
			"[telemetry] tick=%dms bytes=%d totalBytes=%d frames=%d totalFrames=%d\n",
			millis,
			t.lastBroadcastBytes.Load(),
			t.bytesSent.Load(),
			t.lastBroadcastFrames.Load(),
			t.framesSent.Load(),
		)
	}
}

func (t *telemetryCounters) RecordStepError() {
	t.stepErrors.Add(1)
}

// RecordTickBudgetOverrun counts a tick that ran past budget and returns the
// current streak of consecutive overruns.
func (t *telemetryCounters) RecordTickBudgetOverrun(duration, budget time.Duration) uint64 {
	t.budgetMillis.Store(budget.Milliseconds())
	t.lastOverrunMillis.Store(duration.Milliseconds())
	streak := t.overrunStreak.Add(1)
	for {
		peak := t.maxOverrunStreak.Load()
		if streak <= peak || t.maxOverrunStreak.CompareAndSwap(peak, streak) {
			break
		}
	}

	bucket := overrunBucket(duration, budget)
	t.overrunMu.Lock()
	t.overrunBuckets[bucket]++
	t.overrunMu.Unlock()
	return streak
}

// RecordTickWithinBudget ends the current overrun streak.
func (t *telemetryCounters) RecordTickWithinBudget(budget time.Duration) {
	t.budgetMillis.Store(budget.Milliseconds())
	t.overrunStreak.Store(0)
}

func overrunBucket(duration, budget time.Duration) string {
	if budget <= 0 {
		return "over_gt3x"
	}
	ratio := float64(duration) / float64(budget)
	switch {
	case ratio <= 1.5:
		return "over_1_5x"
	case ratio <= 2:
		return "over_2x"
	case ratio <= 3:
		return "over_3x"
	default:
		return "over_gt3x"
	}
}

func (t *telemetryCounters) DebugEnabled() bool {
	return t.debug
}

func (t *telemetryCounters) Snapshot() telemetrySnapshot {
	t.overrunMu.Lock()
	buckets := make(map[string]uint64, len(t.overrunBuckets))
	for k, v := range t.overrunBuckets {
		buckets[k] = v
	}
	t.overrunMu.Unlock()

	return telemetrySnapshot{
		FramesSent:   t.framesSent.Load(),
		BytesSent:    t.bytesSent.Load(),
		TickDuration: t.tickDurationMillis.Load(),
		StepErrors:   t.stepErrors.Load(),
		TickBudget: tickBudgetSnapshot{
			BudgetMillis:      t.budgetMillis.Load(),
			CurrentStreak:     t.overrunStreak.Load(),
			MaxStreak:         t.maxOverrunStreak.Load(),
			LastOverrunMillis: t.lastOverrunMillis.Load(),
			Overruns:          buckets,
		},
	}
}
