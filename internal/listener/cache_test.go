package listener

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Ruskei/BetterHud/internal/placeholder"
	"github.com/Ruskei/BetterHud/logging/pipeline"
	"github.com/Ruskei/BetterHud/logging/sinks"
)

func constant(v float64) func() (float64, error) {
	return func() (float64, error) { return v, nil }
}

func smoothing(initial, multiplier float64) Config {
	return Config{Lazy: true, InitialValue: initial, Multiplier: multiplier, ExpiringSeconds: 5}
}

func TestSampleSmoothingSequence(t *testing.T) {
	cache := NewCache(20)
	cache.Join("alice")
	cfg := smoothing(50, 0.5)

	want := []float64{75, 87.5, 93.75, 96.875}
	for i, expected := range want {
		got, err := cache.Sample("speed", cfg, "alice", uint64(i+1), constant(100))
		if err != nil {
			t.Fatalf("tick %d: unexpected error %v", i+1, err)
		}
		if got != expected {
			t.Fatalf("tick %d: expected %v, got %v", i+1, expected, got)
		}
	}
}

func TestSampleConvergesGeometrically(t *testing.T) {
	for _, m := range []float64{0.1, 0.25, 0.9, 1} {
		cache := NewCache(20)
		cache.Join("p")
		cfg := smoothing(0, m)
		var got float64
		for n := 1; n <= 12; n++ {
			got, _ = cache.Sample("l", cfg, "p", uint64(n), constant(40))
			want := 40 * math.Pow(1-m, float64(n))
			if diff := math.Abs(math.Abs(got-40) - want); diff > 1e-9 {
				t.Fatalf("m=%v n=%d: |smoothed-A|=%v, want %v", m, n, math.Abs(got-40), want)
			}
		}
	}
}

func TestSampleMultiplierZeroFreezes(t *testing.T) {
	cache := NewCache(20)
	cache.Join("p")
	cfg := smoothing(3, 0)
	for tick := uint64(1); tick < 10; tick++ {
		if got, _ := cache.Sample("l", cfg, "p", tick, constant(100)); got != 3 {
			t.Fatalf("expected frozen value 3, got %v", got)
		}
	}
	if w := cfg.Warnings(); len(w) != 1 {
		t.Fatalf("expected a multiplier warning, got %v", w)
	}
}

func TestSampleResetsAfterExpiry(t *testing.T) {
	cache := NewCache(20)
	cache.Join("p")
	cfg := Config{Lazy: true, InitialValue: 50, Multiplier: 0.5, ExpiringSeconds: 1}

	cache.Sample("l", cfg, "p", 1, constant(100))
	cache.Sample("l", cfg, "p", 2, constant(100))
	if got, _ := cache.Sample("l", cfg, "p", 22, constant(100)); got != 93.75 {
		t.Fatalf("access within the window should smooth, got %v", got)
	}

	calls := 0
	got, err := cache.Sample("l", cfg, "p", 43, func() (float64, error) {
		calls++
		return 100, nil
	})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if got != 50 {
		t.Fatalf("expected reset to initial value 50, got %v", got)
	}
	if calls != 0 {
		t.Fatalf("reset access should not evaluate the placeholder")
	}
	if got, _ := cache.Sample("l", cfg, "p", 44, constant(100)); got != 75 {
		t.Fatalf("expected smoothing to restart from initial value, got %v", got)
	}
}

func TestSampleResetsWhenUpdatesStall(t *testing.T) {
	cache := NewCache(20)
	cache.Join("p")
	cfg := Config{Lazy: true, InitialValue: 50, Multiplier: 0.5, ExpiringSeconds: 1}

	if got, _ := cache.Sample("l", cfg, "p", 1, constant(100)); got != 75 {
		t.Fatalf("expected first update, got %v", got)
	}
	pending := func() (float64, error) { return 0, placeholder.ErrNotReady }
	for tick := uint64(2); tick <= 21; tick++ {
		if got, _ := cache.Sample("l", cfg, "p", tick, pending); got != 75 {
			t.Fatalf("tick %d: pending value should hold the smoothed value, got %v", tick, got)
		}
	}
	if got, _ := cache.Sample("l", cfg, "p", 22, pending); got != 50 {
		t.Fatalf("expected reset once updates stalled past the window, got %v", got)
	}
	entry, _ := cache.Entry("l", "p")
	if entry.FirstTick != 22 || entry.LastUpdateTick != 22 || entry.Updates != 0 {
		t.Fatalf("unexpected entry after reset %+v", entry)
	}
}

func TestSampleLongDelayDoesNotExpire(t *testing.T) {
	cache := NewCache(20)
	cache.Join("p")
	cfg := Config{Lazy: true, InitialValue: 10, Multiplier: 1, DelayTicks: 30, ExpiringSeconds: 1}

	for tick := uint64(1); tick <= 30; tick++ {
		if got, _ := cache.Sample("l", cfg, "p", tick, constant(99)); got != 10 {
			t.Fatalf("tick %d: expected warm-up to hold initial value, got %v", tick, got)
		}
	}
	if got, _ := cache.Sample("l", cfg, "p", 31, constant(99)); got != 99 {
		t.Fatalf("expected first update after a warm-up longer than the window, got %v", got)
	}
}

func TestSampleDelayWarmup(t *testing.T) {
	cache := NewCache(20)
	cache.Join("p")
	cfg := Config{Lazy: true, InitialValue: 10, Multiplier: 1, DelayTicks: 3, ExpiringSeconds: 5}

	for tick := uint64(100); tick < 103; tick++ {
		if got, _ := cache.Sample("l", cfg, "p", tick, constant(99)); got != 10 {
			t.Fatalf("tick %d: expected warm-up to hold initial value, got %v", tick, got)
		}
	}
	if got, _ := cache.Sample("l", cfg, "p", 103, constant(99)); got != 99 {
		t.Fatalf("expected first update after warm-up, got %v", got)
	}
}

func TestSampleIsolatesKeys(t *testing.T) {
	cache := NewCache(20)
	cache.Join("x")
	cache.Join("y")
	cfg := smoothing(50, 0.5)

	cache.Sample("a", cfg, "x", 1, constant(100))
	cache.Sample("a", cfg, "x", 2, constant(100))

	if _, ok := cache.Entry("a", "y"); ok {
		t.Fatalf("(a, y) should not exist")
	}
	if _, ok := cache.Entry("b", "x"); ok {
		t.Fatalf("(b, x) should not exist")
	}
	if got, _ := cache.Sample("a", cfg, "y", 3, constant(0)); got != 25 {
		t.Fatalf("(a, y) should start from its own initial value, got %v", got)
	}
	entry, _ := cache.Entry("a", "x")
	if entry.Smoothed != 87.5 {
		t.Fatalf("(a, x) changed by unrelated update: %v", entry.Smoothed)
	}
}

func TestSampleSameTickAndOutOfOrder(t *testing.T) {
	cache := NewCache(20)
	cache.Join("p")
	cfg := smoothing(50, 0.5)

	cache.Sample("l", cfg, "p", 5, constant(100))
	if got, _ := cache.Sample("l", cfg, "p", 5, constant(100)); got != 75 {
		t.Fatalf("second access on the same tick should not smooth again, got %v", got)
	}
	if got, _ := cache.Sample("l", cfg, "p", 4, constant(100)); got != 75 {
		t.Fatalf("stale tick should not update, got %v", got)
	}
	entry, _ := cache.Entry("l", "p")
	if entry.LastUpdateTick != 5 || entry.Updates != 1 {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestSampleErrors(t *testing.T) {
	cache := NewCache(20)
	cfg := smoothing(50, 0.5)
	if _, err := cache.Sample("l", cfg, "ghost", 1, constant(1)); !errors.Is(err, ErrNoSlot) {
		t.Fatalf("expected ErrNoSlot, got %v", err)
	}

	cache.Join("p")
	got, err := cache.Sample("l", cfg, "p", 1, func() (float64, error) { return 0, placeholder.ErrNotReady })
	if err != nil || got != 50 {
		t.Fatalf("not-ready should hold the smoothed value, got %v %v", got, err)
	}
	boom := errors.New("boom")
	if _, err := cache.Sample("l", cfg, "p", 2, func() (float64, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected underlying error, got %v", err)
	}

	direct, err := cache.Sample("l", Config{}, "nobody", 1, constant(42))
	if err != nil || direct != 42 {
		t.Fatalf("non-lazy listener should pass through, got %v %v", direct, err)
	}
}

func TestSweepEvictsExpiredEntries(t *testing.T) {
	cache := NewCache(20)
	cache.Join("p")
	cfg := Config{Lazy: true, InitialValue: 1, Multiplier: 1, ExpiringSeconds: 1}

	cache.Sample("old", cfg, "p", 1, constant(1))
	cache.Sample("fresh", cfg, "p", 30, constant(1))

	if evicted := cache.Sweep(21); evicted != 0 {
		t.Fatalf("nothing should be evicted at the expiry tick, got %d", evicted)
	}
	if evicted := cache.Sweep(22); evicted != 1 {
		t.Fatalf("expected one eviction, got %d", evicted)
	}
	if _, ok := cache.Entry("old", "p"); ok {
		t.Fatalf("expired entry should be gone")
	}
	if cache.Len() != 1 {
		t.Fatalf("expected one remaining entry, got %d", cache.Len())
	}

	cache.Leave("p")
	if cache.Len() != 0 || len(cache.Players()) != 0 {
		t.Fatalf("leave should release the slot")
	}
}

func TestRunSweeperPublishes(t *testing.T) {
	sink := sinks.NewMemorySink()
	cache := NewCache(20, WithPublisher(sink))
	cache.Join("p")
	cfg := Config{Lazy: true, InitialValue: 1, Multiplier: 1, ExpiringSeconds: 1}
	cache.Sample("l", cfg, "p", 1, constant(1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cache.RunSweeper(ctx, 5*time.Millisecond, func() uint64 { return 1000 })
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.EventsOfType(pipeline.EventCacheSwept)) == 0 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("expected a cache swept event")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	bad := []Config{
		{Lazy: true, Multiplier: 1.5, ExpiringSeconds: 1},
		{Lazy: true, Multiplier: -0.1, ExpiringSeconds: 1},
		{Lazy: true, Multiplier: 0.5, ExpiringSeconds: 0},
		{Lazy: true, Multiplier: 0.5, ExpiringSeconds: 1, DelayTicks: -1},
		{Lazy: true, Multiplier: math.NaN(), ExpiringSeconds: 1},
	}
	for i, cfg := range bad {
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("case %d: expected ErrInvalidConfig, got %v", i, err)
		}
	}
}
