package dispatch

import (
	"sync"

	"github.com/Ruskei/BetterHud/internal/telemetry"
	"github.com/Ruskei/BetterHud/internal/update"
)

const (
	inboxOccupancyMetricKey = "dispatch_inbox_occupancy"
	inboxOverflowMetricKey  = "dispatch_inbox_overflow_total"
	inboxPendingMetricKey   = "dispatch_inbox_pending_"
)

// Request is work handed from other goroutines into the tick. Player and
// DurationTicks are set for popup requests only.
type Request struct {
	Event         update.Event
	Player        string
	DurationTicks uint64
}

func (r Request) kind() update.SourceKind {
	if src := r.Event.Source(); src != nil {
		return src.Kind()
	}
	return 0
}

// InboxStats is a point-in-time view of the inbox. Peak is the highest
// occupancy seen since construction.
type InboxStats struct {
	Capacity  int
	Pending   int
	Domain    int
	Popups    int
	Peak      int
	Overflows uint64
}

// Inbox stores requests in a fixed-size ring. It is safe for concurrent
// producers and a single consumer.
type Inbox struct {
	mu        sync.Mutex
	data      []Request
	head      int
	tail      int
	count     int
	byKind    map[update.SourceKind]int
	peak      int
	overflows uint64
	metrics   telemetry.Metrics
}

// NewInbox constructs a ring with the provided capacity.
func NewInbox(capacity int, metrics telemetry.Metrics) *Inbox {
	if capacity < 1 {
		capacity = 1
	}
	return &Inbox{
		data:    make([]Request, capacity),
		byKind:  make(map[update.SourceKind]int, 2),
		metrics: telemetry.OrNop(metrics),
	}
}

func (b *Inbox) Capacity() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Push stages a request, returning false if the ring is full.
func (b *Inbox) Push(req Request) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == len(b.data) {
		b.overflows++
		b.metrics.Add(inboxOverflowMetricKey, 1)
		return false
	}
	b.data[b.tail] = req
	b.tail = (b.tail + 1) % len(b.data)
	b.count++
	b.byKind[req.kind()]++
	b.peak = max(b.peak, b.count)
	b.storeOccupancyLocked()
	return true
}

// Drain returns all staged requests in FIFO order and clears the ring.
func (b *Inbox) Drain() []Request {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return nil
	}
	out := make([]Request, b.count)
	for i := 0; i < b.count; i++ {
		idx := (b.head + i) % len(b.data)
		out[i] = b.data[idx]
		b.data[idx] = Request{}
	}
	b.head = 0
	b.tail = 0
	b.count = 0
	clear(b.byKind)
	b.storeOccupancyLocked()
	return out
}

func (b *Inbox) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats reports occupancy split by request kind.
func (b *Inbox) Stats() InboxStats {
	if b == nil {
		return InboxStats{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return InboxStats{
		Capacity:  len(b.data),
		Pending:   b.count,
		Domain:    b.byKind[update.SourceDomain],
		Popups:    b.byKind[update.SourcePopup],
		Peak:      b.peak,
		Overflows: b.overflows,
	}
}

func (b *Inbox) storeOccupancyLocked() {
	b.metrics.Store(inboxOccupancyMetricKey, uint64(b.count))
	for _, kind := range []update.SourceKind{update.SourceDomain, update.SourcePopup} {
		b.metrics.Store(inboxPendingMetricKey+kind.String(), uint64(b.byKind[kind]))
	}
}
