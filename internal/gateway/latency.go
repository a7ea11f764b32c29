package gateway

import (
	"math"
	"sort"
	"sync"
	"time"
)

// LatencySummary is the percentile view exposed by the stats endpoint and
// the periodic WS metrics push.
type LatencySummary struct {
	P50   float64 // milliseconds
	P95   float64
	P99   float64
	Count int
}

// LatencyTracker keeps the most recent check round-trip times in a fixed
// ring and summarizes them with nearest-rank percentiles. Safe for
// concurrent use.
type LatencyTracker struct {
	mu   sync.Mutex
	ring []time.Duration
	next int
	n    int
}

// NewLatencyTracker tracks up to capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 4096
	}
	return &LatencyTracker{ring: make([]time.Duration, capacity)}
}

// Record adds one check duration.
func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	lt.ring[lt.next] = d
	lt.next = (lt.next + 1) % len(lt.ring)
	if lt.n < len(lt.ring) {
		lt.n++
	}
	lt.mu.Unlock()
}

// Summary computes p50, p95 and p99 over the recorded window. Percentiles
// are order-independent, so the snapshot copies ring slots as they lie.
func (lt *LatencyTracker) Summary() LatencySummary {
	lt.mu.Lock()
	n := lt.n
	snap := make([]time.Duration, n)
	copy(snap, lt.ring[:n])
	lt.mu.Unlock()

	if n == 0 {
		return LatencySummary{}
	}
	sort.Slice(snap, func(i, j int) bool { return snap[i] < snap[j] })
	return LatencySummary{
		P50:   toMillis(nearestRank(snap, 0.50)),
		P95:   toMillis(nearestRank(snap, 0.95)),
		P99:   toMillis(nearestRank(snap, 0.99)),
		Count: n,
	}
}

// nearestRank picks the ceil(q*n)-th smallest sample.
func nearestRank(sorted []time.Duration, q float64) time.Duration {
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func toMillis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
