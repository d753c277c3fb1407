package utils

import (
	"math"
	"slices"
	"sync"
	"time"
)

// LatencyTracker keeps the most recent run durations in a ring and reports
// nearest-rank percentiles over them.
type LatencyTracker struct {
	mu   sync.Mutex
	ring []time.Duration
	next int
	full bool
}

// NewLatencyTracker creates a tracker holding up to size samples.
func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 512
	}
	return &LatencyTracker{ring: make([]time.Duration, size)}
}

// Observe records d, overwriting the oldest sample once the ring is full.
func (l *LatencyTracker) Observe(d time.Duration) {
	if d < 0 {
		d = 0
	}
	l.mu.Lock()
	l.ring[l.next] = d
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()
}

// Percentile returns the p-th percentile (0-100), or zero with no samples.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.Lock()
	samples := slices.Clone(l.ring[:l.count()])
	l.mu.Unlock()

	if len(samples) == 0 {
		return 0
	}
	slices.Sort(samples)
	p = math.Min(math.Max(p, 0), 100)
	rank := int(math.Ceil(p / 100 * float64(len(samples))))
	if rank < 1 {
		rank = 1
	}
	return samples[rank-1]
}

// Count returns the number of retained samples.
func (l *LatencyTracker) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count()
}

func (l *LatencyTracker) count() int {
	if l.full {
		return len(l.ring)
	}
	return l.next
}
