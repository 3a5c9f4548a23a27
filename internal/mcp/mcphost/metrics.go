package mcphost

import (
	"slices"
	"sync"
	"time"
)

// callStats remembers the latency and outcome of the most recent calls of
// one tool.
type callStats struct {
	mu       sync.Mutex
	latency  []time.Duration
	failed   []bool
	next     int
	total    int
	failures int // failures among the remembered calls
}

type statsSnapshot struct {
	P50, P99  time.Duration
	Calls     int
	ErrorRate float64
}

// newCallStats remembers the last n calls; n <= 0 selects 100.
func newCallStats(n int) *callStats {
	if n <= 0 {
		n = 100
	}
	return &callStats{latency: make([]time.Duration, n), failed: make([]bool, n)}
}

func (s *callStats) record(d time.Duration, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.total >= len(s.latency) && s.failed[s.next] {
		s.failures--
	}
	s.latency[s.next], s.failed[s.next] = d, failed
	if failed {
		s.failures++
	}
	s.next = (s.next + 1) % len(s.latency)
	s.total++
}

// snapshot reports percentiles and the error rate over the remembered calls
// and the number of calls since creation.
func (s *callStats) snapshot() statsSnapshot {
	s.mu.Lock()
	n := min(s.total, len(s.latency))
	sorted := slices.Clone(s.latency[:n])
	snap := statsSnapshot{Calls: s.total}
	if n > 0 {
		snap.ErrorRate = float64(s.failures) / float64(n)
	}
	s.mu.Unlock()

	if n == 0 {
		return snap
	}
	slices.Sort(sorted)
	snap.P50 = sorted[n/2]
	snap.P99 = sorted[(n-1)*99/100]
	return snap
}
