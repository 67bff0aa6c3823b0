// Implements the rolling inter-arrival entropy meter. Grounded on
// original_source/homeostatic_governor.py's calculate_entropy, adapted to
// a fixed-size ring of deltas (rather than a deque of raw timestamps) and
// integer 1ms bins per the entropy-binning contract.

package sim

import (
	"math"
	"sync"
	"time"
)

// EntropyWindow is a bounded ring buffer of inter-arrival deltas, in
// seconds. Oldest entries are overwritten once the ring fills.
type EntropyWindow struct {
	deltas []float64
	next   int
	count  int // number of valid entries, saturates at len(deltas)
}

// NewEntropyWindow creates a window that retains at most size deltas.
// Panics if size < 2 — a window smaller than that cannot ever compute a
// meaningful entropy value.
func NewEntropyWindow(size int) *EntropyWindow {
	if size < 2 {
		panic("NewEntropyWindow: size must be >= 2")
	}
	return &EntropyWindow{deltas: make([]float64, size)}
}

// add pushes a new delta, overwriting the oldest if the ring is full.
func (w *EntropyWindow) add(delta float64) {
	w.deltas[w.next] = delta
	w.next = (w.next + 1) % len(w.deltas)
	if w.count < len(w.deltas) {
		w.count++
	}
}

// snapshot returns a copy of the currently valid deltas, oldest first.
func (w *EntropyWindow) snapshot() []float64 {
	out := make([]float64, w.count)
	if w.count < len(w.deltas) {
		copy(out, w.deltas[:w.count])
		return out
	}
	// Ring is full; next is the index of the oldest entry.
	copy(out, w.deltas[w.next:])
	copy(out[len(w.deltas)-w.next:], w.deltas[:w.next])
	return out
}

// ArrivalEntropyMeter tracks inter-arrival intervals and computes their
// Shannon entropy on demand. Writes happen from ingress goroutines
// calling Record; reads happen from the scheduler's worker goroutine
// calling Entropy — both guarded by a single mutex.
type ArrivalEntropyMeter struct {
	mu sync.Mutex

	window      *EntropyWindow
	lastArrival time.Time
	hasArrival  bool
}

// NewArrivalEntropyMeter creates a meter retaining windowSize deltas.
func NewArrivalEntropyMeter(windowSize int) *ArrivalEntropyMeter {
	return &ArrivalEntropyMeter{window: NewEntropyWindow(windowSize)}
}

// Record appends now - lastArrivalTime to the ring and advances
// lastArrivalTime. The first call records no delta.
func (m *ArrivalEntropyMeter) Record(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasArrival {
		m.window.add(now.Sub(m.lastArrival).Seconds())
	}
	m.lastArrival = now
	m.hasArrival = true
}

// Entropy computes the Shannon entropy of the current window's empirical
// PMF over 1ms-wide bins. Returns 0.0 if fewer than 2 deltas have been
// recorded.
func (m *ArrivalEntropyMeter) Entropy() float64 {
	m.mu.Lock()
	deltas := m.window.snapshot()
	m.mu.Unlock()
	return shannonEntropy(deltas)
}

// shannonEntropy bins deltas (seconds) into 1ms-wide integer buckets and
// returns -Σ p_i log2(p_i) over the resulting distinct bins. Binning uses
// floor(delta*1000) as an integer key, never a float, so bin edges stay
// fixed regardless of the data's own distribution.
func shannonEntropy(deltas []float64) float64 {
	if len(deltas) < 2 {
		return 0.0
	}

	bins := make(map[int]int, len(deltas))
	for _, d := range deltas {
		bin := int(math.Floor(d * 1000.0))
		bins[bin]++
	}

	total := float64(len(deltas))
	var h float64
	for _, count := range bins {
		p := float64(count) / total
		h -= p * math.Log2(p)
	}
	return h
}
